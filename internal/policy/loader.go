package policy

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// maxPolicyFileSize bounds policy documents. A gate policy is a short
	// table, never megabytes.
	maxPolicyFileSize = 1024 * 1024

	// envPrefix scopes environment overrides for the policy's global
	// section, e.g. GATED_POLICY_DEFAULT_TIMEOUT_SECONDS.
	envPrefix = "GATED_POLICY_"
)

// ErrPolicyNotFound indicates the policy path does not exist.
var ErrPolicyNotFound = errors.New("policy file not found")

// Load reads, parses, and validates a gate-policy document from disk.
//
// Precedence (highest to lowest):
//  1. GATED_POLICY_* environment variables (global section only)
//  2. The YAML document
//  3. Built-in defaults
func Load(path string) (*Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrPolicyNotFound, path)
		}
		return nil, fmt.Errorf("opening policy file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat policy file: %w", err)
	}
	if info.Size() > maxPolicyFileSize {
		return nil, fmt.Errorf("policy file too large: %d bytes (max %d)", info.Size(), maxPolicyFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}

	p, err := LoadBytes(content)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return p, nil
}

// LoadBytes parses and validates a gate-policy document from raw YAML.
func LoadBytes(content []byte) (*Policy, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parsing policy yaml: %w", err)
	}

	// Environment overrides apply only to the global section: the stage
	// table stays file-authoritative so routing is reproducible.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		field := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return "global." + field
	}), nil); err != nil {
		return nil, fmt.Errorf("loading policy environment overrides: %w", err)
	}

	var p Policy
	if err := k.Unmarshal("", &p); err != nil {
		return nil, fmt.Errorf("unmarshaling policy: %w", err)
	}

	applyDefaults(&p)

	if err := p.Validate(); err != nil {
		return nil, err
	}

	return &p, nil
}

// applyDefaults fills unset global knobs before validation.
func applyDefaults(p *Policy) {
	if p.Version == 0 {
		p.Version = 1
	}
	if p.Global.DefaultTimeoutSeconds == 0 {
		p.Global.DefaultTimeoutSeconds = 300
	}
	if p.Global.DefaultMaxAttempts == 0 {
		p.Global.DefaultMaxAttempts = 2
	}
	if p.Global.Environment == "" {
		p.Global.Environment = "ci"
	}
}
