package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"

	"github.com/fyrsmithlabs/gated/internal/gate"
	"github.com/fyrsmithlabs/gated/internal/policy"
	"github.com/fyrsmithlabs/gated/internal/review"
)

// ErrInvalidAllowlist marks an unreadable or malformed allowlist file.
var ErrInvalidAllowlist = errors.New("invalid secrets allowlist")

// maxSecretScanBytes caps per-file scan size. Larger files are skipped;
// generated blobs dominate above this size and drown the scanner.
const maxSecretScanBytes = 1 << 20

// evidenceFindingCap bounds how many findings are named in evidence.
const evidenceFindingCap = 3

// SecretsCheck scans the review unit's changed files for leaked credentials
// using the gitleaks ruleset, honoring project and user allowlists.
type SecretsCheck struct {
	userAllowlistPath string
}

// NewSecretsCheck creates the secrets check. userAllowlistPath optionally
// points at an operator-level allowlist merged with the project's.
func NewSecretsCheck(userAllowlistPath string) *SecretsCheck {
	return &SecretsCheck{userAllowlistPath: userAllowlistPath}
}

// Kind returns the policy check name.
func (c *SecretsCheck) Kind() string {
	return policy.CheckSecrets
}

// Run scans each changed path. Findings are reported by rule and location
// only; the matched secret itself never enters evidence.
func (c *SecretsCheck) Run(ctx context.Context, unit review.Unit, stage policy.StageConfig) gate.CheckResult {
	if unit.WorkDir == "" {
		return gate.CheckResult{Status: gate.CheckError, Message: "review unit has no working directory"}
	}
	if len(unit.ChangedPaths) == 0 {
		return gate.CheckResult{Status: gate.CheckSuccess, Evidence: "no changed files to scan"}
	}

	allow, err := loadAllowlists(unit.WorkDir, c.userAllowlistPath)
	if err != nil {
		return gate.CheckResult{Status: gate.CheckError, Message: err.Error()}
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return gate.CheckResult{Status: gate.CheckError, Message: fmt.Sprintf("build gitleaks detector: %v", err)}
	}
	applyAllowlist(&detector.Config, allow)

	var findings []string
	scanned := 0
	for _, rel := range unit.ChangedPaths {
		if ctx.Err() == context.DeadlineExceeded {
			return gate.CheckResult{Status: gate.CheckTimeout}
		}

		path := filepath.Join(unit.WorkDir, rel)
		info, err := os.Stat(path)
		if err != nil {
			// Deleted in this change set; nothing to scan.
			continue
		}
		if info.IsDir() || info.Size() > maxSecretScanBytes {
			continue
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return gate.CheckResult{Status: gate.CheckError, Message: fmt.Sprintf("read %s: %v", rel, err)}
		}
		scanned++

		for _, f := range detector.Detect(detect.Fragment{Raw: string(content), FilePath: rel}) {
			findings = append(findings, fmt.Sprintf("%s at %s:%d", f.RuleID, rel, f.StartLine))
		}
	}

	if len(findings) > 0 {
		named := findings
		suffix := ""
		if len(named) > evidenceFindingCap {
			suffix = fmt.Sprintf(" and %d more", len(named)-evidenceFindingCap)
			named = named[:evidenceFindingCap]
		}
		return gate.CheckResult{
			Status:   gate.CheckFailure,
			Evidence: fmt.Sprintf("%d potential secrets: %s%s", len(findings), strings.Join(named, ", "), suffix),
		}
	}

	return gate.CheckResult{
		Status:   gate.CheckSuccess,
		Evidence: fmt.Sprintf("no secrets in %d changed files", scanned),
	}
}

// Allowlist contains path and content regex patterns excluded from secret
// detection.
type Allowlist struct {
	Paths   []string
	Regexes []string
}

// loadAllowlists merges the project allowlist (.gitleaks.toml under the
// working directory) with an optional operator allowlist. Missing files are
// fine; present-but-invalid files are not.
func loadAllowlists(workDir, userPath string) (*Allowlist, error) {
	merged := &Allowlist{}
	paths := []string{filepath.Join(workDir, ".gitleaks.toml")}
	if userPath != "" {
		paths = append(paths, userPath)
	}
	for _, p := range paths {
		part, err := loadAllowlistTOML(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		merged.Paths = append(merged.Paths, part.Paths...)
		merged.Regexes = append(merged.Regexes, part.Regexes...)
	}
	return merged, nil
}

func loadAllowlistTOML(path string) (*Allowlist, error) {
	var doc struct {
		Allowlist struct {
			Paths   []string
			Regexes []string
		}
	}

	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAllowlist, path, err)
	}

	for _, pattern := range append(doc.Allowlist.Paths, doc.Allowlist.Regexes...) {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: pattern %q in %s: %v", ErrInvalidAllowlist, pattern, path, err)
		}
	}

	return &Allowlist{Paths: doc.Allowlist.Paths, Regexes: doc.Allowlist.Regexes}, nil
}

// applyAllowlist merges allowlist patterns into the gitleaks config.
// Patterns were validated at load time, so compilation cannot fail here.
func applyAllowlist(cfg *gitleaksConfig.Config, allow *Allowlist) {
	if len(allow.Paths) == 0 && len(allow.Regexes) == 0 {
		return
	}
	global := &gitleaksConfig.Allowlist{Description: "gated project/operator allowlist"}
	for _, pattern := range allow.Paths {
		global.Paths = append(global.Paths, (*gitleaksRegexp.Regexp)(regexp.MustCompile(pattern)))
	}
	for _, pattern := range allow.Regexes {
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(regexp.MustCompile(pattern)))
	}
	cfg.Allowlists = append(cfg.Allowlists, global)
}
