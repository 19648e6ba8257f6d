// Package events publishes pipeline progress onto NATS subjects so
// operators and test harnesses can watch runs without polling the API.
//
// Subjects:
//
//	gated.run.<unit>.gate      one message per gate update
//	gated.run.<unit>.terminal  one message per terminal outcome
//
// The unit token is the review unit key sanitized for NATS subject rules.
// Publishing is best-effort: a broker outage never affects routing.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/gated/internal/gate"
	"github.com/fyrsmithlabs/gated/internal/receipt"
	"github.com/fyrsmithlabs/gated/internal/review"
)

const subjectPrefix = "gated.run."

// GateEvent is the payload published on gate subjects.
type GateEvent struct {
	Unit review.Unit `json:"unit"`
	Gate gate.Gate   `json:"gate"`
	At   time.Time   `json:"at"`
}

// TerminalEvent is the payload published on terminal subjects. It carries
// the full receipt so subscribers need no follow-up API call.
type TerminalEvent struct {
	Unit    review.Unit      `json:"unit"`
	Outcome review.Outcome   `json:"outcome"`
	Reason  string           `json:"reason"`
	Receipt *receipt.Receipt `json:"receipt"`
	At      time.Time        `json:"at"`
}

// Connect dials the broker with the standard reconnect posture.
func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	if logger != nil {
		logger.Info("connected to NATS", zap.String("url", url))
	}
	return nc, nil
}

// Publisher emits pipeline events. It satisfies the orchestrator's Notifier
// interface.
type Publisher struct {
	nc     *nats.Conn
	logger *zap.Logger
}

// NewPublisher wraps an established connection.
func NewPublisher(nc *nats.Conn, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{nc: nc, logger: logger}
}

// GateUpdated publishes the gate's new state.
func (p *Publisher) GateUpdated(_ context.Context, unit review.Unit, g gate.Gate) {
	p.publish(GateSubject(unit.Key()), GateEvent{
		Unit: unit,
		Gate: g,
		At:   time.Now().UTC(),
	})
}

// RunFinished publishes the terminal outcome with its receipt.
func (p *Publisher) RunFinished(_ context.Context, rcpt *receipt.Receipt) {
	p.publish(TerminalSubject(rcpt.Unit.Key()), TerminalEvent{
		Unit:    rcpt.Unit,
		Outcome: rcpt.Outcome,
		Reason:  rcpt.Reason,
		Receipt: rcpt,
		At:      time.Now().UTC(),
	})
}

func (p *Publisher) publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("event marshal failed", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn("event publish failed", zap.String("subject", subject), zap.Error(err))
		return
	}
	p.logger.Debug("event published", zap.String("subject", subject), zap.Int("bytes", len(data)))
}

// GateSubject returns the subject carrying gate updates for a unit key.
func GateSubject(unitKey string) string {
	return subjectPrefix + subjectToken(unitKey) + ".gate"
}

// TerminalSubject returns the subject carrying the terminal outcome for a
// unit key.
func TerminalSubject(unitKey string) string {
	return subjectPrefix + subjectToken(unitKey) + ".terminal"
}

// subjectToken makes a unit key safe as a single NATS subject token:
// anything outside [A-Za-z0-9_-] becomes a hyphen so keys like
// "owner/repo#42" cannot split or wildcard the subject.
func subjectToken(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}
