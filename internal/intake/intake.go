// Package intake turns GitHub webhook deliveries into pipeline work. It
// validates HMAC signatures, rate-limits callers per IP, and maps pull
// request lifecycle actions onto enqueue/cancel calls against the worker
// pool.
package intake

import (
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/gated/internal/review"
)

// maxPayloadBytes caps webhook bodies. GitHub's own limit is 25MB but no
// pull_request payload comes close; 1MB keeps slow readers cheap.
const maxPayloadBytes = 1 << 20

// Validation regexes compiled once at package initialization.
var (
	validNameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
	validSHARegex  = regexp.MustCompile(`^[0-9a-f]{40}$`)
)

// Dispatcher receives accepted review units. The worker pool satisfies it.
type Dispatcher interface {
	// Enqueue schedules a pipeline run for the unit.
	Enqueue(unit review.Unit) error

	// Cancel stops any in-flight or queued run for the unit key, reporting
	// whether one was found.
	Cancel(unitKey string) bool
}

// Handler is the webhook intake endpoint.
type Handler struct {
	secret   []byte
	dispatch Dispatcher
	logger   *zap.Logger

	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
	lastCleanup time.Time
}

// NewHandler creates the intake handler. The secret must match the webhook
// configuration on GitHub; an empty secret disables signature checking and
// is only acceptable in tests.
func NewHandler(secret string, dispatch Dispatcher, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		secret:      []byte(secret),
		dispatch:    dispatch,
		logger:      logger,
		limiters:    make(map[string]*rate.Limiter),
		lastCleanup: time.Now(),
	}
}

// Webhook handles POST /webhook/github.
func (h *Handler) Webhook(c echo.Context) error {
	r := c.Request()

	ip := clientIP(r)
	if !h.limiter(ip).Allow() {
		h.logger.Warn("webhook rate limit exceeded", zap.String("ip", ip))
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
	}

	r.Body = http.MaxBytesReader(c.Response(), r.Body, maxPayloadBytes)

	payload, err := github.ValidatePayload(r, h.secret)
	if err != nil {
		h.logger.Warn("invalid webhook signature", zap.String("ip", ip), zap.Error(err))
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	}

	event, err := github.ParseWebHook(github.WebHookType(r), payload)
	if err != nil {
		h.logger.Warn("unparseable webhook payload", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}

	switch e := event.(type) {
	case *github.PullRequestEvent:
		if err := h.handlePullRequest(e); err != nil {
			return err
		}
	case *github.PingEvent:
		return c.JSON(http.StatusOK, map[string]string{"status": "pong"})
	default:
		h.logger.Debug("ignoring event type", zap.String("type", fmt.Sprintf("%T", event)))
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handlePullRequest maps PR lifecycle actions onto pipeline work. A
// synchronize cancels the stale run before enqueueing: the new head
// invalidates every prior gate result.
func (h *Handler) handlePullRequest(event *github.PullRequestEvent) error {
	if err := validatePREvent(event); err != nil {
		h.logger.Warn("invalid pull request event", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid pull request event")
	}

	unit := unitFromEvent(event)
	action := event.GetAction()
	log := h.logger.With(
		zap.String("unit", unit.Key()),
		zap.String("action", action),
		zap.String("head_sha", unit.HeadSHA))

	switch action {
	case "opened", "reopened":
		if err := h.dispatch.Enqueue(unit); err != nil {
			log.Error("enqueue failed", zap.Error(err))
			return echo.NewHTTPError(http.StatusServiceUnavailable, "queue full")
		}
		log.Info("pipeline run enqueued")

	case "synchronize":
		if h.dispatch.Cancel(unit.Key()) {
			log.Info("superseded run cancelled")
		}
		if err := h.dispatch.Enqueue(unit); err != nil {
			log.Error("enqueue failed", zap.Error(err))
			return echo.NewHTTPError(http.StatusServiceUnavailable, "queue full")
		}
		log.Info("pipeline run enqueued for new head")

	case "closed":
		if h.dispatch.Cancel(unit.Key()) {
			log.Info("run cancelled for closed pull request")
		}

	default:
		log.Debug("ignoring pull request action")
	}

	return nil
}

// limiter returns the per-IP rate limiter: 60 requests per minute with a
// burst of 10, matching GitHub's delivery patterns.
func (h *Handler) limiter(ip string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Drop the whole map periodically so dead IPs do not accumulate.
	if time.Since(h.lastCleanup) > time.Hour {
		h.limiters = make(map[string]*rate.Limiter)
		h.lastCleanup = time.Now()
	}

	limiter, ok := h.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(1), 10)
		h.limiters[ip] = limiter
	}
	return limiter
}

// clientIP extracts the caller's address, honoring proxy headers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

// validatePREvent rejects payloads whose identifying fields could not have
// come from GitHub, before anything reaches a shell or a URL.
func validatePREvent(e *github.PullRequestEvent) error {
	if e.PullRequest == nil || e.PullRequest.Number == nil || *e.PullRequest.Number <= 0 {
		return fmt.Errorf("invalid PR number")
	}

	if e.Repo == nil || e.Repo.Owner == nil || e.Repo.Owner.Login == nil {
		return fmt.Errorf("missing repository owner")
	}
	if !validNameRegex.MatchString(*e.Repo.Owner.Login) {
		return fmt.Errorf("invalid repository owner format")
	}
	if e.Repo.Name == nil {
		return fmt.Errorf("missing repository name")
	}
	if !validNameRegex.MatchString(*e.Repo.Name) {
		return fmt.Errorf("invalid repository name format")
	}

	if e.PullRequest.Head == nil || e.PullRequest.Head.SHA == nil {
		return fmt.Errorf("missing head SHA")
	}
	if !validSHARegex.MatchString(*e.PullRequest.Head.SHA) {
		return fmt.Errorf("invalid head SHA format")
	}

	return nil
}

// unitFromEvent builds the review unit the pipeline will run against.
func unitFromEvent(e *github.PullRequestEvent) review.Unit {
	pr := e.GetPullRequest()
	repo := e.GetRepo()

	labels := make([]string, 0, len(pr.Labels))
	for _, l := range pr.Labels {
		labels = append(labels, l.GetName())
	}

	return review.Unit{
		Repo:      repo.GetOwner().GetLogin() + "/" + repo.GetName(),
		Number:    pr.GetNumber(),
		BaseRef:   pr.GetBase().GetRef(),
		HeadRef:   pr.GetHead().GetRef(),
		HeadSHA:   pr.GetHead().GetSHA(),
		Draft:     pr.GetDraft(),
		Labels:    labels,
		CreatedAt: time.Now().UTC(),
	}
}
