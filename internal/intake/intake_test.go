package intake

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/gated/internal/review"
)

const (
	testSecret = "hunter2-but-longer"
	testSHA    = "a3f8c2d914b5e6071829304a5b6c7d8e9f001122"
)

type fakeDispatcher struct {
	mu         sync.Mutex
	ops        []string
	enqueued   []review.Unit
	enqueueErr error
	cancelHit  bool
}

func (f *fakeDispatcher) Enqueue(u review.Unit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.enqueued = append(f.enqueued, u)
	f.ops = append(f.ops, "enqueue:"+u.Key())
	return nil
}

func (f *fakeDispatcher) Cancel(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "cancel:"+key)
	return f.cancelHit
}

func prPayload(action, sha string) string {
	return fmt.Sprintf(`{
		"action": %q,
		"pull_request": {
			"number": 42,
			"draft": false,
			"labels": [{"name": "enhancement"}],
			"base": {"ref": "main"},
			"head": {"ref": "feature/parser", "sha": %q}
		},
		"repository": {
			"name": "widgets",
			"owner": {"login": "fyrsmithlabs"}
		}
	}`, action, sha)
}

func signedRequest(secret, eventType, payload string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhook/github", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", eventType)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	req.RemoteAddr = "192.0.2.10:54321"
	return req
}

// perform runs the handler and normalizes echo's error-vs-recorder split
// into one status code.
func perform(t *testing.T, h *Handler, req *http.Request) int {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.Webhook(c)
	if err == nil {
		return rec.Code
	}
	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	return he.Code
}

func TestHandler_Webhook_OpenedEnqueuesUnit(t *testing.T) {
	dispatch := &fakeDispatcher{}
	h := NewHandler(testSecret, dispatch, nil)

	code := perform(t, h, signedRequest(testSecret, "pull_request", prPayload("opened", testSHA)))

	assert.Equal(t, http.StatusOK, code)
	require.Len(t, dispatch.enqueued, 1)
	unit := dispatch.enqueued[0]
	assert.Equal(t, "fyrsmithlabs/widgets", unit.Repo)
	assert.Equal(t, 42, unit.Number)
	assert.Equal(t, "main", unit.BaseRef)
	assert.Equal(t, "feature/parser", unit.HeadRef)
	assert.Equal(t, testSHA, unit.HeadSHA)
	assert.Equal(t, []string{"enhancement"}, unit.Labels)
	assert.False(t, unit.CreatedAt.IsZero())
}

func TestHandler_Webhook_BadSignature_Unauthorized(t *testing.T) {
	dispatch := &fakeDispatcher{}
	h := NewHandler(testSecret, dispatch, nil)

	code := perform(t, h, signedRequest("wrong-secret", "pull_request", prPayload("opened", testSHA)))

	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Empty(t, dispatch.ops, "unauthenticated payloads never reach the queue")
}

func TestHandler_Webhook_SynchronizeCancelsThenEnqueues(t *testing.T) {
	dispatch := &fakeDispatcher{cancelHit: true}
	h := NewHandler(testSecret, dispatch, nil)

	code := perform(t, h, signedRequest(testSecret, "pull_request", prPayload("synchronize", testSHA)))

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{
		"cancel:fyrsmithlabs/widgets#42",
		"enqueue:fyrsmithlabs/widgets#42",
	}, dispatch.ops, "the stale run is cancelled before the new head is queued")
}

func TestHandler_Webhook_ClosedCancelsWithoutEnqueue(t *testing.T) {
	dispatch := &fakeDispatcher{cancelHit: true}
	h := NewHandler(testSecret, dispatch, nil)

	code := perform(t, h, signedRequest(testSecret, "pull_request", prPayload("closed", testSHA)))

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"cancel:fyrsmithlabs/widgets#42"}, dispatch.ops)
}

func TestHandler_Webhook_IrrelevantActionAccepted(t *testing.T) {
	dispatch := &fakeDispatcher{}
	h := NewHandler(testSecret, dispatch, nil)

	code := perform(t, h, signedRequest(testSecret, "pull_request", prPayload("labeled", testSHA)))

	assert.Equal(t, http.StatusOK, code, "unhandled actions are acknowledged, not errors")
	assert.Empty(t, dispatch.ops)
}

func TestHandler_Webhook_MalformedSHARejected(t *testing.T) {
	dispatch := &fakeDispatcher{}
	h := NewHandler(testSecret, dispatch, nil)

	code := perform(t, h, signedRequest(testSecret, "pull_request", prPayload("opened", "not-a-sha; rm -rf /")))

	assert.Equal(t, http.StatusBadRequest, code)
	assert.Empty(t, dispatch.ops)
}

func TestHandler_Webhook_FullQueueMapsToServiceUnavailable(t *testing.T) {
	dispatch := &fakeDispatcher{enqueueErr: errors.New("queue full")}
	h := NewHandler(testSecret, dispatch, nil)

	code := perform(t, h, signedRequest(testSecret, "pull_request", prPayload("opened", testSHA)))

	assert.Equal(t, http.StatusServiceUnavailable, code,
		"GitHub retries 5xx deliveries, so back-pressure must not 200")
}

func TestHandler_Webhook_PingAnswersPong(t *testing.T) {
	h := NewHandler(testSecret, &fakeDispatcher{}, nil)

	e := echo.New()
	rec := httptest.NewRecorder()
	req := signedRequest(testSecret, "ping", `{"zen": "Keep it logically awesome."}`)
	c := e.NewContext(req, rec)

	require.NoError(t, h.Webhook(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pong")
}

func TestHandler_Webhook_RateLimitPerIP(t *testing.T) {
	dispatch := &fakeDispatcher{}
	h := NewHandler(testSecret, dispatch, nil)

	// Pin an exhausted limiter for one caller.
	h.mu.Lock()
	h.limiters["192.0.2.99"] = rate.NewLimiter(rate.Every(time.Hour), 1)
	h.mu.Unlock()

	throttled := signedRequest(testSecret, "pull_request", prPayload("opened", testSHA))
	throttled.RemoteAddr = "192.0.2.99:1111"
	assert.Equal(t, http.StatusOK, perform(t, h, throttled))

	throttled = signedRequest(testSecret, "pull_request", prPayload("opened", testSHA))
	throttled.RemoteAddr = "192.0.2.99:1111"
	assert.Equal(t, http.StatusTooManyRequests, perform(t, h, throttled))

	// Other callers are not affected.
	other := signedRequest(testSecret, "pull_request", prPayload("opened", testSHA))
	other.RemoteAddr = "192.0.2.50:2222"
	assert.Equal(t, http.StatusOK, perform(t, h, other))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.1:9999"
	assert.Equal(t, "10.0.0.1", clientIP(req))

	req.Header.Set("X-Real-IP", "203.0.113.5")
	assert.Equal(t, "203.0.113.5", clientIP(req))

	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	assert.Equal(t, "198.51.100.7", clientIP(req), "first hop in the forwarded chain wins")
}
