package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jkaberg/leafspy-hass/internal/leafspy"
	"github.com/jkaberg/leafspy-hass/internal/metrics"
	"github.com/sirupsen/logrus"
)

type fakeDispatcher struct {
	messages []*leafspy.Message
	err      error
	panicMsg string
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, msg *leafspy.Message) error {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	f.messages = append(f.messages, msg)
	return f.err
}

type countingRecorder map[string]int

func (c countingRecorder) Request(result string) { c[result]++ }

func newTestRouter(d Dispatcher, rec Recorder) http.Handler {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return NewRouter(Options{Path: "/api/leafspy/", Secret: "abc123", Metrics: metrics.New().Handler()}, d, rec, l)
}

func do(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestWebhook_Success(t *testing.T) {
	d := &fakeDispatcher{}
	counts := countingRecorder{}
	h := newTestRouter(d, counts)

	rec := do(t, h, "/api/leafspy/?pass=abc123&VIN=1N4AZ0CP7F-123456&SOC=87.345&PlugState=2&Wpr=40")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); body != `"status":"0"` {
		t.Errorf("expected body %q, got %q", `"status":"0"`, body)
	}
	if len(d.messages) != 1 {
		t.Fatalf("expected 1 dispatched message, got %d", len(d.messages))
	}
	msg := d.messages[0]
	if msg.VIN != "1N4AZ0CP7F-123456" || msg.SOC == nil || *msg.SOC != 87.345 {
		t.Errorf("unexpected message %v", msg)
	}
	if _, ok := msg.Field("pass"); ok {
		t.Error("expected password to be stripped from the message")
	}
	if counts[metrics.ResultOK] != 1 {
		t.Errorf("expected ok counted, got %v", counts)
	}
}

func TestWebhook_Failures(t *testing.T) {
	testCases := []struct {
		name   string
		target string
		result string
	}{
		{"wrong password", "/api/leafspy/?pass=wrong&VIN=1N4AZ0CP7F-123456&SOC=87.345", metrics.ResultUnauthorized},
		{"missing password", "/api/leafspy/?VIN=1N4AZ0CP7F-123456", metrics.ResultUnauthorized},
		{"wrong path secret", "/api/leafspy/wrong?VIN=1N4AZ0CP7F-123456", metrics.ResultUnauthorized},
		{"path ok but query wrong", "/api/leafspy/abc123?pass=wrong&VIN=X", metrics.ResultUnauthorized},
		{"missing VIN", "/api/leafspy/?pass=abc123&SOC=50", metrics.ResultDecodeError},
		{"malformed SOC", "/api/leafspy/?pass=abc123&VIN=X&SOC=lots", metrics.ResultDecodeError},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := &fakeDispatcher{}
			counts := countingRecorder{}
			rec := do(t, newTestRouter(d, counts), tc.target)

			if rec.Code != http.StatusInternalServerError {
				t.Errorf("expected status 500, got %d", rec.Code)
			}
			if rec.Body.Len() != 0 {
				t.Errorf("expected empty body, got %q", rec.Body.String())
			}
			if len(d.messages) != 0 {
				t.Errorf("expected nothing dispatched, got %d messages", len(d.messages))
			}
			if counts[tc.result] != 1 {
				t.Errorf("expected result %s counted, got %v", tc.result, counts)
			}
		})
	}
}

func TestWebhook_SecretInPath(t *testing.T) {
	d := &fakeDispatcher{}
	rec := do(t, newTestRouter(d, nil), "/api/leafspy/abc123?VIN=1N4AZ0CP7F-123456")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if len(d.messages) != 1 {
		t.Errorf("expected message dispatched")
	}
}

func TestWebhook_PathWithoutTrailingSlash(t *testing.T) {
	rec := do(t, newTestRouter(&fakeDispatcher{}, nil), "/api/leafspy?pass=abc123&VIN=X")
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
}

func TestWebhook_DispatchError(t *testing.T) {
	counts := countingRecorder{}
	d := &fakeDispatcher{err: errors.New("broker down")}
	rec := do(t, newTestRouter(d, counts), "/api/leafspy/?pass=abc123&VIN=X")
	if rec.Code != http.StatusInternalServerError || rec.Body.Len() != 0 {
		t.Errorf("expected empty 500, got %d %q", rec.Code, rec.Body.String())
	}
	if counts[metrics.ResultError] != 1 {
		t.Errorf("expected error counted, got %v", counts)
	}
}

func TestWebhook_PanicRecovered(t *testing.T) {
	d := &fakeDispatcher{panicMsg: "boom"}
	rec := do(t, newTestRouter(d, nil), "/api/leafspy/?pass=abc123&VIN=X")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", rec.Body.String())
	}
}

func TestWebhook_UnsupportedMethod(t *testing.T) {
	d := &fakeDispatcher{}
	counts := countingRecorder{}
	rec := httptest.NewRecorder()
	newTestRouter(d, counts).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/leafspy/?pass=abc123&VIN=X", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", rec.Body.String())
	}
	if len(d.messages) != 0 {
		t.Errorf("expected nothing dispatched, got %d messages", len(d.messages))
	}
	if counts[metrics.ResultError] != 1 {
		t.Errorf("expected 1 error result, got %v", counts)
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	h := newTestRouter(&fakeDispatcher{}, nil)
	if rec := do(t, h, "/healthz"); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("unexpected healthz response %d %q", rec.Code, rec.Body.String())
	}
	if rec := do(t, h, "/metrics"); rec.Code != http.StatusOK {
		t.Errorf("expected metrics status 200, got %d", rec.Code)
	}
}

func TestRouter_RootPath(t *testing.T) {
	l := logrus.New()
	l.SetOutput(io.Discard)
	h := NewRouter(Options{Path: "/", Secret: "abc123"}, &fakeDispatcher{}, nil, l)
	if rec := do(t, h, "/?pass=abc123&VIN=X"); rec.Code != http.StatusOK {
		t.Errorf("expected 200 on root path, got %d", rec.Code)
	}
	if rec := do(t, h, "/abc123?VIN=X"); rec.Code != http.StatusOK {
		t.Errorf("expected 200 with path secret on root path, got %d", rec.Code)
	}
}
