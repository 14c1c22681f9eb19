package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"bridgebot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type stubAdapter struct {
	name string
	up   bool
}

func (a stubAdapter) Name() string                         { return a.name }
func (a stubAdapter) Connect(ctx context.Context) error    { return nil }
func (a stubAdapter) Disconnect(ctx context.Context) error { return nil }
func (a stubAdapter) Connected() bool                      { return a.up }
func (a stubAdapter) SendMessage(ctx context.Context, conv domain.Conversation, msg *domain.Message) error {
	return nil
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	body, _ := io.ReadAll(rr.Body)
	return rr.Code, string(body)
}

func TestRoot(t *testing.T) {
	s := New(Config{Logger: testLogger()})
	code, body := get(t, s.Handler(), "/")
	if code != http.StatusOK || body != "OK" {
		t.Errorf("GET / = %d %q", code, body)
	}
}

func TestHealth(t *testing.T) {
	healthy := pingFunc(func(context.Context) error { return nil })

	t.Run("one adapter up", func(t *testing.T) {
		s := New(Config{
			Adapters: []domain.Provider{stubAdapter{"tg", true}, stubAdapter{"vk", false}},
			Store:    healthy,
			Version:  "1.2.3",
			Logger:   testLogger(),
		})
		code, body := get(t, s.Handler(), "/healthz")
		if code != http.StatusOK {
			t.Fatalf("status = %d, body %s", code, body)
		}
		var h Health
		if err := json.Unmarshal([]byte(body), &h); err != nil {
			t.Fatal(err)
		}
		if !h.Adapters["tg"] || h.Adapters["vk"] || h.Version != "1.2.3" || h.Storage != "ok" {
			t.Errorf("health = %+v", h)
		}
	})

	t.Run("all adapters down", func(t *testing.T) {
		s := New(Config{Adapters: []domain.Provider{stubAdapter{"tg", false}}, Store: healthy, Logger: testLogger()})
		if code, _ := get(t, s.Handler(), "/healthz"); code != http.StatusServiceUnavailable {
			t.Errorf("status = %d", code)
		}
	})

	t.Run("storage down", func(t *testing.T) {
		s := New(Config{
			Adapters: []domain.Provider{stubAdapter{"tg", true}},
			Store:    pingFunc(func(context.Context) error { return errors.New("disk full") }),
			Logger:   testLogger(),
		})
		code, body := get(t, s.Handler(), "/healthz")
		if code != http.StatusServiceUnavailable || !strings.Contains(body, `"storage":"unavailable"`) {
			t.Errorf("GET /healthz = %d %s", code, body)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	s := New(Config{Logger: testLogger()})
	get(t, s.Handler(), "/")
	code, body := get(t, s.Handler(), "/metrics")
	if code != http.StatusOK || !strings.Contains(body, "bridgebot_http_requests_total") {
		t.Errorf("GET /metrics = %d, missing request counter", code)
	}
}
