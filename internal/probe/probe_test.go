package probe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPProber_Probe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	p := NewHTTPProber(server.URL, 5*time.Second, nil)

	latency, err := p.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if latency <= 0 {
		t.Errorf("latency = %v, want > 0", latency)
	}
}

func TestHTTPProber_ErrorStatusStillReachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	p := NewHTTPProber(server.URL, 5*time.Second, nil)

	if _, err := p.Probe(context.Background()); err != nil {
		t.Errorf("Probe with 500 status error = %v, want nil", err)
	}
}

func TestHTTPProber_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	p := NewHTTPProber(server.URL, 50*time.Millisecond, nil)

	_, err := p.Probe(context.Background())
	if !errors.Is(err, ErrProbeTimeout) {
		t.Errorf("Probe error = %v, want ErrProbeTimeout", err)
	}
}

func TestHTTPProber_Unreachable(t *testing.T) {
	// Closed server simulates an unreachable host.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	p := NewHTTPProber(server.URL, time.Second, nil)

	if _, err := p.Probe(context.Background()); err == nil {
		t.Error("Probe against closed server succeeded, want error")
	}
}
