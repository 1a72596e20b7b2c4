package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(_ context.Context) error { return f.err }

func TestPingChecker(t *testing.T) {
	c := PingChecker("database", &fakePinger{})
	if c.Name != "database" {
		t.Errorf("name = %q, want %q", c.Name, "database")
	}
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	wantErr := errors.New("connection refused")
	c = PingChecker("database", &fakePinger{err: wantErr})
	if err := c.Check(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("expected %v, got %v", wantErr, err)
	}
}

func TestEndpointChecker_Healthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := EndpointChecker("asr", srv.URL, srv.Client())
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestEndpointChecker_NotFoundIsHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := EndpointChecker("tts", srv.URL, srv.Client())
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("404 should count as reachable, got: %v", err)
	}
}

func TestEndpointChecker_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := EndpointChecker("asr", srv.URL, srv.Client())
	if err := c.Check(context.Background()); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestEndpointChecker_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	srv.Close()

	c := EndpointChecker("speaker", srv.URL, nil)
	if err := c.Check(context.Background()); err == nil {
		t.Error("expected error for unreachable endpoint")
	}
}
