package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohammed-shakir/biq-mapview/internal/api"
	"github.com/mohammed-shakir/biq-mapview/internal/core/health"
	"github.com/mohammed-shakir/biq-mapview/internal/mapview"
	"github.com/mohammed-shakir/biq-mapview/internal/metrics"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRouter_ProbesAndMetrics(t *testing.T) {
	reg, err := mapview.NewRegistry(2, mapview.Deps{Logger: discard()}, mapview.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()
	p := metrics.Init(metrics.Config{})

	h := NewRouter(discard(), Routes{
		API:     api.New(discard(), reg),
		Metrics: p.Handler(),
		Checks: map[string]health.Check{
			"redis": func(context.Context) error { return errors.New("down") },
		},
	})
	srv := httptest.NewServer(h)
	defer srv.Close()

	get := func(path string) (int, string) {
		resp, err := srv.Client().Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		defer func() { _ = resp.Body.Close() }()
		b, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(b)
	}

	if code, body := get("/healthz"); code != http.StatusOK || body != "ok" {
		t.Fatalf("healthz %d %q", code, body)
	}
	if code, _ := get("/readyz"); code != http.StatusServiceUnavailable {
		t.Fatalf("readyz %d", code)
	}
	if code, _ := get("/api/v1/views/missing"); code != http.StatusNotFound {
		t.Fatalf("missing view %d", code)
	}
	code, body := get("/metrics")
	if code != http.StatusOK {
		t.Fatalf("metrics %d", code)
	}
	if !strings.Contains(body, `http_requests_total{method="GET",route="/api/v1/views/{id}`) {
		t.Fatalf("route-labelled request metric missing:\n%s", body)
	}
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, addr, discard(), http.NotFoundHandler()) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		c, err := net.Dial("tcp", addr)
		if err == nil {
			_ = c.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not start: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}
