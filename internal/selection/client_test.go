package selection

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammed-shakir/biq-mapview/internal/core/model"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func scenarioParams() model.SelectionParams {
	return model.SelectionParams{
		Username:       "u1",
		Radius:         3000,
		MaxBBNum:       25,
		BBPricingField: "pricingEstPerMo",
		MaxTotalCost:   40000,
		DemandField:    "at_revco",
		Method:         "solver.sp_gurobi",
	}
}

func newClient(t *testing.T, h http.HandlerFunc, timeout time.Duration) (*Client, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	c, err := New(discard(), srv.Client(), srv.URL, timeout)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, &calls
}

func TestRequestSelection_Scenario(t *testing.T) {
	c, calls := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/billboards" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %q", ct)
		}
		var got map[string]any
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		want := map[string]any{
			"username": "u1", "radius": float64(3000), "max_bb_num": float64(25),
			"bb_pricing_field": "pricingEstPerMo", "max_total_cost": float64(40000),
			"demand_field": "at_revco", "method": "solver.sp_gurobi",
		}
		for k, v := range want {
			if got[k] != v {
				t.Errorf("body[%s] = %v, want %v", k, got[k], v)
			}
		}
		if len(got) != len(want) {
			t.Errorf("body has %d fields, want %d", len(got), len(want))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"billbards": "[{\"id\":1,\"lat\":33.45,\"lng\":-112.19}]"}`)
	}, time.Second)

	layer, err := c.RequestSelection(context.Background(), scenarioParams())
	if err != nil {
		t.Fatalf("RequestSelection: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
	if len(layer.Sites) != 1 {
		t.Fatalf("sites = %d, want 1", len(layer.Sites))
	}
	s := layer.Sites[0]
	if s.ID != "1" || s.Lat != 33.45 || s.Lng != -112.19 {
		t.Fatalf("site = %+v", s)
	}
	if layer.Params != scenarioParams() {
		t.Fatalf("params not carried: %+v", layer.Params)
	}
	if layer.Fingerprint == "" || layer.CompletedAt.Before(layer.RequestedAt) {
		t.Fatalf("bad layer metadata: %+v", layer)
	}
}

func TestRequestSelection_ServerErrorIsProtocol(t *testing.T) {
	c, calls := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "solver crashed", http.StatusInternalServerError)
	}, time.Second)

	_, err := c.RequestSelection(context.Background(), scenarioParams())
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("err = %v, want ErrProtocol", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want exactly 1 (no retry)", calls.Load())
	}
}

func TestRequestSelection_MalformedPayloadIsDecode(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"billbards": "[{\"id\":1,"}`)
	}, time.Second)

	_, err := c.RequestSelection(context.Background(), scenarioParams())
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("err = %v, want ErrDecode", err)
	}
}

func TestRequestSelection_ZeroBudgetAccepted(t *testing.T) {
	c, calls := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"billbards": "[]"}`)
	}, time.Second)

	p := scenarioParams()
	p.MaxTotalCost = 0
	layer, err := c.RequestSelection(context.Background(), p)
	if err != nil {
		t.Fatalf("RequestSelection: %v", err)
	}
	if calls.Load() != 1 || len(layer.Sites) != 0 {
		t.Fatalf("calls=%d sites=%d", calls.Load(), len(layer.Sites))
	}
}

func TestRequestSelection_InvalidParamsNoCall(t *testing.T) {
	c, calls := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"billbards": "[]"}`)
	}, time.Second)

	p := scenarioParams()
	p.Method = ""
	p.Radius = 0
	_, err := c.RequestSelection(context.Background(), p)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("optimizer called %d times for invalid params", calls.Load())
	}
}

func TestRequestSelection_Timeout(t *testing.T) {
	c, _ := newClient(t, func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}, 50*time.Millisecond)

	_, err := c.RequestSelection(context.Background(), scenarioParams())
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", err)
	}
	var re *RequestError
	if !errors.As(err, &re) || !re.Timeout() {
		t.Fatalf("expected a timeout RequestError, got %#v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("deadline cause lost: %v", err)
	}
}

func TestRequestSelection_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(discard(), nil, url, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.RequestSelection(context.Background(), scenarioParams())
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", err)
	}
	if KindOf(err) != KindNetwork {
		t.Fatalf("KindOf = %q", KindOf(err))
	}
}

func TestNew_RelativeURL(t *testing.T) {
	if _, err := New(discard(), nil, "/api", time.Second); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
}
