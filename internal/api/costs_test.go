package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/arnvgh/tippkeeper/internal/costs"
	"github.com/arnvgh/tippkeeper/internal/storage"
)

type fakeReporter struct {
	gotOpts costs.Options
	report  costs.Report
	err     error
}

func (f *fakeReporter) Report(_ context.Context, opts costs.Options) (costs.Report, error) {
	f.gotOpts = opts
	return f.report, f.err
}

func newTestHandler(rep *fakeReporter) http.Handler {
	return NewHandler(Deps{
		Reporter:    rep,
		Models:      []string{"openai/gpt-5"},
		Communities: []string{"liga-runde"},
	})
}

// TestHealthz verifies the liveness endpoint.
func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(newTestHandler(&fakeReporter{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status: got %d", resp.StatusCode)
	}
}

// TestGetCosts verifies options plumbing and response shape.
func TestGetCosts(t *testing.T) {
	rep := &fakeReporter{report: costs.Report{
		Matches: costs.Breakdown{
			Index0: costs.Bucket{Cost: 1.00, Count: 10},
			Total:  costs.Bucket{Cost: 1.00, Count: 10},
		},
		Details: []costs.Detail{{
			Community: "liga-runde",
			Model:     "openai/gpt-5",
			Kind:      storage.KindMatch,
			Breakdown: costs.Breakdown{Total: costs.Bucket{Cost: 1.00, Count: 10}},
		}},
	}}
	srv := httptest.NewServer(newTestHandler(rep))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/costs?detailed=true&match=m1&match=m2")
	if err != nil {
		t.Fatalf("GET /api/costs: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d", resp.StatusCode)
	}

	if !rep.gotOpts.Detailed {
		t.Error("detailed flag not passed through")
	}
	if len(rep.gotOpts.MatchEntityIDs) != 2 {
		t.Errorf("match filter: got %v", rep.gotOpts.MatchEntityIDs)
	}
	if len(rep.gotOpts.Models) != 1 || len(rep.gotOpts.Communities) != 1 {
		t.Errorf("dimensions: %+v", rep.gotOpts)
	}

	var body struct {
		Matches struct {
			Index0 struct {
				Cost  float64 `json:"cost"`
				Count int     `json:"count"`
			} `json:"index0"`
		} `json:"matches"`
		Details []struct {
			Category string `json:"category"`
		} `json:"details"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body.Matches.Index0.Count != 10 {
		t.Errorf("index0 count: got %d", body.Matches.Index0.Count)
	}
	if len(body.Details) != 1 || body.Details[0].Category != "match" {
		t.Errorf("details: %+v", body.Details)
	}
}

// TestGetCostsError verifies aggregation failures map to a 500 with an
// error body.
func TestGetCostsError(t *testing.T) {
	srv := httptest.NewServer(newTestHandler(&fakeReporter{err: errors.New("store unavailable")}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/costs")
	if err != nil {
		t.Fatalf("GET /api/costs: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status: got %d", resp.StatusCode)
	}

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if body.Error.Code != "aggregation_error" {
		t.Errorf("error code: got %q", body.Error.Code)
	}
}
