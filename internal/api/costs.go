// Package api exposes the cost report over HTTP for the serve command.
// The surface is read-only and intended for loopback use.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/arnvgh/tippkeeper/internal/costs"
)

// Reporter is the aggregation entry point the handler serves.
type Reporter interface {
	Report(ctx context.Context, opts costs.Options) (costs.Report, error)
}

// Deps carries the handler's collaborators and the configured report
// dimensions.
type Deps struct {
	Reporter    Reporter
	Models      []string
	Communities []string
}

// NewHandler builds the HTTP router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/api/costs", handleCosts(deps))

	return r
}

type bucketDTO struct {
	Cost  float64 `json:"cost"`
	Count int     `json:"count"`
}

type breakdownDTO struct {
	Index0     bucketDTO `json:"index0"`
	Index1     bucketDTO `json:"index1"`
	Index2Plus bucketDTO `json:"index2_plus"`
	Total      bucketDTO `json:"total"`
}

type detailDTO struct {
	Community string       `json:"community"`
	Model     string       `json:"model"`
	Category  string       `json:"category"`
	Breakdown breakdownDTO `json:"breakdown"`
}

type costsResponse struct {
	Matches breakdownDTO `json:"matches"`
	Bonus   breakdownDTO `json:"bonus"`
	Details []detailDTO  `json:"details,omitempty"`
}

func toBreakdownDTO(bd costs.Breakdown) breakdownDTO {
	conv := func(b costs.Bucket) bucketDTO { return bucketDTO{Cost: b.Cost, Count: b.Count} }
	return breakdownDTO{
		Index0:     conv(bd.Index0),
		Index1:     conv(bd.Index1),
		Index2Plus: conv(bd.Index2Plus),
		Total:      conv(bd.Total),
	}
}

func handleCosts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		opts := costs.Options{
			Models:         deps.Models,
			Communities:    deps.Communities,
			MatchEntityIDs: q["match"],
			Detailed:       q.Get("detailed") == "true",
		}

		rep, err := deps.Reporter.Report(r.Context(), opts)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "aggregation_error", "building cost report: %v", err)
			return
		}

		resp := costsResponse{
			Matches: toBreakdownDTO(rep.Matches),
			Bonus:   toBreakdownDTO(rep.Bonus),
		}
		for _, d := range rep.Details {
			resp.Details = append(resp.Details, detailDTO{
				Community: d.Community,
				Model:     d.Model,
				Category:  string(d.Kind),
				Breakdown: toBreakdownDTO(d.Breakdown),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func httpError(w http.ResponseWriter, status int, code, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": fmt.Sprintf(format, args...),
		},
	})
}
