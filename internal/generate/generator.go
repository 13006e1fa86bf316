// Package generate calls the paid generation service that turns a
// subject's context documents into a prediction. The rest of the system
// treats the returned value as opaque; all it keeps is the value, what it
// cost, and which documents went into it.
package generate

import (
	"context"

	"github.com/arnvgh/tippkeeper/internal/storage"
)

// Generation is the outcome of one paid generation call.
type Generation struct {
	// Value is the prediction payload as returned by the model.
	Value string
	// Cost is the billed amount for the call.
	Cost float64
	// Usage is the provider's token accounting.
	Usage storage.TokenUsage
	// DependencyDocs names the context documents the value was based on,
	// as recorded into the prediction's metadata. Names may carry a
	// trailing parenthesized provenance label.
	DependencyDocs []string
}

// Generator produces a prediction for a subject from its currently
// available context documents.
type Generator interface {
	Predict(ctx context.Context, sub storage.Subject, docs []storage.Document) (Generation, error)
}
