package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a prediction write lost the race for its
// reprediction index slot.
var ErrConflict = errors.New("reprediction index conflict")

// EntityKind separates matchday predictions from bonus-question predictions.
type EntityKind string

const (
	KindMatch EntityKind = "match"
	KindBonus EntityKind = "bonus"
)

// Subject identifies one prediction series: an entity predicted by one
// model within one community.
type Subject struct {
	Kind      EntityKind
	EntityID  string
	Model     string
	Community string
}

// Document is one stored version of a named context document. Content is
// opaque to the store; versions only grow and existing versions are never
// rewritten.
type Document struct {
	Scope     string
	Name      string
	Version   int
	Content   []byte
	CreatedAt time.Time
}

// TokenUsage summarizes the generation call that produced a prediction.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Prediction is one record in a subject's append-only history. Index 0 is
// the first prediction; every regeneration appends at the next index.
type Prediction struct {
	Subject        Subject
	Index          int
	Value          string
	DependencyDocs []string
	Cost           float64
	Usage          TokenUsage
	CreatedAt      time.Time
}

// PredictionMeta is the staleness-relevant slice of a prediction record,
// readable without fetching the value payload.
type PredictionMeta struct {
	CreatedAt      time.Time
	DependencyDocs []string
}

// CostRow aggregates cost and billable document count for one
// reprediction index.
type CostRow struct {
	TotalCost float64
	Count     int
}
