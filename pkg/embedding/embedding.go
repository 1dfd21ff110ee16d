// Package embedding turns text into fixed-dimension vectors through
// pluggable providers. The dimension is committed at compile time;
// providers returning anything else fail loudly rather than storing a
// mixed-dimension corpus.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// Dimensions is the committed embedding width for every collection.
const Dimensions = 1536

var (
	// ErrEmptyInput is returned when the text to embed is empty.
	ErrEmptyInput = errors.New("embedding input is empty")

	// ErrDimensionMismatch is returned when a provider yields a vector
	// of the wrong width.
	ErrDimensionMismatch = fmt.Errorf("embedding dimension mismatch: expected %d", Dimensions)
)

// Result is one embedding with its provenance and cost accounting.
type Result struct {
	Vector     []float32 `json:"vector"`
	Dimensions int       `json:"dimensions"`
	Model      string    `json:"model"`
	TokenCount int       `json:"token_count"`
	LatencyMs  int64     `json:"latency_ms"`
}

// Client generates embeddings.
type Client interface {
	// Embed converts one text into a vector. Fails with ErrEmptyInput
	// on blank input and ErrDimensionMismatch on provider drift.
	Embed(ctx context.Context, text string) (*Result, error)

	// EmbedBatch converts several texts sequentially. Callers may
	// parallelize above this layer.
	EmbedBatch(ctx context.Context, texts []string) ([]*Result, error)

	// Model reports the provider model identifier.
	Model() string
}

// validateResult guards the committed dimension.
func validateResult(vector []float32) error {
	if len(vector) != Dimensions {
		return fmt.Errorf("%w, got %d", ErrDimensionMismatch, len(vector))
	}
	return nil
}
