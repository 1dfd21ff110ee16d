// Package vector provides the typed-collection vector store used for
// semantic retrieval. Objects live in a single pgvector-backed table with a
// collection discriminator; each collection declares the properties it
// accepts and inserts are validated against that schema.
package vector

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Collection identifies a logical namespace inside the vector store.
type Collection string

// Collections known to the store. The store never creates or drops
// collections at runtime; an operation against an unregistered collection
// fails with ErrUnknownCollection.
const (
	// Raw holds ingested memory items and Q&A snapshots (L2).
	Raw Collection = "Raw"
	// Knowledge holds distilled, intent-tagged facts extracted from answers.
	Knowledge Collection = "Knowledge"
	// Topics holds per-topic summaries produced by compaction (L3).
	Topics Collection = "Topics"
	// Domains holds cross-topic domain maps produced by compaction (L4).
	Domains Collection = "Domains"
	// Insights holds generated observations surfaced by background analysis.
	Insights Collection = "Insights"
	// AnswerCache backs the semantic answer cache.
	AnswerCache Collection = "AnswerCache"
)

var (
	// ErrUnknownCollection is returned for operations against a collection
	// that was never registered.
	ErrUnknownCollection = errors.New("unknown vector collection")

	// ErrNotFound is returned when an object id does not exist in the
	// requested collection.
	ErrNotFound = errors.New("vector object not found")

	// ErrSchemaMismatch is returned when insert or update properties do not
	// match the collection schema.
	ErrSchemaMismatch = errors.New("vector schema mismatch")
)

// Object is a stored vector row. Core fields are shared by every
// collection; Props carries the collection-specific properties.
type Object struct {
	ID           uuid.UUID              `json:"id"`
	Collection   Collection             `json:"collection"`
	Content      string                 `json:"content"`
	ContentHash  string                 `json:"content_hash"`
	UserID       string                 `json:"user_id"`
	SourceID     string                 `json:"source_id"`
	PrivacyLevel string                 `json:"privacy_level"`
	Tags         []string               `json:"tags,omitempty"`
	Props        map[string]interface{} `json:"props,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// SearchResult is a single near-vector hit. Distance is cosine distance in
// [0, 2]; Similarity is 1 - Distance. Props merges the core fields with the
// collection-specific properties so callers read one map.
type SearchResult struct {
	ID         uuid.UUID              `json:"id"`
	Distance   float64                `json:"distance"`
	Similarity float64                `json:"similarity"`
	Props      map[string]interface{} `json:"props"`
}

// Filter restricts search and list operations. Zero values mean "no
// constraint". Tags matches objects whose tag array overlaps the given set.
// Props applies equality checks against collection-specific properties.
type Filter struct {
	UserID        string
	PrivacyLevels []string
	Tags          []string
	Props         map[string]interface{}
	CreatedAfter  *time.Time
	CreatedBefore *time.Time

	// MinSimilarity, when positive, pushes the similarity threshold into the
	// search query so the store never returns weaker matches. Only
	// meaningful for NearVector.
	MinSimilarity float64
}

// Store is the vector persistence contract.
type Store interface {
	// Insert validates props against the collection schema and stores a new
	// object, returning its generated id.
	Insert(ctx context.Context, collection Collection, vec []float32, props map[string]interface{}) (uuid.UUID, error)

	// Update patches an existing object. Either vec or props may be nil to
	// leave that side untouched. Core properties present in props update
	// their columns; the rest is merged into the stored property map.
	Update(ctx context.Context, collection Collection, id uuid.UUID, vec []float32, props map[string]interface{}) error

	// Delete removes an object. Deleting a missing id is not an error; the
	// returned bool reports whether a row was actually removed.
	Delete(ctx context.Context, collection Collection, id uuid.UUID) (bool, error)

	// NearVector returns up to limit objects ordered by descending cosine
	// similarity to the query vector.
	NearVector(ctx context.Context, collection Collection, vec []float32, limit int, filter *Filter) ([]SearchResult, error)

	// Count reports the number of objects in a collection.
	Count(ctx context.Context, collection Collection) (int64, error)

	// FetchByID loads a single object or ErrNotFound.
	FetchByID(ctx context.Context, collection Collection, id uuid.UUID) (*Object, error)

	// List returns objects matching the filter, newest first.
	List(ctx context.Context, collection Collection, filter *Filter, limit, offset int) ([]*Object, error)
}
