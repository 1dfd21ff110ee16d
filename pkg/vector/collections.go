package vector

import (
	"fmt"
)

// Schema declares the properties a collection accepts. Required properties
// must be present and non-empty on insert; optional properties may be
// omitted. Any property outside the schema is rejected.
type Schema struct {
	Name     Collection
	Required []string
	Optional []string
}

// Core properties map to dedicated columns and are accepted by every
// collection in addition to its declared schema.
var coreProperties = []string{
	"content",
	"content_hash",
	"user_id",
	"source_id",
	"privacy_level",
	"tags",
	"created_at",
}

var schemas = map[Collection]Schema{
	Raw: {
		Name:     Raw,
		Required: []string{"content", "content_hash", "user_id", "privacy_level"},
		Optional: []string{"source_type", "source_id", "agent", "tags", "cost_usd", "tier", "created_at"},
	},
	Knowledge: {
		Name:     Knowledge,
		Required: []string{"canonical_query", "answer_summary", "user_id"},
		Optional: []string{"topic_cluster", "primary_intent", "related_topics", "extraction_confidence", "content", "content_hash", "privacy_level", "source_id", "tags", "created_at"},
	},
	Topics: {
		Name:     Topics,
		Required: []string{"topic", "summary", "user_id"},
		Optional: []string{"entity_map", "knowledge_gaps", "knowledge_depth", "source_entry_ids", "content", "content_hash", "privacy_level", "source_id", "tags", "created_at"},
	},
	Domains: {
		Name:     Domains,
		Required: []string{"summary", "user_id"},
		Optional: []string{"topology", "cross_topic_relationships", "strengths", "gaps", "emerging_themes", "topic_count", "content", "content_hash", "privacy_level", "source_id", "tags", "created_at"},
	},
	Insights: {
		Name:     Insights,
		Required: []string{"insight", "user_id"},
		Optional: []string{"insight_type", "confidence", "source_topics", "content", "content_hash", "privacy_level", "source_id", "tags", "created_at"},
	},
	AnswerCache: {
		Name:     AnswerCache,
		Required: []string{"canonical_query", "answer_summary"},
		Optional: []string{"agent", "confidence", "usage_count", "cost_savings", "last_used_at", "user_id", "content", "content_hash", "privacy_level", "source_id", "tags", "created_at"},
	},
}

// SchemaFor returns the schema registered for a collection.
func SchemaFor(collection Collection) (Schema, error) {
	schema, ok := schemas[collection]
	if !ok {
		return Schema{}, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
	return schema, nil
}

// Collections lists every registered collection.
func Collections() []Collection {
	return []Collection{Raw, Knowledge, Topics, Domains, Insights, AnswerCache}
}

func (s Schema) allows(key string) bool {
	for _, k := range s.Required {
		if k == key {
			return true
		}
	}
	for _, k := range s.Optional {
		if k == key {
			return true
		}
	}
	for _, k := range coreProperties {
		if k == key {
			return true
		}
	}
	return false
}

// ValidateProps checks a full property set against the collection schema.
// Used on insert: required properties must be present, unknown properties
// are rejected.
func ValidateProps(collection Collection, props map[string]interface{}) error {
	schema, err := SchemaFor(collection)
	if err != nil {
		return err
	}

	for _, key := range schema.Required {
		value, ok := props[key]
		if !ok || value == nil {
			return fmt.Errorf("%w: %s requires property %q", ErrSchemaMismatch, collection, key)
		}
		if s, isString := value.(string); isString && s == "" {
			return fmt.Errorf("%w: %s requires property %q", ErrSchemaMismatch, collection, key)
		}
	}

	for key := range props {
		if !schema.allows(key) {
			return fmt.Errorf("%w: %s does not accept property %q", ErrSchemaMismatch, collection, key)
		}
	}

	return nil
}

// ValidatePatch checks a partial property set for update. Required
// properties may be absent but unknown ones are still rejected.
func ValidatePatch(collection Collection, props map[string]interface{}) error {
	schema, err := SchemaFor(collection)
	if err != nil {
		return err
	}

	for key := range props {
		if !schema.allows(key) {
			return fmt.Errorf("%w: %s does not accept property %q", ErrSchemaMismatch, collection, key)
		}
	}

	return nil
}
