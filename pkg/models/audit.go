package models

import "time"

// AuditKind distinguishes the direction of an audited data movement.
type AuditKind string

const (
	AuditIngress   AuditKind = "ingress"
	AuditTransform AuditKind = "transform"
	AuditEgress    AuditKind = "egress"
)

// DataClassification labels the sensitivity of audited data. It maps
// from the privacy level of the items involved.
type DataClassification string

const (
	ClassificationRestricted   DataClassification = "restricted"
	ClassificationConfidential DataClassification = "confidential"
	ClassificationInternal     DataClassification = "internal"
	ClassificationPublic       DataClassification = "public"
)

// ClassificationForPrivacy maps a privacy level to its audit classification.
func ClassificationForPrivacy(p PrivacyLevel) DataClassification {
	switch p {
	case PrivacyLocalOnly:
		return ClassificationRestricted
	case PrivacyConfidential:
		return ClassificationConfidential
	case PrivacyPublic:
		return ClassificationPublic
	default:
		return ClassificationInternal
	}
}

// AuditEvent is one append-only record of data ingress, transform, or egress.
type AuditEvent struct {
	ID             string                 `json:"event_id" db:"event_id"`
	Kind           AuditKind              `json:"kind" db:"kind"`
	Source         string                 `json:"source" db:"source"`
	Operation      string                 `json:"operation" db:"operation"`
	Destination    string                 `json:"destination,omitempty" db:"destination"`
	ItemCount      int                    `json:"item_count" db:"item_count"`
	Classification DataClassification    `json:"data_classification" db:"data_classification"`
	Metadata       map[string]interface{} `json:"metadata,omitempty" db:"-"`
	Timestamp      time.Time              `json:"timestamp" db:"timestamp"`
}
