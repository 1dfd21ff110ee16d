package models

import "time"

// TuningAction names a configuration change the auto-tuner may apply.
type TuningAction string

const (
	TuningDisableSemanticCache TuningAction = "disable_semantic_cache"
	TuningSwitchModel          TuningAction = "switch_model"
	TuningReduceContextLimit   TuningAction = "reduce_context_limit"
	TuningIncreaseContextLimit TuningAction = "increase_context_limit"
)

// TuningDecision is one applied tuner decision. A row is persisted
// before the runtime override takes effect.
type TuningDecision struct {
	ID         string       `json:"decision_id" db:"decision_id"`
	Action     TuningAction `json:"action" db:"action"`
	Parameter  string       `json:"parameter" db:"parameter"`
	OldValue   string       `json:"old_value" db:"old_value"`
	NewValue   string       `json:"new_value" db:"new_value"`
	Reason     string       `json:"reason" db:"reason"`
	Confidence float64      `json:"confidence" db:"confidence"`
	SampleSize int          `json:"sample_size" db:"sample_size"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
}
