package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnumValidation(t *testing.T) {
	t.Run("PrivacyLevel", func(t *testing.T) {
		assert.True(t, PrivacyLocalOnly.Valid())
		assert.True(t, PrivacyInternal.Valid())
		assert.False(t, PrivacyLevel("SECRET").Valid())
		assert.False(t, PrivacyLevel("").Valid())
	})

	t.Run("MemoryTier", func(t *testing.T) {
		assert.True(t, TierShort.Valid())
		assert.True(t, TierLong.Valid())
		assert.False(t, MemoryTier("PERMANENT").Valid())
	})

	t.Run("FeedbackType", func(t *testing.T) {
		assert.True(t, FeedbackThumbsUp.Valid())
		assert.True(t, FeedbackRegenerate.Valid())
		assert.False(t, FeedbackType("star").Valid())
	})

	t.Run("MessageRole", func(t *testing.T) {
		assert.True(t, RoleUser.Valid())
		assert.True(t, RoleAssistant.Valid())
		assert.False(t, MessageRole("bot").Valid())
	})
}

func TestClassificationForPrivacy(t *testing.T) {
	assert.Equal(t, ClassificationRestricted, ClassificationForPrivacy(PrivacyLocalOnly))
	assert.Equal(t, ClassificationConfidential, ClassificationForPrivacy(PrivacyConfidential))
	assert.Equal(t, ClassificationInternal, ClassificationForPrivacy(PrivacyInternal))
	assert.Equal(t, ClassificationPublic, ClassificationForPrivacy(PrivacyPublic))
	assert.Equal(t, ClassificationInternal, ClassificationForPrivacy(PrivacyLevel("unknown")))
}

func TestErrorResponse(t *testing.T) {
	t.Run("ErrorStringIncludesDetails", func(t *testing.T) {
		err := NewErrorResponse(ErrorCodeValidation, "bad input").WithDetails("rating out of range")
		assert.Contains(t, err.Error(), "VALIDATION_ERROR")
		assert.Contains(t, err.Error(), "rating out of range")
	})

	t.Run("NotFoundCarriesResource", func(t *testing.T) {
		err := NewNotFoundError("memory", "abc-123")
		assert.Equal(t, ErrorCodeNotFound, err.Code)
		assert.Equal(t, "abc-123", err.Metadata["resource_id"])
	})
}
