package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/recall/internal/database"
	"github.com/S-Corkum/recall/pkg/models"
)

func newConversationFixture(t *testing.T) (*ConversationService, *fakeConversationRepo) {
	t.Helper()
	repo := newFakeConversationRepo()
	return NewConversationService(repo, nil, nil), repo
}

func TestConversationServiceGetOrCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("EmptyIDStartsFresh", func(t *testing.T) {
		svc, _ := newConversationFixture(t)
		conv, err := svc.GetOrCreate(ctx, "tenant-1", "user-1", "", "claude")
		require.NoError(t, err)
		assert.NotEmpty(t, conv.ID)
		assert.Equal(t, "user-1", conv.UserID)
	})

	t.Run("KnownIDIsReturned", func(t *testing.T) {
		svc, _ := newConversationFixture(t)
		created, err := svc.Create(ctx, "tenant-1", "user-1", "claude", "deploy talk")
		require.NoError(t, err)

		got, err := svc.GetOrCreate(ctx, "tenant-1", "user-1", created.ID, "claude")
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)
		assert.Equal(t, "deploy talk", got.Title)
	})

	t.Run("UnknownIDIsAdopted", func(t *testing.T) {
		svc, _ := newConversationFixture(t)
		clientID := uuid.New().String()

		conv, err := svc.GetOrCreate(ctx, "tenant-1", "user-1", clientID, "claude")
		require.NoError(t, err)
		assert.Equal(t, clientID, conv.ID, "client-generated id survives the first round trip")
	})

	t.Run("MalformedIDFailsValidation", func(t *testing.T) {
		svc, _ := newConversationFixture(t)
		_, err := svc.GetOrCreate(ctx, "tenant-1", "user-1", "not-a-uuid", "claude")
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("CrossUserReadsAsMissing", func(t *testing.T) {
		svc, _ := newConversationFixture(t)
		created, err := svc.Create(ctx, "tenant-1", "user-1", "claude", "")
		require.NoError(t, err)

		_, err = svc.GetOrCreate(ctx, "tenant-1", "user-2", created.ID, "claude")
		assert.ErrorIs(t, err, database.ErrNotFound)
	})
}

func TestConversationServiceAppendTurn(t *testing.T) {
	ctx := context.Background()

	t.Run("NewTurnBumpsCounterAndTitles", func(t *testing.T) {
		svc, _ := newConversationFixture(t)
		conv, err := svc.Create(ctx, "tenant-1", "user-1", "claude", "")
		require.NoError(t, err)

		msg, created, err := svc.AppendTurn(ctx, conv, models.RoleUser, "how do I rotate the API key?", "", nil)
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEmpty(t, msg.ID)
		assert.Equal(t, 1, conv.State.TurnsSinceSummary)
		assert.Equal(t, "how do I rotate the API key?", conv.Title)
	})

	t.Run("RetryWithClientIDIsIdempotent", func(t *testing.T) {
		svc, repo := newConversationFixture(t)
		conv, err := svc.Create(ctx, "tenant-1", "user-1", "claude", "t")
		require.NoError(t, err)

		first, created, err := svc.AppendTurn(ctx, conv, models.RoleUser, "hello", "client-msg-1", nil)
		require.NoError(t, err)
		assert.True(t, created)

		second, created, err := svc.AppendTurn(ctx, conv, models.RoleUser, "hello", "client-msg-1", nil)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)

		count, err := repo.CountMessages(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
		assert.Equal(t, 1, conv.State.TurnsSinceSummary, "retry must not bump the counter")
	})

	t.Run("LongFirstTurnTruncatesTitle", func(t *testing.T) {
		svc, _ := newConversationFixture(t)
		conv, err := svc.Create(ctx, "tenant-1", "user-1", "claude", "")
		require.NoError(t, err)

		long := strings.Repeat("context ", 30)
		_, _, err = svc.AppendTurn(ctx, conv, models.RoleUser, long, "", nil)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(conv.Title), titleMax+3)
		assert.True(t, strings.HasSuffix(conv.Title, "..."))
	})

	t.Run("RejectsUnknownRole", func(t *testing.T) {
		svc, _ := newConversationFixture(t)
		conv, err := svc.Create(ctx, "tenant-1", "user-1", "claude", "t")
		require.NoError(t, err)

		_, _, err = svc.AppendTurn(ctx, conv, models.MessageRole("narrator"), "hi", "", nil)
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestConversationServiceSummary(t *testing.T) {
	ctx := context.Background()

	seedTurns := func(t *testing.T, svc *ConversationService, conv *models.Conversation, n int) {
		t.Helper()
		for i := 0; i < n; i++ {
			role := models.RoleUser
			if i%2 == 1 {
				role = models.RoleAssistant
			}
			_, _, err := svc.AppendTurn(ctx, conv, role, fmt.Sprintf("turn number %d", i), "", nil)
			require.NoError(t, err)
		}
	}

	t.Run("BelowThresholdIsNoop", func(t *testing.T) {
		svc, _ := newConversationFixture(t)
		conv, err := svc.Create(ctx, "tenant-1", "user-1", "claude", "t")
		require.NoError(t, err)
		seedTurns(t, svc, conv, SummaryThreshold-1)

		refreshed, err := svc.UpdateSummaryIfNeeded(ctx, conv, false)
		require.NoError(t, err)
		assert.False(t, refreshed)
		assert.Empty(t, conv.State.Summary)
	})

	t.Run("ThresholdTriggersRefresh", func(t *testing.T) {
		svc, _ := newConversationFixture(t)
		conv, err := svc.Create(ctx, "tenant-1", "user-1", "claude", "t")
		require.NoError(t, err)
		seedTurns(t, svc, conv, SummaryThreshold)

		refreshed, err := svc.UpdateSummaryIfNeeded(ctx, conv, false)
		require.NoError(t, err)
		assert.True(t, refreshed)
		assert.Contains(t, conv.State.Summary, "user: turn number 0")
		assert.Equal(t, 1, conv.State.SummaryVersion)
		assert.Equal(t, 0, conv.State.TurnsSinceSummary)
	})

	t.Run("LostRaceIsNotAnError", func(t *testing.T) {
		svc, repo := newConversationFixture(t)
		conv, err := svc.Create(ctx, "tenant-1", "user-1", "claude", "t")
		require.NoError(t, err)
		seedTurns(t, svc, conv, SummaryThreshold)
		repo.casFailures = 1

		refreshed, err := svc.UpdateSummaryIfNeeded(ctx, conv, false)
		require.NoError(t, err)
		assert.False(t, refreshed)
	})

	t.Run("ForceRefreshesEarly", func(t *testing.T) {
		svc, _ := newConversationFixture(t)
		conv, err := svc.Create(ctx, "tenant-1", "user-1", "claude", "t")
		require.NoError(t, err)
		seedTurns(t, svc, conv, 2)

		refreshed, err := svc.UpdateSummaryIfNeeded(ctx, conv, true)
		require.NoError(t, err)
		assert.True(t, refreshed)
	})

	t.Run("SummaryTruncatesLongTurns", func(t *testing.T) {
		svc, _ := newConversationFixture(t)
		conv, err := svc.Create(ctx, "tenant-1", "user-1", "claude", "t")
		require.NoError(t, err)
		_, _, err = svc.AppendTurn(ctx, conv, models.RoleUser, strings.Repeat("word ", 100), "", nil)
		require.NoError(t, err)

		refreshed, err := svc.UpdateSummaryIfNeeded(ctx, conv, true)
		require.NoError(t, err)
		assert.True(t, refreshed)
		for _, line := range strings.Split(conv.State.Summary, "\n") {
			assert.LessOrEqual(t, len(line), len("user: ")+summaryTurnMax+3)
		}
	})
}

func TestConversationServiceState(t *testing.T) {
	ctx := context.Background()

	t.Run("EntityAndTopicTracking", func(t *testing.T) {
		svc, repo := newConversationFixture(t)
		conv, err := svc.Create(ctx, "tenant-1", "user-1", "claude", "t")
		require.NoError(t, err)

		require.NoError(t, svc.UpdateEntity(ctx, conv, "alice", "teammate on infra"))
		require.NoError(t, svc.PushTopic(ctx, conv, "deploys"))
		require.NoError(t, svc.PushTopic(ctx, conv, "deploys"), "re-pushing the top is a no-op")
		require.NoError(t, svc.PushTopic(ctx, conv, "billing"))

		stored, err := repo.GetByID(ctx, "tenant-1", conv.ID)
		require.NoError(t, err)
		assert.Equal(t, "teammate on infra", stored.State.Entities["alice"])
		assert.Equal(t, []string{"deploys", "billing"}, stored.State.TopicStack)
	})

	t.Run("TopicStackIsBounded", func(t *testing.T) {
		svc, _ := newConversationFixture(t)
		conv, err := svc.Create(ctx, "tenant-1", "user-1", "claude", "t")
		require.NoError(t, err)

		for i := 0; i < topicStackMax+5; i++ {
			require.NoError(t, svc.PushTopic(ctx, conv, fmt.Sprintf("topic-%d", i)))
		}
		assert.Len(t, conv.State.TopicStack, topicStackMax)
		assert.Equal(t, fmt.Sprintf("topic-%d", topicStackMax+4), conv.State.TopicStack[topicStackMax-1])
	})

	t.Run("LoadContextReturnsChronologicalTail", func(t *testing.T) {
		svc, _ := newConversationFixture(t)
		conv, err := svc.Create(ctx, "tenant-1", "user-1", "claude", "t")
		require.NoError(t, err)
		for i := 0; i < 15; i++ {
			_, _, err := svc.AppendTurn(ctx, conv, models.RoleUser, fmt.Sprintf("turn %d", i), "", nil)
			require.NoError(t, err)
		}

		loaded, err := svc.LoadContext(ctx, conv, 10)
		require.NoError(t, err)
		require.Len(t, loaded.RecentTurns, 10)
		assert.Equal(t, "turn 5", loaded.RecentTurns[0].Content)
		assert.Equal(t, "turn 14", loaded.RecentTurns[9].Content)
		assert.Equal(t, 15, loaded.TurnCount)
	})
}

func TestGroupByRecency(t *testing.T) {
	now := time.Date(2025, 6, 15, 14, 0, 0, 0, time.UTC)
	conv := func(updated time.Time) *models.Conversation {
		return &models.Conversation{ID: uuid.New().String(), UpdatedAt: updated}
	}

	groups := groupByRecency([]*models.Conversation{
		conv(now.Add(-1 * time.Hour)),             // today
		conv(now.Add(-26 * time.Hour)),            // yesterday
		conv(now.Add(-4 * 24 * time.Hour)),        // previous 7 days
		conv(now.Add(-20 * 24 * time.Hour)),       // previous 30 days
		conv(now.Add(-200 * 24 * time.Hour)),      // older
		conv(now.Add(-200*24*time.Hour - time.Hour)),
	}, now)

	require.Len(t, groups, 5)
	assert.Equal(t, "Today", groups[0].Label)
	assert.Equal(t, "Yesterday", groups[1].Label)
	assert.Equal(t, "Previous 7 days", groups[2].Label)
	assert.Equal(t, "Previous 30 days", groups[3].Label)
	assert.Equal(t, "Older", groups[4].Label)
	assert.Len(t, groups[4].Conversations, 2)

	// Empty buckets are omitted entirely.
	onlyToday := groupByRecency([]*models.Conversation{conv(now)}, now)
	require.Len(t, onlyToday, 1)
	assert.Equal(t, "Today", onlyToday[0].Label)
}
