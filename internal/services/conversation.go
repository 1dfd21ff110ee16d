package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/S-Corkum/recall/internal/database"
	"github.com/S-Corkum/recall/internal/repository"
	"github.com/S-Corkum/recall/pkg/models"
	"github.com/S-Corkum/recall/pkg/observability"
)

const (
	// SummaryThreshold is how many turns accumulate before the rolling
	// summary is refreshed.
	SummaryThreshold = 6
	// summaryWindow bounds how many trailing turns feed one summary.
	summaryWindow = 20
	// summaryTurnMax truncates each turn's contribution to the summary.
	summaryTurnMax = 200
	// titleMax bounds the auto-generated conversation title.
	titleMax = 80
	// topicStackMax caps the rolling topic stack depth.
	topicStackMax = 10
)

// ConversationGroup is a date bucket of conversations for list views.
type ConversationGroup struct {
	Label         string                 `json:"label"`
	Conversations []*models.Conversation `json:"conversations"`
}

// ConversationService manages conversations, turn appends, and the
// rolling summary state.
type ConversationService struct {
	conversations repository.ConversationRepository
	logger        observability.Logger
	metrics       observability.MetricsClient
}

// NewConversationService creates the conversation service.
func NewConversationService(conversations repository.ConversationRepository, logger observability.Logger, metrics observability.MetricsClient) *ConversationService {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &ConversationService{conversations: conversations, logger: logger, metrics: metrics}
}

// Create starts a new conversation for the user.
func (s *ConversationService) Create(ctx context.Context, tenantID, userID, agent, title string) (*models.Conversation, error) {
	if tenantID == "" || userID == "" {
		return nil, fmt.Errorf("%w: tenant and user are required", ErrValidation)
	}
	conv := &models.Conversation{
		ID:       uuid.New().String(),
		TenantID: tenantID,
		UserID:   userID,
		Agent:    agent,
		Title:    title,
	}
	if err := s.conversations.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	if s.metrics != nil {
		s.metrics.IncrementCounter("conversations_created_total", 1)
	}
	return conv, nil
}

// Get returns a conversation the user owns. Cross-user access reads as
// not found.
func (s *ConversationService) Get(ctx context.Context, tenantID, userID, conversationID string) (*models.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, tenantID, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.UserID != userID {
		return nil, database.ErrNotFound
	}
	return conv, nil
}

// GetOrCreate resolves the conversation for a query. A supplied id is
// looked up and owned; an unknown id starts a fresh conversation under
// that id so client-generated ids survive a first round trip. An empty
// id always starts a new conversation.
func (s *ConversationService) GetOrCreate(ctx context.Context, tenantID, userID, conversationID, agent string) (*models.Conversation, error) {
	if conversationID == "" {
		return s.Create(ctx, tenantID, userID, agent, "")
	}
	if _, err := uuid.Parse(conversationID); err != nil {
		return nil, fmt.Errorf("%w: malformed conversation id", ErrValidation)
	}
	conv, err := s.conversations.GetByID(ctx, tenantID, conversationID)
	if err == nil {
		if conv.UserID != userID {
			return nil, database.ErrNotFound
		}
		return conv, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}
	conv = &models.Conversation{
		ID:       conversationID,
		TenantID: tenantID,
		UserID:   userID,
		Agent:    agent,
	}
	if err := s.conversations.Create(ctx, conv); err != nil {
		if errors.Is(err, database.ErrDuplicateKey) {
			// Lost a race with a concurrent first turn; reread.
			return s.Get(ctx, tenantID, userID, conversationID)
		}
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// AppendTurn records one turn. Retries carrying the same client message
// id return the original row with created=false. Every newly created
// turn bumps the turns-since-summary counter; the first user turn also
// titles the conversation.
func (s *ConversationService) AppendTurn(ctx context.Context, conv *models.Conversation, role models.MessageRole, content, clientMessageID string, metadata map[string]interface{}) (*models.Message, bool, error) {
	if !role.Valid() {
		return nil, false, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}
	if strings.TrimSpace(content) == "" {
		return nil, false, fmt.Errorf("%w: content is required", ErrValidation)
	}
	msg := &models.Message{
		TenantID:        conv.TenantID,
		ConversationID:  conv.ID,
		ClientMessageID: clientMessageID,
		Role:            role,
		Content:         content,
		TokenCount:      estimateTokens(content),
		Metadata:        metadata,
	}
	stored, created, err := s.conversations.AppendMessage(ctx, msg)
	if err != nil {
		return nil, false, fmt.Errorf("failed to append turn: %w", err)
	}
	if !created {
		return stored, false, nil
	}

	turns, err := s.conversations.IncrementTurns(ctx, conv.ID)
	if err != nil {
		s.logger.Warn("Turn counter increment failed", map[string]interface{}{
			"conversation_id": conv.ID,
			"error":           err.Error(),
		})
	} else {
		conv.State.TurnsSinceSummary = turns
	}

	if conv.Title == "" && role == models.RoleUser {
		title := truncate(strings.TrimSpace(content), titleMax)
		if err := s.conversations.UpdateTitle(ctx, conv.ID, title); err != nil {
			s.logger.Debug("Title update failed", map[string]interface{}{
				"conversation_id": conv.ID,
				"error":           err.Error(),
			})
		} else {
			conv.Title = title
		}
	}
	return stored, true, nil
}

// LoadContext assembles the working context for answering: the rolling
// summary, tracked entities and topics, and the last maxTurns turns in
// chronological order.
func (s *ConversationService) LoadContext(ctx context.Context, conv *models.Conversation, maxTurns int) (*models.ConversationContext, error) {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	recent, err := s.conversations.RecentMessages(ctx, conv.ID, maxTurns)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent turns: %w", err)
	}
	total, err := s.conversations.CountMessages(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count turns: %w", err)
	}
	return &models.ConversationContext{
		Summary:     conv.State.Summary,
		Entities:    conv.State.Entities,
		TopicStack:  conv.State.TopicStack,
		RecentTurns: recent,
		TurnCount:   total,
	}, nil
}

// UpdateSummaryIfNeeded refreshes the rolling summary once enough turns
// have accumulated, or unconditionally when force is set. The write is a
// compare-and-swap on the summary version: losing the race is not an
// error, the winner's summary covers the same turns.
func (s *ConversationService) UpdateSummaryIfNeeded(ctx context.Context, conv *models.Conversation, force bool) (bool, error) {
	if !force && conv.State.TurnsSinceSummary < SummaryThreshold {
		return false, nil
	}
	recent, err := s.conversations.RecentMessages(ctx, conv.ID, summaryWindow)
	if err != nil {
		return false, fmt.Errorf("failed to load turns for summary: %w", err)
	}
	if len(recent) == 0 {
		return false, nil
	}

	state := conv.State
	state.Summary = summarizeTurns(recent)
	swapped, err := s.conversations.UpdateStateCAS(ctx, conv.ID, state, conv.State.SummaryVersion)
	if err != nil {
		return false, fmt.Errorf("failed to store summary: %w", err)
	}
	if !swapped {
		s.logger.Debug("Summary refresh lost version race", map[string]interface{}{
			"conversation_id": conv.ID,
			"version":         conv.State.SummaryVersion,
		})
		return false, nil
	}
	conv.State = state
	conv.State.SummaryVersion++
	conv.State.TurnsSinceSummary = 0
	if s.metrics != nil {
		s.metrics.IncrementCounter("conversation_summaries_total", 1)
	}
	return true, nil
}

// RecordIntent stores the last classified intent on the conversation.
func (s *ConversationService) RecordIntent(ctx context.Context, conv *models.Conversation, intent string) {
	if intent == "" || conv.State.LastIntent == intent {
		return
	}
	conv.State.LastIntent = intent
	if err := s.conversations.SaveState(ctx, conv.ID, conv.State); err != nil {
		s.logger.Debug("Intent save failed", map[string]interface{}{
			"conversation_id": conv.ID,
			"error":           err.Error(),
		})
	}
}

// UpdateEntity tracks a named entity mentioned in the conversation.
func (s *ConversationService) UpdateEntity(ctx context.Context, conv *models.Conversation, name, description string) error {
	if name == "" {
		return fmt.Errorf("%w: entity name is required", ErrValidation)
	}
	if conv.State.Entities == nil {
		conv.State.Entities = map[string]string{}
	}
	conv.State.Entities[name] = description
	if err := s.conversations.SaveState(ctx, conv.ID, conv.State); err != nil {
		return fmt.Errorf("failed to save entities: %w", err)
	}
	return nil
}

// PushTopic pushes a topic onto the rolling stack. Re-pushing the
// current top is a no-op; the stack keeps at most topicStackMax entries.
func (s *ConversationService) PushTopic(ctx context.Context, conv *models.Conversation, topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: topic is required", ErrValidation)
	}
	stack := conv.State.TopicStack
	if len(stack) > 0 && stack[len(stack)-1] == topic {
		return nil
	}
	stack = append(stack, topic)
	if len(stack) > topicStackMax {
		stack = stack[len(stack)-topicStackMax:]
	}
	conv.State.TopicStack = stack
	if err := s.conversations.SaveState(ctx, conv.ID, conv.State); err != nil {
		return fmt.Errorf("failed to save topic stack: %w", err)
	}
	return nil
}

// Messages returns a page of turns in chronological order.
func (s *ConversationService) Messages(ctx context.Context, tenantID, userID, conversationID string, limit, offset int) ([]models.Message, error) {
	if _, err := s.Get(ctx, tenantID, userID, conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.conversations.ListMessages(ctx, conversationID, limit, offset)
}

// Delete removes a conversation the user owns, reporting whether a row
// existed.
func (s *ConversationService) Delete(ctx context.Context, tenantID, userID, conversationID string) (bool, error) {
	if _, err := s.Get(ctx, tenantID, userID, conversationID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return s.conversations.Delete(ctx, tenantID, conversationID)
}

// ListGrouped returns the user's conversations bucketed by recency of
// last activity. Empty buckets are omitted.
func (s *ConversationService) ListGrouped(ctx context.Context, tenantID, userID string, limit int) ([]ConversationGroup, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	convs, err := s.conversations.ListByUser(ctx, tenantID, userID, limit, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return groupByRecency(convs, time.Now()), nil
}

var groupLabels = []string{"Today", "Yesterday", "Previous 7 days", "Previous 30 days", "Older"}

func groupByRecency(convs []*models.Conversation, now time.Time) []ConversationGroup {
	buckets := map[string][]*models.Conversation{}
	startOfToday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	for _, conv := range convs {
		ts := conv.UpdatedAt
		var label string
		switch {
		case !ts.Before(startOfToday):
			label = "Today"
		case !ts.Before(startOfToday.AddDate(0, 0, -1)):
			label = "Yesterday"
		case !ts.Before(startOfToday.AddDate(0, 0, -7)):
			label = "Previous 7 days"
		case !ts.Before(startOfToday.AddDate(0, 0, -30)):
			label = "Previous 30 days"
		default:
			label = "Older"
		}
		buckets[label] = append(buckets[label], conv)
	}
	groups := make([]ConversationGroup, 0, len(groupLabels))
	for _, label := range groupLabels {
		if convs, ok := buckets[label]; ok {
			groups = append(groups, ConversationGroup{Label: label, Conversations: convs})
		}
	}
	return groups
}

// summarizeTurns builds the deterministic rolling summary: each turn on
// its own "role: content" line, oldest first, truncated per turn.
func summarizeTurns(turns []models.Message) string {
	lines := make([]string, 0, len(turns))
	for _, turn := range turns {
		content := strings.Join(strings.Fields(turn.Content), " ")
		lines = append(lines, fmt.Sprintf("%s: %s", turn.Role, truncate(content, summaryTurnMax)))
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	if idx := strings.LastIndex(cut, " "); idx > max/2 {
		cut = cut[:idx]
	}
	return cut + "..."
}

// estimateTokens approximates token usage at four characters per token.
func estimateTokens(content string) int {
	n := len(content) / 4
	if n == 0 && content != "" {
		n = 1
	}
	return n
}
