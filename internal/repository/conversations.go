package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/S-Corkum/recall/internal/database"
	"github.com/S-Corkum/recall/pkg/models"
)

// ConversationRepository manages conversations and their messages.
//
// Summary state is guarded by a version column: UpdateStateCAS only
// writes when the caller still holds the current version, so two
// concurrent summarizers cannot clobber each other. Entity and topic
// updates go through SaveState, which deliberately skips the version
// check because they never rewrite the summary.
type ConversationRepository interface {
	Create(ctx context.Context, conv *models.Conversation) error
	GetByID(ctx context.Context, tenantID, conversationID string) (*models.Conversation, error)
	ListByUser(ctx context.Context, tenantID, userID string, limit, offset int) ([]*models.Conversation, error)
	UpdateTitle(ctx context.Context, conversationID, title string) error
	SaveState(ctx context.Context, conversationID string, state models.ConversationState) error
	UpdateStateCAS(ctx context.Context, conversationID string, state models.ConversationState, expectedVersion int) (bool, error)
	IncrementTurns(ctx context.Context, conversationID string) (int, error)
	Delete(ctx context.Context, tenantID, conversationID string) (bool, error)

	// AppendMessage inserts a turn. When the (tenant, conversation,
	// client_message_id) key was already used, the stored message is
	// returned with created=false and nothing is written.
	AppendMessage(ctx context.Context, msg *models.Message) (*models.Message, bool, error)
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, error)
	RecentMessages(ctx context.Context, conversationID string, n int) ([]models.Message, error)
	CountMessages(ctx context.Context, conversationID string) (int, error)
}

type conversationRepository struct {
	db *sqlx.DB
}

// NewConversationRepository creates a postgres-backed ConversationRepository.
func NewConversationRepository(db *sqlx.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

// stateDoc is the jsonb shape of the state column. Summary version and
// turn counters live in their own columns so they can be compared and
// incremented atomically.
type stateDoc struct {
	Summary    string            `json:"summary,omitempty"`
	Entities   map[string]string `json:"entities,omitempty"`
	TopicStack []string          `json:"topic_stack,omitempty"`
	LastIntent string            `json:"last_intent,omitempty"`
}

type conversationRow struct {
	models.Conversation
	StateJSON         []byte `db:"state"`
	SummaryVersion    int    `db:"summary_version"`
	TurnsSinceSummary int    `db:"turns_since_summary"`
}

func (row *conversationRow) toModel() (*models.Conversation, error) {
	conv := row.Conversation
	if len(row.StateJSON) > 0 {
		var doc stateDoc
		if err := json.Unmarshal(row.StateJSON, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode conversation state: %w", err)
		}
		conv.State.Summary = doc.Summary
		conv.State.Entities = doc.Entities
		conv.State.TopicStack = doc.TopicStack
		conv.State.LastIntent = doc.LastIntent
	}
	conv.State.SummaryVersion = row.SummaryVersion
	conv.State.TurnsSinceSummary = row.TurnsSinceSummary
	return &conv, nil
}

func encodeState(state models.ConversationState) (jsonText, error) {
	doc := stateDoc{
		Summary:    state.Summary,
		Entities:   state.Entities,
		TopicStack: state.TopicStack,
		LastIntent: state.LastIntent,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode conversation state: %w", err)
	}
	return data, nil
}

const conversationColumns = `conversation_id, tenant_id, user_id, agent, title, state,
	summary_version, turns_since_summary, created_at, updated_at`

func (r *conversationRepository) Create(ctx context.Context, conv *models.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now

	stateJSON, err := encodeState(conv.State)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO conversations (
			conversation_id, tenant_id, user_id, agent, title, state,
			summary_version, turns_since_summary, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = r.db.ExecContext(ctx, query,
		conv.ID, conv.TenantID, conv.UserID, conv.Agent, conv.Title, stateJSON,
		conv.State.SummaryVersion, conv.State.TurnsSinceSummary, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err, "") {
			return database.ErrDuplicateKey
		}
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

func (r *conversationRepository) GetByID(ctx context.Context, tenantID, conversationID string) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE conversation_id = $1 AND tenant_id = $2`

	var row conversationRow
	err := r.db.GetContext(ctx, &row, query, conversationID, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return row.toModel()
}

func (r *conversationRepository) ListByUser(ctx context.Context, tenantID, userID string, limit, offset int) ([]*models.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE tenant_id = $1 AND user_id = $2
		ORDER BY updated_at DESC
		LIMIT $3 OFFSET $4`

	var rows []conversationRow
	if err := r.db.SelectContext(ctx, &rows, query, tenantID, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	convs := make([]*models.Conversation, 0, len(rows))
	for i := range rows {
		conv, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, nil
}

func (r *conversationRepository) UpdateTitle(ctx context.Context, conversationID, title string) error {
	query := `UPDATE conversations SET title = $2, updated_at = $3 WHERE conversation_id = $1`

	result, err := r.db.ExecContext(ctx, query, conversationID, title, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update conversation title: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if rows == 0 {
		return database.ErrNotFound
	}
	return nil
}

func (r *conversationRepository) SaveState(ctx context.Context, conversationID string, state models.ConversationState) error {
	stateJSON, err := encodeState(state)
	if err != nil {
		return err
	}

	query := `UPDATE conversations SET state = $2, updated_at = $3 WHERE conversation_id = $1`

	result, err := r.db.ExecContext(ctx, query, conversationID, stateJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save conversation state: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if rows == 0 {
		return database.ErrNotFound
	}
	return nil
}

// UpdateStateCAS writes a regenerated summary. The write succeeds only
// when expectedVersion still matches; the stored version becomes
// expectedVersion+1 and the turn counter resets.
func (r *conversationRepository) UpdateStateCAS(ctx context.Context, conversationID string, state models.ConversationState, expectedVersion int) (bool, error) {
	stateJSON, err := encodeState(state)
	if err != nil {
		return false, err
	}

	query := `
		UPDATE conversations
		SET state = $2, summary_version = $3, turns_since_summary = 0, updated_at = $4
		WHERE conversation_id = $1 AND summary_version = $5`

	result, err := r.db.ExecContext(ctx, query,
		conversationID, stateJSON, expectedVersion+1, time.Now().UTC(), expectedVersion)
	if err != nil {
		return false, fmt.Errorf("failed to update conversation summary: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read update result: %w", err)
	}
	return rows > 0, nil
}

func (r *conversationRepository) IncrementTurns(ctx context.Context, conversationID string) (int, error) {
	query := `
		UPDATE conversations
		SET turns_since_summary = turns_since_summary + 1, updated_at = $2
		WHERE conversation_id = $1
		RETURNING turns_since_summary`

	var turns int
	err := r.db.GetContext(ctx, &turns, query, conversationID, time.Now().UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return 0, database.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment turn counter: %w", err)
	}
	return turns, nil
}

func (r *conversationRepository) Delete(ctx context.Context, tenantID, conversationID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE conversation_id = $1 AND tenant_id = $2`,
		conversationID, tenantID)
	if err != nil {
		return false, fmt.Errorf("failed to delete conversation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}
	return rows > 0, nil
}

type messageRow struct {
	models.Message
	MetadataJSON jsonText `db:"metadata"`
}

func (row *messageRow) toModel() (*models.Message, error) {
	msg := row.Message
	if len(row.MetadataJSON) > 0 {
		if err := json.Unmarshal(row.MetadataJSON, &msg.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode message metadata: %w", err)
		}
	}
	return &msg, nil
}

const messageColumns = `message_id, tenant_id, conversation_id, client_message_id,
	role, content, token_count, metadata, created_at`

func (r *conversationRepository) AppendMessage(ctx context.Context, msg *models.Message) (*models.Message, bool, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	var metadataJSON jsonText
	if msg.Metadata != nil {
		data, err := json.Marshal(msg.Metadata)
		if err != nil {
			return nil, false, fmt.Errorf("failed to encode message metadata: %w", err)
		}
		metadataJSON = data
	}

	// The conflict target is a partial unique index; retried appends
	// with an empty client id stay independent inserts.
	query := `
		INSERT INTO conversation_messages (
			message_id, tenant_id, conversation_id, client_message_id,
			role, content, token_count, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, conversation_id, client_message_id)
			WHERE client_message_id <> '' DO NOTHING`

	result, err := r.db.ExecContext(ctx, query,
		msg.ID, msg.TenantID, msg.ConversationID, msg.ClientMessageID,
		msg.Role, msg.Content, msg.TokenCount, metadataJSON, msg.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to append message: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read append result: %w", err)
	}
	if rows > 0 {
		return msg, true, nil
	}

	existing, err := r.getMessageByClientID(ctx, msg.TenantID, msg.ConversationID, msg.ClientMessageID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *conversationRepository) getMessageByClientID(ctx context.Context, tenantID, conversationID, clientMessageID string) (*models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM conversation_messages
		WHERE tenant_id = $1 AND conversation_id = $2 AND client_message_id = $3`

	var row messageRow
	err := r.db.GetContext(ctx, &row, query, tenantID, conversationID, clientMessageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return row.toModel()
}

func (r *conversationRepository) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM conversation_messages
		WHERE conversation_id = $1
		ORDER BY created_at, message_id
		LIMIT $2 OFFSET $3`

	var rows []messageRow
	if err := r.db.SelectContext(ctx, &rows, query, conversationID, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return toMessages(rows)
}

// RecentMessages returns the chronological tail: the last n turns in
// oldest-first order.
func (r *conversationRepository) RecentMessages(ctx context.Context, conversationID string, n int) ([]models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM conversation_messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC, message_id DESC
		LIMIT $2`

	var rows []messageRow
	if err := r.db.SelectContext(ctx, &rows, query, conversationID, n); err != nil {
		return nil, fmt.Errorf("failed to load recent messages: %w", err)
	}

	msgs, err := toMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (r *conversationRepository) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM conversation_messages WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

func toMessages(rows []messageRow) ([]models.Message, error) {
	msgs := make([]models.Message, 0, len(rows))
	for i := range rows {
		msg, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *msg)
	}
	return msgs, nil
}
