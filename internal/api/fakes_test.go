package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/recall/internal/database"
	"github.com/S-Corkum/recall/internal/repository"
	"github.com/S-Corkum/recall/internal/services"
	"github.com/S-Corkum/recall/pkg/agents"
	"github.com/S-Corkum/recall/pkg/models"
	"github.com/S-Corkum/recall/pkg/observability"
)

const (
	testJWTSecret = "test-signing-secret"
	testTenant    = "tenant-1"
	testAPIKey    = "ops-key"
)

// stubQuerier scripts the answer pipeline. It mirrors the pipeline's
// validation of empty questions so transport mapping can be asserted.
type stubQuerier struct {
	resp    *services.AskResponse
	err     error
	lastReq services.AskRequest
	calls   int
}

func (s *stubQuerier) Ask(ctx context.Context, req services.AskRequest) (*services.AskResponse, error) {
	s.calls++
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	if req.Query == "" {
		return nil, fmt.Errorf("%w: query is required", services.ErrValidation)
	}
	if s.resp != nil {
		return s.resp, nil
	}
	return &services.AskResponse{
		Answer:     "stub answer",
		QueryID:    "query-1",
		AgentUsed:  "claude",
		Confidence: 0.9,
	}, nil
}

// stubMemoryStore is an in-memory MemoryStore that mirrors the memory
// service's validation and ownership rules.
type stubMemoryStore struct {
	items       map[string]*models.MemoryItem
	createErr   error
	duplicate   bool
	createCalls int
	lastInput   services.CreateMemoryInput
	lastFilter  repository.MemoryFilter
}

func newStubMemoryStore() *stubMemoryStore {
	return &stubMemoryStore{items: map[string]*models.MemoryItem{}}
}

func (s *stubMemoryStore) add(item *models.MemoryItem) *models.MemoryItem {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	s.items[item.ID] = item
	return item
}

func (s *stubMemoryStore) Create(ctx context.Context, input services.CreateMemoryInput) (*models.MemoryItem, error) {
	s.createCalls++
	s.lastInput = input
	if s.createErr != nil {
		return nil, s.createErr
	}
	if input.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", services.ErrValidation)
	}
	if input.Content == "" {
		return nil, fmt.Errorf("%w: content is required", services.ErrValidation)
	}
	if s.duplicate {
		return nil, nil
	}
	tier := input.Tier
	if tier == "" {
		tier = models.TierShort
	}
	level := input.Privacy
	if level == "" {
		level = models.PrivacyInternal
	}
	item := &models.MemoryItem{
		ID:           uuid.New().String(),
		UserID:       input.UserID,
		Content:      input.Content,
		Tags:         input.Tags,
		Tier:         tier,
		Phase:        input.Phase,
		PrivacyLevel: level,
		Metadata:     input.Metadata,
		CRSScore:     0.5,
		CreatedAt:    time.Now().UTC(),
	}
	s.items[item.ID] = item
	return item, nil
}

func (s *stubMemoryStore) Get(ctx context.Context, userID, memoryID string) (*models.MemoryItem, error) {
	if _, err := uuid.Parse(memoryID); err != nil {
		return nil, fmt.Errorf("%w: malformed memory id", services.ErrValidation)
	}
	item, ok := s.items[memoryID]
	if !ok || item.UserID != userID {
		return nil, database.ErrNotFound
	}
	return item, nil
}

func (s *stubMemoryStore) List(ctx context.Context, userID string, filter repository.MemoryFilter) ([]*models.MemoryItem, error) {
	filter.UserID = userID
	s.lastFilter = filter
	var out []*models.MemoryItem
	for _, item := range s.items {
		if item.UserID == userID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *stubMemoryStore) Update(ctx context.Context, userID, memoryID string, input services.UpdateMemoryInput) (*models.MemoryItem, error) {
	item, err := s.Get(ctx, userID, memoryID)
	if err != nil {
		return nil, err
	}
	if input.Content != nil {
		item.Content = *input.Content
	}
	if input.Tags != nil {
		item.Tags = *input.Tags
	}
	if input.Tier != nil {
		item.Tier = *input.Tier
	}
	if input.Phase != nil {
		item.Phase = *input.Phase
	}
	if input.Privacy != nil {
		item.PrivacyLevel = *input.Privacy
	}
	return item, nil
}

func (s *stubMemoryStore) Delete(ctx context.Context, userID, memoryID string) (bool, error) {
	item, err := s.Get(ctx, userID, memoryID)
	if err != nil {
		return false, nil
	}
	delete(s.items, item.ID)
	return true, nil
}

// stubConversationStore is an in-memory ConversationStore.
type stubConversationStore struct {
	conversations map[string]*models.Conversation
	messages      map[string][]models.Message
	groups        []services.ConversationGroup
	loadErr       error
}

func newStubConversationStore() *stubConversationStore {
	return &stubConversationStore{
		conversations: map[string]*models.Conversation{},
		messages:      map[string][]models.Message{},
	}
}

func (s *stubConversationStore) add(conv *models.Conversation) *models.Conversation {
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	s.conversations[conv.ID] = conv
	return conv
}

func (s *stubConversationStore) Create(ctx context.Context, tenantID, userID, agent, title string) (*models.Conversation, error) {
	now := time.Now().UTC()
	conv := &models.Conversation{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		UserID:    userID,
		Agent:     agent,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.conversations[conv.ID] = conv
	return conv, nil
}

func (s *stubConversationStore) Get(ctx context.Context, tenantID, userID, conversationID string) (*models.Conversation, error) {
	conv, ok := s.conversations[conversationID]
	if !ok || conv.TenantID != tenantID || conv.UserID != userID {
		return nil, database.ErrNotFound
	}
	return conv, nil
}

func (s *stubConversationStore) Messages(ctx context.Context, tenantID, userID, conversationID string, limit, offset int) ([]models.Message, error) {
	if _, err := s.Get(ctx, tenantID, userID, conversationID); err != nil {
		return nil, err
	}
	msgs := s.messages[conversationID]
	if offset >= len(msgs) {
		return nil, nil
	}
	end := len(msgs)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return msgs[offset:end], nil
}

func (s *stubConversationStore) Delete(ctx context.Context, tenantID, userID, conversationID string) (bool, error) {
	if _, err := s.Get(ctx, tenantID, userID, conversationID); err != nil {
		return false, nil
	}
	delete(s.conversations, conversationID)
	delete(s.messages, conversationID)
	return true, nil
}

func (s *stubConversationStore) ListGrouped(ctx context.Context, tenantID, userID string, limit int) ([]services.ConversationGroup, error) {
	return s.groups, nil
}

func (s *stubConversationStore) LoadContext(ctx context.Context, conv *models.Conversation, maxTurns int) (*models.ConversationContext, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	msgs := s.messages[conv.ID]
	recent := msgs
	if maxTurns > 0 && len(recent) > maxTurns {
		recent = recent[len(recent)-maxTurns:]
	}
	return &models.ConversationContext{RecentTurns: recent, TurnCount: len(msgs)}, nil
}

// stubFeedbackStore scripts the feedback surface.
type stubFeedbackStore struct {
	submitErr  error
	summary    *models.FeedbackSummary
	summaryErr error
	lastInput  services.SubmitFeedbackInput
}

func (s *stubFeedbackStore) Submit(ctx context.Context, input services.SubmitFeedbackInput) (*models.Feedback, error) {
	s.lastInput = input
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	if input.QueryID == "" {
		return nil, fmt.Errorf("%w: query_id is required", services.ErrValidation)
	}
	if input.Rating < 1 || input.Rating > 5 {
		return nil, fmt.Errorf("%w: rating must be between 1 and 5", services.ErrValidation)
	}
	return &models.Feedback{
		ID:      "feedback-1",
		QueryID: input.QueryID,
		UserID:  input.UserID,
		Rating:  input.Rating,
	}, nil
}

func (s *stubFeedbackStore) QuerySummary(ctx context.Context, queryID string) (*models.FeedbackSummary, error) {
	if s.summaryErr != nil {
		return nil, s.summaryErr
	}
	if s.summary != nil {
		return s.summary, nil
	}
	return &models.FeedbackSummary{TotalRatings: 1, AvgRating: 4}, nil
}

// stubTuner scripts the admin tuning view.
type stubTuner struct {
	state *services.TunerState
	err   error
}

func (s *stubTuner) State(ctx context.Context) (*services.TunerState, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.state != nil {
		return s.state, nil
	}
	return &services.TunerState{Overrides: map[string]string{}}, nil
}

// stubUserRepo is an in-memory repository.UserRepository.
type stubUserRepo struct {
	users map[string]*models.User
}

func newStubUserRepo() *stubUserRepo {
	return &stubUserRepo{users: map[string]*models.User{}}
}

func (s *stubUserRepo) add(user *models.User) *models.User {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	s.users[user.ID] = user
	return user
}

func (s *stubUserRepo) Create(ctx context.Context, user *models.User) error {
	s.users[user.ID] = user
	return nil
}

func (s *stubUserRepo) GetByID(ctx context.Context, userID string) (*models.User, error) {
	user, ok := s.users[userID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return user, nil
}

func (s *stubUserRepo) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	for _, user := range s.users {
		if user.Username == username {
			return user, nil
		}
	}
	return nil, database.ErrNotFound
}

func (s *stubUserRepo) ListActive(ctx context.Context) ([]*models.User, error) {
	var active []*models.User
	for _, user := range s.users {
		if user.IsActive {
			active = append(active, user)
		}
	}
	return active, nil
}

func (s *stubUserRepo) Update(ctx context.Context, user *models.User) error {
	s.users[user.ID] = user
	return nil
}

func (s *stubUserRepo) Deactivate(ctx context.Context, userID string) error {
	user, ok := s.users[userID]
	if !ok {
		return database.ErrNotFound
	}
	user.IsActive = false
	return nil
}

// stubAgentClient backs the registry so model names resolve.
type stubAgentClient struct {
	name  agents.Agent
	model string
}

func (c *stubAgentClient) Complete(ctx context.Context, req agents.Request) (*agents.Response, error) {
	return &agents.Response{Text: "ok", Model: c.model}, nil
}

func (c *stubAgentClient) Name() agents.Agent { return c.name }
func (c *stubAgentClient) Model() string      { return c.model }

type apiFixture struct {
	server        *Server
	orchestrator  *stubQuerier
	memories      *stubMemoryStore
	conversations *stubConversationStore
	feedback      *stubFeedbackStore
	tuner         *stubTuner
	users         *stubUserRepo
}

// newTestServer wires a server around stubs. mutate can adjust the
// config before the router is built; pass nil for the defaults.
func newTestServer(t *testing.T, mutate func(*Config)) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := DefaultConfig()
	cfg.Environment = "development"
	cfg.Auth.JWTSecret = testJWTSecret
	cfg.Auth.Tenant = testTenant
	cfg.Auth.APIKeys = map[string]string{"ops": testAPIKey}
	cfg.RateLimit.Enabled = false
	if mutate != nil {
		mutate(&cfg)
	}

	registry, err := agents.NewRegistry(map[agents.Agent]agents.Client{
		agents.AgentClaude: &stubAgentClient{name: agents.AgentClaude, model: "claude-sonnet-4"},
	}, agents.AgentClaude, 1024, nil)
	require.NoError(t, err)

	f := &apiFixture{
		orchestrator:  &stubQuerier{},
		memories:      newStubMemoryStore(),
		conversations: newStubConversationStore(),
		feedback:      &stubFeedbackStore{},
		tuner:         &stubTuner{},
		users:         newStubUserRepo(),
	}
	f.server = NewServer(cfg, Deps{
		Orchestrator:  f.orchestrator,
		Memories:      f.memories,
		Conversations: f.conversations,
		Feedback:      f.feedback,
		Tuner:         f.tuner,
		Users:         f.users,
		Registry:      registry,
		Logger:        observability.NewNoopLogger(),
		Metrics:       observability.NewNoopMetricsClient(),
	})
	return f
}

func (f *apiFixture) tokenFor(t *testing.T, user *models.User) string {
	t.Helper()
	token, err := signToken([]byte(testJWTSecret), user, testTenant, tokenTypeAccess, time.Hour)
	require.NoError(t, err)
	return token
}

func (f *apiFixture) memberToken(t *testing.T) string {
	return f.tokenFor(t, &models.User{ID: "user-1", Role: models.RoleMember})
}

func (f *apiFixture) adminToken(t *testing.T) string {
	return f.tokenFor(t, &models.User{ID: "admin-1", Role: models.RoleAdmin})
}

// do sends one JSON request through the router.
func (f *apiFixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

// doRaw sends a request with a literal body, for malformed payloads.
func (f *apiFixture) doRaw(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

// doWithHeaders sends a bodyless request with explicit headers.
func (f *apiFixture) doWithHeaders(t *testing.T, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}
