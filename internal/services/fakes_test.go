package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/S-Corkum/recall/internal/database"
	"github.com/S-Corkum/recall/internal/repository"
	"github.com/S-Corkum/recall/pkg/agents"
	"github.com/S-Corkum/recall/pkg/embedding"
	"github.com/S-Corkum/recall/pkg/models"
	"github.com/S-Corkum/recall/pkg/vector"
)

// fakeMemoryRepo is an in-memory MemoryRepository.
type fakeMemoryRepo struct {
	mu        sync.Mutex
	items     map[string]*models.MemoryItem
	createErr error
	touched   []string
	flagged   map[string]string
	summaries map[string]*models.FeedbackSummary
	scores    map[string]float64
}

func newFakeMemoryRepo() *fakeMemoryRepo {
	return &fakeMemoryRepo{
		items:     map[string]*models.MemoryItem{},
		flagged:   map[string]string{},
		summaries: map[string]*models.FeedbackSummary{},
		scores:    map[string]float64{},
	}
}

func (f *fakeMemoryRepo) Create(ctx context.Context, item *models.MemoryItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	for _, existing := range f.items {
		if existing.UserID == item.UserID && existing.ContentHash == item.ContentHash {
			return database.ErrDuplicateKey
		}
	}
	clone := *item
	f.items[item.ID] = &clone
	return nil
}

func (f *fakeMemoryRepo) GetByID(ctx context.Context, memoryID string) (*models.MemoryItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[memoryID]
	if !ok {
		return nil, database.ErrNotFound
	}
	clone := *item
	return &clone, nil
}

func (f *fakeMemoryRepo) GetByUserAndHash(ctx context.Context, userID, contentHash string) (*models.MemoryItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range f.items {
		if item.UserID == userID && item.ContentHash == contentHash {
			clone := *item
			return &clone, nil
		}
	}
	return nil, database.ErrNotFound
}

func (f *fakeMemoryRepo) ListByIDs(ctx context.Context, memoryIDs []string) ([]*models.MemoryItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.MemoryItem, 0, len(memoryIDs))
	for _, id := range memoryIDs {
		if item, ok := f.items[id]; ok {
			clone := *item
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (f *fakeMemoryRepo) List(ctx context.Context, filter repository.MemoryFilter) ([]*models.MemoryItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*models.MemoryItem{}
	for _, item := range f.items {
		if filter.UserID != "" && item.UserID != filter.UserID {
			continue
		}
		clone := *item
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeMemoryRepo) Update(ctx context.Context, item *models.MemoryItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[item.ID]; !ok {
		return database.ErrNotFound
	}
	clone := *item
	f.items[item.ID] = &clone
	return nil
}

func (f *fakeMemoryRepo) Delete(ctx context.Context, memoryID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[memoryID]; !ok {
		return false, nil
	}
	delete(f.items, memoryID)
	return true, nil
}

func (f *fakeMemoryRepo) Touch(ctx context.Context, memoryID string, when time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, memoryID)
	if item, ok := f.items[memoryID]; ok {
		item.AccessCount++
		item.LastAccessed = &when
	}
	return nil
}

func (f *fakeMemoryRepo) UpdateScore(ctx context.Context, memoryID string, score float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores[memoryID] = score
	if item, ok := f.items[memoryID]; ok {
		item.CRSScore = score
	}
	return nil
}

func (f *fakeMemoryRepo) UpdateFeedbackSummary(ctx context.Context, memoryID string, summary *models.FeedbackSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries[memoryID] = summary
	return nil
}

func (f *fakeMemoryRepo) Flag(ctx context.Context, memoryID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flagged[memoryID] = reason
	return nil
}

func (f *fakeMemoryRepo) sorted() []*models.MemoryItem {
	out := make([]*models.MemoryItem, 0, len(f.items))
	for _, item := range f.items {
		clone := *item
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeMemoryRepo) ListForScoring(ctx context.Context, limit, offset int) ([]*models.MemoryItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return pageItems(f.sorted(), limit, offset), nil
}

func (f *fakeMemoryRepo) ListExpired(ctx context.Context, tier models.MemoryTier, cutoff time.Time, limit int) ([]*models.MemoryItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*models.MemoryItem{}
	for _, item := range f.sorted() {
		if item.Tier == tier && item.CreatedAt.Before(cutoff) {
			out = append(out, item)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeMemoryRepo) ListWithVectors(ctx context.Context, limit, offset int) ([]*models.MemoryItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	withVectors := []*models.MemoryItem{}
	for _, item := range f.sorted() {
		if item.EmbeddingVectorID != "" {
			withVectors = append(withVectors, item)
		}
	}
	return pageItems(withVectors, limit, offset), nil
}

func (f *fakeMemoryRepo) FilterExisting(ctx context.Context, memoryIDs []string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	present := map[string]bool{}
	for _, id := range memoryIDs {
		if _, ok := f.items[id]; ok {
			present[id] = true
		}
	}
	return present, nil
}

func (f *fakeMemoryRepo) CountByUser(ctx context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, item := range f.items {
		if item.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (f *fakeMemoryRepo) CountByTier(ctx context.Context) (map[models.MemoryTier]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := map[models.MemoryTier]int{}
	for _, item := range f.items {
		counts[item.Tier]++
	}
	return counts, nil
}

func pageItems(items []*models.MemoryItem, limit, offset int) []*models.MemoryItem {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

// fakeVectorStore is an in-memory vector.Store. NearVector results are
// scripted per collection; writes are recorded for assertions.
type fakeVectorStore struct {
	mu         sync.Mutex
	objects    map[vector.Collection]map[uuid.UUID]*vector.Object
	nearHits   map[vector.Collection][]vector.SearchResult
	nearErr    map[vector.Collection]error
	insertErr  error
	inserted   []vector.Collection
	deletedIDs []uuid.UUID
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{
		objects:  map[vector.Collection]map[uuid.UUID]*vector.Object{},
		nearHits: map[vector.Collection][]vector.SearchResult{},
		nearErr:  map[vector.Collection]error{},
	}
}

func (f *fakeVectorStore) put(obj *vector.Object) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects[obj.Collection] == nil {
		f.objects[obj.Collection] = map[uuid.UUID]*vector.Object{}
	}
	f.objects[obj.Collection][obj.ID] = obj
}

func (f *fakeVectorStore) Insert(ctx context.Context, collection vector.Collection, vec []float32, props map[string]interface{}) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return uuid.Nil, f.insertErr
	}
	if err := vector.ValidateProps(collection, props); err != nil {
		return uuid.Nil, err
	}
	id := uuid.New()
	obj := &vector.Object{
		ID:         id,
		Collection: collection,
		Props:      props,
		CreatedAt:  time.Now(),
	}
	if s, ok := props["content"].(string); ok {
		obj.Content = s
	}
	if s, ok := props["content_hash"].(string); ok {
		obj.ContentHash = s
	}
	if s, ok := props["user_id"].(string); ok {
		obj.UserID = s
	}
	if s, ok := props["source_id"].(string); ok {
		obj.SourceID = s
	}
	if f.objects[collection] == nil {
		f.objects[collection] = map[uuid.UUID]*vector.Object{}
	}
	f.objects[collection][id] = obj
	f.inserted = append(f.inserted, collection)
	return id, nil
}

func (f *fakeVectorStore) Update(ctx context.Context, collection vector.Collection, id uuid.UUID, vec []float32, props map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[collection][id]
	if !ok {
		return vector.ErrNotFound
	}
	for k, v := range props {
		if obj.Props == nil {
			obj.Props = map[string]interface{}{}
		}
		obj.Props[k] = v
	}
	return nil
}

func (f *fakeVectorStore) Delete(ctx context.Context, collection vector.Collection, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedIDs = append(f.deletedIDs, id)
	if _, ok := f.objects[collection][id]; !ok {
		return false, nil
	}
	delete(f.objects[collection], id)
	return true, nil
}

func (f *fakeVectorStore) NearVector(ctx context.Context, collection vector.Collection, vec []float32, limit int, filter *vector.Filter) ([]vector.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.nearErr[collection]; err != nil {
		return nil, err
	}
	hits := f.nearHits[collection]
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (f *fakeVectorStore) Count(ctx context.Context, collection vector.Collection) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.objects[collection])), nil
}

func (f *fakeVectorStore) FetchByID(ctx context.Context, collection vector.Collection, id uuid.UUID) (*vector.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[collection][id]
	if !ok {
		return nil, vector.ErrNotFound
	}
	return obj, nil
}

func (f *fakeVectorStore) List(ctx context.Context, collection vector.Collection, filter *vector.Filter, limit, offset int) ([]*vector.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := make([]*vector.Object, 0, len(f.objects[collection]))
	for _, obj := range f.objects[collection] {
		if filter != nil && filter.UserID != "" && obj.UserID != "" && obj.UserID != filter.UserID {
			continue
		}
		if filter != nil && filter.UserID != "" && obj.UserID == "" {
			if uid, ok := obj.Props["user_id"].(string); ok && uid != filter.UserID {
				continue
			}
		}
		all = append(all, obj)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID.String() < all[j].ID.String() })
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (f *fakeVectorStore) countInserted(collection vector.Collection) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.inserted {
		if c == collection {
			n++
		}
	}
	return n
}

// stubEmbedder returns a fixed vector for any input.
type stubEmbedder struct {
	mu    sync.Mutex
	vec   []float32
	err   error
	calls int
	texts []string
}

func newStubEmbedder() *stubEmbedder {
	return &stubEmbedder{vec: []float32{0.1, 0.2, 0.3}}
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) (*embedding.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.texts = append(s.texts, text)
	if s.err != nil {
		return nil, s.err
	}
	return &embedding.Result{Vector: s.vec, Dimensions: len(s.vec), Model: "stub-embed"}, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]*embedding.Result, error) {
	out := make([]*embedding.Result, 0, len(texts))
	for _, text := range texts {
		result, err := s.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, result)
	}
	return out, nil
}

func (s *stubEmbedder) Model() string { return "stub-embed" }

// fakeConversationRepo is an in-memory ConversationRepository.
type fakeConversationRepo struct {
	mu            sync.Mutex
	conversations map[string]*models.Conversation
	messages      map[string][]models.Message
	turnCounts    map[string]int
	casFailures   int
}

func newFakeConversationRepo() *fakeConversationRepo {
	return &fakeConversationRepo{
		conversations: map[string]*models.Conversation{},
		messages:      map[string][]models.Message{},
		turnCounts:    map[string]int{},
	}
}

func (f *fakeConversationRepo) Create(ctx context.Context, conv *models.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.conversations[conv.ID]; ok {
		return database.ErrDuplicateKey
	}
	now := time.Now()
	conv.CreatedAt = now
	conv.UpdatedAt = now
	clone := *conv
	f.conversations[conv.ID] = &clone
	return nil
}

func (f *fakeConversationRepo) GetByID(ctx context.Context, tenantID, conversationID string) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.conversations[conversationID]
	if !ok || conv.TenantID != tenantID {
		return nil, database.ErrNotFound
	}
	clone := *conv
	return &clone, nil
}

func (f *fakeConversationRepo) ListByUser(ctx context.Context, tenantID, userID string, limit, offset int) ([]*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*models.Conversation{}
	for _, conv := range f.conversations {
		if conv.TenantID == tenantID && conv.UserID == userID {
			clone := *conv
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (f *fakeConversationRepo) UpdateTitle(ctx context.Context, conversationID, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.conversations[conversationID]
	if !ok {
		return database.ErrNotFound
	}
	conv.Title = title
	return nil
}

func (f *fakeConversationRepo) SaveState(ctx context.Context, conversationID string, state models.ConversationState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.conversations[conversationID]
	if !ok {
		return database.ErrNotFound
	}
	version := conv.State.SummaryVersion
	turns := conv.State.TurnsSinceSummary
	conv.State = state
	conv.State.SummaryVersion = version
	conv.State.TurnsSinceSummary = turns
	return nil
}

func (f *fakeConversationRepo) UpdateStateCAS(ctx context.Context, conversationID string, state models.ConversationState, expectedVersion int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.conversations[conversationID]
	if !ok {
		return false, nil
	}
	if f.casFailures > 0 {
		f.casFailures--
		return false, nil
	}
	if conv.State.SummaryVersion != expectedVersion {
		return false, nil
	}
	conv.State = state
	conv.State.SummaryVersion = expectedVersion + 1
	conv.State.TurnsSinceSummary = 0
	return true, nil
}

func (f *fakeConversationRepo) IncrementTurns(ctx context.Context, conversationID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.conversations[conversationID]
	if !ok {
		return 0, database.ErrNotFound
	}
	conv.State.TurnsSinceSummary++
	return conv.State.TurnsSinceSummary, nil
}

func (f *fakeConversationRepo) Delete(ctx context.Context, tenantID, conversationID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.conversations[conversationID]
	if !ok || conv.TenantID != tenantID {
		return false, nil
	}
	delete(f.conversations, conversationID)
	delete(f.messages, conversationID)
	return true, nil
}

func (f *fakeConversationRepo) AppendMessage(ctx context.Context, msg *models.Message) (*models.Message, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg.ClientMessageID != "" {
		for _, existing := range f.messages[msg.ConversationID] {
			if existing.ClientMessageID == msg.ClientMessageID {
				clone := existing
				return &clone, false, nil
			}
		}
	}
	stored := *msg
	stored.ID = uuid.New().String()
	stored.CreatedAt = time.Now()
	f.messages[msg.ConversationID] = append(f.messages[msg.ConversationID], stored)
	clone := stored
	return &clone, true, nil
}

func (f *fakeConversationRepo) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[conversationID]
	if offset >= len(msgs) {
		return nil, nil
	}
	end := offset + limit
	if end > len(msgs) {
		end = len(msgs)
	}
	return append([]models.Message{}, msgs[offset:end]...), nil
}

func (f *fakeConversationRepo) RecentMessages(ctx context.Context, conversationID string, n int) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[conversationID]
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return append([]models.Message{}, msgs...), nil
}

func (f *fakeConversationRepo) CountMessages(ctx context.Context, conversationID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages[conversationID]), nil
}

// fakeMetricsRepo is an in-memory QueryMetricsRepository.
type fakeMetricsRepo struct {
	mu        sync.Mutex
	rows      map[string]*models.QueryMetrics
	createErr error
	finalized []string
}

func newFakeMetricsRepo() *fakeMetricsRepo {
	return &fakeMetricsRepo{rows: map[string]*models.QueryMetrics{}}
}

func (f *fakeMetricsRepo) Create(ctx context.Context, metrics *models.QueryMetrics) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	clone := *metrics
	f.rows[metrics.QueryID] = &clone
	return nil
}

func (f *fakeMetricsRepo) GetByID(ctx context.Context, queryID string) (*models.QueryMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[queryID]
	if !ok {
		return nil, database.ErrNotFound
	}
	clone := *row
	return &clone, nil
}

func (f *fakeMetricsRepo) Finalize(ctx context.Context, metrics *models.QueryMetrics) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[metrics.QueryID]; !ok {
		return database.ErrNotFound
	}
	clone := *metrics
	f.rows[metrics.QueryID] = &clone
	f.finalized = append(f.finalized, metrics.QueryID)
	return nil
}

func (f *fakeMetricsRepo) MarkEnriched(ctx context.Context, queryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[queryID]
	if !ok {
		return database.ErrNotFound
	}
	row.Enriched = true
	return nil
}

func (f *fakeMetricsRepo) ListRecent(ctx context.Context, since time.Time, limit int) ([]*models.QueryMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*models.QueryMetrics{}
	for _, row := range f.rows {
		clone := *row
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueryID < out[j].QueryID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeMetricsRepo) Stats(ctx context.Context, since time.Time) (*repository.UsageStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &repository.UsageStats{}
	for _, row := range f.rows {
		stats.TotalQueries++
		stats.TotalCostUSD += row.EstCostUSD
	}
	return stats, nil
}

// fakeFeedbackRepo is an in-memory FeedbackRepository with scripted
// aggregates for the tuner.
type fakeFeedbackRepo struct {
	mu           sync.Mutex
	rows         []*models.Feedback
	memoryLinks  map[string][]string
	cacheAvg     float64
	cacheN       int
	cacheErr     error
	modelRatings []repository.ModelRating
	comments     []string
}

func newFakeFeedbackRepo() *fakeFeedbackRepo {
	return &fakeFeedbackRepo{memoryLinks: map[string][]string{}}
}

func (f *fakeFeedbackRepo) Create(ctx context.Context, feedback *models.Feedback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if feedback.ID == "" {
		feedback.ID = uuid.New().String()
	}
	clone := *feedback
	f.rows = append(f.rows, &clone)
	return nil
}

func (f *fakeFeedbackRepo) ListByQuery(ctx context.Context, queryID string) ([]*models.Feedback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*models.Feedback{}
	for _, row := range f.rows {
		if row.QueryID == queryID {
			clone := *row
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (f *fakeFeedbackRepo) ListForMemory(ctx context.Context, memoryID string) ([]*models.Feedback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*models.Feedback{}
	for _, row := range f.rows {
		for _, id := range f.memoryLinks[row.QueryID] {
			if id == memoryID {
				clone := *row
				out = append(out, &clone)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeFeedbackRepo) CacheQualityStats(ctx context.Context, since time.Time) (float64, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cacheErr != nil {
		return 0, 0, f.cacheErr
	}
	return f.cacheAvg, f.cacheN, nil
}

func (f *fakeFeedbackRepo) ModelRatingStats(ctx context.Context, since time.Time) ([]repository.ModelRating, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]repository.ModelRating{}, f.modelRatings...), nil
}

func (f *fakeFeedbackRepo) ListCommentsSince(ctx context.Context, since time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.comments...), nil
}

// fakeTuningLog is an in-memory TuningLogRepository.
type fakeTuningLog struct {
	mu        sync.Mutex
	decisions []*models.TuningDecision
	insertErr error
}

func (f *fakeTuningLog) Insert(ctx context.Context, decision *models.TuningDecision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	if decision.ID == "" {
		decision.ID = uuid.New().String()
	}
	decision.CreatedAt = time.Now()
	clone := *decision
	f.decisions = append(f.decisions, &clone)
	return nil
}

func (f *fakeTuningLog) ListRecent(ctx context.Context, limit int) ([]*models.TuningDecision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]*models.TuningDecision{}, f.decisions...)
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeTuningLog) LatestForParameter(ctx context.Context, parameter string) (*models.TuningDecision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.decisions) - 1; i >= 0; i-- {
		if f.decisions[i].Parameter == parameter {
			clone := *f.decisions[i]
			return &clone, nil
		}
	}
	return nil, database.ErrNotFound
}

// fakeUserRepo is an in-memory UserRepository.
type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newFakeUserRepo(users ...*models.User) *fakeUserRepo {
	repo := &fakeUserRepo{users: map[string]*models.User{}}
	for _, user := range users {
		repo.users[user.ID] = user
	}
	return repo
}

func (f *fakeUserRepo) Create(ctx context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if existing.Username == user.Username || existing.Email == user.Email {
			return database.ErrDuplicateKey
		}
	}
	clone := *user
	f.users[user.ID] = &clone
	return nil
}

func (f *fakeUserRepo) GetByID(ctx context.Context, userID string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return nil, database.ErrNotFound
	}
	clone := *user
	return &clone, nil
}

func (f *fakeUserRepo) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Username == username {
			clone := *user
			return &clone, nil
		}
	}
	return nil, database.ErrNotFound
}

func (f *fakeUserRepo) ListActive(ctx context.Context) ([]*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*models.User{}
	for _, user := range f.users {
		if user.IsActive {
			clone := *user
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeUserRepo) Update(ctx context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[user.ID]; !ok {
		return database.ErrNotFound
	}
	clone := *user
	f.users[user.ID] = &clone
	return nil
}

func (f *fakeUserRepo) Deactivate(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return database.ErrNotFound
	}
	user.IsActive = false
	return nil
}

// recordingAudit captures audit calls for assertions.
type auditCall struct {
	kind           string
	target         string
	operation      string
	itemCount      int
	classification models.DataClassification
	metadata       map[string]interface{}
}

type recordingAudit struct {
	mu    sync.Mutex
	calls []auditCall
}

func (r *recordingAudit) LogIngress(ctx context.Context, source, operation string, itemCount int, classification models.DataClassification, metadata map[string]interface{}) {
	r.record(auditCall{kind: "ingress", target: source, operation: operation, itemCount: itemCount, classification: classification, metadata: metadata})
}

func (r *recordingAudit) LogTransform(ctx context.Context, operation string, itemCount int, classification models.DataClassification, metadata map[string]interface{}) {
	r.record(auditCall{kind: "transform", operation: operation, itemCount: itemCount, classification: classification, metadata: metadata})
}

func (r *recordingAudit) LogEgress(ctx context.Context, destination, operation string, itemCount int, classification models.DataClassification, metadata map[string]interface{}) {
	r.record(auditCall{kind: "egress", target: destination, operation: operation, itemCount: itemCount, classification: classification, metadata: metadata})
}

func (r *recordingAudit) record(call auditCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recordingAudit) byOperation(operation string) []auditCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []auditCall{}
	for _, call := range r.calls {
		if call.operation == operation {
			out = append(out, call)
		}
	}
	return out
}

// scriptedAgent answers with a fixed response, or per-prompt responses
// keyed by substring.
type scriptedAgent struct {
	mu       sync.Mutex
	name     agents.Agent
	response *agents.Response
	err      error
	calls    int
	prompts  []string
}

func (s *scriptedAgent) Complete(ctx context.Context, req agents.Request) (*agents.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.prompts = append(s.prompts, req.Prompt)
	if s.err != nil {
		return nil, s.err
	}
	if s.response != nil {
		return s.response, nil
	}
	return &agents.Response{Text: "stub answer", Model: "stub-model", InputTokens: 10, OutputTokens: 5, CostUSD: 0.001}, nil
}

func (s *scriptedAgent) Name() agents.Agent { return s.name }
func (s *scriptedAgent) Model() string      { return "stub-model" }

func (s *scriptedAgent) lastPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.prompts) == 0 {
		return ""
	}
	return s.prompts[len(s.prompts)-1]
}

func newStubRegistry(client *scriptedAgent) *agents.Registry {
	registry, err := agents.NewRegistry(map[agents.Agent]agents.Client{client.name: client}, client.name, 1024, nil)
	if err != nil {
		panic(err)
	}
	return registry
}

func promptContains(prompt string, parts ...string) bool {
	for _, part := range parts {
		if !strings.Contains(prompt, part) {
			return false
		}
	}
	return true
}
