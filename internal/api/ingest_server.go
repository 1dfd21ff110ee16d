package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/S-Corkum/recall/internal/audit"
	"github.com/S-Corkum/recall/internal/services"
	"github.com/S-Corkum/recall/pkg/models"
	"github.com/S-Corkum/recall/pkg/observability"
)

// signatureHeader carries the HMAC of the payload, hex encoded with a
// "sha256=" prefix.
const signatureHeader = "X-Recall-Signature-256"

// maxIngestBody bounds webhook payloads at 10 MB.
const maxIngestBody = 10 << 20

// IngestServer is the out-of-band webhook listener. It runs on its own
// port so connector traffic can be firewalled separately from the user
// API, and every payload must carry a valid HMAC signature.
type IngestServer struct {
	server   *http.Server
	config   IngestConfig
	memories MemoryStore
	audit    audit.Recorder
	logger   observability.Logger
	metrics  observability.MetricsClient
}

// ingestEvent is the payload connectors push. The same shape arrives
// over the ingest queue for batch sources.
type ingestEvent struct {
	UserID   string                 `json:"user_id"`
	Content  string                 `json:"content"`
	Tags     []string               `json:"tags,omitempty"`
	Tier     string                 `json:"tier,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewIngestServer creates the webhook listener.
func NewIngestServer(config IngestConfig, memories MemoryStore, recorder audit.Recorder, logger observability.Logger, metrics observability.MetricsClient) *IngestServer {
	if recorder == nil {
		recorder = audit.NewNoopRecorder()
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	s := &IngestServer{
		config:   config,
		memories: memories,
		audit:    recorder,
		logger:   logger,
		metrics:  metrics,
	}

	router := mux.NewRouter()
	router.HandleFunc("/ingest/{source}", s.handleIngest).Methods(http.MethodPost)

	s.server = &http.Server{
		Addr:         config.ListenAddress,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func (s *IngestServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	source := mux.Vars(r)["source"]

	payload, ok := s.readSignedPayload(w, r)
	if !ok {
		s.metrics.IncrementCounterWithLabels("ingest_rejected_total", 1, map[string]string{"source": source})
		return
	}

	var event ingestEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	item, err := s.memories.Create(r.Context(), services.CreateMemoryInput{
		UserID:   event.UserID,
		Content:  event.Content,
		Tags:     event.Tags,
		Source:   models.MemoryType(source),
		Tier:     models.MemoryTier(event.Tier),
		Metadata: event.Metadata,
	})
	if errors.Is(err, services.ErrValidation) {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if err != nil {
		s.logger.Error("Webhook ingest failed", map[string]interface{}{
			"source": source,
			"error":  err.Error(),
		})
		http.Error(w, "ingest failed", http.StatusInternalServerError)
		return
	}

	s.metrics.IncrementCounterWithLabels("ingest_accepted_total", 1, map[string]string{"source": source})
	w.Header().Set("Content-Type", "application/json")
	if item == nil {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "duplicate"})
		return
	}
	s.audit.LogIngress(r.Context(), source, "webhook_ingest", 1, models.ClassificationForPrivacy(item.PrivacyLevel), map[string]interface{}{
		"memory_id": item.ID,
	})
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "stored",
		"memory_id": item.ID,
	})
}

// readSignedPayload enforces the webhook contract: JSON content type,
// bounded body, and a valid HMAC signature over the raw payload.
func (s *IngestServer) readSignedPayload(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		http.Error(w, "unsupported content type", http.StatusUnsupportedMediaType)
		return nil, false
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxIngestBody)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return nil, false
	}

	if !s.validSignature(r.Header.Get(signatureHeader), payload) {
		// Random delay keeps signature probing slow and uninformative.
		time.Sleep(time.Duration(50+rand.Intn(150)) * time.Millisecond)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return nil, false
	}
	return payload, true
}

func (s *IngestServer) validSignature(header string, payload []byte) bool {
	if s.config.Secret == "" {
		return false
	}
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.config.Secret))
	mac.Write(payload)
	return hmac.Equal(sig, mac.Sum(nil))
}

// Start begins listening and blocks until the listener fails or the
// server is shut down.
func (s *IngestServer) Start() error {
	s.logger.Info("Ingest webhook listener starting", map[string]interface{}{
		"address": s.config.ListenAddress,
	})
	err := s.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *IngestServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests.
func (s *IngestServer) Handler() http.Handler {
	return s.server.Handler
}
