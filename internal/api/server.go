package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"liveroom/internal/logger"
	"liveroom/internal/notify"
	"liveroom/pkg/types"
)

// UserIDHeader identifies the caller for write rate limiting.
const UserIDHeader = "X-User-ID"

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
	maxBodyBytes        = 64 << 10
)

// Store is the room-addressed store the API serves. database.Manager implements it.
type Store interface {
	ListInteractions(ctx context.Context, roomID string, statuses []types.InteractionStatus) ([]types.InteractionRecord, error)
	GetInteraction(ctx context.Context, roomID, id string) (*types.InteractionRecord, error)
	InsertInteraction(ctx context.Context, roomID string, record *types.InteractionRecord) error
	UpdateInteractionStatus(ctx context.Context, roomID, id string, status types.InteractionStatus) error
	BulkEndWaiting(ctx context.Context, roomID string) (int64, error)
	ListRecentMessages(ctx context.Context, roomID string, limit int) ([]types.ChatMessage, error)
	InsertMessage(ctx context.Context, roomID string, message *types.ChatMessage) error
	HealthCheck(ctx context.Context) error
}

// StatsProvider reports change-feed connection counts for /health.
type StatsProvider interface {
	Stats() map[string]int
}

// Server is the HTTP face of the store
// ARCHITECTURAL DISCOVERY: handlers only decode, call the store, publish a
// change event and encode; the transition rules live in the store
type Server struct {
	store   Store
	bus     notify.Bus
	stats   StatsProvider
	limiter *RateLimiter
	log     *logger.Logger
	router  *http.ServeMux
	handler http.Handler
}

// NewServer wires routes and middleware. bus and stats may be nil.
func NewServer(store Store, bus notify.Bus, stats StatsProvider, limiter *RateLimiter, log *logger.Logger) *Server {
	if limiter == nil {
		limiter = NewRateLimiter(100)
	}
	s := &Server{
		store:   store,
		bus:     bus,
		stats:   stats,
		limiter: limiter,
		log:     logger.OrNop(log).With("component", "api"),
		router:  http.NewServeMux(),
	}
	s.setupRoutes()
	s.handler = s.corsMiddleware(s.router)
	return s
}

func (s *Server) setupRoutes() {
	api := func(h http.HandlerFunc) http.Handler {
		return s.jsonMiddleware(s.limiter.Middleware(h))
	}
	s.router.Handle("GET /health", s.jsonMiddleware(http.HandlerFunc(s.healthCheck)))
	s.router.Handle("GET /api/rooms/{room}/interactions", api(s.listInteractions))
	s.router.Handle("POST /api/rooms/{room}/interactions", api(s.createInteraction))
	s.router.Handle("POST /api/rooms/{room}/interactions/end-waiting", api(s.endWaiting))
	s.router.Handle("PATCH /api/rooms/{room}/interactions/{id}", api(s.updateInteraction))
	s.router.Handle("GET /api/rooms/{room}/messages", api(s.listMessages))
	s.router.Handle("POST /api/rooms/{room}/messages", api(s.createMessage))
}

// Mount adds an extra handler, e.g. the change-feed socket at /ws.
func (s *Server) Mount(pattern string, h http.Handler) {
	s.router.Handle(pattern, h)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

type InteractionsResponse struct {
	Interactions []types.InteractionRecord `json:"interactions"`
}

type InteractionResponse struct {
	Interaction *types.InteractionRecord `json:"interaction"`
}

type CreateInteractionRequest struct {
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name"`
}

type UpdateInteractionRequest struct {
	Status types.InteractionStatus `json:"status"`
}

type EndWaitingResponse struct {
	Ended int64 `json:"ended"`
}

type MessagesResponse struct {
	Messages []types.ChatMessage `json:"messages"`
}

type MessageResponse struct {
	Message *types.ChatMessage `json:"message"`
}

type CreateMessageRequest struct {
	AuthorID   string     `json:"author_id"`
	AuthorName string     `json:"author_name"`
	AuthorRole types.Role `json:"author_role"`
	Body       string     `json:"body"`
	IsQuestion bool       `json:"is_question"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections,omitempty"`
}

// GET /api/rooms/{room}/interactions?status=waiting,live
func (s *Server) listInteractions(w http.ResponseWriter, r *http.Request) {
	room, ok := s.room(w, r)
	if !ok {
		return
	}

	statuses := []types.InteractionStatus{types.InteractionWaiting, types.InteractionLive}
	if raw := r.URL.Query().Get("status"); raw != "" {
		statuses = statuses[:0]
		for _, part := range strings.Split(raw, ",") {
			st := types.InteractionStatus(strings.TrimSpace(part))
			if !types.IsValidInteractionStatus(st) {
				sendError(w, types.ErrInvalidStatus)
				return
			}
			statuses = append(statuses, st)
		}
	}

	records, err := s.store.ListInteractions(r.Context(), room, statuses)
	if err != nil {
		s.fail(w, "list interactions", err)
		return
	}
	writeJSON(w, http.StatusOK, InteractionsResponse{Interactions: records})
}

// POST /api/rooms/{room}/interactions
func (s *Server) createInteraction(w http.ResponseWriter, r *http.Request) {
	room, ok := s.room(w, r)
	if !ok {
		return
	}
	var req CreateInteractionRequest
	if !decode(w, r, &req) {
		return
	}

	record := &types.InteractionRecord{
		ParticipantID: req.ParticipantID,
		DisplayName:   req.DisplayName,
		Status:        types.InteractionWaiting,
	}
	if err := s.store.InsertInteraction(r.Context(), room, record); err != nil {
		s.fail(w, "create interaction", err)
		return
	}
	s.publish(r.Context(), room, types.ChangeInteractions, record.ID)
	writeJSON(w, http.StatusCreated, InteractionResponse{Interaction: record})
}

// PATCH /api/rooms/{room}/interactions/{id}
func (s *Server) updateInteraction(w http.ResponseWriter, r *http.Request) {
	room, ok := s.room(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	var req UpdateInteractionRequest
	if !decode(w, r, &req) {
		return
	}

	if err := s.store.UpdateInteractionStatus(r.Context(), room, id, req.Status); err != nil {
		s.fail(w, "update interaction", err)
		return
	}
	s.publish(r.Context(), room, types.ChangeInteractions, id)

	record, err := s.store.GetInteraction(r.Context(), room, id)
	if err != nil {
		s.fail(w, "reload interaction", err)
		return
	}
	writeJSON(w, http.StatusOK, InteractionResponse{Interaction: record})
}

// POST /api/rooms/{room}/interactions/end-waiting
func (s *Server) endWaiting(w http.ResponseWriter, r *http.Request) {
	room, ok := s.room(w, r)
	if !ok {
		return
	}
	n, err := s.store.BulkEndWaiting(r.Context(), room)
	if err != nil {
		s.fail(w, "end waiting", err)
		return
	}
	if n > 0 {
		s.publish(r.Context(), room, types.ChangeInteractions, "")
	}
	writeJSON(w, http.StatusOK, EndWaitingResponse{Ended: n})
}

// GET /api/rooms/{room}/messages?limit=50
func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	room, ok := s.room(w, r)
	if !ok {
		return
	}

	limit := defaultMessageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxMessageLimit {
			sendError(w, fmt.Errorf("%w: limit must be between 1 and %d", ErrBadRequest, maxMessageLimit))
			return
		}
		limit = n
	}

	messages, err := s.store.ListRecentMessages(r.Context(), room, limit)
	if err != nil {
		s.fail(w, "list messages", err)
		return
	}
	writeJSON(w, http.StatusOK, MessagesResponse{Messages: messages})
}

// POST /api/rooms/{room}/messages
func (s *Server) createMessage(w http.ResponseWriter, r *http.Request) {
	room, ok := s.room(w, r)
	if !ok {
		return
	}
	var req CreateMessageRequest
	if !decode(w, r, &req) {
		return
	}

	msg := &types.ChatMessage{
		AuthorID:   req.AuthorID,
		AuthorName: req.AuthorName,
		AuthorRole: req.AuthorRole,
		Body:       req.Body,
		IsQuestion: req.IsQuestion,
	}
	if err := s.store.InsertMessage(r.Context(), room, msg); err != nil {
		s.fail(w, "create message", err)
		return
	}
	s.publish(r.Context(), room, types.ChangeMessages, msg.ID)
	writeJSON(w, http.StatusCreated, MessageResponse{Message: msg})
}

// GET /health - 503 when the database check fails
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Database:  "healthy",
	}
	if err := s.store.HealthCheck(ctx); err != nil {
		resp.Status = "unhealthy"
		resp.Database = fmt.Sprintf("error: %v", err)
	}
	if s.stats != nil {
		resp.Connections = s.stats.Stats()
	}

	code := http.StatusOK
	if resp.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) room(w http.ResponseWriter, r *http.Request) (string, bool) {
	room := r.PathValue("room")
	if !types.IsValidRoomID(room) {
		sendError(w, types.ErrInvalidRoomID)
		return "", false
	}
	return room, true
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	if code, _ := StatusFor(err); code == http.StatusInternalServerError {
		s.log.Error("request failed", "op", op, "error", err)
	}
	sendError(w, err)
}

// publish notifies subscribers; a failed notification never fails the write.
func (s *Server) publish(ctx context.Context, room string, kind types.ChangeKind, id string) {
	if s.bus == nil {
		return
	}
	evt := types.ChangeEvent{Room: room, Kind: kind, ID: id, At: time.Now().UTC()}
	if err := s.bus.Publish(ctx, evt); err != nil {
		s.log.Warn("change event not published", "room", room, "kind", kind, "error", err)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		sendError(w, fmt.Errorf("%w: invalid JSON", ErrBadRequest))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// corsMiddleware allows browser clients from any origin
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+UserIDHeader)
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
