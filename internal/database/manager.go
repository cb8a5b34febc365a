package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"liveroom/internal/logger"
	dbconfig "liveroom/pkg/database"
	"liveroom/pkg/interfaces"
	"liveroom/pkg/types"
)

// Manager is the sqlite-backed store for every room
// ARCHITECTURAL DISCOVERY: reads go straight to the pool, writes are funnelled
// through one goroutine so sqlite never sees two writers
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	log          *logger.Logger
	now          func() time.Time
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database and starts the writer. Migrations are
// applied separately against GetDB.
func NewManager(config *dbconfig.Config, log *logger.Logger) (*Manager, error) {
	db, err := dbconfig.Open(config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:           db,
		config:       config,
		log:          logger.OrNop(log).With("component", "database"),
		now:          func() time.Time { return time.Now().UTC() },
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
// FUNCTIONAL DISCOVERY: only busy/locked failures are worth a retry; a
// constraint or transition error would fail the same way twice
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if isBusy(err) {
				m.log.Warn("database write busy, retrying", "delay", m.config.WriteRetryDelay, "error", err)
				time.Sleep(m.config.WriteRetryDelay)
				err = op.operation(m.db)
				if err != nil {
					m.log.Error("database write failed after retry", "error", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			m.log.Debug("database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	result := make(chan error, 1)
	timeout := time.NewTimer(m.config.WriteTimeout)
	defer timeout.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-timeout.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return ErrManagerClosed
	}
}

// ListInteractions returns the room's records with one of statuses, oldest first.
func (m *Manager) ListInteractions(ctx context.Context, roomID string, statuses []types.InteractionStatus) ([]types.InteractionRecord, error) {
	if len(statuses) == 0 {
		return []types.InteractionRecord{}, nil
	}
	args := []any{roomID}
	for _, s := range statuses {
		args = append(args, string(s))
	}
	query := `
		SELECT id, room_id, participant_id, display_name, status, created_at
		FROM interactions
		WHERE room_id = ? AND status IN (` + placeholders(len(statuses)) + `)
		ORDER BY created_at ASC, rowid ASC
	`

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := []types.InteractionRecord{}
	for rows.Next() {
		var r types.InteractionRecord
		if err := rows.Scan(&r.ID, &r.RoomID, &r.ParticipantID, &r.DisplayName, &r.Status, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan interaction row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating interaction rows: %w", err)
	}
	return records, nil
}

// GetInteraction loads one record of the room.
func (m *Manager) GetInteraction(ctx context.Context, roomID, id string) (*types.InteractionRecord, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, room_id, participant_id, display_name, status, created_at
		FROM interactions
		WHERE room_id = ? AND id = ?
	`, roomID, id)

	var r types.InteractionRecord
	err := row.Scan(&r.ID, &r.RoomID, &r.ParticipantID, &r.DisplayName, &r.Status, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrInteractionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query interaction: %w", err)
	}
	return &r, nil
}

// InsertInteraction stores a new waiting record and fills in ID, RoomID and CreatedAt.
func (m *Manager) InsertInteraction(ctx context.Context, roomID string, record *types.InteractionRecord) error {
	if !types.IsValidRoomID(roomID) {
		return types.ErrInvalidRoomID
	}
	if err := record.Validate(); err != nil {
		return err
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	record.RoomID = roomID
	record.DisplayName = strings.TrimSpace(record.DisplayName)

	// stamped inside the writer so created_at follows commit order
	return m.executeWrite(ctx, func(db *sql.DB) error {
		record.CreatedAt = m.now()
		_, err := db.ExecContext(ctx, `
			INSERT INTO interactions (id, room_id, participant_id, display_name, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, record.ID, record.RoomID, record.ParticipantID, record.DisplayName, record.Status, record.CreatedAt, record.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert interaction: %w", err)
		}
		return nil
	})
}

// UpdateInteractionStatus moves a record along waiting -> live -> ended
// ARCHITECTURAL DISCOVERY: promotion to live is a single conditional UPDATE,
// so two arbiters racing to accept can never both win
func (m *Manager) UpdateInteractionStatus(ctx context.Context, roomID, id string, status types.InteractionStatus) error {
	if !types.IsValidInteractionStatus(status) {
		return types.ErrInvalidStatus
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		var current types.InteractionStatus
		err := db.QueryRowContext(ctx,
			"SELECT status FROM interactions WHERE room_id = ? AND id = ?", roomID, id,
		).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return types.ErrInteractionNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read interaction status: %w", err)
		}
		if !types.CanTransition(current, status) {
			return types.ErrInvalidTransition
		}

		now := m.now()
		var res sql.Result
		switch status {
		case types.InteractionLive:
			res, err = db.ExecContext(ctx, `
				UPDATE interactions SET status = 'live', updated_at = ?
				WHERE room_id = ? AND id = ? AND status = 'waiting'
				  AND NOT EXISTS (SELECT 1 FROM interactions WHERE room_id = ? AND status = 'live')
			`, now, roomID, id, roomID)
		default:
			res, err = db.ExecContext(ctx, `
				UPDATE interactions SET status = ?, updated_at = ?
				WHERE room_id = ? AND id = ? AND status IN ('waiting', 'live')
			`, status, now, roomID, id)
		}
		if err != nil {
			if isUniqueViolation(err) {
				return types.ErrSpeakerAlreadyLive
			}
			return fmt.Errorf("failed to update interaction: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n == 0 {
			if status == types.InteractionLive {
				return types.ErrSpeakerAlreadyLive
			}
			return types.ErrInvalidTransition
		}
		return nil
	})
}

// BulkEndWaiting ends every waiting record of the room in one statement and
// reports how many rows changed.
func (m *Manager) BulkEndWaiting(ctx context.Context, roomID string) (int64, error) {
	var ended int64
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			UPDATE interactions SET status = 'ended', updated_at = ?
			WHERE room_id = ? AND status = 'waiting'
		`, m.now(), roomID)
		if err != nil {
			return fmt.Errorf("failed to end waiting interactions: %w", err)
		}
		ended, err = res.RowsAffected()
		return err
	})
	return ended, err
}

// ListRecentMessages returns up to limit messages of the room, newest first.
func (m *Manager) ListRecentMessages(ctx context.Context, roomID string, limit int) ([]types.ChatMessage, error) {
	if limit <= 0 {
		return []types.ChatMessage{}, nil
	}
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, room_id, author_id, author_name, author_role, body, is_question, created_at
		FROM messages
		WHERE room_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := []types.ChatMessage{}
	for rows.Next() {
		var msg types.ChatMessage
		err := rows.Scan(&msg.ID, &msg.RoomID, &msg.AuthorID, &msg.AuthorName, &msg.AuthorRole,
			&msg.Body, &msg.IsQuestion, &msg.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}

// InsertMessage stores a chat message and fills in ID, RoomID and CreatedAt
// FUNCTIONAL DISCOVERY: the client's local id is never persisted, the store
// always assigns its own
func (m *Manager) InsertMessage(ctx context.Context, roomID string, message *types.ChatMessage) error {
	if !types.IsValidRoomID(roomID) {
		return types.ErrInvalidRoomID
	}
	if err := message.Validate(); err != nil {
		return err
	}
	message.ID = uuid.NewString()
	message.RoomID = roomID
	message.DeliveryStatus = ""

	return m.executeWrite(ctx, func(db *sql.DB) error {
		message.CreatedAt = m.now()
		_, err := db.ExecContext(ctx, `
			INSERT INTO messages (id, room_id, author_id, author_name, author_role, body, is_question, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, message.ID, message.RoomID, message.AuthorID, message.AuthorName, message.AuthorRole,
			message.Body, message.IsQuestion, message.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
}

// ForRoom binds the manager to one room as an interfaces.Store.
func (m *Manager) ForRoom(roomID string) interfaces.Store {
	return &roomStore{m: m, room: roomID}
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM interactions").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection for migrations
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close stops the writer and closes the pool. Safe to call twice.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

type roomStore struct {
	m    *Manager
	room string
}

func (s *roomStore) ListInteractions(ctx context.Context, statuses []types.InteractionStatus) ([]types.InteractionRecord, error) {
	return s.m.ListInteractions(ctx, s.room, statuses)
}

func (s *roomStore) InsertInteraction(ctx context.Context, record *types.InteractionRecord) error {
	return s.m.InsertInteraction(ctx, s.room, record)
}

func (s *roomStore) UpdateInteractionStatus(ctx context.Context, id string, status types.InteractionStatus) error {
	return s.m.UpdateInteractionStatus(ctx, s.room, id, status)
}

func (s *roomStore) BulkEndWaiting(ctx context.Context) error {
	_, err := s.m.BulkEndWaiting(ctx, s.room)
	return err
}

func (s *roomStore) ListRecentMessages(ctx context.Context, limit int) ([]types.ChatMessage, error) {
	return s.m.ListRecentMessages(ctx, s.room, limit)
}

func (s *roomStore) InsertMessage(ctx context.Context, message *types.ChatMessage) error {
	return s.m.InsertMessage(ctx, s.room, message)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func isBusy(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}
