package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/agnox/callcore/internal/types"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PostgresStore implements Store on a Postgres pool. Writes are
// upserts keyed by entity id so replays after a crash are harmless.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgresStore connects to Postgres and ensures the schema exists.
func NewPostgresStore(ctx context.Context, url string, logger zerolog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: logger}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info().Msg("Postgres store initialized")
	return s, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS customers (
			customer_id TEXT PRIMARY KEY,
			phone_number TEXT UNIQUE NOT NULL,
			name TEXT,
			email TEXT,
			metadata JSONB,
			total_calls INTEGER NOT NULL DEFAULT 0,
			last_call_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
			agent_id TEXT PRIMARY KEY,
			name TEXT,
			phone_number TEXT,
			status TEXT NOT NULL,
			load INTEGER NOT NULL DEFAULT 0,
			capacity INTEGER NOT NULL DEFAULT 1,
			skills TEXT[],
			status_since TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS call_queue (
			entry_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			priority INTEGER NOT NULL,
			skill TEXT,
			status TEXT NOT NULL,
			assigned_agent_id TEXT,
			enqueued_at TIMESTAMPTZ NOT NULL,
			assigned_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS call_sessions (
			session_id TEXT PRIMARY KEY,
			date_key TEXT NOT NULL,
			direction TEXT NOT NULL,
			customer_id TEXT,
			agent_id TEXT,
			room_name TEXT,
			phone_number TEXT,
			state TEXT NOT NULL,
			mode TEXT NOT NULL,
			sentiment TEXT,
			transfer_count INTEGER NOT NULL DEFAULT 0,
			start_time TEXT NOT NULL,
			end_time TEXT,
			duration_seconds DOUBLE PRECISION,
			end_reason TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_call_sessions_date_key ON call_sessions (date_key)`,
		`CREATE TABLE IF NOT EXISTS transcripts (
			session_id TEXT NOT NULL,
			ts TEXT NOT NULL,
			speaker TEXT NOT NULL,
			text TEXT NOT NULL,
			confidence DOUBLE PRECISION,
			sentiment TEXT,
			PRIMARY KEY (session_id, ts)
		)`,
		`CREATE TABLE IF NOT EXISTS transfers (
			transfer_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			source_mode TEXT NOT NULL,
			source_agent_id TEXT,
			target_agent_id TEXT,
			kind TEXT NOT NULL,
			reason TEXT,
			outcome TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			resolved_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS callbacks (
			callback_id TEXT PRIMARY KEY,
			customer_id TEXT NOT NULL,
			phone_number TEXT NOT NULL,
			scheduled_at TIMESTAMPTZ NOT NULL,
			reason TEXT,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveCustomer(c types.Customer) error {
	_, err := s.pool.Exec(context.Background(), `
		INSERT INTO customers (customer_id, phone_number, name, email, metadata, total_calls, last_call_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (customer_id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			metadata = EXCLUDED.metadata,
			total_calls = EXCLUDED.total_calls,
			last_call_at = EXCLUDED.last_call_at,
			updated_at = EXCLUDED.updated_at`,
		c.ID, c.PhoneNumber, c.Name, c.Email, c.Metadata, c.TotalCalls, c.LastCallAt, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save customer: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveAgent(a types.Agent) error {
	_, err := s.pool.Exec(context.Background(), `
		INSERT INTO agents (agent_id, name, phone_number, status, load, capacity, skills, status_since)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (agent_id) DO UPDATE SET
			name = EXCLUDED.name,
			phone_number = EXCLUDED.phone_number,
			status = EXCLUDED.status,
			load = EXCLUDED.load,
			capacity = EXCLUDED.capacity,
			skills = EXCLUDED.skills,
			status_since = EXCLUDED.status_since`,
		a.ID, a.Name, a.PhoneNumber, string(a.Status), a.Load, a.Capacity, a.Skills, a.StatusSince)
	if err != nil {
		return fmt.Errorf("failed to save agent: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveQueueEntry(e types.QueueEntry) error {
	_, err := s.pool.Exec(context.Background(), `
		INSERT INTO call_queue (entry_id, session_id, priority, skill, status, assigned_agent_id, enqueued_at, assigned_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (entry_id) DO UPDATE SET
			priority = EXCLUDED.priority,
			status = EXCLUDED.status,
			assigned_agent_id = EXCLUDED.assigned_agent_id,
			assigned_at = EXCLUDED.assigned_at`,
		e.ID, e.SessionID, int(e.Priority), e.Skill, string(e.Status), e.AssignedAgentID, e.EnqueuedAt, e.AssignedAt)
	if err != nil {
		return fmt.Errorf("failed to save queue entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveSession(rec types.SessionRecord) error {
	_, err := s.pool.Exec(context.Background(), `
		INSERT INTO call_sessions (session_id, date_key, direction, customer_id, agent_id, room_name, phone_number,
			state, mode, sentiment, transfer_count, start_time, end_time, duration_seconds, end_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (session_id) DO UPDATE SET
			customer_id = EXCLUDED.customer_id,
			agent_id = EXCLUDED.agent_id,
			state = EXCLUDED.state,
			mode = EXCLUDED.mode,
			sentiment = EXCLUDED.sentiment,
			transfer_count = EXCLUDED.transfer_count,
			end_time = EXCLUDED.end_time,
			duration_seconds = EXCLUDED.duration_seconds,
			end_reason = EXCLUDED.end_reason`,
		rec.SessionID, rec.DateKey, rec.Direction, rec.CustomerID, rec.AgentID, rec.RoomName, rec.PhoneNumber,
		rec.State, rec.Mode, rec.Sentiment, rec.TransferCount, rec.StartTime, rec.EndTime, rec.DurationSeconds, rec.EndReason)
	if err != nil {
		return fmt.Errorf("failed to save session record: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendTranscript(rec types.TranscriptRecord) error {
	_, err := s.pool.Exec(context.Background(), `
		INSERT INTO transcripts (session_id, ts, speaker, text, confidence, sentiment)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, ts) DO NOTHING`,
		rec.SessionID, rec.Timestamp, rec.Speaker, rec.Text, rec.Confidence, rec.Sentiment)
	if err != nil {
		return fmt.Errorf("failed to append transcript record: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveTransfer(tr types.TransferRequest) error {
	_, err := s.pool.Exec(context.Background(), `
		INSERT INTO transfers (transfer_id, session_id, source_mode, source_agent_id, target_agent_id, kind, reason, outcome, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (transfer_id) DO UPDATE SET
			target_agent_id = EXCLUDED.target_agent_id,
			outcome = EXCLUDED.outcome,
			resolved_at = EXCLUDED.resolved_at`,
		tr.ID, tr.SessionID, string(tr.SourceMode), tr.SourceAgentID, tr.TargetAgentID, string(tr.Kind), tr.Reason, string(tr.Outcome), tr.CreatedAt, tr.ResolvedAt)
	if err != nil {
		return fmt.Errorf("failed to save transfer request: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveCallback(cb types.Callback) error {
	_, err := s.pool.Exec(context.Background(), `
		INSERT INTO callbacks (callback_id, customer_id, phone_number, scheduled_at, reason, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (callback_id) DO UPDATE SET
			scheduled_at = EXCLUDED.scheduled_at,
			status = EXCLUDED.status`,
		cb.ID, cb.CustomerID, cb.PhoneNumber, cb.ScheduledAt, cb.Reason, string(cb.Status), cb.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save callback: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadCustomers() ([]types.Customer, error) {
	rows, err := s.pool.Query(context.Background(), `
		SELECT customer_id, phone_number, COALESCE(name, ''), COALESCE(email, ''), metadata,
			total_calls, last_call_at, created_at, updated_at
		FROM customers`)
	if err != nil {
		return nil, fmt.Errorf("failed to load customers: %w", err)
	}
	defer rows.Close()

	var customers []types.Customer
	for rows.Next() {
		var c types.Customer
		if err := rows.Scan(&c.ID, &c.PhoneNumber, &c.Name, &c.Email, &c.Metadata,
			&c.TotalCalls, &c.LastCallAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func (s *PostgresStore) LoadAgents() ([]types.Agent, error) {
	rows, err := s.pool.Query(context.Background(), `
		SELECT agent_id, COALESCE(name, ''), COALESCE(phone_number, ''), status, load, capacity, skills, status_since
		FROM agents`)
	if err != nil {
		return nil, fmt.Errorf("failed to load agents: %w", err)
	}
	defer rows.Close()

	var agents []types.Agent
	for rows.Next() {
		var a types.Agent
		var status string
		if err := rows.Scan(&a.ID, &a.Name, &a.PhoneNumber, &status, &a.Load, &a.Capacity, &a.Skills, &a.StatusSince); err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		a.Status = types.AgentStatus(status)
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (s *PostgresStore) LoadWaitingEntries() ([]types.QueueEntry, error) {
	rows, err := s.pool.Query(context.Background(), `
		SELECT entry_id, session_id, priority, COALESCE(skill, ''), status, COALESCE(assigned_agent_id, ''), enqueued_at, assigned_at
		FROM call_queue
		WHERE status = $1`, string(types.EntryWaiting))
	if err != nil {
		return nil, fmt.Errorf("failed to load waiting entries: %w", err)
	}
	defer rows.Close()

	var entries []types.QueueEntry
	for rows.Next() {
		var e types.QueueEntry
		var priority int
		var status string
		if err := rows.Scan(&e.ID, &e.SessionID, &priority, &e.Skill, &status, &e.AssignedAgentID, &e.EnqueuedAt, &e.AssignedAt); err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		e.Priority = types.Priority(priority)
		e.Status = types.QueueEntryStatus(status)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) LoadCallbacks() ([]types.Callback, error) {
	rows, err := s.pool.Query(context.Background(), `
		SELECT callback_id, customer_id, phone_number, scheduled_at, COALESCE(reason, ''), status, created_at
		FROM callbacks
		WHERE status = $1`, string(types.CallbackScheduled))
	if err != nil {
		return nil, fmt.Errorf("failed to load callbacks: %w", err)
	}
	defer rows.Close()

	var callbacks []types.Callback
	for rows.Next() {
		var cb types.Callback
		var status string
		if err := rows.Scan(&cb.ID, &cb.CustomerID, &cb.PhoneNumber, &cb.ScheduledAt, &cb.Reason, &status, &cb.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan callback: %w", err)
		}
		cb.Status = types.CallbackStatus(status)
		callbacks = append(callbacks, cb)
	}
	return callbacks, rows.Err()
}

func (s *PostgresStore) GetSessions(dateKey string) ([]types.SessionRecord, error) {
	rows, err := s.pool.Query(context.Background(), `
		SELECT session_id, date_key, direction, COALESCE(customer_id, ''), COALESCE(agent_id, ''),
			COALESCE(room_name, ''), COALESCE(phone_number, ''), state, mode, COALESCE(sentiment, ''),
			transfer_count, start_time, COALESCE(end_time, ''), COALESCE(duration_seconds, 0), COALESCE(end_reason, '')
		FROM call_sessions
		WHERE date_key = $1
		ORDER BY start_time`, dateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var records []types.SessionRecord
	for rows.Next() {
		var r types.SessionRecord
		if err := rows.Scan(&r.SessionID, &r.DateKey, &r.Direction, &r.CustomerID, &r.AgentID,
			&r.RoomName, &r.PhoneNumber, &r.State, &r.Mode, &r.Sentiment,
			&r.TransferCount, &r.StartTime, &r.EndTime, &r.DurationSeconds, &r.EndReason); err != nil {
			return nil, fmt.Errorf("failed to scan session record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *PostgresStore) GetTranscript(sessionID string) ([]types.TranscriptRecord, error) {
	rows, err := s.pool.Query(context.Background(), `
		SELECT session_id, ts, speaker, text, COALESCE(confidence, 0), COALESCE(sentiment, '')
		FROM transcripts
		WHERE session_id = $1
		ORDER BY ts`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcript: %w", err)
	}
	defer rows.Close()

	var records []types.TranscriptRecord
	for rows.Next() {
		var r types.TranscriptRecord
		if err := rows.Scan(&r.SessionID, &r.Timestamp, &r.Speaker, &r.Text, &r.Confidence, &r.Sentiment); err != nil {
			return nil, fmt.Errorf("failed to scan transcript record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
