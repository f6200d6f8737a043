package storage

import (
	"context"

	"github.com/agnox/callcore/internal/types"
	"github.com/rs/zerolog"
)

// Store is the durable persistence layer behind the in-memory engine.
// Every entity is written through on mutation; reads are used to
// resume engine state after a restart and to serve history queries.
type Store interface {
	SaveCustomer(c types.Customer) error
	SaveAgent(a types.Agent) error
	SaveQueueEntry(e types.QueueEntry) error
	SaveSession(rec types.SessionRecord) error
	AppendTranscript(rec types.TranscriptRecord) error
	SaveTransfer(tr types.TransferRequest) error
	SaveCallback(cb types.Callback) error

	LoadCustomers() ([]types.Customer, error)
	LoadAgents() ([]types.Agent, error)
	LoadWaitingEntries() ([]types.QueueEntry, error)
	LoadCallbacks() ([]types.Callback, error)
	GetSessions(dateKey string) ([]types.SessionRecord, error)
	GetTranscript(sessionID string) ([]types.TranscriptRecord, error)
}

// NewStore creates the store selected by STORAGE_BACKEND.
func NewStore(ctx context.Context, logger zerolog.Logger) (Store, error) {
	cfg := LoadConfig()

	switch cfg.Backend {
	case BackendDynamo:
		return NewDynamoDBStore(ctx, cfg.Dynamo, logger)
	case BackendPostgres:
		return NewPostgresStore(ctx, cfg.PostgresURL, logger)
	default:
		logger.Info().Msg("durable storage disabled (STORAGE_BACKEND=none)")
		return NewNoopStore(), nil
	}
}

// NoopStore is the no-op implementation used when persistence is
// disabled.
type NoopStore struct{}

func NewNoopStore() *NoopStore { return &NoopStore{} }

func (s *NoopStore) SaveCustomer(_ types.Customer) error           { return nil }
func (s *NoopStore) SaveAgent(_ types.Agent) error                 { return nil }
func (s *NoopStore) SaveQueueEntry(_ types.QueueEntry) error       { return nil }
func (s *NoopStore) SaveSession(_ types.SessionRecord) error       { return nil }
func (s *NoopStore) AppendTranscript(_ types.TranscriptRecord) error { return nil }
func (s *NoopStore) SaveTransfer(_ types.TransferRequest) error    { return nil }
func (s *NoopStore) SaveCallback(_ types.Callback) error           { return nil }

func (s *NoopStore) LoadCustomers() ([]types.Customer, error)         { return nil, nil }
func (s *NoopStore) LoadAgents() ([]types.Agent, error)               { return nil, nil }
func (s *NoopStore) LoadWaitingEntries() ([]types.QueueEntry, error)  { return nil, nil }
func (s *NoopStore) LoadCallbacks() ([]types.Callback, error)         { return nil, nil }
func (s *NoopStore) GetSessions(_ string) ([]types.SessionRecord, error) { return nil, nil }
func (s *NoopStore) GetTranscript(_ string) ([]types.TranscriptRecord, error) {
	return nil, nil
}
