package conversation

import (
	"context"

	"github.com/teemow/urmindr/internal/instrumentation"
)

// instrumentedStore records one store-operation metric per call.
type instrumentedStore struct {
	Store
	backend string
	metrics *instrumentation.Metrics
}

// Instrument wraps store so every operation is counted under backend.
// A nil metrics value returns store unchanged.
func Instrument(store Store, backend string, metrics *instrumentation.Metrics) Store {
	if metrics == nil {
		return store
	}
	return &instrumentedStore{Store: store, backend: backend, metrics: metrics}
}

func (s *instrumentedStore) record(ctx context.Context, op string, err error) {
	s.metrics.RecordStoreOperation(ctx, s.backend, op, instrumentation.StatusFor(err))
}

func (s *instrumentedStore) GetOrCreateConversation(ctx context.Context, subjectID, conversationID string) (string, error) {
	op := instrumentation.OperationGet
	if conversationID == "" {
		op = instrumentation.OperationCreate
	}
	id, err := s.Store.GetOrCreateConversation(ctx, subjectID, conversationID)
	s.record(ctx, op, err)
	return id, err
}

func (s *instrumentedStore) AppendTurn(ctx context.Context, subjectID, conversationID string, role Role, content string) error {
	err := s.Store.AppendTurn(ctx, subjectID, conversationID, role, content)
	s.record(ctx, instrumentation.OperationAppend, err)
	return err
}

func (s *instrumentedStore) ListTurns(ctx context.Context, subjectID, conversationID string) ([]Turn, error) {
	turns, err := s.Store.ListTurns(ctx, subjectID, conversationID)
	s.record(ctx, instrumentation.OperationList, err)
	return turns, err
}

func (s *instrumentedStore) ListConversations(ctx context.Context, subjectID string) ([]Conversation, error) {
	convs, err := s.Store.ListConversations(ctx, subjectID)
	s.record(ctx, instrumentation.OperationList, err)
	return convs, err
}
