// Package memory implements the repositories in process memory. It backs the
// "memory" database driver for local runs and the end-to-end tests; all data
// is lost when the process exits.
package memory

import (
	"sync"

	"github.com/google/uuid"

	"github.com/simaogato/fundpool-backend/internal/domain"
)

type contributionKey struct {
	requestID domain.RequestID
	key       string
}

type refundKey struct {
	requestID domain.RequestID
	kind      domain.RefundKind
}

// Store holds every table behind one lock so multi-table writes (a journal
// row plus its outbox event) are atomic, like a database transaction.
type Store struct {
	mu sync.RWMutex

	requests      map[domain.RequestID]*domain.AggregationRequest
	contributions map[domain.RequestID][]*domain.ContributionRecord
	byKey         map[contributionKey]*domain.ContributionRecord
	settlements   map[domain.RequestID]*domain.Settlement
	legs          map[domain.RequestID][]*domain.LegRecord
	refunds       map[refundKey]*domain.Refund
	payees        map[domain.Address]*domain.PayeeConfig
	outbox        []*domain.Event
	outboxIndex   map[uuid.UUID]int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		requests:      make(map[domain.RequestID]*domain.AggregationRequest),
		contributions: make(map[domain.RequestID][]*domain.ContributionRecord),
		byKey:         make(map[contributionKey]*domain.ContributionRecord),
		settlements:   make(map[domain.RequestID]*domain.Settlement),
		legs:          make(map[domain.RequestID][]*domain.LegRecord),
		refunds:       make(map[refundKey]*domain.Refund),
		payees:        make(map[domain.Address]*domain.PayeeConfig),
		outboxIndex:   make(map[uuid.UUID]int),
	}
}

// appendEvent must be called with mu held.
func (s *Store) appendEvent(event *domain.Event) {
	if event == nil {
		return
	}
	e := *event
	s.outboxIndex[e.ID] = len(s.outbox)
	s.outbox = append(s.outbox, &e)
}

// total must be called with mu held.
func (s *Store) total(id domain.RequestID) domain.Amount {
	return domain.SumContributions(s.contributions[id])
}
