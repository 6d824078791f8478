package coordinator

import (
	"context"
	"strconv"
	"strings"
	"sync"
)

// PaymentSet tracks consumed (payer, nonce) authorization pairs. Entries are
// scoped to a round id and the whole set is cleared on round rollover or
// resync.
type PaymentSet interface {
	Seen(ctx context.Context, roundID uint64, payer, nonce string) (bool, error)
	Mark(ctx context.Context, roundID uint64, payer, nonce string) error
	Reset(ctx context.Context) error
}

type memoryPaymentSet struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewMemoryPaymentSet returns the default in-memory processed-payment set.
func NewMemoryPaymentSet() PaymentSet {
	return &memoryPaymentSet{seen: make(map[string]struct{})}
}

func (s *memoryPaymentSet) Seen(_ context.Context, roundID uint64, payer, nonce string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[paymentKey(roundID, payer, nonce)]
	return ok, nil
}

func (s *memoryPaymentSet) Mark(_ context.Context, roundID uint64, payer, nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[paymentKey(roundID, payer, nonce)] = struct{}{}
	return nil
}

func (s *memoryPaymentSet) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = make(map[string]struct{})
	return nil
}

func paymentKey(roundID uint64, payer, nonce string) string {
	return strings.Join([]string{
		strconv.FormatUint(roundID, 10),
		strings.ToLower(strings.TrimSpace(payer)),
		strings.ToLower(strings.TrimSpace(nonce)),
	}, "|")
}
