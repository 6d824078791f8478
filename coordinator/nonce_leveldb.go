package coordinator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const paymentKeyPrefix = "payment:"

// LevelDBPaymentSet persists consumed authorization nonces so a coordinator
// restart inside a round does not reopen replay windows. The set is still
// session-scoped: Reset wipes it on rollover or resync.
type LevelDBPaymentSet struct {
	db *leveldb.DB
}

// NewLevelDBPaymentSet opens (or creates) a LevelDB database at the provided
// path.
func NewLevelDBPaymentSet(path string) (*LevelDBPaymentSet, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("leveldb payment set path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve leveldb payment set path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb payment set: %w", err)
	}
	return &LevelDBPaymentSet{db: db}, nil
}

// Close releases the underlying LevelDB resources.
func (s *LevelDBPaymentSet) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Seen reports whether the (payer, nonce) pair has been consumed for the
// round.
func (s *LevelDBPaymentSet) Seen(_ context.Context, roundID uint64, payer, nonce string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("leveldb payment set not configured")
	}
	ok, err := s.db.Has([]byte(paymentKeyPrefix+paymentKey(roundID, payer, nonce)), nil)
	if err != nil {
		return false, fmt.Errorf("load payment nonce: %w", err)
	}
	return ok, nil
}

// Mark records a consumed pair.
func (s *LevelDBPaymentSet) Mark(_ context.Context, roundID uint64, payer, nonce string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("leveldb payment set not configured")
	}
	if err := s.db.Put([]byte(paymentKeyPrefix+paymentKey(roundID, payer, nonce)), nil, nil); err != nil {
		return fmt.Errorf("record payment nonce: %w", err)
	}
	return nil
}

// Reset deletes every recorded pair.
func (s *LevelDBPaymentSet) Reset(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("leveldb payment set not configured")
	}
	iter := s.db.NewIterator(util.BytesPrefix([]byte(paymentKeyPrefix)), nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("iterate payment nonces: %w", err)
	}
	if batch.Len() > 0 {
		if err := s.db.Write(batch, nil); err != nil {
			return fmt.Errorf("reset payment set: %w", err)
		}
	}
	return nil
}
