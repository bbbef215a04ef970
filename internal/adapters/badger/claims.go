// Package badger keeps short-lived exclusive claims in an embedded Badger database.
// Claims are plain keys written with a TTL, so expiry needs no sweeper.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/manthysbr/socialpilot/internal/core/domain"
	"github.com/manthysbr/socialpilot/internal/core/ports"
)

type ClaimStore struct {
	db     *badgerdb.DB
	logger *slog.Logger
}

var _ ports.ClaimStore = (*ClaimStore)(nil)

// Open opens (or creates) the claim database at path. An empty path keeps it in memory.
func Open(path string, logger *slog.Logger) (*ClaimStore, error) {
	opts := badgerdb.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open claim store: %w", err)
	}
	return &ClaimStore{db: db, logger: logger}, nil
}

func (s *ClaimStore) Close() error {
	return s.db.Close()
}

func claimKey(owner domain.OwnerID, target string) []byte {
	return []byte("claim:" + string(owner) + ":" + target)
}

// AcquireClaim writes the key if no live claim exists. A concurrent writer
// racing on the same key makes the transaction conflict, which counts as held.
func (s *ClaimStore) AcquireClaim(_ context.Context, owner domain.OwnerID, target string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = domain.DefaultClaimTTL
	}
	key := claimKey(owner, target)
	acquired := false

	err := s.db.Update(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badgerdb.ErrKeyNotFound) {
			return err
		}
		expires := time.Now().Add(ttl).UTC().Format(time.RFC3339)
		if err := txn.SetEntry(badgerdb.NewEntry(key, []byte(expires)).WithTTL(ttl)); err != nil {
			return err
		}
		acquired = true
		return nil
	})
	if errors.Is(err, badgerdb.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire claim %s: %w", key, err)
	}
	return acquired, nil
}

// ReleaseClaim drops a claim before its TTL runs out.
func (s *ClaimStore) ReleaseClaim(_ context.Context, owner domain.OwnerID, target string) error {
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(claimKey(owner, target))
	})
	if err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}

// RunGC reclaims value-log space until ctx is cancelled.
func (s *ClaimStore) RunGC(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for s.db.RunValueLogGC(0.5) == nil {
			}
		}
	}
}
