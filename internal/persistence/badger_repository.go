package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"tradewise-engine/internal/ids"
	"tradewise-engine/internal/models"

	"github.com/dgraph-io/badger/v3"
)

const (
	strategyPrefix     = "strategy/"
	subscriptionPrefix = "subscription/"
	statePrefix        = "state/"
)

// badgerRepository is the BadgerDB implementation of Repository.
type badgerRepository struct {
	db *badger.DB
}

// NewBadgerRepository creates and returns a new repository instance connected to a BadgerDB database.
func NewBadgerRepository(dbPath string) (Repository, error) {
	return open(badger.DefaultOptions(dbPath))
}

// NewInMemoryRepository returns a repository that keeps everything in memory.
func NewInMemoryRepository() (Repository, error) {
	return open(badger.DefaultOptions("").WithInMemory(true))
}

func open(opts badger.Options) (Repository, error) {
	// Badger logs through our own logger would be noise; errors still come back from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &badgerRepository{db: db}, nil
}

func (r *badgerRepository) SaveStrategy(s *models.Strategy) error {
	if s.ID == "" {
		s.ID = ids.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	return r.db.Update(func(txn *badger.Txn) error {
		existing, err := getJSON[models.Strategy](txn, strategyPrefix+s.ID)
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if existing != nil && existing.OwnerID != s.OwnerID {
			return fmt.Errorf("strategy %s: %w", s.ID, models.ErrAccessDenied)
		}
		return setJSON(txn, strategyPrefix+s.ID, s)
	})
}

func (r *badgerRepository) LoadStrategy(id, ownerID string) (*models.Strategy, error) {
	var s *models.Strategy
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		s, err = getJSON[models.Strategy](txn, strategyPrefix+id)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("strategy %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if s.OwnerID != ownerID {
		return nil, fmt.Errorf("strategy %s: %w", id, models.ErrAccessDenied)
	}
	return s, nil
}

func (r *badgerRepository) ListStrategies(ownerID string) ([]*models.Strategy, error) {
	var out []*models.Strategy
	err := r.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, strategyPrefix, func(val []byte) error {
			var s models.Strategy
			if err := json.Unmarshal(val, &s); err != nil {
				return err
			}
			if s.OwnerID == ownerID {
				out = append(out, &s)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *badgerRepository) DeleteStrategy(id, ownerID string) error {
	if _, err := r.LoadStrategy(id, ownerID); err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		var subIDs []string
		err := scanPrefix(txn, subscriptionPrefix, func(val []byte) error {
			var sub models.Subscription
			if err := json.Unmarshal(val, &sub); err != nil {
				return err
			}
			if sub.StrategyID == id {
				subIDs = append(subIDs, sub.ID)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, sid := range subIDs {
			if err := txn.Delete([]byte(subscriptionPrefix + sid)); err != nil {
				return err
			}
			if err := txn.Delete([]byte(statePrefix + sid)); err != nil {
				return err
			}
		}
		return txn.Delete([]byte(strategyPrefix + id))
	})
}

func (r *badgerRepository) SaveSubscription(sub *models.Subscription) error {
	if _, err := r.LoadStrategy(sub.StrategyID, sub.UserID); err != nil {
		return err
	}
	if sub.ID == "" {
		sub.ID = ids.New()
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, subscriptionPrefix+sub.ID, sub)
	})
}

func (r *badgerRepository) LoadSubscription(id string) (*models.Subscription, error) {
	var sub *models.Subscription
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		sub, err = getJSON[models.Subscription](txn, subscriptionPrefix+id)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("subscription %s: %w", id, models.ErrNotFound)
	}
	return sub, err
}

func (r *badgerRepository) ListActiveSubscriptions() ([]*models.Subscription, error) {
	var out []*models.Subscription
	err := r.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, subscriptionPrefix, func(val []byte) error {
			var sub models.Subscription
			if err := json.Unmarshal(val, &sub); err != nil {
				return err
			}
			if sub.Active {
				out = append(out, &sub)
			}
			return nil
		})
	})
	return out, err
}

// SaveState atomically saves the runtime state of one subscription.
func (r *badgerRepository) SaveState(state *models.SubscriptionState) error {
	return r.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, statePrefix+state.SubscriptionID, state)
	})
}

// LoadState returns (nil, nil) to indicate no state is present.
func (r *badgerRepository) LoadState(subscriptionID string) (*models.SubscriptionState, error) {
	var state *models.SubscriptionState
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		state, err = getJSON[models.SubscriptionState](txn, statePrefix+subscriptionID)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return state, nil
}

// Close gracefully closes the connection to the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}

func getJSON[T any](txn *badger.Txn, key string) (*T, error) {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return nil, err
	}
	var v T
	err = item.Value(func(val []byte) error {
		if len(val) == 0 {
			return fmt.Errorf("value for %s is empty in database", key)
		}
		return json.Unmarshal(val, &v)
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func setJSON(txn *badger.Txn, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set([]byte(key), data)
}

func scanPrefix(txn *badger.Txn, prefix string, fn func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}
