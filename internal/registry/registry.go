package registry

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"TradeWarden/internal/model"
	"TradeWarden/internal/store"
)

var (
	// ErrDuplicateSubscription means an identical watch already exists.
	ErrDuplicateSubscription = errors.New("subscription already exists")
	// ErrNotFound means no subscription matches the removal request.
	ErrNotFound = errors.New("subscription not found")
)

// Registry manages the set of active indicator subscriptions. All operations
// write through to the store so the watch list survives restarts.
type Registry struct {
	store store.Store
}

func New(st store.Store) *Registry {
	return &Registry{store: st}
}

// Add validates and registers a new subscription. The stored copy gets a
// fresh ID and creation time; parameter validation happens before any write.
func (r *Registry) Add(sub model.Subscription) (model.Subscription, error) {
	if err := validate(sub); err != nil {
		return model.Subscription{}, err
	}

	existing, err := r.store.ListSubscriptions()
	if err != nil {
		return model.Subscription{}, model.External("list subscriptions", err)
	}
	for _, e := range existing {
		if e.Key() == sub.Key() {
			return model.Subscription{}, ErrDuplicateSubscription
		}
	}

	sub.ID = uuid.NewString()
	sub.CreatedAt = time.Now().UTC()
	if err := r.store.UpsertSubscription(sub); err != nil {
		return model.Subscription{}, model.External("save subscription", err)
	}
	log.Printf("[INFO] subscribed: %s", sub.Key())
	return sub, nil
}

// Remove deletes the subscription with the given key.
func (r *Registry) Remove(key string) error {
	existing, err := r.store.ListSubscriptions()
	if err != nil {
		return model.External("list subscriptions", err)
	}
	for _, e := range existing {
		if e.Key() == key {
			if err := r.store.DeleteSubscription(key); err != nil {
				return model.External("delete subscription", err)
			}
			log.Printf("[INFO] unsubscribed: %s", key)
			return nil
		}
	}
	return ErrNotFound
}

// List returns all active subscriptions, ordered by key.
func (r *Registry) List() ([]model.Subscription, error) {
	subs, err := r.store.ListSubscriptions()
	if err != nil {
		return nil, model.External("list subscriptions", err)
	}
	return subs, nil
}

func validate(sub model.Subscription) error {
	if sub.Token == "" {
		return errors.New("token is required")
	}
	if sub.Timeframe == "" {
		return errors.New("timeframe is required")
	}
	switch sub.Indicator {
	case model.IndicatorSMA:
		if sub.Fast <= 0 || sub.Slow <= 0 {
			return errors.New("sma periods must be positive")
		}
		if sub.Fast >= sub.Slow {
			return fmt.Errorf("fast period %d must be below slow period %d", sub.Fast, sub.Slow)
		}
	case model.IndicatorRSI:
		if sub.Period <= 0 {
			return errors.New("rsi period must be positive")
		}
	default:
		return fmt.Errorf("unknown indicator %q", sub.Indicator)
	}
	return nil
}
