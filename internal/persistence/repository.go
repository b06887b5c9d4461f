package persistence

import "tradewise-engine/internal/models"

// StrategyRepository stores strategies together with their rules.
type StrategyRepository interface {
	// SaveStrategy creates or replaces a strategy. An empty ID is assigned.
	SaveStrategy(s *models.Strategy) error

	// LoadStrategy returns models.ErrNotFound when the strategy does not exist
	// and models.ErrAccessDenied when ownerID does not own it.
	LoadStrategy(id, ownerID string) (*models.Strategy, error)

	// ListStrategies returns every strategy owned by ownerID.
	ListStrategies(ownerID string) ([]*models.Strategy, error)

	// DeleteStrategy removes a strategy and every subscription that refers to it.
	DeleteStrategy(id, ownerID string) error
}

// SubscriptionRepository stores live-monitor subscriptions and their state.
type SubscriptionRepository interface {
	// SaveSubscription creates or replaces a subscription after checking that
	// the user owns the referenced strategy.
	SaveSubscription(sub *models.Subscription) error

	LoadSubscription(id string) (*models.Subscription, error)

	ListActiveSubscriptions() ([]*models.Subscription, error)

	// SaveState persists the runtime state of one subscription.
	SaveState(state *models.SubscriptionState) error

	// LoadState returns (nil, nil) when no state has been saved yet.
	LoadState(subscriptionID string) (*models.SubscriptionState, error)
}

// Repository is the full persistence surface.
type Repository interface {
	StrategyRepository
	SubscriptionRepository

	// Close gracefully closes the connection to the database.
	Close() error
}
