package services

import (
	"context"
	"fmt"
	"time"

	"papelflow/internal/aggregate"
	"papelflow/internal/cache"
	"papelflow/internal/core"
	"papelflow/internal/events"
	"papelflow/internal/log"
	"papelflow/internal/storage"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// SnapshotStore is everything the aggregation engine reads.
type SnapshotStore interface {
	ListAccounts(ctx context.Context) ([]core.Account, error)
	ListTransactions(ctx context.Context, filter storage.TransactionFilter) ([]core.Transaction, error)
	ListObligations(ctx context.Context, activeOnly bool) ([]core.RecurringObligation, error)
	storage.BudgetStore
	storage.GoalStore
}

// InsightsService serves the aggregation engine over the live store. Results
// are cached until the next ledger event.
type InsightsService struct {
	store  SnapshotStore
	cache  *cache.LRUCache[any]
	group  singleflight.Group
	logger *log.Logger
}

// NewInsightsService caches up to cacheSize results for ttl each.
func NewInsightsService(store SnapshotStore, cacheSize int, ttl time.Duration) *InsightsService {
	return &InsightsService{
		store:  store,
		cache:  cache.NewLRUCache[any](cacheSize, ttl),
		logger: log.Default(log.ComponentInsights),
	}
}

// Cache exposes the result cache so it can be swept by a cache.Manager.
func (s *InsightsService) Cache() *cache.LRUCache[any] { return s.cache }

// Snapshot loads all collections concurrently.
func (s *InsightsService) Snapshot(ctx context.Context) (aggregate.Snapshot, error) {
	var snap aggregate.Snapshot
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		accs, err := s.store.ListAccounts(ctx)
		if err != nil {
			return core.Transient("list accounts", err)
		}
		snap.Accounts = accs
		return nil
	})
	g.Go(func() error {
		txs, err := s.store.ListTransactions(ctx, storage.TransactionFilter{Status: core.StatusPosted})
		if err != nil {
			return core.Transient("list transactions", err)
		}
		snap.Transactions = txs
		return nil
	})
	g.Go(func() error {
		obs, err := s.store.ListObligations(ctx, false)
		if err != nil {
			return core.Transient("list obligations", err)
		}
		snap.Obligations = obs
		return nil
	})
	g.Go(func() error {
		budgets, err := s.store.ListBudgets(ctx)
		if err != nil {
			return core.Transient("list budgets", err)
		}
		snap.Budgets = budgets
		return nil
	})
	g.Go(func() error {
		goals, err := s.store.ListGoals(ctx)
		if err != nil {
			return core.Transient("list goals", err)
		}
		snap.Goals = goals
		return nil
	})

	if err := g.Wait(); err != nil {
		return aggregate.Snapshot{}, err
	}
	return snap, nil
}

// cached returns the value under key, computing it from a fresh snapshot on
// a miss. Concurrent misses for the same key share one computation.
func cached[T any](ctx context.Context, s *InsightsService, key string, compute func(aggregate.Snapshot) T) (T, error) {
	if v, ok := s.cache.Get(key); ok {
		if out, ok := v.(T); ok {
			return out, nil
		}
	}

	// Callers arriving after a purge must not join a computation that read
	// the ledger before it, so the generation is part of the flight key.
	gen := s.cache.Generation()
	v, err, _ := s.group.Do(fmt.Sprintf("%s@%d", key, gen), func() (any, error) {
		snap, err := s.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		out := compute(snap)
		s.cache.SetAt(gen, key, out)
		return out, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// MonthlyStats totals posted income and expenses of month m.
func (s *InsightsService) MonthlyStats(ctx context.Context, m core.Month) (aggregate.MonthlyStatsResult, error) {
	return cached(ctx, s, "stats:"+m.String(), func(snap aggregate.Snapshot) aggregate.MonthlyStatsResult {
		return aggregate.MonthlyStats(snap, m)
	})
}

func (s *InsightsService) BudgetAdherence(ctx context.Context, m core.Month) ([]aggregate.BudgetLine, error) {
	return cached(ctx, s, "adherence:"+m.String(), func(snap aggregate.Snapshot) []aggregate.BudgetLine {
		return aggregate.BudgetAdherence(snap, m)
	})
}

// SpendingForecast projects spending to the end of the month containing today.
func (s *InsightsService) SpendingForecast(ctx context.Context, today core.Date) (aggregate.Forecast, error) {
	return cached(ctx, s, "forecast:"+today.String(), func(snap aggregate.Snapshot) aggregate.Forecast {
		return aggregate.SpendingForecast(snap, today)
	})
}

func (s *InsightsService) HealthScore(ctx context.Context, today core.Date) (aggregate.HealthScoreResult, error) {
	return cached(ctx, s, "health:"+today.String(), func(snap aggregate.Snapshot) aggregate.HealthScoreResult {
		return aggregate.HealthScore(snap, today)
	})
}

// CreateBudget adds a monthly category budget.
func (s *InsightsService) CreateBudget(ctx context.Context, b core.Budget) (core.Budget, error) {
	if b.ID == "" {
		b.ID = core.NewID()
	}
	if err := b.Validate(); err != nil {
		return core.Budget{}, err
	}
	if err := s.store.CreateBudget(ctx, b); err != nil {
		return core.Budget{}, core.Transient("create budget", err)
	}
	s.invalidate(ctx, "budget created")
	return b, nil
}

func (s *InsightsService) ListBudgets(ctx context.Context) ([]core.Budget, error) {
	budgets, err := s.store.ListBudgets(ctx)
	if err != nil {
		return nil, core.Transient("list budgets", err)
	}
	return budgets, nil
}

// CreateGoal adds a savings goal.
func (s *InsightsService) CreateGoal(ctx context.Context, g core.Goal) (core.Goal, error) {
	if g.ID == "" {
		g.ID = core.NewID()
	}
	if err := g.Validate(); err != nil {
		return core.Goal{}, err
	}
	if err := s.store.CreateGoal(ctx, g); err != nil {
		return core.Goal{}, core.Transient("create goal", err)
	}
	s.invalidate(ctx, "goal created")
	return g, nil
}

func (s *InsightsService) ListGoals(ctx context.Context) ([]core.Goal, error) {
	goals, err := s.store.ListGoals(ctx)
	if err != nil {
		return nil, core.Transient("list goals", err)
	}
	return goals, nil
}

// Publish drops cached results on any ledger event, which makes the
// service usable as one of the publishers behind events.Multi.
func (s *InsightsService) Publish(ctx context.Context, e events.Event) error {
	s.invalidate(ctx, fmt.Sprintf("event %s", e.Type))
	return nil
}

func (s *InsightsService) invalidate(ctx context.Context, reason string) {
	n := s.cache.Size()
	s.cache.Purge()
	if n > 0 {
		s.logger.DebugContext(ctx, "Insights cache purged", "reason", reason, log.FieldCount, n)
	}
}
