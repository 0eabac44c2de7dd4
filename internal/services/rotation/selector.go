package rotation

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/aethrix-hub/assistant/internal/models"
	"github.com/sirupsen/logrus"
)

// UsesPerModel is how many selections a user gets before moving to the next
// model of the pool
const UsesPerModel = 5

// Selector picks the upstream model for a user. Each user is pinned to a
// randomly chosen slot of the pool and advances one slot every UsesPerModel
// selections.
type Selector struct {
	store  LedgerStore
	logger *logrus.Logger
	intn   func(n int) int
	now    func() time.Time

	// serialises load-mutate-save within this process
	mu sync.Mutex
}

// SelectorOption configures a Selector
type SelectorOption func(*Selector)

// WithRand replaces the random slot picker; intn must return a value in [0, n)
func WithRand(intn func(n int) int) SelectorOption {
	return func(s *Selector) {
		s.intn = intn
	}
}

// WithClock replaces the clock used for LastUsed stamps
func WithClock(now func() time.Time) SelectorOption {
	return func(s *Selector) {
		s.now = now
	}
}

// NewSelector creates a selector backed by store
func NewSelector(store LedgerStore, logger *logrus.Logger, opts ...SelectorOption) *Selector {
	s := &Selector{
		store:  store,
		logger: logger,
		intn:   rand.Intn,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SelectModel returns the model to use for userKey's next request. Without
// auto-switching or a saved pool it returns settings.ModelName and does not
// touch the ledger. An empty userKey is tracked as GlobalUserKey.
//
// The threshold is checked before the increment: a fresh user gets the
// initial model for calls 1 through 5 and the next model on call 6.
func (s *Selector) SelectModel(ctx context.Context, settings models.AiSettings, userKey string) string {
	pool := settings.SavedModels
	if !settings.AutoSwitch || len(pool) == 0 {
		return settings.ModelName
	}

	if userKey == "" {
		userKey = models.GlobalUserKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// A ledger that could not be read is never written back, or every other
	// user's assignment would be lost
	state, loadErr := s.store.Load(ctx)
	if loadErr != nil {
		s.logger.WithError(loadErr).WithField("user", userKey).Warn("Failed to load rotation ledger, using a one-off slot")
		state = models.NewRotationState()
	}

	entry, exists := state.Users[userKey]
	if !exists {
		entry = models.UserRotation{ModelIndex: s.intn(len(pool))}
	}

	if entry.ModelIndex < 0 || entry.ModelIndex >= len(pool) {
		entry.ModelIndex = s.intn(len(pool))
	}

	if entry.UsageCount >= UsesPerModel {
		entry.ModelIndex = (entry.ModelIndex + 1) % len(pool)
		entry.UsageCount = 0
		s.logger.WithFields(logrus.Fields{
			"user":  userKey,
			"model": pool[entry.ModelIndex],
		}).Debug("Rotated to next model")
	}

	entry.UsageCount++
	entry.LastUsed = s.now().UnixMilli()
	state.Users[userKey] = entry

	if loadErr != nil {
		return pool[entry.ModelIndex]
	}
	if err := s.store.Save(ctx, state); err != nil {
		s.logger.WithError(err).WithField("user", userKey).Error("Failed to save rotation ledger")
	}

	return pool[entry.ModelIndex]
}

// Prune drops idle ledger entries while holding the selection lock
func (s *Selector) Prune(ctx context.Context, maxIdle time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Prune(ctx, s.store, maxIdle, s.now())
}
