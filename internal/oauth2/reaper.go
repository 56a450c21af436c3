package oauth2

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"token-broker/internal/common/errors"
	"token-broker/internal/common/logging"
	"token-broker/internal/locks"
	"token-broker/internal/storage"
)

const (
	// DefaultReaperSchedule sweeps every five minutes.
	DefaultReaperSchedule = "@every 5m"

	reaperLockKey = "pending-reaper"
	reaperLockTTL = time.Minute
)

// SweepLocker lets instances sharing a pending store take turns sweeping it.
// locks.RedsyncManager satisfies it.
type SweepLocker interface {
	TryAcquire(ctx context.Context, key string, expiration time.Duration) (locks.Lock, error)
}

// ReaperOptions configures a Reaper.
type ReaperOptions struct {
	// Schedule is a cron spec or descriptor such as "@every 5m".
	Schedule string
	// Locker is optional; without it every sweep runs.
	Locker SweepLocker
	Logger logging.Logger
	Clock  func() time.Time
}

// Reaper deletes pending authorizations whose expiry has passed.
type Reaper struct {
	store    storage.PendingAuthorizationStore
	schedule cron.Schedule
	spec     string
	locker   SweepLocker
	logger   logging.Logger
	now      func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewReaper validates the schedule and builds a stopped Reaper.
func NewReaper(store storage.PendingAuthorizationStore, opts ReaperOptions) (*Reaper, error) {
	if store == nil {
		return nil, errors.ConfigError("pending authorization store is required")
	}
	if opts.Schedule == "" {
		opts.Schedule = DefaultReaperSchedule
	}

	schedule, err := cron.ParseStandard(opts.Schedule)
	if err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid reaper schedule %q: %v", opts.Schedule, err))
	}

	r := &Reaper{
		store:    store,
		schedule: schedule,
		spec:     opts.Schedule,
		locker:   opts.Locker,
		logger:   opts.Logger,
		now:      opts.Clock,
	}
	if r.logger == nil {
		r.logger = logging.GetGlobalLogger()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// Start schedules sweeps. Calling Start on a running Reaper does nothing.
func (r *Reaper) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron != nil {
		return
	}

	cl := cronLogger{r.logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Schedule(r.schedule, cron.FuncJob(func() {
		r.sweep(context.Background())
	}))
	c.Start()
	r.cron = c

	r.logger.Info("Pending authorization reaper started",
		logging.String("schedule", r.spec),
		logging.Bool("locked", r.locker != nil),
	)
}

// Stop cancels future sweeps and waits for a running one to finish.
func (r *Reaper) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	r.logger.Info("Pending authorization reaper stopped")
}

// Running reports whether sweeps are scheduled.
func (r *Reaper) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cron != nil
}

// SweepOnce deletes every pending authorization expired at the current time
// and returns how many it removed. It ignores the locker.
func (r *Reaper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := r.now()
	expired, err := r.store.ListExpiredPendingAuthorizations(ctx, cutoff)
	if err != nil {
		return 0, errors.InternalError("failed to list expired pending authorizations", err)
	}

	removed := 0
	var firstErr error
	for _, pending := range expired {
		if err := r.store.DeletePendingAuthorization(ctx, pending.ID); err != nil {
			r.logger.Warn("Failed to delete expired pending authorization",
				logging.Int64("pending_id", pending.ID),
				logging.Err(err),
			)
			if firstErr == nil {
				firstErr = errors.InternalError("failed to delete expired pending authorization", err)
			}
			continue
		}
		removed++
	}
	return removed, firstErr
}

// sweep is the scheduled job; failures are logged and retried next tick.
func (r *Reaper) sweep(ctx context.Context) {
	if r.locker != nil {
		lock, err := r.locker.TryAcquire(ctx, reaperLockKey, reaperLockTTL)
		if err != nil {
			r.logger.Error("Failed to acquire reaper lock", err)
			return
		}
		if lock == nil {
			r.logger.Debug("Reaper sweep skipped, another instance holds the lock")
			return
		}
		defer lock.Release(ctx)
	}

	removed, err := r.SweepOnce(ctx)
	if err != nil {
		r.logger.Error("Reaper sweep failed", err, logging.Int("removed", removed))
		return
	}
	if removed > 0 {
		r.logger.Info("Reaped expired pending authorizations", logging.Int("removed", removed))
	}
}

// cronLogger routes robfig/cron's logr-style output to the broker logger.
type cronLogger struct {
	logger logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.logger.Error("cron: "+msg, err, kvFields(keysAndValues)...)
}

func kvFields(keysAndValues []interface{}) []logging.Field {
	fields := make([]logging.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		fields = append(fields, logging.Any(key, keysAndValues[i+1]))
	}
	return fields
}
