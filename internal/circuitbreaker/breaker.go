// Package circuitbreaker stops calling the identity provider while it is
// failing, using sony/gobreaker.
package circuitbreaker

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"token-broker/internal/common/errors"
	"token-broker/internal/common/logging"
)

// Settings tunes a Breaker. Zero fields take the ProviderSettings value.
type Settings struct {
	// Threshold is the run of consecutive failures that opens the circuit.
	Threshold uint32
	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration
	// Probes is how many calls may run while half-open.
	Probes uint32
	// Window clears the closed-state counters periodically.
	Window time.Duration
}

// ProviderSettings suits OAuth2 token and verify endpoints.
var ProviderSettings = Settings{
	Threshold: 5,
	Cooldown:  time.Minute,
	Probes:    1,
	Window:    time.Minute,
}

func (s Settings) withDefaults() Settings {
	if s.Threshold == 0 {
		s.Threshold = ProviderSettings.Threshold
	}
	if s.Cooldown <= 0 {
		s.Cooldown = ProviderSettings.Cooldown
	}
	if s.Probes == 0 {
		s.Probes = ProviderSettings.Probes
	}
	if s.Window <= 0 {
		s.Window = ProviderSettings.Window
	}
	return s
}

// Snapshot is a point-in-time view for health reporting.
type Snapshot struct {
	Name                string `json:"name"`
	State               string `json:"state"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
	Requests            uint32 `json:"requests"`
	Failures            uint32 `json:"failures"`
}

type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
}

// New builds a closed breaker. A nil logger uses the global logger.
func New(name string, settings Settings, logger logging.Logger) *Breaker {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	settings = settings.withDefaults()

	return &Breaker{
		name: name,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: settings.Probes,
			Interval:    settings.Window,
			Timeout:     settings.Cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= settings.Threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("Circuit breaker state changed",
					logging.String("breaker", name),
					logging.String("from", from.String()),
					logging.String("to", to.String()),
				)
			},
			IsSuccessful: providerAnswered,
		}),
	}
}

// providerAnswered counts a definite answer, even a refusal, as healthy.
func providerAnswered(err error) bool {
	if err == nil {
		return true
	}
	switch errors.GetType(err) {
	case errors.ErrTypeValidation, errors.ErrTypeNotFound, errors.ErrTypeAuth:
		return true
	}
	return false
}

// Execute runs fn unless the circuit refuses it. A refusal satisfies
// IsRejected and fn is not called.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if IsRejected(err) {
		return errors.ConnectionError(fmt.Sprintf("identity provider circuit %q refused the call", b.name), err).
			WithCode("circuit_open")
	}
	return err
}

// IsRejected reports whether err came from the breaker refusing a call.
func IsRejected(err error) bool {
	return stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests)
}

func (b *Breaker) Name() string {
	return b.name
}

// Open reports whether calls are currently refused outright.
func (b *Breaker) Open() bool {
	return b.cb.State() == gobreaker.StateOpen
}

func (b *Breaker) Snapshot() Snapshot {
	counts := b.cb.Counts()
	return Snapshot{
		Name:                b.name,
		State:               b.cb.State().String(),
		ConsecutiveFailures: counts.ConsecutiveFailures,
		Requests:            counts.Requests,
		Failures:            counts.TotalFailures,
	}
}
