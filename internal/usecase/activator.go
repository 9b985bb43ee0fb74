// Package usecase contains application business logic.
package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/eliteGoblin/focusd/audio_mon/internal/domain"
)

// SleepFunc waits for d or until ctx is done. Injected so profile-switch
// polling can run without real delays in tests.
type SleepFunc func(ctx context.Context, d time.Duration) error

// SleepContext is the production SleepFunc.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ActivatorConfig holds orchestrator tuning.
type ActivatorConfig struct {
	Workers      int       // Size of the blocking activation pool
	LockCapacity int       // Device lock registry bound
	Sleep        SleepFunc // Delay between profile-switch polls
}

// DefaultActivatorConfig returns default orchestrator configuration.
func DefaultActivatorConfig() ActivatorConfig {
	return ActivatorConfig{
		Workers:      4,
		LockCapacity: DefaultDeviceLockCapacity,
		Sleep:        SleepContext,
	}
}

// Activator is the sink activation orchestrator. Activations run on a
// bounded pool of goroutines because every step shells out to the audio
// control tool and profile switches sleep between polls.
type Activator struct {
	audio    domain.AudioController
	notifier domain.Notifier
	locks    *DeviceLocks
	pool     *semaphore.Weighted
	sleep    SleepFunc
	logger   *zap.Logger

	config atomic.Pointer[domain.Config]
	wg     sync.WaitGroup

	mu      sync.RWMutex
	current string // Only written after a confirmed activation
}

// NewActivator creates a new sink activation orchestrator.
func NewActivator(
	config ActivatorConfig,
	audio domain.AudioController,
	notifier domain.Notifier,
	cfg *domain.Config,
	logger *zap.Logger,
) *Activator {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.Sleep == nil {
		config.Sleep = SleepContext
	}
	a := &Activator{
		audio:    audio,
		notifier: notifier,
		locks:    NewDeviceLocks(config.LockCapacity),
		pool:     semaphore.NewWeighted(int64(config.Workers)),
		sleep:    config.Sleep,
		logger:   logger,
	}
	a.config.Store(cfg)
	return a
}

// SetConfig swaps the configuration used for settings and the default sink.
func (a *Activator) SetConfig(cfg *domain.Config) {
	a.config.Store(cfg)
}

// CurrentSink returns the node name believed to be active, or "".
func (a *Activator) CurrentSink() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current
}

// Locks exposes the device lock registry (for status and tests).
func (a *Activator) Locks() *DeviceLocks {
	return a.locks
}

func (a *Activator) setCurrent(name string) {
	a.mu.Lock()
	a.current = name
	a.mu.Unlock()
}

// Submit runs the request on the activation pool and reports through done.
func (a *Activator) Submit(req domain.ActivationRequest, done func(domain.ActivationResult)) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		// In-flight work is never cancelled; shutdown waits for it.
		ctx := context.Background()
		if err := a.pool.Acquire(ctx, 1); err != nil {
			if done != nil {
				done(domain.ActivationResult{Request: req, Outcome: domain.OutcomeFailed, Err: err})
			}
			return
		}
		defer a.pool.Release(1)

		result, _ := a.Activate(ctx, req)
		if done != nil {
			done(result)
		}
	}()
}

// Run submits the request and waits for its result. The caller stops
// waiting when ctx is done, but the activation itself still completes.
func (a *Activator) Run(ctx context.Context, req domain.ActivationRequest) (domain.ActivationResult, error) {
	ch := make(chan domain.ActivationResult, 1)
	a.Submit(req, func(r domain.ActivationResult) { ch <- r })

	select {
	case r := <-ch:
		return r, r.Err
	case <-ctx.Done():
		return domain.ActivationResult{Request: req, Outcome: domain.OutcomeFailed, Err: ctx.Err()}, ctx.Err()
	}
}

// Wait blocks until every submitted activation has finished.
func (a *Activator) Wait() {
	a.wg.Wait()
}

// Activate performs one activation synchronously on the calling goroutine.
func (a *Activator) Activate(ctx context.Context, req domain.ActivationRequest) (domain.ActivationResult, error) {
	cfg := a.config.Load()
	start := time.Now()
	result := domain.ActivationResult{
		ID:        uuid.NewString(),
		Request:   req,
		StartedAt: start,
	}
	logger := a.logger.With(
		zap.String("activation_id", result.ID),
		zap.String("sink", req.Target.Name),
		zap.String("reason", string(req.Reason)))

	fail := func(err error) (domain.ActivationResult, error) {
		result.Outcome = domain.OutcomeFailed
		result.Active = a.CurrentSink()
		result.Err = err
		result.Duration = time.Since(start)
		logger.Warn("activation failed", zap.Error(err))
		return result, err
	}

	snap, err := a.audio.QueryState(ctx)
	if err != nil {
		return fail(&domain.ActivationError{Kind: domain.ToolFailure, Sink: req.Target.Name, Err: err})
	}

	target := req.Target
	outcome := domain.OutcomeSwitched

	if snap.DefaultSink == target.Name {
		def, hasDefault := cfg.DefaultSink()
		if req.Reason == domain.ReasonManual && cfg.Settings.SmartToggle && hasDefault && def.Name != target.Name {
			logger.Info("sink already active, toggling back to default", zap.String("default", def.Name))
			target = def
			outcome = domain.OutcomeToggledBack
		} else {
			// Observed, not assumed: the tool reports it as the default.
			a.setCurrent(target.Name)
			result.Outcome = domain.OutcomeAlreadyActive
			result.Active = target.Name
			result.Duration = time.Since(start)
			logger.Debug("sink already active")
			return result, nil
		}
	}

	if node, ok := snap.FindNode(target.Name); ok {
		if err := a.audio.SetDefault(ctx, node); err != nil {
			return fail(&domain.ActivationError{Kind: domain.ToolFailure, Sink: target.Name, Err: err})
		}
	} else {
		plan, ok := snap.PlanProfileSwitch(target)
		if !ok {
			return fail(&domain.ActivationError{Kind: domain.SinkUnavailable, Sink: target.Name})
		}
		if err := a.switchProfile(ctx, target, plan, cfg.Settings, logger); err != nil {
			return fail(err)
		}
		if outcome == domain.OutcomeSwitched {
			outcome = domain.OutcomeProfileSwitch
		}
	}

	a.setCurrent(target.Name)
	result.Outcome = outcome
	result.Active = target.Name
	result.Duration = time.Since(start)

	logger.Info("sink activated",
		zap.String("active", target.Name),
		zap.String("outcome", string(outcome)),
		zap.Duration("duration", result.Duration))

	a.notify(req, target, outcome, cfg)
	return result, nil
}

// switchProfile changes the device profile and polls until the node shows up,
// then makes it the default. The device stays locked for the whole sequence.
func (a *Activator) switchProfile(
	ctx context.Context,
	target domain.SinkConfig,
	plan domain.ProfilePlan,
	settings domain.Settings,
	logger *zap.Logger,
) error {
	guard, err := a.locks.Acquire(ctx, plan.DeviceID)
	if err != nil {
		return &domain.ActivationError{Kind: domain.ToolFailure, Sink: target.Name, Err: fmt.Errorf("failed to lock device %d: %w", plan.DeviceID, err)}
	}
	defer guard.Release()

	logger.Info("switching device profile",
		zap.Int("device_id", plan.DeviceID),
		zap.String("device", plan.DeviceName),
		zap.String("profile", plan.ProfileName))

	if err := a.audio.SetProfile(ctx, plan.DeviceID, plan.ProfileIndex); err != nil {
		return &domain.ActivationError{Kind: domain.ToolFailure, Sink: target.Name, Err: err}
	}

	retries := settings.ProfileSwitchRetries
	if retries <= 0 {
		retries = domain.DefaultProfileSwitchRetries
	}
	delay := settings.ProfileSwitchDelay
	if delay < 0 {
		delay = domain.DefaultProfileSwitchDelay
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		if err := a.sleep(ctx, delay); err != nil {
			return &domain.ActivationError{Kind: domain.ToolFailure, Sink: target.Name, Err: err}
		}

		snap, err := a.audio.QueryState(ctx)
		if err != nil {
			lastErr = err
			logger.Debug("state query failed while polling", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		node, ok := snap.FindNode(target.Name)
		if !ok {
			logger.Debug("node not present yet", zap.Int("attempt", attempt))
			continue
		}

		if err := a.audio.SetDefault(ctx, node); err != nil {
			return &domain.ActivationError{Kind: domain.ToolFailure, Sink: target.Name, Err: err}
		}
		return nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("gave up after %d attempts %s apart", retries, delay)
	}
	return &domain.ActivationError{Kind: domain.ProfileSwitchTimeout, Sink: target.Name, Err: lastErr}
}

// notify emits a notification if the global or per-rule flag allows it.
func (a *Activator) notify(req domain.ActivationRequest, target domain.SinkConfig, outcome domain.ActivationOutcome, cfg *domain.Config) {
	if a.notifier == nil {
		return
	}

	var enabled bool
	var body string
	switch req.Reason {
	case domain.ReasonManual:
		enabled = cfg.Settings.NotifyManual
		body = "Switched manually"
		if outcome == domain.OutcomeToggledBack {
			body = fmt.Sprintf("%s was already active, back to default", req.Target.Label())
		}
	case domain.ReasonRule:
		enabled = cfg.Settings.NotifyRules
		if req.Rule != nil {
			if req.Rule.Notify != nil {
				enabled = *req.Rule.Notify
			}
			body = "Rule: " + req.Rule.Label()
		} else {
			body = "No rule matches, using default"
		}
	default:
		return
	}

	if !enabled {
		return
	}
	a.notifier.Notify(domain.Notification{
		Title: "Audio output: " + target.Label(),
		Body:  body,
		Icon:  target.Icon,
	})
}

// Ensure Activator implements domain.SinkActivator.
var _ domain.SinkActivator = (*Activator)(nil)
