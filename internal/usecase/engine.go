package usecase

import (
	"fmt"
	"regexp"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/audio_mon/internal/domain"
	"github.com/eliteGoblin/focusd/audio_mon/internal/policy"
)

// completionBuffer is how many finished activations can queue before the
// pool goroutine reporting one blocks.
const completionBuffer = 16

// Target is the sink the engine currently wants active and why.
type Target struct {
	Sink   domain.SinkConfig
	Rule   *domain.Rule // nil when no window matches and the default is used
	Window domain.WindowID
}

// Engine is the window & rule match engine. It owns the tracked window set
// and the rule list, recomputes the desired sink after every mutation and
// asks the activator to apply it when it changes.
//
// At most one rule-driven activation is in flight. A target change while
// one is running is applied after it completes (see HandleCompletion).
type Engine struct {
	mu        sync.RWMutex
	cfg       *domain.Config
	selector  policy.PriorityPolicy
	policies  *policy.Registry
	windows   map[domain.WindowID]*domain.TrackedWindow
	seq       uint64
	target    *Target
	inFlight  bool
	pending   bool
	activator domain.SinkActivator
	logger    *zap.Logger

	completions chan domain.ActivationResult
	closed      chan struct{}
	closeOnce   sync.Once
}

// NewEngine creates a match engine. The initial target is the default sink;
// nothing is activated until a window event or reload changes it.
func NewEngine(cfg *domain.Config, activator domain.SinkActivator, logger *zap.Logger) *Engine {
	e := &Engine{
		cfg:         cfg,
		policies:    policy.NewRegistry(),
		windows:     make(map[domain.WindowID]*domain.TrackedWindow),
		activator:   activator,
		logger:      logger,
		completions: make(chan domain.ActivationResult, completionBuffer),
		closed:      make(chan struct{}),
	}
	e.selector = e.policies.ForMode(cfg.Settings.Priority)
	if t, ok := e.computeTargetLocked(); ok {
		e.target = &t
	}
	return e
}

// Completions delivers finished engine-issued activations. The event loop
// must pass each one to HandleCompletion.
func (e *Engine) Completions() <-chan domain.ActivationResult {
	return e.completions
}

// Close stops delivering completions so pool goroutines never block on a
// loop that has exited.
func (e *Engine) Close() {
	e.closeOnce.Do(func() { close(e.closed) })
}

// HandleEvent dispatches a normalized window event.
func (e *Engine) HandleEvent(ev domain.WindowEvent) {
	switch ev.Kind {
	case domain.WindowOpened:
		e.OnWindowOpened(ev.ID, ev.AppID, ev.Title)
	case domain.WindowChanged:
		e.OnWindowChanged(ev.ID, ev.AppID, ev.Title)
	case domain.WindowClosed:
		e.OnWindowClosed(ev.ID)
	default:
		e.logger.Warn("unknown window event", zap.String("kind", string(ev.Kind)))
	}
}

// OnWindowOpened starts tracking a window.
func (e *Engine) OnWindowOpened(id domain.WindowID, appID, title string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.windows[id]; exists {
		e.logger.Debug("open for tracked window, treating as change", zap.Stringer("window", id))
	}
	e.seq++
	e.windows[id] = &domain.TrackedWindow{ID: id, AppID: appID, Title: title, OpenedSeq: e.seq}
	e.logger.Debug("window opened",
		zap.Stringer("window", id),
		zap.String("app_id", appID),
		zap.String("title", title))
	e.recomputeLocked(false)
}

// OnWindowChanged updates a window's properties and bumps its recency.
// A change for an unknown window is treated as an open.
func (e *Engine) OnWindowChanged(id domain.WindowID, appID, title string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	w, exists := e.windows[id]
	if !exists {
		w = &domain.TrackedWindow{ID: id}
		e.windows[id] = w
	}
	e.seq++
	w.AppID = appID
	w.Title = title
	w.OpenedSeq = e.seq
	e.recomputeLocked(false)
}

// OnWindowClosed stops tracking a window. Unknown ids are ignored.
func (e *Engine) OnWindowClosed(id domain.WindowID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.windows[id]; !exists {
		return
	}
	delete(e.windows, id)
	e.logger.Debug("window closed", zap.Stringer("window", id))
	e.recomputeLocked(false)
}

// OnConfigReloaded swaps in a new configuration and re-evaluates every
// tracked window against it right away.
func (e *Engine) OnConfigReloaded(cfg *domain.Config) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cfg = cfg
	e.selector = e.policies.ForMode(cfg.Settings.Priority)
	e.logger.Info("rules reloaded",
		zap.Int("rules", len(cfg.Rules)),
		zap.Int("sinks", len(cfg.Sinks)),
		zap.String("priority", string(e.selector.Mode())))
	e.recomputeLocked(true)
}

// HandleCompletion records a finished activation and issues a follow-up if
// the desired target moved while it was running.
func (e *Engine) HandleCompletion(result domain.ActivationResult) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.inFlight = false
	if result.Err != nil {
		e.logger.Warn("activation failed",
			zap.String("activation_id", result.ID),
			zap.String("reason", string(result.Request.Reason)),
			zap.String("sink", result.Request.Target.Name),
			zap.Error(result.Err))
	}

	if !e.pending {
		return
	}
	e.pending = false
	if e.target != nil && e.target.Sink.Name != e.activator.CurrentSink() {
		e.requestLocked()
	}
}

// CurrentTarget returns the sink the engine wants active.
func (e *Engine) CurrentTarget() (domain.SinkConfig, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.target == nil {
		return domain.SinkConfig{}, false
	}
	return e.target.Sink, true
}

// CurrentMatch returns the full desired target including the matched rule.
func (e *Engine) CurrentMatch() (Target, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.target == nil {
		return Target{}, false
	}
	return *e.target, true
}

// Config returns the active configuration snapshot.
func (e *Engine) Config() *domain.Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// PriorityMode returns the mode of the active selector.
func (e *Engine) PriorityMode() domain.PriorityMode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.selector.Mode()
}

// TrackedCount returns how many windows are open.
func (e *Engine) TrackedCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.windows)
}

// ListTracked returns every tracked window with its matched rule, ordered by id.
// Windows are identified by id so duplicates with equal app id and title
// are reported separately.
func (e *Engine) ListTracked() []domain.WindowStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	windows := e.snapshotLocked()
	out := make([]domain.WindowStatus, 0, len(windows))
	for _, w := range windows {
		status := domain.WindowStatus{ID: w.ID, AppID: w.AppID, Title: w.Title, OpenedSeq: w.OpenedSeq}
		if r := policy.FirstMatch(e.cfg.Rules, w); r != nil {
			status.Matched = true
			status.RuleIndex = r.Index
			status.RuleDesc = r.Label()
			if sink, err := e.cfg.ResolveSink(r.Sink); err == nil {
				status.SinkName = sink.Name
			}
		}
		out = append(out, status)
	}
	return out
}

// TestRule evaluates ad-hoc patterns against the tracked windows without
// touching the configured rules. An empty title pattern matches any title.
func (e *Engine) TestRule(appIDPattern, titlePattern string) ([]domain.WindowStatus, error) {
	appRe, err := regexp.Compile(appIDPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid app_id pattern: %w", err)
	}
	var titleRe *regexp.Regexp
	if titlePattern != "" {
		if titleRe, err = regexp.Compile(titlePattern); err != nil {
			return nil, fmt.Errorf("invalid title pattern: %w", err)
		}
	}
	rule := domain.Rule{Index: -1, AppIDPattern: appRe, TitlePattern: titleRe, Desc: "test"}

	e.mu.RLock()
	windows := e.snapshotLocked()
	e.mu.RUnlock()

	out := make([]domain.WindowStatus, 0, len(windows))
	for _, w := range windows {
		out = append(out, domain.WindowStatus{
			ID:        w.ID,
			AppID:     w.AppID,
			Title:     w.Title,
			OpenedSeq: w.OpenedSeq,
			Matched:   rule.Matches(w.AppID, w.Title),
			RuleIndex: -1,
		})
	}
	return out, nil
}

// snapshotLocked copies the tracked windows ordered by id.
func (e *Engine) snapshotLocked() []domain.TrackedWindow {
	windows := make([]domain.TrackedWindow, 0, len(e.windows))
	for _, w := range e.windows {
		windows = append(windows, *w)
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].ID < windows[j].ID })
	return windows
}

// computeTargetLocked resolves the desired sink for the current windows.
func (e *Engine) computeTargetLocked() (Target, bool) {
	def, hasDefault := e.cfg.DefaultSink()

	if m, ok := e.selector.Select(e.snapshotLocked(), e.cfg.Rules); ok {
		sink, err := e.cfg.ResolveSink(m.Rule.Sink)
		if err == nil {
			return Target{Sink: sink, Rule: m.Rule, Window: m.Window.ID}, true
		}
		e.logger.Warn("rule points at unknown sink, using default",
			zap.String("rule", m.Rule.Label()),
			zap.Error(err))
	}

	if !hasDefault {
		return Target{}, false
	}
	return Target{Sink: def}, true
}

// recomputeLocked re-runs target selection. A changed target triggers one
// activation request; force also requests when the target is unchanged but
// differs from the active sink (used after reloads).
func (e *Engine) recomputeLocked(force bool) {
	t, ok := e.computeTargetLocked()
	if !ok {
		e.logger.Warn("no target sink: config has no default sink")
		return
	}

	changed := e.target == nil || e.target.Sink.Name != t.Sink.Name
	e.target = &t
	if !changed && !force {
		return
	}

	// The running activation may leave a different sink active than the
	// one wanted now, so the comparison waits for its completion.
	if e.inFlight {
		e.pending = true
		return
	}

	if t.Sink.Name == e.activator.CurrentSink() {
		e.logger.Debug("target already active", zap.String("sink", t.Sink.Name))
		return
	}

	ruleLabel := "default"
	if t.Rule != nil {
		ruleLabel = t.Rule.Label()
	}
	e.logger.Info("target changed",
		zap.String("sink", t.Sink.Name),
		zap.String("rule", ruleLabel))
	e.requestLocked()
}

// ActivateStartup submits the current target once with ReasonStartup. It is
// serialized with rule activations, so windows reported while it runs are
// applied after it completes.
func (e *Engine) ActivateStartup() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.target == nil {
		e.logger.Warn("no startup sink: config has no default sink")
		return
	}
	e.logger.Info("activating sink on startup", zap.String("sink", e.target.Sink.Name))
	e.submitLocked(domain.ReasonStartup)
}

// requestLocked submits the current target, or marks a follow-up if an
// activation is already running.
func (e *Engine) requestLocked() {
	e.submitLocked(domain.ReasonRule)
}

func (e *Engine) submitLocked(reason domain.ActivationReason) {
	if e.inFlight {
		e.pending = true
		return
	}
	e.inFlight = true
	e.activator.Submit(domain.ActivationRequest{
		Target: e.target.Sink,
		Reason: reason,
		Rule:   e.target.Rule,
	}, e.complete)
}

// complete runs on a pool goroutine and hands the result to the event loop.
func (e *Engine) complete(result domain.ActivationResult) {
	select {
	case e.completions <- result:
	case <-e.closed:
	}
}
