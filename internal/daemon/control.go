package daemon

import (
	"context"
	"errors"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/audio_mon/internal/domain"
	"github.com/eliteGoblin/focusd/audio_mon/internal/ipc"
)

// sinkQueryTimeout bounds the live audio query behind list-sinks.
const sinkQueryTimeout = 5 * time.Second

func (d *Daemon) registerHandlers(s *ipc.Server) {
	s.Handle(ipc.ActionPing, d.handlePing)
	s.Handle(ipc.ActionStatus, d.handleStatus)
	s.Handle(ipc.ActionListWindows, d.handleListWindows)
	s.Handle(ipc.ActionListSinks, d.handleListSinks)
	s.Handle(ipc.ActionTestRule, d.handleTestRule)
	s.Handle(ipc.ActionReload, d.handleReload)
	s.Handle(ipc.ActionShutdown, d.handleShutdown)
	s.Handle(ipc.ActionSetSink, d.handleSetSink)
	s.Handle(ipc.ActionNextSink, d.handleCycle(1))
	s.Handle(ipc.ActionPrevSink, d.handleCycle(-1))
}

func (d *Daemon) handlePing(ctx context.Context, req *ipc.Request) (any, error) {
	return ipc.PingInfo{Version: d.config.Version, PID: os.Getpid()}, nil
}

func (d *Daemon) handleStatus(ctx context.Context, req *ipc.Request) (any, error) {
	cfg := d.engine.Config()
	info := ipc.StatusInfo{
		Version:        d.config.Version,
		PID:            os.Getpid(),
		UptimeSeconds:  int64(time.Since(d.startedAt).Seconds()),
		ConfigPath:     cfg.Path,
		EventSource:    d.source.Name(),
		Priority:       string(d.engine.PriorityMode()),
		CurrentSink:    d.activator.CurrentSink(),
		TrackedWindows: d.engine.TrackedCount(),
		Rules:          len(cfg.Rules),
		Sinks:          len(cfg.Sinks),
		DeviceLocks:    d.activator.Locks().Len(),
		AudioServer:    d.checkAudioServer(),
	}
	if i := cfg.SinkIndex(info.CurrentSink); i >= 0 {
		info.CurrentDesc = cfg.Sinks[i].Desc
	}
	if t, ok := d.engine.CurrentMatch(); ok {
		info.TargetSink = t.Sink.Name
		if t.Rule != nil {
			info.TargetRule = t.Rule.Label()
		}
	}
	return info, nil
}

func (d *Daemon) handleListWindows(ctx context.Context, req *ipc.Request) (any, error) {
	return windowInfos(d.engine.ListTracked()), nil
}

func (d *Daemon) handleTestRule(ctx context.Context, req *ipc.Request) (any, error) {
	if req.AppID == "" {
		return nil, errors.New("missing required field: app_id")
	}
	statuses, err := d.engine.TestRule(req.AppID, req.Title)
	if err != nil {
		return nil, err
	}
	return windowInfos(statuses), nil
}

func (d *Daemon) handleListSinks(ctx context.Context, req *ipc.Request) (any, error) {
	cfg := d.engine.Config()
	current := d.activator.CurrentSink()

	qctx, cancel := context.WithTimeout(ctx, sinkQueryTimeout)
	defer cancel()
	snap, err := d.audio.QueryState(qctx)

	list := ipc.SinkList{Sinks: make([]ipc.SinkInfo, 0, len(cfg.Sinks))}
	if err != nil {
		list.Error = err.Error()
	} else if snap.DefaultSink != "" {
		current = snap.DefaultSink
	}

	for i, s := range cfg.Sinks {
		info := ipc.SinkInfo{
			Index:   i + 1,
			Name:    s.Name,
			Desc:    s.Desc,
			Icon:    s.Icon,
			Default: s.Default,
			Active:  s.Name == current,
		}
		if snap != nil {
			_, present := snap.FindNode(s.Name)
			_, switchable := snap.PlanProfileSwitch(s)
			info.Available = present || switchable
		}
		list.Sinks = append(list.Sinks, info)
	}
	return list, nil
}

func (d *Daemon) handleReload(ctx context.Context, req *ipc.Request) (any, error) {
	cfg, err := d.Reload()
	if err != nil {
		return nil, err
	}
	return ipc.ReloadInfo{Rules: len(cfg.Rules), Sinks: len(cfg.Sinks)}, nil
}

func (d *Daemon) handleShutdown(ctx context.Context, req *ipc.Request) (any, error) {
	d.logger.Info("shutdown requested over control socket")
	// The response is still written: the server only stops reading.
	d.Shutdown()
	return nil, nil
}

func (d *Daemon) handleSetSink(ctx context.Context, req *ipc.Request) (any, error) {
	if req.Sink == "" {
		return nil, errors.New("missing required field: sink")
	}
	sink, err := d.engine.Config().ResolveSink(domain.ParseSinkRef(req.Sink))
	if err != nil {
		return nil, err
	}
	return d.activateManual(ctx, sink)
}

func (d *Daemon) handleCycle(step int) ipc.HandlerFunc {
	return func(ctx context.Context, req *ipc.Request) (any, error) {
		sink, ok := d.engine.Config().CycleSink(d.activator.CurrentSink(), step)
		if !ok {
			return nil, errors.New("no sinks configured")
		}
		return d.activateManual(ctx, sink)
	}
}

// activateManual waits on the orchestrator pool without holding any engine
// state.
func (d *Daemon) activateManual(ctx context.Context, sink domain.SinkConfig) (any, error) {
	d.logger.Info("manual sink selection", zap.String("sink", sink.Name))
	result, err := d.activator.Run(ctx, domain.ActivationRequest{Target: sink, Reason: domain.ReasonManual})
	if err != nil {
		return nil, err
	}

	info := ipc.ActivationInfo{
		ID:         result.ID,
		Sink:       result.Active,
		Outcome:    string(result.Outcome),
		DurationMs: result.Duration.Milliseconds(),
	}
	cfg := d.engine.Config()
	if i := cfg.SinkIndex(result.Active); i >= 0 {
		info.Desc = cfg.Sinks[i].Desc
	}
	return info, nil
}

func windowInfos(statuses []domain.WindowStatus) []ipc.WindowInfo {
	out := make([]ipc.WindowInfo, 0, len(statuses))
	for _, s := range statuses {
		info := ipc.WindowInfo{
			ID:      s.ID.String(),
			AppID:   s.AppID,
			Title:   s.Title,
			Matched: s.Matched,
		}
		if s.Matched && s.RuleIndex >= 0 {
			info.RuleIndex = s.RuleIndex
			info.Rule = s.RuleDesc
			info.Sink = s.SinkName
		}
		out = append(out, info)
	}
	return out
}
