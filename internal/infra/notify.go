package infra

import (
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/audio_mon/internal/domain"
)

const notifySendTool = "notify-send"

// DesktopNotifier sends notifications through notify-send without waiting
// for them to be shown.
type DesktopNotifier struct {
	runner CommandRunner
	logger *zap.Logger
}

// NewDesktopNotifier creates a notifier.
func NewDesktopNotifier(runner CommandRunner, logger *zap.Logger) *DesktopNotifier {
	if runner == nil {
		runner = &ExecRunner{}
	}
	return &DesktopNotifier{runner: runner, logger: logger}
}

// Notify launches notify-send. Failures are logged and dropped.
func (n *DesktopNotifier) Notify(note domain.Notification) {
	args := []string{"--app-name=" + AppName, "--expire-time=3000"}
	if note.Icon != "" {
		args = append(args, "--icon="+note.Icon)
	}
	args = append(args, note.Title)
	if note.Body != "" {
		args = append(args, note.Body)
	}

	if err := n.runner.Start(notifySendTool, args...); err != nil {
		n.logger.Debug("notification failed", zap.String("title", note.Title), zap.Error(err))
	}
}

// Ensure DesktopNotifier implements domain.Notifier.
var _ domain.Notifier = (*DesktopNotifier)(nil)
