package fixtures

import (
	"context"

	"github.com/eliteGoblin/focusd/audio_mon/internal/domain"
)

// FakeWindows is a window event source driven by the test.
type FakeWindows struct {
	events chan domain.WindowEvent
}

// NewFakeWindows creates a source with a small buffer.
func NewFakeWindows() *FakeWindows {
	return &FakeWindows{events: make(chan domain.WindowEvent, 32)}
}

// Name implements domain.WindowEventSource.
func (f *FakeWindows) Name() string { return "fake" }

// Run implements domain.WindowEventSource.
func (f *FakeWindows) Run(ctx context.Context, out chan<- domain.WindowEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-f.events:
			select {
			case out <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Open emits an Opened event.
func (f *FakeWindows) Open(id domain.WindowID, appID, title string) {
	f.events <- domain.WindowEvent{Kind: domain.WindowOpened, ID: id, AppID: appID, Title: title}
}

// Retitle emits a Changed event.
func (f *FakeWindows) Retitle(id domain.WindowID, appID, title string) {
	f.events <- domain.WindowEvent{Kind: domain.WindowChanged, ID: id, AppID: appID, Title: title}
}

// Close emits a Closed event.
func (f *FakeWindows) Close(id domain.WindowID) {
	f.events <- domain.WindowEvent{Kind: domain.WindowClosed, ID: id}
}

var _ domain.WindowEventSource = (*FakeWindows)(nil)
