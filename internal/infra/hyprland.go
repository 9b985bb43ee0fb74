package infra

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/audio_mon/internal/domain"
)

const (
	hyprRequestSocket = ".socket.sock"
	hyprEventSocket   = ".socket2.sock"
	hyprMaxLine       = 64 * 1024
)

// HyprlandSource follows Hyprland's event socket and normalizes it into
// window events. The initial window list comes from the request socket.
type HyprlandSource struct {
	runtimeDir string
	signature  string
	logger     *zap.Logger
}

// NewHyprlandSource reads the instance from the environment.
func NewHyprlandSource(logger *zap.Logger) *HyprlandSource {
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		runtimeDir = fmt.Sprintf("/run/user/%d", os.Getuid())
	}
	return NewHyprlandSourceAt(runtimeDir, os.Getenv("HYPRLAND_INSTANCE_SIGNATURE"), logger)
}

// NewHyprlandSourceAt creates a source for an explicit instance (for testing).
func NewHyprlandSourceAt(runtimeDir, signature string, logger *zap.Logger) *HyprlandSource {
	return &HyprlandSource{runtimeDir: runtimeDir, signature: signature, logger: logger}
}

// Name returns the source name.
func (h *HyprlandSource) Name() string {
	return "hyprland"
}

func (h *HyprlandSource) socketPath(name string) string {
	return filepath.Join(h.runtimeDir, "hypr", h.signature, name)
}

// Run emits the current windows as Opened events, then streams changes until
// ctx is cancelled.
func (h *HyprlandSource) Run(ctx context.Context, out chan<- domain.WindowEvent) error {
	if h.signature == "" {
		return fmt.Errorf("%w: HYPRLAND_INSTANCE_SIGNATURE is not set", domain.ErrEventSourceUnsupported)
	}

	var dialer net.Dialer
	// Subscribe before listing so nothing opened in between is missed.
	conn, err := dialer.DialContext(ctx, "unix", h.socketPath(hyprEventSocket))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrEventSourceUnsupported, err)
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	parser := newHyprParser()

	clients, err := h.listClients(ctx)
	if err != nil {
		return fmt.Errorf("failed to list windows: %w", err)
	}
	for _, ev := range parser.initial(clients) {
		if err := send(ctx, out, ev); err != nil {
			return nil
		}
	}
	h.logger.Info("following compositor events",
		zap.String("source", h.Name()),
		zap.Int("windows", len(clients)))

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), hyprMaxLine)
	for scanner.Scan() {
		ev, ok := parser.parse(scanner.Text())
		if !ok {
			continue
		}
		if err := send(ctx, out, ev); err != nil {
			return nil
		}
	}

	if ctx.Err() != nil {
		return nil
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("event stream failed: %w", err)
	}
	return errors.New("event stream closed by compositor")
}

// send blocks until the event is accepted or ctx is done.
func send(ctx context.Context, out chan<- domain.WindowEvent, ev domain.WindowEvent) error {
	select {
	case out <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type hyprClient struct {
	Address string `json:"address"`
	Class   string `json:"class"`
	Title   string `json:"title"`
	Mapped  *bool  `json:"mapped"`
}

func (h *HyprlandSource) listClients(ctx context.Context) ([]hyprClient, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", h.socketPath(hyprRequestSocket))
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if _, err := conn.Write([]byte("j/clients")); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(conn, 16<<20))
	if err != nil {
		return nil, err
	}

	var clients []hyprClient
	if err := json.Unmarshal(data, &clients); err != nil {
		return nil, fmt.Errorf("failed to parse client list: %w", err)
	}
	return clients, nil
}

type hyprWindow struct {
	class string
	title string
}

// hyprParser turns event lines into window events. Hyprland only reports
// the class on open, so it is remembered per address.
type hyprParser struct {
	known map[domain.WindowID]hyprWindow
}

func newHyprParser() *hyprParser {
	return &hyprParser{known: make(map[domain.WindowID]hyprWindow)}
}

func (p *hyprParser) initial(clients []hyprClient) []domain.WindowEvent {
	events := make([]domain.WindowEvent, 0, len(clients))
	for _, c := range clients {
		if c.Mapped != nil && !*c.Mapped {
			continue
		}
		id, ok := parseAddress(c.Address)
		if !ok {
			continue
		}
		p.known[id] = hyprWindow{class: c.Class, title: c.Title}
		events = append(events, domain.WindowEvent{Kind: domain.WindowOpened, ID: id, AppID: c.Class, Title: c.Title})
	}
	return events
}

func (p *hyprParser) parse(line string) (domain.WindowEvent, bool) {
	name, data, found := strings.Cut(line, ">>")
	if !found {
		return domain.WindowEvent{}, false
	}

	switch name {
	case "openwindow":
		// ADDRESS,WORKSPACE,CLASS,TITLE; the title may contain commas
		parts := strings.SplitN(data, ",", 4)
		if len(parts) != 4 {
			return domain.WindowEvent{}, false
		}
		id, ok := parseAddress(parts[0])
		if !ok {
			return domain.WindowEvent{}, false
		}
		p.known[id] = hyprWindow{class: parts[2], title: parts[3]}
		return domain.WindowEvent{Kind: domain.WindowOpened, ID: id, AppID: parts[2], Title: parts[3]}, true

	case "closewindow":
		id, ok := parseAddress(data)
		if !ok {
			return domain.WindowEvent{}, false
		}
		delete(p.known, id)
		return domain.WindowEvent{Kind: domain.WindowClosed, ID: id}, true

	case "windowtitlev2":
		addr, title, found := strings.Cut(data, ",")
		if !found {
			return domain.WindowEvent{}, false
		}
		id, ok := parseAddress(addr)
		if !ok {
			return domain.WindowEvent{}, false
		}
		w, known := p.known[id]
		if !known {
			return domain.WindowEvent{}, false
		}
		w.title = title
		p.known[id] = w
		return domain.WindowEvent{Kind: domain.WindowChanged, ID: id, AppID: w.class, Title: title}, true

	case "activewindowv2":
		id, ok := parseAddress(data)
		if !ok {
			return domain.WindowEvent{}, false
		}
		w, known := p.known[id]
		if !known {
			return domain.WindowEvent{}, false
		}
		return domain.WindowEvent{Kind: domain.WindowChanged, ID: id, AppID: w.class, Title: w.title}, true
	}
	return domain.WindowEvent{}, false
}

func parseAddress(s string) (domain.WindowID, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, false
	}
	return domain.WindowID(v), true
}

// Ensure HyprlandSource implements domain.WindowEventSource.
var _ domain.WindowEventSource = (*HyprlandSource)(nil)
