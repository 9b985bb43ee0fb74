// Package main is the CLI entry point for audiomon.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/audio_mon/internal/daemon"
	"github.com/eliteGoblin/focusd/audio_mon/internal/domain"
	"github.com/eliteGoblin/focusd/audio_mon/internal/infra"
	"github.com/eliteGoblin/focusd/audio_mon/internal/ipc"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "audiomon",
	Short: "Audio monitor - routes audio output by active window",
	Long: `audiomon is a daemon that switches the default PipeWire sink based on
which windows are open. Rules match windows by app id and title and name
the sink to use; when no rule matches, the default sink is restored.

Clients talk to the daemon over a local control socket.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the daemon in the foreground",
	RunE:  runDaemon,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon in the background",
	Long:  `Launches the daemon detached from the terminal and waits until it answers on the control socket.`,
	RunE:  runStart,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE:  runStatus,
}

var listWindowsCmd = &cobra.Command{
	Use:   "list-windows",
	Short: "List tracked windows and the rule each one matches",
	RunE:  runListWindows,
}

var listSinksCmd = &cobra.Command{
	Use:   "list-sinks",
	Short: "List configured sinks",
	RunE:  runListSinks,
}

var testRuleCmd = &cobra.Command{
	Use:   "test-rule <app-id-regex> [title-regex]",
	Short: "Show which open windows a rule would match",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runTestRule,
}

var setSinkCmd = &cobra.Command{
	Use:   "set-sink <name|description|index>",
	Short: "Switch to a configured sink",
	Long: `Switches to a configured sink, referenced by node name, description or
1-based index. Selecting the active sink again switches back to the default
sink when smart_toggle is enabled.`,
	Args: cobra.ExactArgs(1),
	RunE: runSetSink,
}

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Switch to the next configured sink",
	RunE:  runCycle(ipc.ActionNextSink),
}

var prevCmd = &cobra.Command{
	Use:   "prev",
	Short: "Switch to the previous configured sink",
	RunE:  runCycle(ipc.ActionPrevSink),
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the configuration file",
	RunE:  runReload,
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Stop the daemon",
	RunE:  runShutdown,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	RunE:  runInit,
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install audiomon as a systemd user service",
	Long: `Copies the binary to ~/.local/bin and installs a systemd user unit that
starts the daemon with the graphical session.`,
	RunE: runInstall,
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the systemd user service",
	RunE:  runUninstall,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	configPath string
	socketPath string
	logLevel   string
	logFile    string
	jsonOutput bool
	forceInit  bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/audiomon/config.toml)")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "Control socket (default $XDG_RUNTIME_DIR/audiomon.sock)")

	daemonCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level, overrides settings.log_level")
	daemonCmd.Flags().StringVar(&logFile, "log-file", "", `Log file (default $XDG_STATE_HOME/audiomon/audiomon.log, "-" for stderr)`)
	startCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level, overrides settings.log_level")

	for _, c := range []*cobra.Command{statusCmd, listWindowsCmd, listSinksCmd, testRuleCmd, versionCmd} {
		c.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	}
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing config file")

	rootCmd.AddCommand(daemonCmd, startCmd, statusCmd, listWindowsCmd, listSinksCmd,
		testRuleCmd, setSinkCmd, nextCmd, prevCmd, reloadCmd, shutdownCmd, initCmd,
		installCmd, uninstallCmd, versionCmd)
}

func resolvePaths() *infra.Paths {
	paths := infra.DetectPaths()
	if configPath != "" {
		paths.ConfigPath = infra.ExpandHome(configPath)
	}
	if socketPath != "" {
		paths.SocketPath = infra.ExpandHome(socketPath)
	}
	if logFile != "" {
		paths.LogPath = infra.ExpandHome(logFile)
	}
	return paths
}

func runDaemon(cmd *cobra.Command, args []string) error {
	paths := resolvePaths()

	logger, level, err := createLogger(paths, logLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	runner := &infra.ExecRunner{}
	config := daemon.DefaultConfig()
	config.SocketPath = paths.SocketPath
	config.Version = Version
	if logLevel == "" {
		config.LogLevel = &level
	}

	d, err := daemon.New(
		config,
		infra.NewFileConfigLoader(paths.ConfigPath),
		infra.NewHyprlandSource(logger.Named("hyprland")),
		infra.NewPipeWire(runner, logger.Named("pipewire")),
		infra.NewDesktopNotifier(runner, logger.Named("notify")),
		infra.NewProcessManager(),
		logger,
	)
	if err != nil {
		logger.Error("failed to load config", zap.String("path", paths.ConfigPath), zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.Run(ctx); err != nil {
		logger.Error("daemon failed", zap.Error(err))
		return err
	}
	return nil
}

// createLogger builds the daemon logger. The returned level can be changed
// at runtime.
func createLogger(paths *infra.Paths, levelFlag string) (*zap.Logger, zap.AtomicLevel, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if levelFlag != "" {
		l, err := zapcore.ParseLevel(levelFlag)
		if err != nil {
			return nil, level, fmt.Errorf("invalid --log-level: %w", err)
		}
		level.SetLevel(l)
	}

	config := zap.NewProductionConfig()
	config.Level = level
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}

	if paths.LogPath != "-" {
		if err := os.MkdirAll(filepath.Dir(paths.LogPath), 0o700); err == nil {
			config.OutputPaths = []string{paths.LogPath}
			config.ErrorOutputPaths = []string{paths.LogPath}
		}
	}

	logger, err := config.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		config.OutputPaths = []string{"stderr"}
		config.ErrorOutputPaths = []string{"stderr"}
		if logger, err = config.Build(); err != nil {
			return nil, level, err
		}
	}
	return logger, level, nil
}

func runStart(cmd *cobra.Command, args []string) error {
	paths := resolvePaths()

	spawn := daemon.DefaultSpawnConfig(paths.SocketPath)
	spawn.Args = append(spawn.Args, "--config", paths.ConfigPath, "--socket", paths.SocketPath)
	if logLevel != "" {
		spawn.Args = append(spawn.Args, "--log-level", logLevel)
	}

	info, err := daemon.Spawn(cmd.Context(), spawn)
	if errors.Is(err, domain.ErrAlreadyRunning) {
		fmt.Printf("audiomon is already running (pid %d)\n", info.PID)
		return nil
	}
	if err != nil {
		fmt.Printf("Check the log for details: %s\n", paths.LogPath)
		return err
	}

	fmt.Println("\n=== audiomon Started ===")
	fmt.Printf("PID: %d\n", info.PID)
	fmt.Printf("Config: %s\n", paths.ConfigPath)
	fmt.Printf("Socket: %s\n", paths.SocketPath)
	fmt.Printf("Log: %s\n", paths.LogPath)
	fmt.Println("========================")
	return nil
}

// call sends one request to the daemon and decodes the reply into result.
func call(cmd *cobra.Command, req ipc.Request, result any) error {
	paths := resolvePaths()
	client := ipc.NewClient(paths.SocketPath)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	err := client.Call(ctx, req, result)
	var remote *ipc.RemoteError
	if err == nil || errors.As(err, &remote) {
		return err
	}
	return fmt.Errorf("audiomon is not running (run 'audiomon start'): %w", err)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runStatus(cmd *cobra.Command, args []string) error {
	var status ipc.StatusInfo
	if err := call(cmd, ipc.Request{Action: ipc.ActionStatus}, &status); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(status)
	}

	fmt.Println("\n=== audiomon Status ===")
	fmt.Println("Status: RUNNING")
	fmt.Printf("Version: %s (pid %d, up %s)\n", status.Version, status.PID,
		(time.Duration(status.UptimeSeconds) * time.Second).String())
	fmt.Printf("Config: %s (%d rules, %d sinks)\n", status.ConfigPath, status.Rules, status.Sinks)
	fmt.Printf("Event source: %s\n", status.EventSource)
	fmt.Printf("Priority: %s\n", status.Priority)
	if status.AudioServer != "" {
		fmt.Printf("Audio server: %s\n", status.AudioServer)
	}

	current := status.CurrentSink
	if current == "" {
		current = "(none activated yet)"
	} else if status.CurrentDesc != "" {
		current = fmt.Sprintf("%s (%s)", status.CurrentDesc, status.CurrentSink)
	}
	fmt.Printf("\nActive sink: %s\n", current)
	target := status.TargetSink
	if status.TargetRule != "" {
		target = fmt.Sprintf("%s (rule: %s)", target, status.TargetRule)
	}
	fmt.Printf("Target sink: %s\n", target)
	fmt.Printf("Tracked windows: %d\n", status.TrackedWindows)
	fmt.Println("=======================")
	return nil
}

func printWindows(windows []ipc.WindowInfo, showRule bool) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if showRule {
		fmt.Fprintln(w, "ID\tAPP ID\tTITLE\tRULE\tSINK")
	} else {
		fmt.Fprintln(w, "ID\tAPP ID\tTITLE\tMATCH")
	}
	for _, win := range windows {
		if showRule {
			rule, sink := "-", "-"
			if win.Matched {
				rule, sink = win.Rule, win.Sink
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", win.ID, win.AppID, win.Title, rule, sink)
		} else {
			match := ""
			if win.Matched {
				match = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", win.ID, win.AppID, win.Title, match)
		}
	}
	w.Flush()
}

func runListWindows(cmd *cobra.Command, args []string) error {
	var windows []ipc.WindowInfo
	if err := call(cmd, ipc.Request{Action: ipc.ActionListWindows}, &windows); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(windows)
	}
	if len(windows) == 0 {
		fmt.Println("No windows tracked.")
		return nil
	}
	printWindows(windows, true)
	return nil
}

func runListSinks(cmd *cobra.Command, args []string) error {
	var list ipc.SinkList
	if err := call(cmd, ipc.Request{Action: ipc.ActionListSinks}, &list); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(list)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tDESCRIPTION\tNODE\tFLAGS")
	for _, s := range list.Sinks {
		flags := ""
		if s.Active {
			flags += "active "
		}
		if s.Default {
			flags += "default "
		}
		if !s.Available && list.Error == "" {
			flags += "unavailable"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.Index, s.Desc, s.Name, flags)
	}
	w.Flush()
	if list.Error != "" {
		fmt.Printf("\nWarning: could not query audio devices: %s\n", list.Error)
	}
	return nil
}

func runTestRule(cmd *cobra.Command, args []string) error {
	req := ipc.Request{Action: ipc.ActionTestRule, AppID: args[0]}
	if len(args) > 1 {
		req.Title = args[1]
	}

	var windows []ipc.WindowInfo
	if err := call(cmd, req, &windows); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(windows)
	}

	matched := 0
	for _, win := range windows {
		if win.Matched {
			matched++
		}
	}
	printWindows(windows, false)
	fmt.Printf("\n%d of %d windows match\n", matched, len(windows))
	return nil
}

func printActivation(info ipc.ActivationInfo) {
	name := info.Sink
	if info.Desc != "" {
		name = fmt.Sprintf("%s (%s)", info.Desc, info.Sink)
	}
	switch domain.ActivationOutcome(info.Outcome) {
	case domain.OutcomeAlreadyActive:
		fmt.Printf("Already active: %s\n", name)
	case domain.OutcomeToggledBack:
		fmt.Printf("Toggled back to default: %s\n", name)
	default:
		fmt.Printf("Switched to %s in %dms\n", name, info.DurationMs)
	}
}

func runSetSink(cmd *cobra.Command, args []string) error {
	var info ipc.ActivationInfo
	if err := call(cmd, ipc.Request{Action: ipc.ActionSetSink, Sink: args[0]}, &info); err != nil {
		return err
	}
	printActivation(info)
	return nil
}

func runCycle(action string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		var info ipc.ActivationInfo
		if err := call(cmd, ipc.Request{Action: action}, &info); err != nil {
			return err
		}
		printActivation(info)
		return nil
	}
}

func runReload(cmd *cobra.Command, args []string) error {
	var info ipc.ReloadInfo
	if err := call(cmd, ipc.Request{Action: ipc.ActionReload}, &info); err != nil {
		return err
	}
	fmt.Printf("Config reloaded: %d rules, %d sinks\n", info.Rules, info.Sinks)
	return nil
}

func runShutdown(cmd *cobra.Command, args []string) error {
	if err := call(cmd, ipc.Request{Action: ipc.ActionShutdown}, nil); err != nil {
		return err
	}
	fmt.Println("audiomon stopped")
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	paths := resolvePaths()
	if err := infra.WriteDefaultConfig(paths.ConfigPath, forceInit); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", paths.ConfigPath)
	fmt.Println("Edit the sink names to match 'wpctl status', then run 'audiomon start'.")
	return nil
}

func runInstall(cmd *cobra.Command, args []string) error {
	currentExecPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	binaryPath := filepath.Join(infra.GetRealUserHome(), ".local", "bin", infra.AppName)
	if currentExecPath != binaryPath {
		if err := os.MkdirAll(filepath.Dir(binaryPath), 0o755); err != nil {
			fmt.Printf("Warning: Could not create binary directory: %v\n", err)
			binaryPath = currentExecPath // Fall back to current location
		} else if err := copyBinary(currentExecPath, binaryPath); err != nil {
			fmt.Printf("Warning: Could not copy binary to %s: %v\n", binaryPath, err)
			binaryPath = currentExecPath
		} else {
			fmt.Printf("Installed binary to %s\n", binaryPath)
		}
	}

	service := infra.NewSystemdServiceManager(&infra.ExecRunner{})
	switch {
	case service.NeedsUpdate(binaryPath):
		err = service.Update(cmd.Context(), binaryPath)
	case service.IsInstalled():
		fmt.Printf("Service already installed: %s\n", service.UnitPath())
		return nil
	default:
		err = service.Install(cmd.Context(), binaryPath)
	}
	if err != nil {
		return fmt.Errorf("failed to install service: %w", err)
	}

	fmt.Printf("Installed %s\n", service.UnitPath())
	fmt.Printf("Follow the log with: journalctl --user -u %s -f\n", infra.ServiceName)
	return nil
}

func runUninstall(cmd *cobra.Command, args []string) error {
	service := infra.NewSystemdServiceManager(&infra.ExecRunner{})
	if !service.IsInstalled() {
		fmt.Println("Service is not installed")
		return nil
	}
	if err := service.Uninstall(cmd.Context()); err != nil {
		return fmt.Errorf("failed to remove service: %w", err)
	}
	fmt.Printf("Removed %s\n", service.UnitPath())
	return nil
}

// copyBinary copies the binary file to destination using atomic write pattern.
// Writes to temp file first, syncs, chmods, then renames to avoid corruption.
func copyBinary(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".audiomon-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err = io.Copy(tmpFile, sourceFile); err != nil {
		tmpFile.Close()
		return err
	}
	if err = tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	tmpFile.Close()

	if err = os.Chmod(tmpPath, 0o755); err != nil {
		return err
	}
	if err = os.Rename(tmpPath, dst); err != nil {
		return err
	}

	success = true
	return nil
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		_ = printJSON(map[string]string{
			"version":    Version,
			"commit":     Commit,
			"build_time": BuildTime,
		})
	} else {
		fmt.Printf("audiomon %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
