// Package main provides the avatarctl CLI for running and driving the
// talking avatar.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/normanking/talkingavatar/internal/app"
	"github.com/normanking/talkingavatar/internal/avatar"
	"github.com/normanking/talkingavatar/internal/bridge"
	"github.com/normanking/talkingavatar/internal/config"
	"github.com/normanking/talkingavatar/internal/logging"
	"github.com/normanking/talkingavatar/internal/media"
	"github.com/normanking/talkingavatar/internal/narration"
	"github.com/normanking/talkingavatar/internal/speech"
	"github.com/normanking/talkingavatar/internal/tui"
)

var (
	// Version information (set at build time)
	version = "dev"

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))
)

func main() {
	var (
		configPath string
		logLevel   string
	)

	rootCmd := &cobra.Command{
		Use:   "avatarctl",
		Short: "Talking avatar playback controller",
		Long: titleStyle.Render("avatarctl") + `

Plays a looping avatar clip while narrating a script, and exposes the
playback state to terminals, browsers and other processes.

` + dimStyle.Render("Use 'avatarctl [command] --help' for more information."),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ~/.talkingavatar/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	loadConfig := func(cmd *cobra.Command) (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		flags := cmd.Flags()
		if flags.Changed("source") {
			cfg.Media.Source, _ = flags.GetString("source")
		}
		if flags.Changed("fallback") {
			cfg.Media.FallbackImage, _ = flags.GetString("fallback")
		}
		if flags.Changed("script") {
			cfg.Narration.ScriptPath, _ = flags.GetString("script")
		}
		if flags.Changed("muted") {
			cfg.Media.Muted, _ = flags.GetBool("muted")
		}
		if flags.Changed("mode") {
			cfg.Narration.Mode, _ = flags.GetString("mode")
		}
		if flags.Changed("remote-media") {
			if remote, _ := flags.GetBool("remote-media"); remote {
				cfg.Media.Provider = "remote"
			}
		}
		if flags.Changed("addr") {
			cfg.Server.Addr, _ = flags.GetString("addr")
		}
		return cfg, cfg.Validate()
	}

	addRuntimeFlags := func(cmd *cobra.Command) {
		cmd.Flags().String("source", "", "Avatar video or image")
		cmd.Flags().String("fallback", "", "Image shown when the media fails")
		cmd.Flags().String("script", "", "Narration script (YAML)")
		cmd.Flags().String("mode", "", "narrated or embedded")
		cmd.Flags().Bool("muted", false, "Start muted")
		cmd.Flags().Bool("remote-media", false, "Play media in a browser connected to the bridge")
		cmd.Flags().String("addr", "", "Bridge listen address")
	}

	// run command - local runtime with the terminal UI
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the avatar with the terminal UI",
		Long:  "Run the avatar runtime in this process and control it from the terminal. With --serve the HTTP bridge runs alongside.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			serve, _ := cmd.Flags().GetBool("serve")
			// Console output would draw over the terminal UI.
			cfg.Log.Console = false
			return runAvatar(cmd.Context(), cfg, serve || cfg.Media.Provider == "remote", true)
		},
	}
	addRuntimeFlags(runCmd)
	runCmd.Flags().Bool("serve", false, "Also start the HTTP bridge")

	// serve command - headless runtime behind the bridge
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the avatar behind the HTTP bridge",
		Long:  "Run the avatar runtime without a terminal UI and serve its state and commands over HTTP, SSE and WebSocket.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg.Log.Console = true
			return runAvatar(cmd.Context(), cfg, true, false)
		},
	}
	addRuntimeFlags(serveCmd)

	// attach command - terminal UI for a runtime behind a bridge
	attachCmd := &cobra.Command{
		Use:   "attach [url]",
		Short: "Control an avatar served by another process",
		Long:  "Follow the snapshots of a running bridge and send it transport commands.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			baseURL := "http://" + cfg.Server.Addr
			if len(args) == 1 {
				baseURL = args[0]
			}
			return attach(cmd.Context(), cfg, baseURL)
		},
	}

	// probe command - check a media asset the way the headless player does
	probeCmd := &cobra.Command{
		Use:   "probe [uri]",
		Short: "Check that a media asset can be loaded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("kind")
			base, _ := cmd.Flags().GetString("asset-base")
			uri := media.ResolveAsset(base, args[0])

			ctx, cancel := context.WithTimeout(cmd.Context(), media.DefaultLoadTimeout)
			defer cancel()
			d, err := media.DefaultProbe(media.Kind(kind))(ctx, uri)
			if err != nil {
				return fmt.Errorf("probe %s: %w", uri, err)
			}

			fmt.Println(successStyle.Render("✓ " + uri))
			if d > 0 {
				fmt.Printf("  Duration: %s\n", d.Round(time.Millisecond))
			} else {
				fmt.Printf("  Duration: %s\n", dimStyle.Render("unknown"))
			}
			return nil
		},
	}
	probeCmd.Flags().String("kind", string(media.KindVideo), "video or image")
	probeCmd.Flags().String("asset-base", "", "Prefix for relative asset names")

	// voices command - list synthesizer voices
	voicesCmd := &cobra.Command{
		Use:   "voices",
		Short: "List the voices of the speech synthesizer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			backend := speech.NewCommandBackend(speech.Config{
				Engine:         cfg.Speech.Engine,
				Path:           cfg.Speech.Path,
				WordsPerMinute: cfg.Speech.WordsPerMinute,
			}, logging.Nop().Component("speech"))
			if !backend.Available() {
				fmt.Println(dimStyle.Render("No speech synthesizer found. Narration will use captions only."))
				return nil
			}

			voices := backend.Voices()
			selected, ok := narration.SelectVoice(voices, narration.VoiceParams{
				Voice: cfg.Narration.Voice,
				Lang:  cfg.Narration.Lang,
			})

			fmt.Println(titleStyle.Render("Voices (" + backend.Name() + ")"))
			fmt.Println()
			for _, v := range voices {
				marker := " "
				if ok && v == selected {
					marker = successStyle.Render("●")
				}
				fmt.Printf("%s %-24s %s\n", marker, v.Name, dimStyle.Render(v.Lang))
			}
			return nil
		},
	}

	// config command group
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}
	configInitCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				dir, err := config.GetConfigDir()
				if err != nil {
					return err
				}
				path = filepath.Join(dir, "config.yaml")
			}

			force, _ := cmd.Flags().GetBool("force")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(config.DefaultConfig(), path); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			fmt.Println(successStyle.Render("✓ Config written to " + path))
			return nil
		},
	}
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(runCmd, serveCmd, attachCmd, probeCmd, voicesCmd, configCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	return logging.New(&logging.Config{
		Dir:        cfg.Log.Dir,
		Level:      cfg.Log.Level,
		MaxHistory: cfg.Log.MaxHistory,
		Console:    cfg.Log.Console,
	})
}

// runAvatar runs a local runtime until ctx is done or the UI quits.
func runAvatar(ctx context.Context, cfg *config.Config, serve, withUI bool) error {
	logs, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logs.Close()
	logger := logs.Component("main")

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	a, err := app.New(cfg, logs)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.Start(ctx); err != nil {
		return err
	}
	defer func() {
		closeCtx, cancelClose := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelClose()
		if err := a.Close(closeCtx); err != nil {
			logger.Warn().Err(err).Msg("Shutdown incomplete")
		}
	}()

	serveErr := make(chan error, 1)
	if serve {
		srv := a.Server()
		go func() { serveErr <- srv.Start(ctx) }()
	}

	if !withUI {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("Avatar running")
		select {
		case <-ctx.Done():
			return nil
		case err := <-serveErr:
			return err
		}
	}

	rt := a.Runtime()
	model := tui.New(rt, rt.Snapshot(), tui.Options{
		Title:         "Talking Avatar",
		RewindSeconds: cfg.Media.Rewind.Seconds(),
	})
	feed := func(send func(s avatar.Snapshot)) func() {
		id := rt.Subscribe(send)
		return func() { rt.Unsubscribe(id) }
	}

	uiErr := make(chan error, 1)
	go func() { uiErr <- tui.Run(ctx, model, feed) }()

	select {
	case err := <-uiErr:
		return err
	case err := <-serveErr:
		cancel()
		<-uiErr
		return err
	}
}

// attach drives a remote runtime through its bridge.
func attach(ctx context.Context, cfg *config.Config, baseURL string) error {
	cfg.Log.Console = false
	logs, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logs.Close()

	client := bridge.NewClient(baseURL, logs.Component("client"))

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	initial, err := client.Snapshot(checkCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("bridge at %s is not reachable: %w", baseURL, err)
	}

	model := tui.New(client, initial, tui.Options{
		Title:         "Talking Avatar (" + baseURL + ")",
		RewindSeconds: cfg.Media.Rewind.Seconds(),
	})
	feed := func(send func(s avatar.Snapshot)) func() {
		followCtx, stop := context.WithCancel(ctx)
		go func() {
			if err := client.Follow(followCtx, send); err != nil && !errors.Is(err, context.Canceled) {
				clientLog := logs.Component("client")
				clientLog.Warn().Err(err).Msg("Stopped following bridge")
			}
		}()
		return stop
	}
	return tui.Run(ctx, model, feed)
}
