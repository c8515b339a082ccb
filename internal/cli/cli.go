// ============================================================================
// jobwatch CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Provides the command line interface based on the Cobra framework
//
// Command Structure:
//   jobwatch                         # Root command
//   ├── serve                        # Start the compile server
//   ├── compile FILE                 # Submit a file and follow its output
//   │   └── --watch, -w             # Re-submit on every change
//   ├── bootstrap                    # Follow server startup until ready
//   ├── save [FILE]                  # Save a file, text or the server buffer
//   │   ├── --name, -n              # Name to save under
//   │   └── --text, -t              # Save this text instead of a file
//   ├── status                       # Show server and config status
//   ├── --config, -c                 # Config file (default configs/default.yaml)
//   └── --version
//
// serve Command:
//   1. Load config and open the file store
//   2. Start the server (worker pool, startup sequence)
//   3. Run HTTP, gRPC health and metrics listeners in one errgroup
//   4. On SIGINT/SIGTERM shut every listener down and stop the server
//
// compile Command:
//   Runs one controller session per submission and streams the console
//   and insights to the terminal. Exits non-zero when the final console
//   contains an error line (not in watch mode).
//
// Signal Handling:
//   Every command runs under a context cancelled by SIGINT/SIGTERM.
//
// ============================================================================

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ChuLiYu/jobwatch/internal/bootstrap"
	"github.com/ChuLiYu/jobwatch/internal/client"
	"github.com/ChuLiYu/jobwatch/internal/console"
	"github.com/ChuLiYu/jobwatch/internal/controller"
	"github.com/ChuLiYu/jobwatch/internal/editor"
	"github.com/ChuLiYu/jobwatch/internal/metrics"
	"github.com/ChuLiYu/jobwatch/internal/render"
	"github.com/ChuLiYu/jobwatch/internal/watch"
)

// Version is reported by --version.
const Version = "1.0.0"

// ErrCompileFailed is returned by compile when the console ends with an
// error line.
var ErrCompileFailed = errors.New("compilation reported errors")

var configFile string

// BuildCLI builds the root command.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "jobwatch",
		Short: "jobwatch: submit programs to a compile server and watch them run",
		Long: `jobwatch runs a compile server and a terminal client for it:
- background compiles with a live console transcript
- phase timeline and insights
- startup progress with retry
- file saving (filesystem or sqlite)`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildServeCommand())
	rootCmd.AddCommand(buildCompileCommand())
	rootCmd.AddCommand(buildBootstrapCommand())
	rootCmd.AddCommand(buildSaveCommand())
	rootCmd.AddCommand(buildStatusCommand())

	return rootCmd
}

// prepare loads config and installs logging on stderr.
func prepare(cmd *cobra.Command) (*Config, error) {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	setupLogging(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newClient(cfg *Config) *client.Client {
	return client.New(cfg.Client.BaseURL, client.WithTimeout(cfg.Client.RequestTimeout))
}

// ============================================================================
// serve
// ============================================================================

func buildServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the jobwatch compile server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := prepare(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return runServe(ctx, cfg)
		},
	}
}

// ============================================================================
// compile
// ============================================================================

func buildCompileCommand() *cobra.Command {
	var watchMode bool

	cmd := &cobra.Command{
		Use:   "compile FILE",
		Short: "Compile a file and follow its output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := prepare(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			term := render.NewTerminal(cmd.OutOrStdout())
			ctrl := controller.NewController(newClient(cfg), cfg.controllerConfig(),
				controller.WithRenderer(term),
				controller.WithMetrics(metrics.NewCollector(prometheus.NewRegistry())))

			if watchMode {
				return watchAndCompile(ctx, ctrl, args[0])
			}
			return compileOnce(ctx, ctrl, args[0])
		},
	}

	cmd.Flags().BoolVarP(&watchMode, "watch", "w", false, "re-submit whenever the file changes")
	return cmd
}

// compileOnce runs one session to completion
func compileOnce(ctx context.Context, ctrl *controller.Controller, path string) error {
	source, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if _, err := ctrl.Compile(ctx, string(source)); err != nil {
		return err
	}

	select {
	case <-ctrl.Done():
	case <-ctx.Done():
		ctrl.Stop()
		return ctx.Err()
	}

	if hasErrors(ctrl.Console()) {
		return ErrCompileFailed
	}
	return nil
}

// watchAndCompile compiles now and again on every change until ctx ends.
// Each submission starts a session that supersedes the previous one.
func watchAndCompile(ctx context.Context, ctrl *controller.Controller, path string) error {
	w, err := watch.New(path)
	if err != nil {
		return err
	}
	watchErr := make(chan error, 1)
	go func() { watchErr <- w.Run(ctx) }()

	submit := func() {
		source, err := os.ReadFile(path)
		if err != nil {
			log.Warn("Failed to read watched file", "path", path, "error", err)
			return
		}
		if _, err := ctrl.Compile(ctx, string(source)); err != nil {
			log.Warn("Compile submission failed", "error", err)
		}
	}

	submit()
	for {
		select {
		case <-ctx.Done():
			ctrl.Stop()
			return <-watchErr
		case <-w.Changed():
			log.Info("File changed, recompiling", "path", path)
			submit()
		}
	}
}

func hasErrors(view console.View) bool {
	for _, l := range view.Lines {
		if l.Class == console.ClassError {
			return true
		}
	}
	return false
}

// ============================================================================
// bootstrap
// ============================================================================

func buildBootstrapCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Follow server startup until the IDE is ready",
		Long:  "Polls the startup status. When startup fails, press Enter to retry.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := prepare(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			return runBootstrap(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func runBootstrap(ctx context.Context, cfg *Config, in io.Reader, out io.Writer) error {
	api := newClient(cfg)
	term := render.NewTerminal(out)

	nav := bootstrap.NavigatorFunc(func(ctx context.Context, target string) error {
		fmt.Fprintf(out, "IDE ready at %s%s\n", api.BaseURL(), target)
		return nil
	})
	loader := bootstrap.New(api, nav, cfg.loaderConfig(),
		bootstrap.WithObserver(term.RenderLoader),
		bootstrap.WithMetrics(metrics.NewCollector(prometheus.NewRegistry())))

	// every input line is a retry click
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			if !loader.Retry() {
				log.Debug("Retry ignored, loader not in error state")
			}
		}
	}()

	return loader.Run(ctx)
}

// ============================================================================
// save
// ============================================================================

func buildSaveCommand() *cobra.Command {
	var (
		name string
		text string
	)

	cmd := &cobra.Command{
		Use:   "save [FILE]",
		Short: "Save a local file, inline text or the server's buffer",
		Long: `Save a local file on the server. With --text the given source is saved
instead, and with neither the server's current editor buffer is saved.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := saveSource{Text: text, Inline: cmd.Flags().Changed("text")}
			if len(args) == 1 {
				if src.Inline {
					return fmt.Errorf("FILE and --text are mutually exclusive")
				}
				src.Path = args[0]
			}

			cfg, err := prepare(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			prompter := newLinePrompter(cmd.InOrStdin(), cmd.OutOrStdout(), name)
			return saveFile(ctx, newClient(cfg), prompter, src, name != "", cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "name to save under (default: the file's base name)")
	cmd.Flags().StringVarP(&text, "text", "t", "", "source text to save instead of a file")
	return cmd
}

// saveSource selects what the save command puts in the document
type saveSource struct {
	Path   string // local file
	Text   string // inline source, used when Inline is set
	Inline bool
}

// load fills doc from a local file, inline text or the server buffer
func (src saveSource) load(ctx context.Context, doc *editor.Document) error {
	switch {
	case src.Path != "":
		return doc.Open(ctx, src.Path)
	case src.Inline:
		if err := doc.New(ctx); err != nil {
			return err
		}
		doc.SetContent(src.Text)
		return nil
	default:
		return doc.Load(ctx)
	}
}

func saveFile(ctx context.Context, remote editor.Remote, prompter editor.Prompter, src saveSource, rename bool, out io.Writer) error {
	doc := editor.NewDocument(remote, prompter, nil)
	if err := src.load(ctx, doc); err != nil {
		return err
	}

	var err error
	if rename {
		err = doc.SaveAs(ctx)
	} else {
		err = doc.Save(ctx)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Saved %s\n", doc.Title())
	return nil
}

// ============================================================================
// status
// ============================================================================

func buildStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server status",
		Long:  "Display configuration and the server's startup status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := prepare(cmd)
			if err != nil {
				return err
			}
			return showStatus(cmd.Context(), cfg, newClient(cfg), cmd.OutOrStdout())
		},
	}
}

func showStatus(ctx context.Context, cfg *Config, source bootstrap.StatusSource, out io.Writer) error {
	fmt.Fprintln(out, "\n╔═══════════════════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║           jobwatch Status                                 ║")
	fmt.Fprintln(out, "╚═══════════════════════════════════════════════════════════╝")
	fmt.Fprintln(out)

	fmt.Fprintln(out, "📋 Configuration:")
	fmt.Fprintf(out, "  ├─ Config File:     %s\n", configFile)
	fmt.Fprintf(out, "  ├─ Server:          %s\n", cfg.Client.BaseURL)
	fmt.Fprintf(out, "  ├─ Compiler:        %s\n", cfg.Compiler.Command)
	fmt.Fprintf(out, "  ├─ Workers:         %d\n", cfg.Compiler.Workers)
	fmt.Fprintf(out, "  └─ Poll:            every %s for %s\n", cfg.Client.PollInterval, cfg.Client.MaxPollDuration)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "💾 Storage:")
	fmt.Fprintf(out, "  ├─ Driver:          %s\n", cfg.Storage.Driver)
	if cfg.Server.HistoryPath != "" {
		fmt.Fprintf(out, "  └─ History:         %s\n", cfg.Server.HistoryPath)
	} else {
		fmt.Fprintln(out, "  └─ History:         disabled")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "🚦 Server:")
	resp, err := source.Status(ctx)
	switch {
	case err != nil:
		fmt.Fprintf(out, "  └─ ❌ Unreachable: %v\n", err)
	case resp.Data == nil:
		fmt.Fprintf(out, "  └─ ⚠️  %s %s\n", resp.Status, resp.Message)
	case resp.Data.Error != "":
		fmt.Fprintf(out, "  └─ ❌ %s: %s\n", resp.Data.Message, resp.Data.Error)
	case resp.Data.Complete:
		fmt.Fprintf(out, "  └─ ✅ %s (%s)\n", resp.Data.Message, resp.Redirect)
	default:
		fmt.Fprintf(out, "  └─ ⏳ %s %d%%\n", resp.Data.Message, resp.Data.Progress)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "📡 Metrics:")
	if cfg.Metrics.Enabled {
		fmt.Fprintf(out, "  └─ Status: ✅ Enabled on http://localhost:%d/metrics\n", cfg.Metrics.Port)
	} else {
		fmt.Fprintln(out, "  └─ Status: ⚠️  Disabled")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "═══════════════════════════════════════════════════════════")
	return err
}
