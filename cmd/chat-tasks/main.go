package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/kylemclaren/chat-tasks/internal/api"
	"github.com/kylemclaren/chat-tasks/internal/app"
	"github.com/kylemclaren/chat-tasks/internal/config"
	"github.com/kylemclaren/chat-tasks/internal/daemon"
	"github.com/kylemclaren/chat-tasks/internal/logger"
	"github.com/kylemclaren/chat-tasks/internal/telemetry"
	"github.com/kylemclaren/chat-tasks/internal/tui"
	"github.com/kylemclaren/chat-tasks/internal/version"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cmd, args := "tui", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "version", "--version", "-v":
		fmt.Println(version.Info())
		return
	case "help", "--help", "-h":
		printHelp()
		return
	case "tui":
		err = runTUI(args)
	case "daemon":
		err = runDaemon(args)
	case "serve":
		err = runServer(args)
	case "chat":
		err = runChat(args)
	case "service":
		err = runService(args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printHelp()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// env is the configuration and logging shared by every command
type env struct {
	loader *config.Loader
	cfg    *config.Config
	logger *slog.Logger
	closer io.Closer
}

func setup(configFile string, console bool) (*env, error) {
	loader := config.NewLoader(configFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	log, closer, err := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Console:    console && cfg.Log.Console,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	return &env{loader: loader, cfg: cfg, logger: log, closer: closer}, nil
}

func (e *env) Close() error { return e.closer.Close() }

// open builds the application and hooks config reloads into it
func (e *env) open(ctx context.Context) (*app.App, telemetry.Shutdown, error) {
	shutdown, err := telemetry.Init(ctx, e.cfg.Tracing.Endpoint, e.cfg.Tracing.ServiceName)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(ctx, e.cfg, e.logger)
	if err != nil {
		_ = shutdown(ctx)
		return nil, nil, err
	}
	e.loader.Watch(func(cfg *config.Config, ev fsnotify.Event) {
		e.logger.Info("config file changed", "file", ev.Name)
		a.Reload(cfg)
	})
	return a, shutdown, nil
}

func flushTelemetry(shutdown telemetry.Shutdown) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = shutdown(ctx)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runTUI(args []string) error {
	fs := flag.NewFlagSet("tui", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to config.yaml")
	_ = fs.Parse(args)

	e, err := setup(*configFile, false)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, stop := signalContext()
	defer stop()

	a, shutdown, err := e.open(ctx)
	if err != nil {
		return err
	}
	defer flushTelemetry(shutdown)
	defer a.Close()

	deps := tui.Deps{
		DB:            a.DB,
		Scheduler:     a.Scheduler,
		Conversations: a.Conversations,
		Settings:      a.Settings,
	}
	if pid, running := daemon.Running(e.cfg.PIDPath()); running {
		// The daemon owns the timers; edits still reach it through the shared store.
		e.logger.Info("daemon running, TUI in client mode", "pid", pid)
	} else {
		if err := a.Start(ctx); err != nil {
			return err
		}
		deps.Stream = a.Stream
	}

	if err := tui.Run(ctx, deps); err != nil {
		return fmt.Errorf("running TUI: %w", err)
	}
	return nil
}

// daemonRun holds the scheduler until ctx is cancelled
func daemonRun(e *env) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		release, err := daemon.WritePID(e.cfg.PIDPath())
		if err != nil {
			return err
		}
		defer release()

		a, shutdown, err := e.open(ctx)
		if err != nil {
			return err
		}
		defer flushTelemetry(shutdown)
		defer a.Close()

		if err := a.Start(ctx); err != nil {
			return err
		}
		e.logger.Info("daemon started", "pid", os.Getpid(), "database", e.cfg.DBPath(), "timer_backend", e.cfg.Timer.Backend)

		<-ctx.Done()
		e.logger.Info("daemon shutting down")
		return nil
	}
}

func runDaemon(args []string) error {
	fs := flag.NewFlagSet("daemon", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to config.yaml")
	_ = fs.Parse(args)

	e, err := setup(*configFile, true)
	if err != nil {
		return err
	}
	defer e.Close()

	svc, err := daemon.NewService(daemon.NewProgram(daemonRun(e), e.logger), configArgs(*configFile)...)
	if err != nil {
		return err
	}
	return svc.Run()
}

func runService(args []string) error {
	fs := flag.NewFlagSet("service", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to config.yaml")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: chat-tasks service <%s>", strings.Join(daemon.Actions(), "|"))
	}

	e, err := setup(*configFile, true)
	if err != nil {
		return err
	}
	defer e.Close()

	svc, err := daemon.NewService(daemon.NewProgram(daemonRun(e), e.logger), configArgs(*configFile)...)
	if err != nil {
		return err
	}
	action := fs.Arg(0)
	if err := daemon.Control(svc, action); err != nil {
		return err
	}
	fmt.Printf("Service %s: %s done\n", daemon.ServiceName, action)
	return nil
}

func configArgs(configFile string) []string {
	if configFile == "" {
		return nil
	}
	return []string{"--config", configFile}
}

func runServer(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to config.yaml")
	port := fs.Int("port", 0, "HTTP server port (overrides server.port)")
	_ = fs.Parse(args)

	e, err := setup(*configFile, true)
	if err != nil {
		return err
	}
	defer e.Close()
	if *port > 0 {
		e.cfg.Server.Port = *port
	}

	ctx, stop := signalContext()
	defer stop()

	a, shutdown, err := e.open(ctx)
	if err != nil {
		return err
	}
	defer flushTelemetry(shutdown)
	defer a.Close()

	if pid, running := daemon.Running(e.cfg.PIDPath()); running {
		e.logger.Info("daemon running, API serving without a local dispatcher", "pid", pid)
	} else if err := a.Start(ctx); err != nil {
		return err
	}

	server := api.NewServer(api.Deps{
		DB:            a.DB,
		Scheduler:     a.Scheduler,
		Conversations: a.Conversations,
		Settings:      a.Settings,
		Models:        a.Transport,
		Stream:        a.Stream,
		Logger:        e.logger,
	})

	addr := fmt.Sprintf(":%d", e.cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		e.logger.Info("API server starting", "addr", addr, "database", e.cfg.DBPath())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("API server: %w", err)
		}
	case <-ctx.Done():
	}

	e.logger.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runChat(args []string) error {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to config.yaml")
	convID := fs.Int64("conversation", 0, "Continue an existing conversation")
	_ = fs.Parse(args)

	e, err := setup(*configFile, false)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, stop := signalContext()
	defer stop()

	a, shutdown, err := e.open(ctx)
	if err != nil {
		return err
	}
	defer flushTelemetry(shutdown)
	defer a.Close()

	turn := func(text string) error {
		reply, err := a.Conversations.Send(ctx, *convID, text, func(chunk string) {
			fmt.Print(chunk)
		})
		fmt.Println()
		if reply != nil && reply.Conversation != nil {
			*convID = reply.Conversation.ID
		}
		return err
	}

	if fs.NArg() > 0 {
		return turn(strings.Join(fs.Args(), " "))
	}

	fmt.Println("Type a message and press enter. Ctrl+D to exit.")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if err := turn(text); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
}

func printHelp() {
	fmt.Println(`chat-tasks - Chat with an OpenAI-compatible model and schedule prompts

Usage:
  chat-tasks [tui]                  Launch the interactive TUI
  chat-tasks daemon                 Run the scheduler in the foreground (for services)
  chat-tasks serve                  Run the HTTP API server
  chat-tasks chat [message]         Chat from the terminal (one turn, or a prompt loop)
  chat-tasks service <action>       install, uninstall, start, stop or restart the service
  chat-tasks version                Show version information
  chat-tasks help                   Show this help message

Options:
  --config                          Path to config.yaml (all commands)
  --port                            HTTP server port (serve)
  --conversation                    Conversation ID to continue (chat)

Environment Variables:
  CHAT_TASKS_DATA                   Override data directory (default: ~/.chat-tasks)
  CHAT_TASKS_<SECTION>_<KEY>        Override any config key, e.g. CHAT_TASKS_SERVER_PORT
  OPENAI_API_KEY                    Fallback for model.api_key`)
}
