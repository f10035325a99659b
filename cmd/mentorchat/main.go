package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"mentor-chat/internal/config"
	"mentor-chat/internal/httpclient"
	"mentor-chat/internal/logging"
	"mentor-chat/internal/surfaces"
	"mentor-chat/internal/telemetry"
	"mentor-chat/internal/ui"
	"mentor-chat/internal/unread"
	"mentor-chat/internal/ws"
)

const version = "0.3.0"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "-v", "--version":
			fmt.Printf("mentorchat v%s\n", version)
			return
		case "help", "-h", "--help":
			printHelp()
			return
		}
	}

	configPath := flag.String("config", "", "optional config file (yaml, json or toml)")
	flag.Usage = printHelp
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadClient(configPath)
	if err != nil {
		return err
	}
	kind, err := surfaces.ParseKind(cfg.Surface)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Env, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, "mentorchat", cfg.OTLPEndpoint)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	} else {
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = shutdownTracer(flushCtx)
		}()
	}

	api := httpclient.New(cfg.APIBaseURL,
		httpclient.WithTimeout(cfg.RequestTimeout),
		httpclient.WithLogger(logger),
	)
	dialer := ws.NewClient(cfg.WSBaseURL,
		ws.WithHandshakeTimeout(cfg.HandshakeTimeout),
		ws.WithWriteTimeout(cfg.WriteTimeout),
		ws.WithLogger(logger),
	)

	events := ui.NewEvents()
	tracker := unread.NewTracker(cfg.User, logger)
	unsubscribe := tracker.Subscribe(func(int, int) { events.Notify() })
	defer unsubscribe()

	surface, err := surfaces.New(kind, surfaces.Deps{
		User:         cfg.User,
		API:          api,
		Dialer:       dialer,
		Tracker:      tracker,
		Counterparts: cfg.Counterparts,
		SocketEcho:   cfg.SocketEcho,
		Logger:       logger,
		OnChange:     events.Notify,
	})
	if err != nil {
		return err
	}
	defer surface.CloseConversation()

	logger.Info("starting",
		zap.String("surface", string(kind)),
		zap.Int("user_id", cfg.User.ID),
		zap.String("role", string(cfg.User.Role)),
		zap.String("api", cfg.APIBaseURL),
		zap.String("ws", cfg.WSBaseURL),
	)

	model := ui.New(surface, events, ui.Options{
		Context:           ctx,
		RequestTimeout:    cfg.RequestTimeout,
		ReconcileInterval: cfg.ReconcileInterval,
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func printHelp() {
	help := `mentorchat - terminal messaging for mentors and students

Usage:
  mentorchat [-config file]   Start the messaging client
  mentorchat version          Show version information
  mentorchat help             Show this help message

Configuration (MENTORCHAT_* environment variables, .env or -config file):
  user_id, user_role          Local user (role: student or mentor)
  surface                     chat, mentees (mentors only) or mentors (students only)
  counterparts                Comma separated user ids shown on the roster
  api_url                     REST base URL (default http://localhost:8083)
  ws_url                      Websocket base URL (derived from api_url when empty)
  socket_echo                 Send a copy of each message over the socket
  reconcile_interval          History refresh period, 0 disables (default 30s)
  log_file                    Log destination (default mentorchat.log)

Roster:
  ↑/↓ or j/k                  Navigate
  enter                       Open conversation
  n                           Open conversation by user id (chat surface)
  /                           Filter
  r                           Refresh unread counts
  q                           Quit

Conversation:
  enter                       Send message
  alt+enter                   New line
  pgup/pgdown                 Scroll
  ctrl+r                      Refresh history, reconnect when closed
  esc                         Back to roster
  ctrl+c                      Force quit
`
	fmt.Print(help)
}
