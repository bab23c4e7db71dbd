package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"printwatch/internal/api"
	"printwatch/internal/auth"
	"printwatch/internal/camera"
	"printwatch/internal/config"
	"printwatch/internal/detection"
	"printwatch/internal/events"
	"printwatch/internal/jobs"
	"printwatch/internal/monitor"
	"printwatch/internal/notify"
	"printwatch/internal/printers"
	"printwatch/internal/store"
	"printwatch/internal/stream"
	"printwatch/internal/subscribers"
	"printwatch/internal/ws"
)

func main() {
	// Command line flags override the configuration file and environment.
	var (
		configF = flag.String("config", "", "Path to a config file (default: config.yaml in . or ./config)")
		hostF   = flag.String("host", "", "Server host (overrides server.host)")
		portF   = flag.Int("port", 0, "HTTP port (overrides server.port)")
		dbgF    = flag.Bool("debug", false, "Log request and response bodies")
	)
	flag.Parse()

	var (
		logger *log.Logger
	)
	{
		logger = log.New(os.Stderr, "[printwatch] ", log.Ltime)
	}

	cfg, err := config.Load(*configF)
	if err != nil {
		logger.Fatalf("failed to load configuration: %v", err)
	}
	if *hostF != "" {
		cfg.Server.Host = *hostF
	}
	if *portF != 0 {
		cfg.Server.Port = *portF
	}

	// Records
	db, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		logger.Fatalf("failed to open %s store: %v", cfg.Store.Driver, err)
	}
	logger.Printf("using %s store", cfg.Store.Driver)

	bus := events.NewBus()

	// Camera
	source := camera.NewSource(camera.NewFFmpegOpener(camera.FFmpegConfig{
		DevicePattern: cfg.Camera.DevicePattern,
		Source:        cfg.Camera.Source,
		Width:         cfg.Camera.Width,
		Height:        cfg.Camera.Height,
		FPS:           cfg.Camera.FPS,
		ReadTimeout:   cfg.Camera.ReadTimeout,
	}))

	// Vision model
	backend, closeBackend, err := newBackend(cfg.Model)
	if err != nil {
		logger.Fatalf("failed to create %s inference backend: %v", cfg.Model.Backend, err)
	}
	labels := detection.DefaultLabels()
	if cfg.Model.Labels != "" {
		if labels, err = detection.LoadLabels(cfg.Model.Labels); err != nil {
			logger.Fatalf("failed to load labels: %v", err)
		}
	}
	detector := detection.NewAdapter(backend, detection.Config{
		ModelPath:           cfg.Model.Path,
		ConfidenceThreshold: float32(cfg.Model.ConfidenceThreshold),
		Labels:              labels,
	})

	supervisor := monitor.NewSupervisor(source, detector, bus, monitor.Options{
		CameraIndex:     cfg.Camera.Index,
		MaxReadFailures: cfg.Monitor.MaxReadFailures,
		FrameInterval:   cfg.Monitor.FrameInterval,
		RetryDelay:      cfg.Monitor.RetryDelay,
	})

	// Services
	var (
		jobManager    *jobs.Manager
		registry      *printers.Registry
		authenticator *auth.Authenticator
		hub           *ws.JobHub
	)
	{
		jobManager = jobs.NewManager(db, db, bus)
		registry = printers.NewRegistry(db)
		authenticator = auth.NewAuthenticator(db, auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry), cfg.Auth.Required)
		hub = ws.NewJobHub()
	}
	if cfg.Auth.JWTSecret == "" {
		logger.Printf("auth.jwt_secret not set, tokens will not survive a restart")
	}

	deps := subscribers.Deps{
		Supervisor: supervisor,
		Jobs:       jobManager,
		Hub:        hub,
		Frames:     source,
	}
	mailer := notify.NewMailer(notify.SMTPConfig{
		Host:     cfg.Notify.SMTP.Host,
		Port:     cfg.Notify.SMTP.Port,
		Username: cfg.Notify.SMTP.Username,
		Password: cfg.Notify.SMTP.Password,
		From:     cfg.Notify.SMTP.From,
	})
	deps.Notifier = mailer
	if !mailer.Enabled() {
		logger.Printf("notify.smtp.host not set, job notifications are logged only")
	}

	var commands *notify.CommandHandler
	if cfg.Telegram.Enabled {
		tgCfg := notify.TelegramConfig{
			BotToken:        cfg.Telegram.BotToken,
			ChatID:          cfg.Telegram.ChatID,
			CooldownSeconds: cfg.Telegram.CooldownSeconds,
		}
		if err := notify.ValidateTelegramConfig(tgCfg); err != nil {
			logger.Fatalf("invalid telegram configuration: %v", err)
		}
		bot := notify.NewTelegramBot(tgCfg)
		deps.Alerter = bot
		if cfg.Telegram.Commands {
			commands = notify.NewCommandHandler(bot, jobManager, supervisor, source)
		}
		logger.Printf("telegram alerts enabled")
	}
	wiring := subscribers.Register(bus, deps)

	streamCfg := stream.Config{CameraIndex: cfg.Camera.Index, Quality: cfg.Camera.Quality, FPS: cfg.Camera.FPS}
	apiDeps := api.Deps{
		Jobs:     jobManager,
		Printers: registry,
		Auth:     authenticator,
		Stream:   stream.NewMJPEGHandler(source, streamCfg),
		Snapshot: stream.NewSnapshotHandler(source, streamCfg),
		Events:   ws.NewHandler(hub),
		Monitor:  supervisor,
		Detector: detector,
		Camera:   source,
		Clients:  hub,
	}

	// Create channel used by both the signal handler and server goroutines
	// to notify the main goroutine when to stop the server.
	errc := make(chan error)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	handleHTTPServer(ctx, cfg.Server.Addr(), apiDeps, &wg, errc, logger, *dbgF)

	if commands != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			commands.StartPolling(ctx)
		}()
	}

	// Wait for signal.
	logger.Printf("exiting (%v)", <-errc)

	// Send cancellation signal to the goroutines.
	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := supervisor.Shutdown(shutdownCtx); err != nil {
		logger.Printf("monitoring sessions did not stop: %v", err)
	}
	wiring.Wait()
	wiring.Close()
	source.Stop()
	if err := detector.Close(); err != nil {
		logger.Printf("failed to release model: %v", err)
	}
	if closeBackend != nil {
		closeBackend()
	}
	if err := db.Close(); err != nil {
		logger.Printf("failed to close store: %v", err)
	}
	logger.Println("exited")
}

// newBackend creates the inference backend named in the configuration.
// The returned close function is nil when there is nothing to release.
func newBackend(cfg config.ModelConfig) (detection.Backend, func(), error) {
	switch cfg.Backend {
	case "grpc":
		b, err := detection.NewGRPCBackend(cfg.Endpoint)
		if err != nil {
			return nil, nil, err
		}
		return b, func() { b.Close() }, nil
	default:
		return detection.NewHTTPBackend(cfg.Endpoint), nil, nil
	}
}
