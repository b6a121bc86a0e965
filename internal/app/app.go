// Package app assembles foresightd from its configuration. The App value is
// the single owner of the store, queue and live sessions; nothing in the
// server is reachable through package-level state.
package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"

	"foresight/internal/adapters/httpapi"
	"foresight/internal/blob"
	"foresight/internal/broadcast"
	"foresight/internal/config"
	"foresight/internal/core"
	"foresight/internal/export"
	blobfs "foresight/internal/infra/blob/fs"
	blobmemory "foresight/internal/infra/blob/memory"
	blobs3 "foresight/internal/infra/blob/s3"
	"foresight/internal/infra/persistence/memory"
	"foresight/internal/metrics"
	"foresight/internal/notify"
	"foresight/internal/platform/logging"
	"foresight/internal/platform/otel"
	"foresight/internal/platform/timeouts"
	"foresight/internal/scheduler"
	"foresight/internal/session"
	"foresight/plugins/moderation"
)

// App holds every long-lived component of the server.
type App struct {
	Config    config.Config
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Store     *memory.Store
	Queue     *core.Queue
	Service   *core.Service
	Hub       *broadcast.Hub
	Scheduler *scheduler.Runner
	Reminders *notify.Dispatcher
	Sessions  *session.Manager
	Archiver  *export.Archiver
	Handler   http.Handler

	otelShutdown func(context.Context) error
	closeOnce    sync.Once
	closeErr     error
}

// Option customises New.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	blobs   blob.Store
	plugins []core.Plugin
}

// WithLogger replaces the logger built from the log settings.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithBlobStore replaces the blob store selected by the blob settings.
func WithBlobStore(s blob.Store) Option {
	return func(o *options) { o.blobs = s }
}

// WithPlugins installs additional plugins after the bundled ones.
func WithPlugins(p ...core.Plugin) Option {
	return func(o *options) { o.plugins = append(o.plugins, p...) }
}

// New builds and starts the queue and the service graph. Call Close to
// release what New started.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return nil, err
		}
	}

	shutdownTracing, err := otel.Setup(ctx, otel.Config{
		Endpoint:    cfg.Otel.Endpoint,
		ServiceName: cfg.Otel.ServiceName,
		Insecure:    cfg.Otel.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}

	secret := []byte(cfg.Auth.Secret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate session secret: %w", err)
		}
		logger.Warn("session_secret_generated", "detail", "sessions will not survive a restart")
	}
	sessions, err := session.NewManager(secret, cfg.Auth.SessionTTL, nil)
	if err != nil {
		return nil, err
	}

	blobs := o.blobs
	if blobs == nil {
		blobs, err = openBlobStore(ctx, cfg.Blob)
		if err != nil {
			return nil, err
		}
	}

	m := metrics.New()
	var sender notify.Sender = notify.LogSender{Logger: logger}
	if cfg.Reminder.WebhookURL != "" {
		sender = notify.WebhookSender{URL: cfg.Reminder.WebhookURL, Client: &http.Client{Timeout: cfg.Reminder.Timeout}}
	}
	reminders := notify.NewDispatcher(sender,
		notify.WithLogger(logger),
		notify.WithMetrics(m),
		notify.WithTimeout(cfg.Reminder.Timeout),
	)

	store := memory.NewStore(core.NewDefaultRulesEngine())
	queue := core.NewQueue(cfg.Queue.Capacity, core.WithQueueMetrics(m), core.WithQueueLogger(logger))
	queue.Start()

	svc := core.NewService(store, queue,
		core.WithLogger(logger),
		core.WithAdminEmails(cfg.Auth.AdminEmails...),
		core.WithPasswordCost(cfg.Auth.PasswordCost),
		core.WithReminderDispatcher(reminders),
	)
	a := &App{
		Config:       cfg,
		Logger:       logger,
		Metrics:      m,
		Store:        store,
		Queue:        queue,
		Service:      svc,
		Reminders:    reminders,
		Sessions:     sessions,
		otelShutdown: shutdownTracing,
	}

	for _, p := range append([]core.Plugin{moderation.New(logger)}, o.plugins...) {
		if _, err := svc.InstallPlugin(p); err != nil {
			_ = a.Close(ctx)
			return nil, fmt.Errorf("install plugin %s: %w", p.Name(), err)
		}
	}

	a.Scheduler, err = scheduler.New(svc, scheduler.Config{Interval: cfg.Sweep.Interval, Cron: cfg.Sweep.Cron},
		scheduler.WithLogger(logger),
		scheduler.WithMetrics(m),
	)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	a.Archiver = export.NewArchiver(svc, blobs, export.WithLogger(logger), export.WithURLExpiry(cfg.Blob.URLExpiry))

	deps := httpapi.Deps{
		Service:      svc,
		Sessions:     sessions,
		Archiver:     a.Archiver,
		Metrics:      m.Handler(),
		Logger:       logger,
		CookieName:   cfg.Auth.CookieName,
		SecureCookie: cfg.Auth.SecureCookie,
	}
	a.Hub = broadcast.NewHub(svc, broadcast.Config{
		Build:             cfg.Sync.Build,
		ConfigFingerprint: cfg.Fingerprint(),
		RequireAuth:       cfg.Auth.Required,
		PingInterval:      cfg.Sync.PingInterval,
		ReadTimeout:       cfg.Sync.ReadTimeout,
		WriteTimeout:      cfg.Sync.WriteTimeout,
		FrameRate:         cfg.Sync.FrameRate,
		FrameBurst:        cfg.Sync.FrameBurst,
	},
		broadcast.WithLogger(logger),
		broadcast.WithMetrics(m),
		broadcast.WithAuthenticator(httpapi.New(deps)),
	)
	svc.AddCommitObserver(a.Hub)

	deps.Sync = a.Hub
	_, a.Handler = httpapi.NewHandler(deps)
	return a, nil
}

func openBlobStore(ctx context.Context, cfg config.BlobConfig) (blob.Store, error) {
	switch cfg.Driver {
	case config.BlobMemory, "":
		return blobmemory.New(), nil
	case config.BlobFS:
		return blobfs.New(cfg.FSRoot)
	case config.BlobS3:
		return blobs3.New(ctx, blobs3.Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			SessionToken:    cfg.S3.SessionToken,
			PathStyle:       cfg.S3.PathStyle,
		})
	}
	return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
}

// Run listens on the configured address and serves until ctx ends.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Config.HTTP.Addr)
	if err != nil {
		return errors.Join(fmt.Errorf("listen %s: %w", a.Config.HTTP.Addr, err), a.Close(ctx))
	}
	return a.Serve(ctx, ln)
}

// Serve runs the hub, the scheduler and the HTTP server on ln until ctx
// ends, then shuts everything down in order.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	readHeader := a.Config.HTTP.ReadHeaderTimeout
	if readHeader <= 0 {
		readHeader = timeouts.ReadHeader
	}
	srv := &http.Server{
		Handler:           a.Handler,
		ReadHeaderTimeout: readHeader,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.Hub.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		a.Scheduler.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		a.Logger.Info("http_listening", "addr", ln.Addr().String(), "build", a.Config.Sync.Build)
		serveErr <- srv.Serve(ln)
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}

	grace := a.Config.HTTP.ShutdownTimeout
	if grace <= 0 {
		grace = timeouts.Shutdown
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		a.Logger.Warn("http_shutdown_incomplete", "error", serr)
	}
	a.Hub.Close()
	wg.Wait()
	return errors.Join(err, a.Close(shutdownCtx))
}

// Close stops the queue, waits for pending reminders and flushes traces.
// It is safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		var errs []error
		stopCtx, cancel := context.WithTimeout(ctx, timeouts.QueueStop)
		defer cancel()
		if err := a.Queue.Stop(stopCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop queue: %w", err))
		}
		if err := a.Reminders.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("wait reminders: %w", err))
		}
		if a.otelShutdown != nil {
			if err := a.otelShutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
			}
		}
		a.closeErr = errors.Join(errs...)
		a.Logger.Info("shutdown_complete")
	})
	return a.closeErr
}
