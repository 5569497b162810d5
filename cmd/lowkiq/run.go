package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/ifnotnil/lowkiq"
	"github.com/ifnotnil/lowkiq/internal/config"
	"github.com/ifnotnil/lowkiq/internal/console"
	"github.com/ifnotnil/lowkiq/internal/logger"
	"github.com/ifnotnil/lowkiq/internal/metrics"
	"github.com/ifnotnil/lowkiq/internal/pidlock"
	"github.com/ifnotnil/lowkiq/internal/server"
)

// run wires the daemon together and hands it to the lifecycle controller. On a
// clean shutdown the controller exits the process, so run only returns errors.
func run(_ context.Context, opts runOptions) error {
	cfg := opts.Config

	log, logCloser := logger.New(logger.Options{
		Level:     cfg.Log.Level,
		File:      cfg.Log.File,
		MaxSizeMB: cfg.Log.MaxSizeMB,
	}, os.Stderr)

	// everything set up before the controller runs is released in reverse order
	// when startup fails, and from OnShutDown otherwise
	var cleanups []func(context.Context)
	cleanups = append(cleanups, closeLog(logCloser))

	fail := func(stage string, err error) error {
		console.New(os.Stderr).Error("%s: %s", stage, err)
		log.Error("startup failed", slog.String("stage", stage), slog.String("error", err.Error()))
		runReverse(context.Background(), cleanups)
		return &lowkiq.StartupError{Stage: stage, Err: err}
	}

	if cfg.Daemon.PIDFile != "" {
		lock, err := pidlock.Acquire(cfg.Daemon.PIDFile)
		if err != nil {
			return fail("acquire pid file", err)
		}
		cleanups = append(cleanups, releasePID(lock, log))
	}

	m := metrics.New()
	if cfg.Metrics.Addr != "" {
		ms, err := metrics.Serve(cfg.Metrics.Addr, m, log)
		if err != nil {
			return fail("serve metrics", err)
		}
		log.Info("serving metrics", slog.String("addr", ms.Addr().String()))
		cleanups = append(cleanups, ms.Shutdown)
	}

	ctrlOpts := []lowkiq.ControllerOption{
		lowkiq.WithEnvironment(opts.Environment),
		lowkiq.WithLogger(log),
		lowkiq.WithRecorder(m),
		lowkiq.WithShutdownGraceDuration(cfg.Daemon.ShutdownGrace.Duration),
	}
	if cfg.Daemon.DumpPath != "" {
		ctrlOpts = append(ctrlOpts, lowkiq.WithDumpPath(cfg.Daemon.DumpPath))
	}

	c := lowkiq.New(redisBuilder(cfg, log, m), ctrlOpts...)
	c.OnShutDown(func(ctx context.Context) { runReverse(ctx, cleanups) })

	if err := c.Run(); err != nil {
		runReverse(context.Background(), cleanups)
		return err
	}

	return nil
}

// redisBuilder builds a worker server polling the configured Redis queues.
func redisBuilder(cfg config.Config, log *slog.Logger, obs server.Observer) lowkiq.Builder {
	return func(o lowkiq.Options) (lowkiq.WorkerServer, error) {
		fetcher, err := server.NewRedisFetcher(cfg.Server.RedisURL, cfg.Server.Namespace)
		if err != nil {
			return nil, err
		}

		srv, err := server.Build(server.Options{
			Environment: o.Environment,
			Queues:      cfg.Server.Queues,
			Concurrency: cfg.Server.Concurrency,
			PollTimeout: cfg.Server.PollTimeout.Duration,
			Logger:      log.With(slog.String("component", "server")),
			Observer:    obs,
		}, fetcher, logJob(log))
		if err != nil {
			_ = fetcher.Close()
			return nil, err
		}

		return srv, nil
	}
}

// logJob is the default processor: jobs are acknowledged and logged.
func logJob(log *slog.Logger) server.Processor {
	return func(ctx context.Context, job server.Job) error {
		logger.Trace(log, "job processed", slog.String("queue", job.Queue), slog.Int("bytes", len(job.Payload)))
		return nil
	}
}

func closeLog(c io.Closer) func(context.Context) {
	return func(context.Context) { _ = c.Close() }
}

func releasePID(lock *pidlock.Lock, log *slog.Logger) func(context.Context) {
	return func(ctx context.Context) {
		if err := lock.Release(); err != nil {
			log.WarnContext(ctx, "release pid file", slog.String("path", lock.Path()), slog.String("error", err.Error()))
		}
	}
}

func runReverse(ctx context.Context, fns []func(context.Context)) {
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i](ctx)
	}
}
