package lowkiq

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ifnotnil/lowkiq/internal/config"
	"github.com/ifnotnil/lowkiq/internal/console"
	"github.com/ifnotnil/lowkiq/internal/signalpipe"
	"github.com/ifnotnil/lowkiq/internal/threaddump"
)

// WorkerServer is the job-processing engine the controller supervises.
// Stop must not wait for busy workers; Join waits for all of them.
type WorkerServer interface {
	Start() error
	Stop()
	Join()
}

// Options are the resolved settings handed to the Builder.
type Options struct {
	Environment string
}

// Builder creates the worker server once, during startup.
type Builder func(Options) (WorkerServer, error)

// Bridge delivers signal tokens to the read loop. Next is the loop's only
// blocking point.
type Bridge interface {
	Install(tokens ...signalpipe.Token) error
	Next() (signalpipe.Token, error)
	Close() error
}

// Recorder observes the controller, typically for metrics.
type Recorder interface {
	SignalReceived(signal string)
	ThreadsDumped(goroutines int)
	StateChanged(state int)
}

type registration struct {
	token  signalpipe.Token
	action Action
}

type controllerConfig struct {
	environment     string
	lookupEnv       func(string) (string, bool)
	logger          *slog.Logger
	output          io.Writer
	bridge          Bridge
	dumpPath        string
	shutdownTimeout time.Duration
	recorder        Recorder
	extraActions    []registration
	exitFn          func(code int)
	dumpFn          func(path string) (threaddump.Report, error)
	logSignal       func(ctx context.Context, logger *slog.Logger, tok signalpipe.Token)
}

// Controller drives a worker server through its lifecycle:
//
//	Init -> Starting -> Running -> ShuttingDown -> Terminated
//
// Run owns every transition. Signals reach it as tokens through the Bridge and
// are dispatched on Run's goroutine, so actions never execute in signal context.
// Shutdown ends with an explicit process exit instead of waiting for workers.
type Controller struct {
	config   controllerConfig
	opts     Options
	build    Builder
	registry *Registry
	console  *console.Console

	state  atomic.Int32
	server WorkerServer

	// touched only by the read loop
	shutdownRequested bool
	stopOnce          sync.Once

	onShutDownMutex sync.Mutex
	onShutDown      []func(context.Context)
}

// New prepares a controller. Nothing is started and no signal is installed
// until Run.
func New(build Builder, opts ...ControllerOption) *Controller {
	cnf := controllerConfig{
		lookupEnv:       os.LookupEnv,
		logger:          slog.New(slog.DiscardHandler),
		output:          os.Stdout,
		dumpPath:        threaddump.DefaultPath(),
		shutdownTimeout: defaultShutdownTimeout,
		recorder:        nopRecorder{},
		exitFn:          os.Exit,
		dumpFn:          threaddump.Dump,
		logSignal:       logSignal,
	}

	for _, o := range opts {
		o(&cnf)
	}

	if cnf.bridge == nil {
		cnf.bridge = signalpipe.New()
	}

	c := &Controller{
		config:   cnf,
		opts:     Options{Environment: config.ResolveEnvironment(cnf.environment, cnf.lookupEnv)},
		build:    build,
		registry: NewRegistry(),
		console:  console.New(cnf.output),
	}

	c.registerActions()

	return c
}

func (c *Controller) registerActions() {
	builtin := []registration{
		{signalpipe.TokenINT, c.requestShutdown},
		{signalpipe.TokenTERM, c.requestShutdown},
	}
	if signalpipe.Supported(signalpipe.TokenTTIN) {
		builtin = append(builtin, registration{signalpipe.TokenTTIN, c.dumpThreads})
	}

	for _, r := range append(builtin, c.config.extraActions...) {
		if err := c.registry.Register(r.token, r.action); err != nil {
			c.config.logger.Error("action not registered", slog.String("signal", r.token.String()), slog.String("error", err.Error()))
		}
	}

	c.registry.Seal()
}

// Environment returns the resolved environment.
func (c *Controller) Environment() string { return c.opts.Environment }

// State returns the current lifecycle state. Safe from any goroutine.
func (c *Controller) State() State { return State(c.state.Load()) }

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
	c.config.recorder.StateChanged(int(s))
	c.config.logger.Debug("lifecycle state changed", slog.String("state", s.String()))
}

// OnShutDown appends functions called after the worker server was asked to stop
// and before the process exits. They run in order with a context bounded by the
// shutdown grace duration; the exit does not wait past that deadline.
func (c *Controller) OnShutDown(f ...func(context.Context)) {
	c.onShutDownMutex.Lock()
	defer c.onShutDownMutex.Unlock()
	c.onShutDown = append(c.onShutDown, f...)
}

// ShutDown requests a shutdown from any goroutine by raising TERM on the bridge,
// so the transition still happens on the read loop. It reports false when the
// bridge cannot take in-process tokens or dropped this one.
func (c *Controller) ShutDown() bool {
	r, ok := c.config.bridge.(interface{ Raise(signalpipe.Token) bool })
	if !ok {
		return false
	}
	return r.Raise(signalpipe.TokenTERM)
}

// Run boots the worker server, installs the signal handlers and processes
// signals until a shutdown is requested, then stops the server and exits the
// process with ExitOK. It returns early, without installing any signal, when
// the worker server cannot be built or started; the error wraps ErrStartup.
func (c *Controller) Run() error {
	c.setState(StateStarting)

	if c.opts.Environment == EnvDevelopment {
		c.console.Banner()
	}

	c.console.Status("Booting Lowkiq Server...")
	srv, err := c.build(c.opts)
	if err == nil && srv == nil {
		err = ErrNoWorkerServer
	}
	if err != nil {
		return c.startupFailed("build worker server", err)
	}
	c.server = srv

	c.console.Status("Starting processing, hit Ctrl-C to stop")
	if err := srv.Start(); err != nil {
		return c.startupFailed("start worker server", err)
	}
	go c.join(srv)

	if err := c.config.bridge.Install(c.registry.Tokens()...); err != nil {
		c.stopServer()
		return c.startupFailed("install signal handlers", err)
	}

	c.config.logger.Info("processing started",
		slog.String("environment", c.opts.Environment),
		slog.Any("signals", c.registry.Tokens()),
	)
	c.setState(StateRunning)

	c.loop()
	c.shutDown()

	return nil
}

// loop drains the bridge until a shutdown is requested.
func (c *Controller) loop() {
	ctx := context.Background()

	for !c.shutdownRequested {
		tok, err := c.config.bridge.Next()
		if err != nil {
			c.config.logger.ErrorContext(ctx, "signal bridge failed, shutting down", slog.String("error", err.Error()))
			_ = c.requestShutdown()
			return
		}

		c.handleSignal(ctx, tok)
	}
}

func (c *Controller) handleSignal(ctx context.Context, tok signalpipe.Token) {
	c.console.Status("Got %s signal", tok)
	c.config.logSignal(ctx, c.config.logger, tok)
	c.config.recorder.SignalReceived(tok.String())

	handled, err := c.registry.Dispatch(tok)
	switch {
	case !handled:
		c.config.logger.DebugContext(ctx, "no action for signal", slog.String("signal", tok.String()))
	case errors.Is(err, ErrShutdownInProgress):
		c.config.logger.DebugContext(ctx, "shutdown already in progress", slog.String("signal", tok.String()))
	case err != nil:
		logActionError(ctx, c.config.logger, tok, err)
	}
}

func (c *Controller) requestShutdown() error {
	if c.shutdownRequested {
		return ErrShutdownInProgress
	}
	c.shutdownRequested = true
	return nil
}

func (c *Controller) dumpThreads() error {
	report, err := c.config.dumpFn(c.config.dumpPath)
	if err != nil {
		return err
	}

	c.config.recorder.ThreadsDumped(report.Goroutines)
	c.config.logger.Info("thread dump written",
		slog.String("path", report.Path),
		slog.Int("goroutines", report.Goroutines),
	)

	return nil
}

func (c *Controller) shutDown() {
	c.setState(StateShuttingDown)
	c.console.Status("Shutting down")
	c.config.logger.Info("starting shutdown")

	c.stopServer()

	// From here on INT and TERM get the OS default action, so a second Ctrl-C
	// still ends a process whose callbacks hang.
	if err := c.config.bridge.Close(); err != nil {
		c.config.logger.Warn("close signal bridge", slog.String("error", err.Error()))
	}

	c.runShutdownCallbacks()

	c.console.Status("Bye!")
	c.setState(StateTerminated)

	// Busy workers may never return, so the process exits instead of joining them.
	c.config.exitFn(ExitOK)
}

// runShutdownCallbacks runs the OnShutDown functions and returns once they are
// done or the grace period is over, whichever comes first. Callbacks still
// running at the deadline are abandoned to the process exit.
func (c *Controller) runShutdownCallbacks() {
	ctx, cancel := context.Background(), context.CancelFunc(func() {})
	if c.config.shutdownTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.config.shutdownTimeout)
	}
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		runWithMutex(ctx, &c.onShutDownMutex, c.onShutDown)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		c.config.logger.Warn("shutdown callbacks exceeded grace period", slog.Duration("grace", c.config.shutdownTimeout))
	}
}

// stopServer asks the worker server to stop, at most once.
func (c *Controller) stopServer() {
	c.stopOnce.Do(c.server.Stop)
}

func (c *Controller) join(srv WorkerServer) {
	srv.Join()
	c.config.logger.Info("worker server joined")
}

func (c *Controller) startupFailed(stage string, err error) error {
	serr := &StartupError{Stage: stage, Err: err}

	c.console.Error("%s: %s", stage, err)
	c.config.logger.Error("startup failed", slog.String("stage", stage), slog.String("error", err.Error()))
	c.setState(StateTerminated)

	return serr
}

func runWithMutex(ctx context.Context, m *sync.Mutex, fns []func(context.Context)) {
	m.Lock()
	defer m.Unlock()
	for _, f := range fns {
		f(ctx)
		if ctx.Err() != nil {
			return
		}
	}
}

type ControllerOption func(*controllerConfig)

// WithEnvironment sets the environment explicitly, overriding APP_ENV,
// RAILS_ENV and RACK_ENV.
func WithEnvironment(env string) ControllerOption {
	return func(oc *controllerConfig) {
		oc.environment = env
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ControllerOption {
	return func(oc *controllerConfig) {
		oc.logger = l
	}
}

// WithOutput sets where console status lines go. Defaults to stdout.
func WithOutput(w io.Writer) ControllerOption {
	return func(oc *controllerConfig) {
		oc.output = w
	}
}

// WithBridge replaces the OS signal bridge.
func WithBridge(b Bridge) ControllerOption {
	return func(oc *controllerConfig) {
		oc.bridge = b
	}
}

// WithDumpPath sets the thread dump file.
func WithDumpPath(path string) ControllerOption {
	return func(oc *controllerConfig) {
		oc.dumpPath = path
	}
}

// WithShutdownGraceDuration bounds how long shutdown waits for the OnShutDown
// callbacks before the process exits. Zero duration means infinite shutdown
// grace period.
func WithShutdownGraceDuration(d time.Duration) ControllerOption {
	return func(oc *controllerConfig) {
		oc.shutdownTimeout = d
	}
}

// WithRecorder sets the observer of signals, dumps and state changes.
func WithRecorder(r Recorder) ControllerOption {
	return func(oc *controllerConfig) {
		oc.recorder = r
	}
}

// WithAction binds an additional signal to an action. Tokens already bound,
// including the built-in INT, TERM and TTIN, are rejected and logged.
func WithAction(tok signalpipe.Token, action Action) ControllerOption {
	return func(oc *controllerConfig) {
		oc.extraActions = append(oc.extraActions, registration{token: tok, action: action})
	}
}

// WithExitFunc replaces os.Exit as the final step of shutdown.
func WithExitFunc(f func(code int)) ControllerOption {
	return func(oc *controllerConfig) {
		oc.exitFn = f
	}
}
