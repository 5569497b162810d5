// Package lowkiq runs a job-processing worker server as a foreground daemon and
// controls its lifecycle through OS signals.
//
// Signals handled:
//  1. INT and TERM request a shutdown. Repeats while shutting down are ignored.
//  2. TTIN writes a stack dump of every goroutine to lowkiq_ttin.txt in the
//     temp directory, replacing the previous dump, and processing continues.
//
// Signal delivery only enqueues a token. Run's goroutine is the single reader
// and executes every action, so no action ever runs in signal context.
//
// Example usage:
//
//	func main() {
//		c := lowkiq.New(
//			func(o lowkiq.Options) (lowkiq.WorkerServer, error) {
//				return server.Build(server.Options{Environment: o.Environment}, fetcher, process)
//			},
//			lowkiq.WithShutdownGraceDuration(5*time.Second),
//		)
//
//		c.OnShutDown(metricsServer.Shutdown)
//
//		err := c.Run() // on shutdown this exits the process with status 0
//		os.Exit(lowkiq.ExitCode(err))
//	}
//
// Environment:
// The environment passed to the builder is the one given with WithEnvironment,
// else the first non-empty of APP_ENV, RAILS_ENV and RACK_ENV, else "development".
// The startup banner is printed only in development.
//
// Shutdown:
// The worker server is asked to stop but not joined, because busy workers may
// never return. The signal handlers are removed, so another INT or TERM kills the
// process outright. Shutdown callbacks registered with OnShutDown then run in
// order, sharing one context bounded by the shutdown grace period, and the
// process exits once they finish or the grace period is over.
//
// Startup failure:
// When the worker server cannot be built or started, Run returns an error
// wrapping ErrStartup before any signal handler is installed.
package lowkiq
