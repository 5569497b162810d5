package main

import (
	"github.com/urfave/cli/v3"

	"github.com/ifnotnil/lowkiq/internal/config"
)

const (
	environmentFlag   = "environment"
	configFlag        = "config"
	redisURLFlag      = "redis-url"
	queueFlag         = "queue"
	concurrencyFlag   = "concurrency"
	pidFileFlag       = "pidfile"
	logFileFlag       = "log-file"
	logLevelFlag      = "log-level"
	metricsAddrFlag   = "metrics-addr"
	dumpPathFlag      = "dump-path"
	shutdownGraceFlag = "shutdown-grace"
)

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    environmentFlag,
			Aliases: []string{"e"},
			Usage:   "Application environment, overrides APP_ENV, RAILS_ENV and RACK_ENV",
		},
		&cli.StringFlag{
			Name:    configFlag,
			Aliases: []string{"C"},
			Usage:   "Path to a TOML configuration file",
		},
		&cli.StringFlag{
			Name:  redisURLFlag,
			Usage: "Queue backend, e.g. redis://127.0.0.1:6379/0",
		},
		&cli.StringSliceFlag{
			Name:    queueFlag,
			Aliases: []string{"q"},
			Usage:   "Queue to process, repeat for several queues in priority order",
		},
		&cli.IntFlag{
			Name:    concurrencyFlag,
			Aliases: []string{"c"},
			Usage:   "Number of processor goroutines",
		},
		&cli.StringFlag{
			Name:    pidFileFlag,
			Aliases: []string{"P"},
			Usage:   "Write and lock a pid file at this path",
		},
		&cli.StringFlag{
			Name:  logFileFlag,
			Usage: "Log to this file instead of stderr",
		},
		&cli.StringFlag{
			Name:  logLevelFlag,
			Usage: "trace, debug, info, warn, error or fail",
		},
		&cli.StringFlag{
			Name:  metricsAddrFlag,
			Usage: "Serve Prometheus metrics on this address, e.g. :9090",
		},
		&cli.StringFlag{
			Name:  dumpPathFlag,
			Usage: "Where TTIN writes the thread dump",
		},
		&cli.DurationFlag{
			Name:  shutdownGraceFlag,
			Usage: "Upper bound for shutdown callbacks, 0 waits forever",
		},
	}
}

// runOptions is the configuration after flags were applied over the file.
type runOptions struct {
	Environment string
	Config      config.Config
}

// parseRunOptions loads the configuration file and applies every flag the user
// set on top of it.
func parseRunOptions(cmd *cli.Command) (runOptions, error) {
	cfg, err := config.Load(cmd.String(configFlag))
	if err != nil {
		return runOptions{}, err
	}

	if cmd.IsSet(redisURLFlag) {
		cfg.Server.RedisURL = cmd.String(redisURLFlag)
	}
	if cmd.IsSet(queueFlag) {
		cfg.Server.Queues = cmd.StringSlice(queueFlag)
	}
	if cmd.IsSet(concurrencyFlag) {
		cfg.Server.Concurrency = int(cmd.Int(concurrencyFlag))
	}
	if cmd.IsSet(pidFileFlag) {
		cfg.Daemon.PIDFile = cmd.String(pidFileFlag)
	}
	if cmd.IsSet(logFileFlag) {
		cfg.Log.File = cmd.String(logFileFlag)
	}
	if cmd.IsSet(logLevelFlag) {
		cfg.Log.Level = cmd.String(logLevelFlag)
	}
	if cmd.IsSet(metricsAddrFlag) {
		cfg.Metrics.Addr = cmd.String(metricsAddrFlag)
	}
	if cmd.IsSet(dumpPathFlag) {
		cfg.Daemon.DumpPath = cmd.String(dumpPathFlag)
	}
	if cmd.IsSet(shutdownGraceFlag) {
		cfg.Daemon.ShutdownGrace = config.Duration{Duration: cmd.Duration(shutdownGraceFlag)}
	}

	if err := cfg.Validate(); err != nil {
		return runOptions{}, err
	}

	return runOptions{
		Environment: cmd.String(environmentFlag),
		Config:      cfg,
	}, nil
}
