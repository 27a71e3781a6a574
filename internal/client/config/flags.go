package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/memovault/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-d string   data directory
//	-r string   remote type (none, memory, localfs, s3, webdav, postgres)
//	-p string   remote path for the localfs provider
//	-l string   log level
//	-m string   metrics listen address
//	-s string   auto-sync cron schedule
//
// os.Args is filtered with flagx.FilterArgs so that -c/-config and unknown
// flags do not interfere.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-r", "-p", "-l", "-m", "-s"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "d", cfg.DataDir, "data directory")
	fs.StringVar(&cfg.RemoteType, "r", cfg.RemoteType, "remote type")
	fs.StringVar(&cfg.RemotePath, "p", cfg.RemotePath, "remote path (localfs)")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.MetricsAddr, "m", cfg.MetricsAddr, "metrics listen address")
	fs.StringVar(&cfg.AutoSyncSchedule, "s", cfg.AutoSyncSchedule, "auto-sync schedule, e.g. @every 5m")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
