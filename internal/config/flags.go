package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/meterlog/internal/flagx"
)

// ConfigFlags lists every flag the config layer owns, including the ones
// that take a value. The CLI uses it to separate command words from
// configuration.
var ConfigFlags = []string{"-c", "-config", "-d", "-u", "-r", "-b", "-i"}

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   local database file
//	-u string   owner (account) id of the sync session
//	-r string   remote store DSN
//	-b string   broker URL
//	-i int      online check interval in seconds
//
// The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-u", "-r", "-b", "-i"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.DatabasePath, "d", cfg.DatabasePath, "local database file")
	fs.StringVar(&cfg.OwnerID, "u", cfg.OwnerID, "owner id of the sync session")
	fs.StringVar(&cfg.RemoteDSN, "r", cfg.RemoteDSN, "remote store DSN")
	fs.StringVar(&cfg.BrokerURL, "b", cfg.BrokerURL, "broker URL")
	onlineCheckInterval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.OnlineCheckInterval = time.Duration(*onlineCheckInterval) * time.Second
}
