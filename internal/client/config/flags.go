package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/envvault/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
//	-m string    storage mode: local or remote
//	-d string    directory of the local vault database
//	-a string    address and port of the envvault server
//	-t string    access token for the server (also ENVVAULT_TOKEN)
//	-l duration  auto-lock after this much inactivity (1m..60m)
//	-v           debug logging
func parseFlags(cfg *Config) {
	if tok := os.Getenv("ENVVAULT_TOKEN"); tok != "" {
		cfg.AccessToken = tok
	}

	args := flagx.FilterArgs(os.Args[1:], []string{"-m", "-d", "-a", "-t", "-l", "-v"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.Mode, "m", cfg.Mode, "storage mode: local or remote")
	fs.StringVar(&cfg.DataDir, "d", cfg.DataDir, "directory of the local vault database")
	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "address and port to access server")
	fs.StringVar(&cfg.AccessToken, "t", cfg.AccessToken, "access token for the server")
	fs.DurationVar(&cfg.AutoLock, "l", cfg.AutoLock, "auto-lock after inactivity")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "debug logging")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
