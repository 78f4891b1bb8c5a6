// Command token mints an access token for a user ID with the server's JWT
// secret. It stands in for the external identity provider during
// development:
//
//	token -u alice -s "$ENVVAULT_JWT_SECRET" -t 60
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dmitrijs2005/envvault/internal/flagx"
	"github.com/dmitrijs2005/envvault/internal/server/auth"
	"github.com/dmitrijs2005/envvault/internal/server/config"
)

func main() {
	cfg := config.LoadConfig()

	fs := flag.NewFlagSet("token", flag.ExitOnError)
	userID := fs.String("u", "", "user ID to embed in the token")
	_ = fs.Parse(flagx.FilterArgs(os.Args[1:], []string{"-u"}))

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "usage: token -u USER_ID [-s SECRET] [-t MINUTES]")
		os.Exit(2)
	}

	tok, err := auth.GenerateToken(*userID, []byte(cfg.SecretKey), cfg.AccessTokenValidityDuration)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(tok)
}
