package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/envvault/internal/buildinfo"
	"github.com/dmitrijs2005/envvault/internal/client/cli"
	"github.com/dmitrijs2005/envvault/internal/client/config"
)

const onlineCheckInterval = 10 * time.Second

func main() {
	buildinfo.PrintBuildData(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()
	app, svc, err := cli.NewFromConfig(ctx, cfg)
	if err != nil {
		log.Printf("%v", err)
		return
	}
	defer svc.Close()

	if err := app.Run(ctx, onlineCheckInterval); err != nil {
		log.Printf("%v", err)
	}
}
