package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/attachkeeper/internal/logging"
	"github.com/dmitrijs2005/attachkeeper/internal/server"
	"github.com/dmitrijs2005/attachkeeper/internal/server/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	logger := logging.NewJSONLogger(os.Stdout, cfg.LogLevel)

	app, err := server.NewApp(ctx, cfg, logger)
	if err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}

}
