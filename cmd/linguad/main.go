package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"linguachat/go-backend/internal/config"
	"linguachat/go-backend/internal/daemon"
)

func main() {
	configFlag := flag.String("config", "", "config file path (overrides default)")
	flag.Parse()

	path := *configFlag
	if path == "" {
		path = config.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(cfg),
	)

	app.Run()
}
