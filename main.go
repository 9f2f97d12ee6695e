package main

import (
	"log/slog"

	"github.com/agrisat/harvest-go/cmd"
	"github.com/agrisat/harvest-go/internal/conf"
	"github.com/agrisat/harvest-go/internal/logging"
)

func main() {
	logging.Init()

	settings, err := conf.Load()
	if err != nil {
		logging.Fatal("error loading configuration", "error", err)
	}
	if settings.Debug {
		logging.SetLevel(slog.LevelDebug)
	} else {
		logging.SetLevel(slog.LevelInfo)
	}

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		logging.Fatal("command failed", "error", err)
	}
}
