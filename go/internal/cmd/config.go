package main

import (
	"flag"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/newsletter/go/internal/config"
)

type flags struct {
	configPath string
	migrate    bool
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.configPath, "config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	flag.BoolVar(&f.migrate, "migrate", true, "apply database migrations on startup")
	flag.Parse()
	return f
}

func loadConfig(path string) (*config.Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	cfg.Log.SetupLogging()
	return cfg, nil
}
