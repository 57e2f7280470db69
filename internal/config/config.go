// Package config содержит логику чтения конфигурации сервиса розыгрышей.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса розыгрышей.
type Config struct {
	RunAddress               string `env:"RUN_ADDRESS"`
	DatabaseURI              string `env:"DATABASE_URI"`
	ParticipantSourceAddress string `env:"PARTICIPANT_SOURCE_ADDRESS"`
	// DrawSeed включает воспроизводимые розыгрыши, ноль означает криптографический источник.
	DrawSeed uint64 `env:"DRAW_SEED"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envSourceAddress := cfg.ParticipantSourceAddress
	envDrawSeed := cfg.DrawSeed

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.ParticipantSourceAddress, "p", "", "participant source address")
	flag.Uint64Var(&cfg.DrawSeed, "s", 0, "seed for reproducible draws")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envSourceAddress != "" {
		cfg.ParticipantSourceAddress = envSourceAddress
	}
	if envDrawSeed != 0 {
		cfg.DrawSeed = envDrawSeed
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
