package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	APIKey      string `env:"BLOGGER_API_KEY,required,notEmpty"`
	FeedURLBase string `env:"FEED_URL_BASE,required,notEmpty"`
	DBPath      string `env:"DB_PATH"         envDefault:"blogreplay.sqlite"`
	FeedDir     string `env:"FEED_DIR"        envDefault:"feeds"`
	MaxRetries  uint   `env:"MAX_RETRIES"     envDefault:"5"`
	MaxEntries  int    `env:"MAX_ENTRIES"     envDefault:"0"`
	ReplaySpec  string `env:"REPLAY_CRON"     envDefault:"0 * * * *"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	return cfg, nil
}
