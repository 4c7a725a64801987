// migrate applies the embedded SQL migrations; run with go run ./cmd/migrate -direction up.
package main

import (
	"flag"
	"os"

	"go.uber.org/zap"

	"github.com/ShiroSan123/otp-valhalla/internal/config"
	"github.com/ShiroSan123/otp-valhalla/internal/db/migrate"
	"github.com/ShiroSan123/otp-valhalla/internal/logger"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log, err := logger.New(cfg.Env, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		_, _ = os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	if err := migrate.Run(cfg.DatabaseURL, *direction, log); err != nil {
		log.Fatal("migrate failed", zap.String("direction", *direction), zap.Error(err))
	}
}
