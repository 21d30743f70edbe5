package main

import (
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/hackgods/hospital-scheduling/internal/config"
	"github.com/hackgods/hospital-scheduling/internal/db"
	"github.com/hackgods/hospital-scheduling/internal/logging"
)

// Usage: migrate            apply all pending migrations
//
//	migrate force <n>  mark version n as clean after a failed run
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := logging.Must(cfg.Env, cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	if cfg.StorageDriver != config.StoragePostgres {
		logger.Fatal("migrate needs STORAGE_DRIVER=postgres")
	}

	force := -1
	if len(os.Args) >= 3 && os.Args[1] == "force" {
		force, err = strconv.Atoi(os.Args[2])
		if err != nil {
			logger.Fatal("invalid version", zap.String("arg", os.Args[2]), zap.Error(err))
		}
	}

	result, err := db.Migrate(cfg.PostgresDSN, force)
	if err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}
	logger.Info(result)
}
