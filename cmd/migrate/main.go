package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/samirrijal/trailkeep/internal/adapters/filestore"
	"github.com/samirrijal/trailkeep/internal/pkg/config"
	"github.com/samirrijal/trailkeep/internal/pkg/logging"
)

// migrate rewrites a legacy array-form point log into line form.
// The path defaults to the configured point log.
func main() {
	cfg, err := config.Load("trailkeep-migrate")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Log.Level, "text", cfg.Telemetry.ServiceName)

	path := cfg.Storage.Path(cfg.Storage.PointLog)
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	res, err := filestore.Migrate(context.Background(), path, time.Now())
	if errors.Is(err, filestore.ErrAlreadyLineForm) {
		fmt.Printf("SKIP %s is already in line form\n", path)
		return
	}
	if err != nil {
		slog.Error("migration failed, original left untouched", "path", path, "error", err)
		os.Exit(1)
	}

	fmt.Printf("OK   %s: %d points, backup at %s\n", path, res.Points, res.Backup)
}
