package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/caseproof/evidence-backend/internal/infrastructure/config"
	"github.com/caseproof/evidence-backend/migrations"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to configuration file")
		action     = flag.String("action", "up", "migration action: up, down, version, force")
		steps      = flag.Int("steps", 0, "number of migrations to apply (0 = all)")
		forceTo    = flag.Int("force", -1, "version to force (with -action force)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if cfg.Metadata.URL == "" {
		log.Fatal("metadata.url is not configured; nothing to migrate")
	}

	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		log.Fatalf("failed to open embedded migrations: %v", err)
	}

	// The pgx/v5 migrate driver registers under the pgx5 scheme.
	url := strings.Replace(cfg.Metadata.URL, "postgres://", "pgx5://", 1)

	m, err := migrate.NewWithSourceInstance("iofs", source, url)
	if err != nil {
		log.Fatalf("failed to initialize migrator: %v", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			log.Printf("migrator close: source=%v database=%v", srcErr, dbErr)
		}
	}()

	switch *action {
	case "up":
		if *steps > 0 {
			err = m.Steps(*steps)
		} else {
			err = m.Up()
		}
	case "down":
		if *steps > 0 {
			err = m.Steps(-*steps)
		} else {
			err = m.Down()
		}
	case "version":
		version, dirty, verr := m.Version()
		if verr != nil {
			log.Fatalf("failed to read version: %v", verr)
		}
		fmt.Printf("version=%d dirty=%v\n", version, dirty)
		return
	case "force":
		if *forceTo < 0 {
			log.Fatal("-force requires a non-negative version")
		}
		err = m.Force(*forceTo)
	default:
		log.Fatalf("unknown action %q", *action)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		log.Println("no pending migrations")
		return
	}
	if err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	log.Println("migrations applied")
}
