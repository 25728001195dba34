package main

import (
	"database/sql"
	"embed"
	"flag"
	"log"

	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	dsn     = flag.String("dsn", "", "Postgres DSN for the configuration store (required)")
	down    = flag.Bool("down", false, "Roll back the most recently applied migration instead of applying pending ones")
	status  = flag.Bool("status", false, "Print applied/pending migrations and exit")
	version = flag.Bool("version", false, "Print the current schema version and exit")
)

func main() {
	flag.Parse()

	if *dsn == "" {
		log.Fatal("pipeline-migrate: -dsn is required")
	}

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("pipeline-migrate: failed to open database: %v", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatalf("pipeline-migrate: %v", err)
	}

	const migrationsDir = "migrations"

	switch {
	case *version:
		v, err := goose.GetDBVersion(db)
		if err != nil {
			log.Fatalf("pipeline-migrate: failed to read schema version: %v", err)
		}
		log.Printf("schema version: %d", v)

	case *status:
		if err := goose.Status(db, migrationsDir); err != nil {
			log.Fatalf("pipeline-migrate: status failed: %v", err)
		}

	case *down:
		if err := goose.Down(db, migrationsDir); err != nil {
			log.Fatalf("pipeline-migrate: rollback failed: %v", err)
		}
		log.Println("rolled back one migration")

	default:
		if err := goose.Up(db, migrationsDir); err != nil {
			log.Fatalf("pipeline-migrate: migration failed: %v", err)
		}
		log.Println("migrations applied successfully")
	}
}
