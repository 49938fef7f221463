package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	catalogdomain "github.com/tonicworks/accord/internal/catalog/domain"
	matchingdomain "github.com/tonicworks/accord/internal/matching/domain"
	royaltydomain "github.com/tonicworks/accord/internal/royalty/domain"
	usagedomain "github.com/tonicworks/accord/internal/usage/domain"
	"gorm.io/gorm"
)

//go:embed sql/*.sql
var embeddedMigrations embed.FS

const migrationsDir = "sql"

// RunMigrations applies the versioned SQL migrations. Postgres only;
// other dialects go through AutoMigrateModels.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Not closing the migrator: it would close the shared *sql.DB.

	return nil
}

// AutoMigrateModels creates the schema from the gorm models. Used for
// mysql and sqlite, where the versioned postgres migrations do not
// apply.
func AutoMigrateModels(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&catalogdomain.Songwriter{},
		&catalogdomain.Work{},
		&catalogdomain.Recording{},
		&catalogdomain.Deal{},
		&catalogdomain.DealWork{},
		&usagedomain.UsageEvent{},
		&matchingdomain.MatchedUsage{},
		&matchingdomain.ReviewItem{},
		&royaltydomain.RoyaltyPeriod{},
		&royaltydomain.CalculationRun{},
		&royaltydomain.CalculationError{},
		&royaltydomain.RoyaltyStatement{},
		&royaltydomain.RoyaltyLineItem{},
		&royaltydomain.StatementRecoupment{},
	)
}
