package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mcdev12/newsletter/go/internal/database"
	"github.com/mcdev12/newsletter/go/internal/dbconfig"
)

func setupDatabase(ctx context.Context, dbConfig dbconfig.Config, migrate bool) (*sql.DB, error) {
	db, err := database.Open(ctx, dbConfig)
	if err != nil {
		return nil, err
	}

	if migrate {
		if err := database.Migrate(db, dbConfig.Database); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	return db, nil
}
