package main

import (
	"database/sql"

	"github.com/mcdev12/newsletter/go/internal/delivery"
	"github.com/mcdev12/newsletter/go/internal/idempotency"
	"github.com/mcdev12/newsletter/go/internal/newsletter"
)

type Services struct {
	Newsletters *newsletter.Service
}

func setupServices(database *sql.DB) *Services {
	// Database → Repository → App → Service

	guard := idempotency.NewGuard(idempotency.NewRepository(database))
	queue := delivery.NewQueue(database)

	newsletterRepo := newsletter.NewRepository(database)
	newsletterApp := newsletter.NewApp(guard, newsletterRepo, queue)
	newsletterService := newsletter.NewService(newsletterApp)

	return &Services{
		Newsletters: newsletterService,
	}
}
