package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"ms-booking/internal/config"
	"ms-booking/internal/database/migrations"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

const usage = `usage: migrate <command> [arg]

commands:
  up          apply every pending migration
  down        roll back every migration
  to N        migrate up or down to version N
  force N     mark version N as clean without running it
  version     print the current schema version
  seed        insert a demo agency with one approved listing of each kind`

func main() {
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	log, err := logger.NewLogger(logger.Options{
		Service: "migrate",
		Level:   cfg.Log.Level,
		Color:   cfg.Log.Color,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	connector := pgdriver.NewConnector(pgdriver.WithDSN(cfg.Database.DSN()))
	sqldb := sql.OpenDB(connector)
	defer sqldb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sqldb.PingContext(ctx); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to database: %v", err))
	}

	opts := migrations.DefaultOptions()
	if cfg.Database.MigrationsDir != "" {
		opts.Dir = cfg.Database.MigrationsDir
	}
	runner := migrations.NewRunner(sqldb, opts, log)
	defer runner.Close()

	if err := run(context.Background(), runner, bun.NewDB(sqldb, pgdialect.New()), flag.Args()); err != nil {
		log.Fatal("MIGRATE", err.Error())
	}
}

func run(ctx context.Context, runner *migrations.Runner, db *bun.DB, args []string) error {
	switch args[0] {
	case "up":
		return runner.Up()
	case "down":
		return runner.Down()
	case "to", "force":
		if len(args) < 2 {
			return fmt.Errorf("%s needs a version", args[0])
		}
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 0 {
			return fmt.Errorf("invalid version %q", args[1])
		}
		if args[0] == "to" {
			return runner.To(uint(n))
		}
		return runner.Force(n)
	case "version":
		v, dirty, err := runner.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version=%d dirty=%t\n", v, dirty)
		return nil
	case "seed":
		return seed(ctx, db)
	}
	return fmt.Errorf("unknown command %q\n%s", args[0], usage)
}

func seed(ctx context.Context, db *bun.DB) error {
	now := time.Now().UTC()
	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		agency := models.Agency{
			ID:          uuid.New().String(),
			OwnerUserID: "demo-agent",
			Name:        "Demo Travel",
			CreatedAt:   now,
		}
		if _, err := tx.NewInsert().Model(&agency).Exec(ctx); err != nil {
			return fmt.Errorf("seed agency: %w", err)
		}

		departure := now.AddDate(0, 1, 0).Truncate(24 * time.Hour)
		trip := models.Trip{
			ID:                uuid.New().String(),
			AgencyID:          agency.ID,
			Title:             "Sahara weekend",
			Destination:       "Douz",
			BasePrice:         450,
			Currency:          "TND",
			Capacity:          20,
			AvailableSeats:    20,
			DepartureDate:     departure,
			ReturnDate:        departure.AddDate(0, 0, 2),
			AdvancePercentage: 30,
			Discounts:         []models.DiscountRule{{Kind: models.DiscountGroup, Percentage: 10, MinPeople: 4}},
			Status:            models.ResourceApproved,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		car := models.Car{
			ID:        uuid.New().String(),
			AgencyID:  agency.ID,
			Title:     "Compact",
			Location:  "Tunis",
			BasePrice: 120,
			Currency:  "TND",
			Quantity:  3,
			Discounts: []models.DiscountRule{},
			Status:    models.ResourceApproved,
			CreatedAt: now,
			UpdatedAt: now,
		}
		room := models.Room{
			ID:        uuid.New().String(),
			AgencyID:  agency.ID,
			Title:     "Sea view double",
			Hotel:     "Marhaba",
			BasePrice: 260,
			Currency:  "TND",
			MaxGuests: 2,
			Discounts: []models.DiscountRule{},
			Status:    models.ResourceApproved,
			CreatedAt: now,
			UpdatedAt: now,
		}
		for _, m := range []interface{}{&trip, &car, &room} {
			if _, err := tx.NewInsert().Model(m).Exec(ctx); err != nil {
				return fmt.Errorf("seed %T: %w", m, err)
			}
		}
		fmt.Printf("seeded agency %s (owner demo-agent)\n", agency.ID)
		return nil
	})
}
