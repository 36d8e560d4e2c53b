package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/ruangdeveloper/migrasi"
	"github.com/ruangdeveloper/migrasi/internal/partsdb"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.WithError(err).Error("migrasi failed")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	settings, err := migrasi.LoadSettings(os.Getenv("MIGRASI_CONFIG"))
	if err != nil {
		return err
	}

	db, err := settings.Open()
	if err != nil {
		return err
	}
	defer db.Close()

	config, err := settings.Config(db)
	if err != nil {
		return err
	}

	m, err := migrasi.New(config)
	if err != nil {
		return err
	}
	if err := m.Register(partsdb.Migrations()...); err != nil {
		return err
	}

	cli, err := migrasi.NewCli(migrasi.CliConfig{
		Migrasi: m,
		CliName: "migrasi",
	})
	if err != nil {
		return err
	}

	return cli.Execute(ctx)
}
