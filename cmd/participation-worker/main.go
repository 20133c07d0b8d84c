package main

import (
	"context"
	"os"
	"time"

	"participation/internal/amqp"
	"participation/internal/cli"
	"participation/internal/log"
	gsheet "participation/internal/sheets/google"
	"participation/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cli.LoadEnvFile()

	cfg := cli.LoadAndValidateConfig(log.New(log.DefaultConfig()))
	logger := cli.SetupLogger(cfg.LogLevel)
	logger.Info("Starting participation-worker")

	if err := cfg.ValidateMirror(); err != nil {
		logger.Error("Mirror configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}

	resync, err := worker.ParseMonthKeys(cfg.ResyncMonths)
	if err != nil {
		logger.Error("Invalid RESYNC_MONTHS", log.FieldError, err)
		os.Exit(1)
	}

	result := cli.MustOpenBackend(context.Background(), logger, cfg)
	defer result.Close()

	var credsJSON []byte
	if cfg.GoogleServiceAccountJSON != "" {
		credsJSON = []byte(cfg.GoogleServiceAccountJSON)
	}
	sheets, err := gsheet.NewClient(context.Background(), gsheet.Config{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		SheetName:       cfg.GoogleSheetName,
		CredentialsJSON: credsJSON,
		CredentialsFile: cfg.GoogleServiceAccountFile,
	})
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client",
			log.FieldError, err,
			log.FieldComponent, log.ComponentSheets)
		os.Exit(1)
	}
	logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client",
			log.FieldError, err,
			log.FieldComponent, log.ComponentAMQP)
		os.Exit(1)
	}
	defer amqpClient.Close()

	mirror := worker.NewMirrorWorker(result.Backend, sheets, cfg.StoreTimeout, logger)

	ctx, done := cli.GracefulShutdown(logger, shutdownTimeout, nil)

	// Failed resyncs are logged and left for the next save of that month.
	if err := mirror.Resync(ctx, resync); err != nil {
		logger.Error("Startup resync failed", log.FieldError, err)
	}

	if err := mirror.Run(ctx, amqpClient); err != nil {
		logger.Error("Message consumption failed", log.FieldError, err)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped gracefully")
}
