package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/app"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/app/config"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/app/models"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/logger"
)

// Runs one extraction job against the configured database and bucket.
func main() {
	docID := flag.String("doc", "", "document id to extract")
	flag.Parse()
	if *docID == "" {
		log.Fatal("-doc is required")
	}

	start := time.Now()
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := logger.Init("console", logger.DebugLevel); err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := app.Init(ctx, cfg); err != nil {
		logger.Get().Fatal("failed to initialize integrations", zap.Error(err))
	}
	app.MustInitDB()

	doc, err := app.ProcessExtractionJob(ctx, models.ExtractionJob{DocumentID: *docID})
	if err != nil {
		logger.Get().Fatal("extraction failed", zap.Error(err))
	}
	logger.Get().Info("extraction finished",
		zap.String("document_id", doc.ID),
		zap.String("status", string(doc.Status)),
		zap.String("vendor", doc.VendorName),
		zap.String("error", doc.ErrorMessage),
		zap.Duration("took", time.Since(start)),
	)
}
