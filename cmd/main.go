package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"imagepipeline/internal/blob"
	"imagepipeline/internal/bus"
	"imagepipeline/internal/models"
	"imagepipeline/internal/resize"
	"imagepipeline/internal/server"
	"imagepipeline/internal/storage"
	"imagepipeline/internal/tracker"
)

func main() {
	cfg, err := models.LoadConfig("config.yaml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.NewStorage(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init storage: %v", err)
	}
	defer db.Close()

	store, err := blob.NewS3(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to init blob store: %v", err)
	}

	kafkaBus := bus.NewKafka(cfg.KafkaBrokers, cfg.KafkaGroupID)
	defer kafkaBus.Close()

	// One worker per variant, all sharing the same profile-driven code.
	for _, kind := range models.Variants() {
		worker, err := resize.NewWorker(kind, store, kafkaBus)
		if err != nil {
			log.Fatalf("failed to init %s worker: %v", kind, err)
		}
		worker.Register()
	}

	tracker.New(db, kafkaBus).Register()

	srv := server.NewServer(cfg, db, db, store, kafkaBus)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return kafkaBus.Run(ctx)
	})
	if cfg.RetentionTTL > 0 {
		g.Go(func() error {
			return db.RunJanitor(ctx, cfg.RetentionTTL.Std(), cfg.RetentionInterval.Std())
		})
	}

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	cancel()
	if err := g.Wait(); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
