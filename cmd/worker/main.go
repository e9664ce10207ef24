// cmd/worker/main.go
package main

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brightreach/outreach-backend/internal/config"
	"github.com/brightreach/outreach-backend/internal/db"
	"github.com/brightreach/outreach-backend/internal/model"
	"github.com/brightreach/outreach-backend/internal/queue"
	"github.com/brightreach/outreach-backend/internal/repository"
	"github.com/brightreach/outreach-backend/internal/sequence"
)

// The worker consumes two broker feeds. Classified lead replies are attached
// to the lead's latest attempt, then the state machine branches on the
// classification. Provider delivery receipts promote sent attempts to
// delivered.
func main() {
	cfg := config.Load()
	db.Init()

	progressRepo := &repository.ProgressRepository{DB: db.DB}
	attemptRepo := &repository.AttemptRepository{DB: db.DB}
	machine := sequence.NewMachine(sequence.Default(), progressRepo, attemptRepo)

	responses := queue.NewAMQPSource(cfg.AMQPURL)
	receipts := queue.NewAMQPReceiptSource(cfg.AMQPURL)

	handleResponse := func(ctx context.Context, ev model.ResponseEvent) error {
		if ev.Classification != model.ResponseNone {
			if err := attemptRepo.AttachResponse(ctx, ev.LeadID, ev.Classification, ev.RawText); err != nil {
				return err
			}
		}
		return machine.ApplyResponse(ctx, ev, time.Now())
	}

	handleReceipt := func(ctx context.Context, rcpt model.DeliveryReceipt) error {
		return attemptRepo.MarkDelivered(ctx, rcpt.AttemptID, rcpt.DeliveredAt)
	}

	log.Println("Worker running, waiting for responses and receipts...")
	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error { return responses.Consume(ctx, handleResponse) })
	g.Go(func() error { return receipts.Consume(ctx, handleReceipt) })
	if err := g.Wait(); err != nil {
		log.Fatal("consumer stopped:", err)
	}
}
