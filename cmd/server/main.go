// cmd/server/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/brightreach/outreach-backend/internal/channel"
	"github.com/brightreach/outreach-backend/internal/config"
	"github.com/brightreach/outreach-backend/internal/controller"
	"github.com/brightreach/outreach-backend/internal/cooldown"
	"github.com/brightreach/outreach-backend/internal/db"
	"github.com/brightreach/outreach-backend/internal/dispatch"
	"github.com/brightreach/outreach-backend/internal/repository"
	"github.com/brightreach/outreach-backend/internal/scheduler"
	"github.com/brightreach/outreach-backend/internal/scoring"
	"github.com/brightreach/outreach-backend/internal/selector"
	"github.com/brightreach/outreach-backend/internal/sequence"
)

func main() {
	cfg := config.Load()
	db.Init()

	leadRepo := &repository.LeadRepository{DB: db.DB}
	progressRepo := &repository.ProgressRepository{DB: db.DB}
	attemptRepo := &repository.AttemptRepository{DB: db.DB}

	machine := sequence.NewMachine(sequence.Default(), progressRepo, attemptRepo)

	sel := &selector.Selector{
		Leads:               leadRepo,
		Progress:            progressRepo,
		Cooldown:            cooldown.NewRedisStore(cfg.RedisURL, cfg.TickInterval),
		Scorer:              scoring.NewModel(),
		DailyCap:            cfg.DailyCap,
		StabilizationTarget: cfg.StabilizationTarget,
	}

	dispatcher := &dispatch.Dispatcher{
		Machine:     machine,
		Leads:       leadRepo,
		Ledger:      attemptRepo,
		Channels:    channel.NewMockRegistry(),
		SendTimeout: cfg.SendTimeout,
		Parallelism: cfg.DispatchParallelism,
	}

	sched := scheduler.New(sel, machine, dispatcher, progressRepo)
	sched.Teams = cfg.Teams
	sched.Interval = cfg.TickInterval
	sched.BatchSize = cfg.BatchSize
	sched.Zone = cfg.Timezone

	go sched.Run(context.Background())

	outreachController := &controller.OutreachController{
		Scheduler: sched,
		Selector:  sel,
		Machine:   machine,
		Attempts:  attemptRepo,
	}

	r := chi.NewRouter()
	outreachController.Routes(r)
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	log.Println("🚀 Server running on :" + cfg.Port)
	log.Fatal(srv.ListenAndServe())
}
