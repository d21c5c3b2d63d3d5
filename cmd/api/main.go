package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"gigflow/auth"
	"gigflow/config"
	"gigflow/db"
	"gigflow/geo"
	"gigflow/job"
	"gigflow/payments"
	"gigflow/proposal"
	"gigflow/verification"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	geocoder := geo.NewHTTPGeocoder(cfg.Geocoder.BaseURL, cfg.Geocoder.Timeout)
	gateway := payments.NewStripeGateway(cfg.Gateway.BaseURL, cfg.Gateway.Secret, cfg.Gateway.Timeout)

	jobRepo := job.NewRepository(pool)
	jobService := job.NewService(jobRepo, geocoder)
	authService := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)
	proposalService := proposal.NewService(proposal.NewRepository(pool), jobService, gateway)
	verificationService := verification.NewService(
		verification.NewRepository(pool), jobService, gateway, cfg.Quorum.Threshold)

	reconciler := payments.NewReconciler(jobRepo, gateway,
		cfg.Reconcile.Interval, cfg.Reconcile.InitialBackoff, cfg.Reconcile.MaxBackoff)

	server := &Server{
		authService:         authService,
		jobService:          jobService,
		proposalService:     proposalService,
		verificationService: verificationService,
	}

	httpServer := &http.Server{
		Addr:    cfg.Addr(),
		Handler: server.routes(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return reconciler.Run(gctx)
	})

	g.Go(func() error {
		log.Printf("api listening on %s (quorum threshold %d)", cfg.Addr(), cfg.Quorum.Threshold)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("api exited: %v", err)
	}
}
