package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/progression/internal/api"
	"example.com/progression/internal/auth"
	"example.com/progression/internal/config"
	"example.com/progression/internal/domain"
	"example.com/progression/internal/outbox"
	memorystore "example.com/progression/internal/persistence/memory"
	persistence "example.com/progression/internal/persistence/postgres"
	httptransport "example.com/progression/internal/transport/http"
)

type userLister interface {
	ListUserIDs(ctx context.Context) ([]string, error)
}

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		service    *domain.Service
		lister     userLister
		dispatcher *outbox.Dispatcher
	)

	serviceOpts := []domain.Option{domain.WithRelaxedWeekend(cfg.RelaxedWeekend)}

	if cfg.StorageBackend == "memory" {
		log.Printf("using in-memory storage; state is lost on restart")
		repo := memorystore.NewRepository()
		service = domain.NewService(repo, repo, serviceOpts...)
		lister = repo
	} else {
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			log.Fatalf("failed to connect to postgres: %v", err)
		}
		defer pool.Close()

		repo := persistence.NewRepository(pool)
		serviceOpts = append(serviceOpts, domain.WithDegradationRecorder(repo))
		service = domain.NewService(repo, repo, serviceOpts...)
		lister = repo

		producer := outbox.NewEventProducer(cfg.KafkaBrokers)
		defer producer.Close()

		registry := outbox.NewSchemaRegistry(cfg.SchemaRegistryURL)
		dispatcher = outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
		go dispatcher.Start(ctx)
	}

	go runDegradationSweeper(ctx, service, lister, cfg.DegradationInterval)

	handler := api.NewHandler(service)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Simple CORS middleware for local dev
	cors := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "http://localhost:5173")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, authMiddleware.Wrap(logger(cors(mux))))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("progression-service listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	if dispatcher != nil {
		dispatcher.Wait()
	}
}

// runDegradationSweeper periodically decays neglected stat categories for
// every known user.
func runDegradationSweeper(ctx context.Context, service *domain.Service, lister userLister, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		ids, err := lister.ListUserIDs(ctx)
		if err != nil {
			log.Printf("degradation sweep: listing users: %v", err)
			continue
		}
		for _, id := range ids {
			outcome, err := service.RunDegradation(ctx, id)
			if err != nil {
				log.Printf("degradation sweep: user %s: %v", id, err)
				continue
			}
			if len(outcome.Applied) > 0 {
				log.Printf("degradation sweep: user %s decayed %d categories", id, len(outcome.Applied))
			}
		}
	}
}
