// main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"cafepos/internal/api"
	"cafepos/internal/cleanup"
	"cafepos/internal/config"
	"cafepos/internal/data"
	"cafepos/internal/history"
	"cafepos/internal/identity"
	"cafepos/internal/inventory"
	"cafepos/internal/logger"
	"cafepos/internal/middleware"
	"cafepos/internal/notify"
	"cafepos/internal/reconcile"
	"cafepos/internal/settlement"
)

type App struct {
	addr          string
	mux           *http.ServeMux
	handler       http.Handler
	connections   sync.WaitGroup
	totalRequests int64
	background    []func(ctx context.Context)
	closers       []func() error
}

func main() {
	issue := flag.String("issue-token", "", "print an operator token for `id[:role,role]` and exit")
	ttl := flag.Duration("token-ttl", 12*time.Hour, "lifetime of a token printed by -issue-token")
	flag.Parse()

	// Step 1: Setup configuration first
	config.LoadEnv()

	// Step 2: Setup logging
	if err := logger.SetupLogger(config.LoggerConfig()); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Close()

	// Only NOW is logging safe to use!
	logger.LogInfo("Environment loaded. Logger ready, writing to %s", logger.GetLogFilePath())
	config.LogCurrentEnvironment()

	settings, err := config.Load()
	if err != nil {
		logger.LogFatal("Invalid configuration: %v", err)
	}

	if *issue != "" {
		if err := printToken(settings, *issue, *ttl); err != nil {
			logger.LogFatal("Could not issue token: %v", err)
		}
		return
	}

	// Step 3: Build the service graph
	app, err := newApp(settings)
	if err != nil {
		logger.LogFatal("Startup failed: %v", err)
	}

	// Step 4: Run server
	app.Run()
}

// newApp opens storage and wires every service behind the HTTP routes.
func newApp(s *config.Settings) (*App, error) {
	if err := data.InitDB(s.DatabasePath); err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	if err := data.CreateTables(); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	conn, err := data.GetDB()
	if err != nil {
		return nil, err
	}

	app := &App{addr: s.ServerAddress, mux: http.NewServeMux()}
	app.closers = append(app.closers, data.CloseDB)

	catalogRepo := data.NewCatalogRepository(conn)
	inventoryRepo := data.NewInventoryRepository(conn)
	ingredientRepo := data.NewIngredientRepository(conn)
	orderRepo := data.NewOrderRepository(conn)
	pendingRepo := data.NewPendingAdjustmentRepository(conn)
	expenseRepo := data.NewExpenseRepository(conn)

	broker, err := newBroker(s)
	if err != nil {
		return nil, err
	}
	if c, ok := broker.(interface{ Close() error }); ok {
		app.closers = append(app.closers, c.Close)
	}

	inv := inventory.NewService(catalogRepo, inventoryRepo, inventory.Options{
		LowStockThreshold: s.LowStockThreshold,
		Publisher:         broker,
		Ingredients:       ingredientRepo,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if s.CatalogSeedPath != "" {
		if _, err := inv.LoadSeed(ctx, s.CatalogSeedPath); err != nil {
			return nil, fmt.Errorf("catalog seed: %w", err)
		}
	} else if err := inv.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	var verifier *identity.Verifier
	if s.JWTSecret != "" {
		if verifier, err = identity.NewVerifier(s.JWTSecret, s.JWTIssuer); err != nil {
			return nil, err
		}
	}
	auth := middleware.NewAuthenticator(nil, false)
	if verifier != nil {
		auth = middleware.NewAuthenticator(verifier, s.RequireAuth)
	}

	workflow, err := settlement.New(settlement.Deps{
		Inventory: inventoryRepo,
		Orders:    orderRepo,
		Identity:  identity.ContextProvider{},
		Pending:   pendingRepo,
	}, settlement.Options{
		RequireOperator: s.RequireAuth,
		Location:        s.Location(),
		OnTransition: func(ref string, from, to settlement.State) {
			logger.LogDebug("Settlement %s: %s -> %s", ref, from, to)
		},
	})
	if err != nil {
		return nil, err
	}

	reconciler := reconcile.NewService(pendingRepo, inventoryRepo)
	app.background = append(app.background, func(ctx context.Context) {
		reconciler.Run(ctx, s.ReconcileInterval)
	})

	sweeper := cleanup.NewService(pendingRepo, s.Location())
	app.background = append(app.background, sweeper.Run)

	limiter := middleware.NewRateLimiter(s.CheckoutRate, int(s.CheckoutRate*2))
	app.background = append(app.background, func(ctx context.Context) {
		limiter.Cleanup(ctx, time.Minute)
	})

	handler := api.NewHandler(api.Deps{
		Inventory:  inv,
		Settlement: workflow,
		Orders:     orderRepo,
		Movements:  inventoryRepo,
		History:    history.NewService(orderRepo, expenseRepo, s.Location()),
		Pending:    pendingRepo,
		Reconciler: reconciler,
		Broker:     broker,
		Location:   s.Location(),
	})
	handler.Register(app.mux, auth, limiter)

	app.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := data.GetDB(); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	app.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		logger.LogHTTPRequest(r)
		middleware.WriteAPIError(w, r, http.StatusNotFound, "not_found", "No such endpoint", nil)
	})

	app.handler = app.Handler(s.AllowedOrigin)
	return app, nil
}

func newBroker(s *config.Settings) (notify.Broker, error) {
	if s.RedisURL == "" {
		logger.LogInfo("Price updates use the in-process hub")
		return notify.NewHub(), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	b, err := notify.NewRedisBroker(ctx, s.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	logger.LogInfo("Price updates relayed through Redis")
	return b, nil
}

// printToken issues a token for local tills when no identity provider is deployed.
func printToken(s *config.Settings, who string, ttl time.Duration) error {
	v, err := identity.NewVerifier(s.JWTSecret, s.JWTIssuer)
	if err != nil {
		return err
	}
	id, roles, _ := strings.Cut(who, ":")
	op := identity.Operator{ID: id, Name: id, Roles: []string{identity.RoleCashier}}
	if roles != "" {
		op.Roles = strings.Split(roles, ",")
	}
	token, err := v.Issue(op, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// Run starts the HTTP server and background workers and blocks until a
// shutdown signal arrives.
func (a *App) Run() {
	server := &http.Server{
		Addr:         a.addr,
		Handler:      a.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stopWorkers := context.WithCancel(context.Background())
	var workers sync.WaitGroup
	for _, run := range a.background {
		workers.Add(1)
		go func() {
			defer workers.Done()
			run(ctx)
		}()
	}

	// Channel to listen for shutdown signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// Start server in a separate goroutine
	go func() {
		logger.LogInfo("Starting server on %s", a.addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.LogFatal("Server failed: %v", err)
		}
	}()

	// Wait for a shutdown signal
	<-stop
	logger.LogInfo("Shutdown signal received")

	// Create context with timeout for shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown the server gracefully
	if err := server.Shutdown(shutdownCtx); err != nil {
		// Open price streams never go idle; cut them.
		logger.LogError("Server shutdown error: %v", err)
		server.Close()
	}

	logger.LogInfo("Waiting for active connections to finish...")
	a.connections.Wait()
	stopWorkers()
	workers.Wait()

	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			logger.LogError("Shutdown cleanup failed: %v", err)
		}
	}
	logger.LogInfo("All connections closed. Total requests handled: %d", atomic.LoadInt64(&a.totalRequests))
	logger.LogInfo("Server shut down gracefully")
}

// Handler assembles all middleware around the main mux. The price stream is
// long-lived so it skips the request timeout.
func (a *App) Handler(allowedOrigin string) http.Handler {
	var handler http.Handler = a.mux

	timed := withTimeout(handler, 15*time.Second)
	handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/price-updates" {
			a.mux.ServeHTTP(w, r)
			return
		}
		timed.ServeHTTP(w, r)
	})
	handler = a.trackConnections(handler)
	handler = middleware.CORS(allowedOrigin)(handler)

	return handler
}

// Middleware: timeout handler
func withTimeout(h http.Handler, timeout time.Duration) http.Handler {
	return http.TimeoutHandler(h, timeout, `{"code":"timeout","message":"Request timed out"}`)
}

// Middleware: track active connections and total requests
func (a *App) trackConnections(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.connections.Add(1)
		atomic.AddInt64(&a.totalRequests, 1)
		defer a.connections.Done()

		h.ServeHTTP(w, r)
	})
}
