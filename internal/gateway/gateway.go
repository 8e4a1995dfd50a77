// ABOUTME: Gateway wiring the paywall, case API, and escalation pipeline into one HTTP server
// ABOUTME: Owns component construction, the serve loop, and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/latchline/fraudgate/internal/catalog"
	"github.com/latchline/fraudgate/internal/config"
	"github.com/latchline/fraudgate/internal/escalate"
	"github.com/latchline/fraudgate/internal/judge"
	"github.com/latchline/fraudgate/internal/ledger"
	"github.com/latchline/fraudgate/internal/negotiate"
	"github.com/latchline/fraudgate/internal/paywall"
	"github.com/latchline/fraudgate/internal/risk"
	"github.com/latchline/fraudgate/internal/store"
	"github.com/latchline/fraudgate/internal/tribunal"
)

// Gateway is the fraudgate server: the paywalled signal endpoints, the
// case API, and the background escalation runs that connect them.
type Gateway struct {
	config       *config.Config
	store        store.Store
	paywall      *paywall.Service
	ledger       *ledger.Ledger
	orchestrator *escalate.Orchestrator
	httpServer   *http.Server
	logger       *slog.Logger

	// background escalation runs in flight, drained on shutdown
	runs sync.WaitGroup
}

// New wires a gateway from config. The store is opened here and owned by
// the gateway until Shutdown.
func New(cfg *config.Config) (*Gateway, error) {
	st, err := initStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	cat, err := initCatalog(cfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("initializing catalog: %w", err)
	}

	judgement := judge.NewHeuristic()
	led := ledger.New(st, cat, ledger.LocalExecutor{}, []byte(cfg.Auth.ProofSecret),
		cfg.Paywall.ProofTTL, cfg.Paywall.PriceTolerance)
	neg := negotiate.NewEvaluator(judgement)
	pw := paywall.NewService(st, cat, led, neg, risk.Generate, cfg.Paywall.SignalTTL)

	client := escalate.NewLocalClient(pw, led, cat)
	orchestrator := escalate.NewOrchestrator(st,
		[]escalate.Analyst{escalate.NewL1(client), escalate.NewL2(client)},
		tribunal.New(judgement),
		escalate.Options{
			BudgetCeiling: cfg.Escalation.BudgetCeiling,
			MaxRetries:    cfg.Escalation.MaxRetries,
			RetryBackoff:  cfg.Escalation.RetryBackoff,
			AgentTimeout:  cfg.Escalation.AgentTimeout,
		})

	g := &Gateway{
		config:       cfg,
		store:        st,
		paywall:      pw,
		ledger:       led,
		orchestrator: orchestrator,
		logger:       slog.Default().With("component", "gateway"),
	}

	mux := http.NewServeMux()
	paywall.NewHandler(pw, led).Register(mux)
	g.registerCaseRoutes(mux)
	mux.HandleFunc("GET /healthz", g.handleHealth)

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g, nil
}

// initStore opens the SQLite store, honoring the FRAUDGATE_DB_PATH
// override used by container deployments.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("FRAUDGATE_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	return store.NewSQLiteStore(dbPath)
}

// initCatalog loads the signal catalog, falling back to the built-in
// defaults when no file is configured.
func initCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	if cfg.Catalog.Path == "" {
		return catalog.Default(), nil
	}
	return catalog.Load(cfg.Catalog.Path)
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.httpServer.Addr, err)
	}
	g.logger.Info("gateway listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		g.logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return g.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}

// Shutdown stops the HTTP server, waits for in-flight escalation runs,
// and closes the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	done := make(chan struct{})
	go func() {
		g.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		g.logger.Warn("shutdown deadline hit with escalation runs in flight")
	}

	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
