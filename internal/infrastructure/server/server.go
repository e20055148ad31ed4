package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/locallibrary/catalog/internal/auth"
	"github.com/locallibrary/catalog/internal/config"
	"github.com/locallibrary/catalog/internal/database"
	"github.com/locallibrary/catalog/internal/database/bunstore"
	httpserver "github.com/locallibrary/catalog/internal/interface/http"
	"github.com/locallibrary/catalog/internal/session"
	"github.com/locallibrary/catalog/internal/usecase/catalog"
)

const purgeInterval = time.Hour

// App is the wired object graph behind the HTTP server.
type App struct {
	Conn     *database.Conn
	Store    *bunstore.BunStore
	Sessions *session.Store
	Handler  http.Handler
}

// Build opens the database, creates missing tables and wires every dependency.
func Build(cfg *config.Config) (*App, error) {
	conn, err := database.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, err
	}

	store, err := bunstore.NewBunStore(conn.DB, conn.Dialect)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	sessions, err := session.NewStore(sqlx.NewDb(conn.DB, conn.DriverName()), conn.QueryDialect(), cfg.SessionTTL)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	throttle := auth.NewThrottle(cfg.LoginMaxFailures, cfg.LoginLockout)

	api := httpserver.NewServer(httpserver.Dependencies{
		Catalog:   store,
		Loans:     store,
		Users:     store,
		Sessions:  session.NewManager(sessions, cfg.SessionCookie, cfg.SessionSecure),
		Auth:      auth.NewAuthenticator(store, throttle),
		Dashboard: catalog.NewDashboard(store, store),
		Renewer:   catalog.NewRenewer(store, cfg.Location()),
		PageSize:  cfg.PageSize,
	})

	return &App{
		Conn:     conn,
		Store:    store,
		Sessions: sessions,
		Handler:  api.RegisterRoutes(),
	}, nil
}

func (a *App) Close() error {
	return a.Conn.Close()
}

type Server struct {
	cfg        *config.Config
	httpServer *http.Server
}

func New(cfg *config.Config) *Server {
	return &Server{cfg: cfg}
}

// Run serves until SIGINT or SIGTERM, then drains connections.
func (s *Server) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

// Serve runs the HTTP server until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	app, err := Build(s.cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Printf("[Server] Failed to close database: %v", err)
		}
	}()

	s.httpServer = &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           app.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("[Server] Listening on %s (db=%s, tz=%s)", s.cfg.HTTPAddr, s.cfg.DBDriver, s.cfg.TimeZone)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		purgeSessions(gctx, app.Sessions, purgeInterval)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Println("[Server] Shutdown signal received. Draining connections...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Println("[Server] Server stopped gracefully.")
	return nil
}

func purgeSessions(ctx context.Context, store *session.Store, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.PurgeExpired(ctx)
			if err != nil {
				log.Printf("[Session] Failed to purge expired sessions: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("[Session] Purged %d expired sessions", n)
			}
		}
	}
}
