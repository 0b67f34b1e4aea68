// Package app wires the Tether runtime: config, logging, the REST client,
// the realtime channel registry, and the chat synchronizer.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"tether/cmd/internal/api"
	"tether/cmd/internal/chat"
	"tether/cmd/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App is the Tether runtime. It owns the realtime channels, the room
// synchronizer, and the local observability HTTP server.
type App struct {
	cfg Config
	log Logger

	prom *prometheus.Registry

	dbPool    *pgxpool.Pool
	dbEnabled bool

	store    realtime.RoomStore
	registry *realtime.Registry

	sync   *realtime.Synchronizer
	typing *realtime.TypingCoordinator
	joiner *realtime.RoomJoiner
	router *realtime.ChatRouter

	chatHandle  *realtime.Handle
	notifHandle *realtime.Handle
	detachNotif func()
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	prom := prometheus.NewRegistry()
	prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := realtime.NewMetrics(prom)

	jar, err := newCookieJar(cfg)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{
		Jar:     jar,
		Timeout: 15 * time.Second,
	}

	apiClient, err := api.New(cfg.ServerBaseURL, log,
		api.WithPageSize(cfg.PageSize),
		api.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, err
	}

	store, dbPool, dbEnabled, err := newRoomStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	creds := newCredentials(cfg, jar)

	registry, err := realtime.NewRegistry(log, cfg.WSBase(), creds,
		realtime.WithMetrics(metrics),
	)
	if err != nil {
		if dbPool != nil {
			dbPool.Close()
		}
		return nil, err
	}

	chatSup := registry.Channel(realtime.ChannelChat)
	chatHandle := chatSup.Acquire()

	joiner := realtime.NewRoomJoiner(log, chatSup, chatHandle)

	self := chat.UserRef{ID: cfg.SelfUserID, Username: cfg.SelfUsername}
	sy := realtime.NewSynchronizer(log, apiClient, chatHandle, self,
		realtime.WithRoomStore(store),
		realtime.WithSyncMetrics(metrics),
		realtime.WithJoiner(joiner),
	)

	typing := realtime.NewTypingCoordinator(log, chatHandle, metrics)
	router := realtime.AttachChat(log, chatSup, sy, typing)

	notifSup := registry.Channel(realtime.ChannelNotifications)
	notifHandle := notifSup.Acquire()
	detachNotif := realtime.AttachNotifications(log, notifSup, func(n json.RawMessage) {
		log.Info("notification.received", "payload", string(n))
	})

	return &App{
		cfg:         cfg,
		log:         log,
		prom:        prom,
		dbPool:      dbPool,
		dbEnabled:   dbEnabled,
		store:       store,
		registry:    registry,
		sync:        sy,
		typing:      typing,
		joiner:      joiner,
		router:      router,
		chatHandle:  chatHandle,
		notifHandle: notifHandle,
		detachNotif: detachNotif,
	}, nil
}

// Sync exposes the room synchronizer for embedding callers.
func (a *App) Sync() *realtime.Synchronizer { return a.sync }

// Typing exposes the typing coordinator for embedding callers.
func (a *App) Typing() *realtime.TypingCoordinator { return a.typing }

// Registry exposes the realtime channel registry for embedding callers.
func (a *App) Registry() *realtime.Registry { return a.registry }

// Run starts the observability HTTP server, warms the room list, and blocks
// until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.prom)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.log.Info("app.start",
		"addr", a.cfg.HTTPAddr,
		"server", a.cfg.ServerBaseURL,
		"db_enabled", a.dbEnabled,
	)

	// Serve the cached room list immediately, then refresh from the server.
	if err := a.sync.WarmStart(ctx); err != nil {
		a.log.Warn("app.warm_start.fail", "err", err)
	}
	go func() {
		if err := a.sync.LoadRooms(ctx); err != nil {
			a.log.Warn("app.rooms.initial_load.fail", "err", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("app.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("app.fail", "err", err)
		a.teardown()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("app.shutdown.fail", "err", err)
	}

	a.teardown()
	a.log.Info("app.stopped")
	return nil
}

// teardown releases realtime resources in dependency order: routers first,
// then channel handles, then the room cache.
func (a *App) teardown() {
	a.router.Detach()
	a.detachNotif()
	a.typing.Teardown()
	a.joiner.Teardown()
	a.chatHandle.Release()
	a.notifHandle.Release()

	if err := a.store.Close(); err != nil {
		a.log.Error("app.store.close.fail", "err", err)
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}
}

// newCredentials assembles the websocket auth credentials. The jar rides the
// handshake only when a session cookie is actually configured; a jar with no
// session cookie would pin the ambient mode and leave the bearer-token
// fallbacks unreachable.
func newCredentials(cfg Config, jar http.CookieJar) realtime.Credentials {
	creds := realtime.Credentials{
		BearerToken:     cfg.BearerToken,
		AllowQueryToken: cfg.AllowQueryToken,
	}
	if strings.TrimSpace(cfg.SessionCookie) != "" {
		creds.Jar = jar
	}
	return creds
}

// newCookieJar builds the cookie jar shared by the REST client and the
// websocket transport. When TETHER_SESSION_COOKIE is set, the session cookie
// is installed for the server origin so both surfaces present it.
func newCookieJar(cfg Config) (http.CookieJar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	if cfg.SessionCookie == "" {
		return jar, nil
	}

	name, value, ok := strings.Cut(cfg.SessionCookie, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return nil, fmt.Errorf("app: malformed TETHER_SESSION_COOKIE, want name=value")
	}

	u, err := url.Parse(cfg.ServerBaseURL)
	if err != nil {
		return nil, fmt.Errorf("app: parse server base url: %w", err)
	}

	jar.SetCookies(u, []*http.Cookie{{
		Name:  name,
		Value: strings.TrimSpace(value),
		Path:  "/",
	}})
	return jar, nil
}

// newRoomStore decides between the Postgres-backed room cache and the
// in-memory dev store.
func newRoomStore(ctx context.Context, cfg Config, log Logger) (realtime.RoomStore, *pgxpool.Pool, bool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return realtime.NewInMemoryRoomStore(), nil, false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, err
	}

	// Ownership model: app owns pool lifecycle, store Close() is a no-op.
	store, err := realtime.NewPostgresRoomStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, false, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, false, err
	}

	log.Info("db.enabled.postgres_store")
	return store, pool, true, nil
}
