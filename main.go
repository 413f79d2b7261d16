package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "modernc.org/sqlite"

	cfg "github.com/example/campusgate/internal/config"
	"github.com/example/campusgate/internal/dbmigrate"
	"github.com/example/campusgate/internal/logger"
	"github.com/example/campusgate/internal/push"
	"github.com/example/campusgate/internal/ratelimit"
	"github.com/example/campusgate/internal/session"
)

type App struct {
	DB        DB
	limiter   *ratelimit.Limiter
	store     ratelimit.Store
	validator *session.Validator
	notifier  *push.Notifier
	queue     *push.Queue
	logger    *slog.Logger

	vapidPublicKey string
	allowedOrigins []string
	cookieSecure   bool
}

// dropQueue stands in for the delivery queue when push is not configured.
type dropQueue struct{ logger *slog.Logger }

func (d dropQueue) Enqueue(job push.Job) bool {
	d.logger.Debug("push disabled, notification dropped",
		slog.Int64("user_id", job.UserID),
		slog.String("category", string(job.Category)))
	return false
}

func openDB(c *cfg.Config, log *slog.Logger) (DB, error) {
	switch c.DBAdapter {
	case "sqlite":
		return NewSQLiteDB(c.SQLiteFile)
	case "postgres":
		log.Info("applying database migrations", slog.String("dir", c.MigrationsDir))
		if err := dbmigrate.Apply(c.MigrationsDir, c.PostgresDSN, log); err != nil {
			return nil, err
		}
		p, err := NewPostgresDB(c.PostgresDSN)
		if err != nil {
			return nil, err
		}
		log.Info("connected to PostgreSQL database")
		return p, nil
	case "memory":
		log.Warn("using in-memory database (not recommended for production)")
		return NewMemoryDB(), nil
	default:
		return nil, errors.New("unsupported DB_ADAPTER: " + c.DBAdapter + " (supported: postgres, sqlite, memory)")
	}
}

func openRateLimitStore(ctx context.Context, c *cfg.Config) (ratelimit.Store, error) {
	if c.RateLimitStore == "redis" {
		return ratelimit.DialRedisStore(ctx, c.RedisURL)
	}
	return ratelimit.NewMemoryStore(), nil
}

func (a *App) routes() *mux.Router {
	r := mux.NewRouter()

	r.Use(SecurityHeaders)
	r.Use(a.Logging)
	r.Use(a.CORS)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")
	r.HandleFunc("/ready", a.HandleReady).Methods("GET")
	// preflight requests only need the CORS middleware to run
	r.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	v1 := r.PathPrefix("/api/v1").Subrouter()
	auth := ratelimit.PolicyAuth
	api := ratelimit.PolicyAPI

	v1.Handle("/auth/register", a.Admission(auth)(http.HandlerFunc(a.HandleRegister))).Methods("POST")
	v1.Handle("/auth/login", a.Admission(auth)(http.HandlerFunc(a.HandleLogin))).Methods("POST")
	v1.Handle("/auth/logout", a.Admission(auth)(http.HandlerFunc(a.HandleLogout))).Methods("POST")

	v1.Handle("/session", a.Session(http.HandlerFunc(a.HandleSessionStatus))).Methods("GET")
	v1.Handle("/session/touch", a.guarded(api, a.HandleSessionTouch)).Methods("POST")

	v1.HandleFunc("/push/vapid-public-key", a.HandleVAPIDPublicKey).Methods("GET")
	v1.Handle("/push/subscriptions", a.guarded(api, a.HandleSubscribe)).Methods("POST")
	v1.Handle("/push/subscriptions", a.guarded(api, a.HandleUnsubscribe)).Methods("DELETE")
	v1.Handle("/notifications/preferences", a.Session(http.HandlerFunc(a.HandleGetPreferences))).Methods("GET")
	v1.Handle("/notifications/preferences", a.guarded(api, a.HandleUpdatePreferences)).Methods("PUT")

	v1.Handle("/messages", a.guarded(api, a.HandleCreateMessage)).Methods("POST")
	v1.Handle("/offers", a.guarded(api, a.HandleCreateOffer)).Methods("POST")
	v1.Handle("/listings", a.guarded(api, a.HandleCreateListing)).Methods("POST")
	v1.Handle("/wishlist", a.Session(http.HandlerFunc(a.HandleGetWishlist))).Methods("GET")
	v1.Handle("/wishlist", a.guarded(api, a.HandleUpdateWishlist)).Methods("PUT")
	v1.Handle("/uploads", a.guarded(ratelimit.PolicyUpload, a.HandleUpload)).Methods("POST")

	return r
}

func (a *App) HandleReady(w http.ResponseWriter, r *http.Request) {
	ready := true
	if p, ok := a.DB.(interface{ ping() bool }); ok && !p.ping() {
		ready = false
	}
	if p, ok := a.store.(interface{ Ping(context.Context) bool }); ok && !p.Ping(r.Context()) {
		ready = false
	}
	body := map[string]interface{}{"ready": ready}
	if a.queue != nil {
		body["pushQueue"] = a.queue.Stats()
	}
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}

func main() {
	c, err := cfg.New()
	if err != nil {
		slog.Error("config", slog.Any("error", err))
		os.Exit(1)
	}
	log := logger.New(c.LogLevel)
	slog.SetDefault(log)

	db, err := openDB(c, log)
	if err != nil {
		log.Error("database init", slog.String("adapter", c.DBAdapter), slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openRateLimitStore(ctx, c)
	if err != nil {
		log.Error("rate limit store", slog.String("store", c.RateLimitStore), slog.Any("error", err))
		os.Exit(1)
	}
	go ratelimit.RunSweeper(ctx, store, c.RateLimitSweepInterval, log)

	app := &App{
		DB:             db,
		limiter:        ratelimit.NewLimiter(store, log),
		store:          store,
		validator:      session.NewValidator([]byte(c.JwtSecret)),
		logger:         log,
		vapidPublicKey: c.VAPIDPublicKey,
		allowedOrigins: c.AllowedOrigins,
		cookieSecure:   c.CookieSecure,
	}

	if len(c.AllowedOrigins) == 0 {
		log.Warn("ALLOWED_ORIGINS is empty; cross-origin requests will be refused")
	}

	var deadLetter *push.AMQPDeadLetter
	if c.PushEnabled() {
		opts := push.DispatcherOptions{Timeout: c.PushTimeout, Fanout: c.PushFanout, Logger: log}
		if c.AMQPURL != "" {
			deadLetter, err = push.DialDeadLetter(c.AMQPURL, c.PushDeadLetterQueue)
			if err != nil {
				log.Warn("dead-letter queue unavailable; transient failures will only be logged", slog.Any("error", err))
			} else {
				opts.DeadLetter = deadLetter
			}
		}
		sender := push.NewWebPushSender(push.VAPID{
			PublicKey:  c.VAPIDPublicKey,
			PrivateKey: c.VAPIDPrivateKey,
			Subject:    c.VAPIDSubject,
		}, &http.Client{Timeout: c.PushTimeout})
		dispatcher := push.NewDispatcher(db, db, sender, opts)
		app.queue = push.NewQueue(dispatcher, c.PushQueueSize, c.PushWorkers, log)
		app.notifier = push.NewNotifier(app.queue)
	} else {
		log.Warn("VAPID keys not configured; push notifications disabled")
		app.notifier = push.NewNotifier(dropQueue{logger: log})
	}

	srv := &http.Server{Handler: app.routes(), Addr: ":" + c.Port, ReadTimeout: 5 * time.Second, WriteTimeout: 10 * time.Second}

	go func() {
		log.Info("starting server", slog.String("port", c.Port), slog.String("db", c.DBAdapter), slog.String("rate_limit_store", c.RateLimitStore))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", slog.Any("error", err))
	}
	if app.queue != nil {
		if err := app.queue.Shutdown(shutdownCtx); err != nil {
			log.Warn("push queue not drained", slog.Any("error", err), slog.Any("stats", app.queue.Stats()))
		}
	}
	if deadLetter != nil {
		_ = deadLetter.Close()
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	if closer, ok := app.DB.(interface{ close() error }); ok {
		_ = closer.close()
	}
	log.Info("server exited properly")
}
