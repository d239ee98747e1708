// Command authcore-server exposes the authcore engine over HTTP.
//
//	authcore-server -config authcore.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/httpapi"
	"github.com/MrEthical07/authcore/metrics/export/prometheus"
	"github.com/MrEthical07/authcore/notify"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/userstore/memory"
	"github.com/MrEthical07/authcore/userstore/pgstore"
)

func main() {
	configPath := flag.String("config", "", "YAML or TOML configuration file")
	flag.Parse()

	cfg, err := loadServerConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := log.New(os.Stderr, "authcore ", log.LstdFlags|log.Lmsgprefix)
	ctx := context.Background()

	app, err := build(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("startup: %v", err)
	}
	defer app.close()

	gin.SetMode(gin.ReleaseMode)
	router := httpapi.NewRouter(app.engine, httpapi.Options{
		Metrics: prometheus.New(app.engine).Handler(),
		Logger:  logger,
	})
	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Printf("listening on %s", cfg.Listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("serve: %v", err)
		}
	}()

	<-done
	logger.Println("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
}

type app struct {
	engine  *authcore.Engine
	closers []io.Closer
}

func (a *app) close() {
	if a.engine != nil {
		a.engine.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
}

type closerFunc func()

func (f closerFunc) Close() error { f(); return nil }

func build(ctx context.Context, cfg serverConfig, logger *log.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	a.closers = append(a.closers, rdb)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
	}

	argon, err := password.NewArgon2(cfg.Auth.Password)
	if err != nil {
		return nil, err
	}
	// bcrypt rows imported from older systems keep verifying.
	hasher := password.NewChain(argon, password.NewBcrypt(cfg.LegacyBcryptCost))

	users, err := openUserStore(ctx, cfg, hasher, a)
	if err != nil {
		return nil, err
	}

	sink, err := openAuditSink(ctx, cfg, a)
	if err != nil {
		return nil, err
	}

	b := authcore.New().
		WithConfig(cfg.Auth).
		WithRedis(rdb).
		WithUserStore(users).
		WithPasswordHasher(hasher).
		WithAuditSink(sink).
		WithLogger(logger)

	if cfg.SMS.Endpoint != "" || cfg.SMS.DryRun {
		sms, err := notify.NewSMSGateway(cfg.SMS, logger)
		if err != nil {
			return nil, err
		}
		b = b.WithSMSGateway(sms)
	} else {
		b = b.WithSMSGateway(notify.LogGateway{Channel: "sms", Logger: logger})
	}
	if cfg.Email.Host != "" {
		email, err := notify.NewEmailGateway(cfg.Email)
		if err != nil {
			return nil, err
		}
		b = b.WithEmailGateway(email)
	} else {
		b = b.WithEmailGateway(notify.LogGateway{Channel: "email", Logger: logger})
	}

	a.engine, err = b.Build()
	if err != nil {
		return nil, err
	}
	return a, nil
}

func openUserStore(ctx context.Context, cfg serverConfig, hasher authcore.PasswordHasher, a *app) (authcore.UserStore, error) {
	if cfg.PostgresURL != "" {
		pool, err := pgstore.Connect(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closerFunc(pool.Close))
		store, err := pgstore.New(pool, hasher)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		return store, nil
	}

	store, err := memory.New(hasher)
	if err != nil {
		return nil, err
	}
	for _, u := range cfg.Seed {
		if strings.TrimSpace(u.Username) == "" || u.Password == "" {
			return nil, fmt.Errorf("%w: seed users need a username and password", authcore.ErrConfiguration)
		}
		id, err := store.CreateUser(ctx, authcore.User{Username: u.Username, Email: u.Email, Active: true, Roles: u.Roles}, u.Password)
		if err != nil {
			return nil, fmt.Errorf("seed %s: %w", u.Username, err)
		}
		store.SetPermissions(id, u.Permissions)
	}
	return store, nil
}

func openAuditSink(ctx context.Context, cfg serverConfig, a *app) (authcore.AuditSink, error) {
	if cfg.AuditDB == "" {
		return authcore.NewJSONWriterSink(os.Stderr), nil
	}
	db, err := audit.OpenSQLite(cfg.AuditDB)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db)
	return authcore.NewSQLiteSink(ctx, db)
}
