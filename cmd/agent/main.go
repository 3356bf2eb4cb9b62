package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"vn.io.arda/notification-agent/internal/application"
	"vn.io.arda/notification-agent/internal/bridge"
	"vn.io.arda/notification-agent/internal/config"
	"vn.io.arda/notification-agent/internal/credential"
	"vn.io.arda/notification-agent/internal/infrastructure/postgres"
	"vn.io.arda/notification-agent/internal/kafka"
	"vn.io.arda/notification-agent/internal/metrics"
	"vn.io.arda/notification-agent/internal/realtime"
	"vn.io.arda/notification-agent/internal/store"
	transporthttp "vn.io.arda/notification-agent/internal/transport/http"
)

func main() {
	// ── Logging ──────────────────────────────────────────────────────────────
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// ── Config ───────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if cfg.Server.Env == "production" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().Str("env", cfg.Server.Env).Str("port", cfg.Server.Port).Msg("starting arda-notification-agent")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Credentials ──────────────────────────────────────────────────────────
	var creds credential.Provider
	switch cfg.Credentials.Source {
	case "keyring":
		ring, err := credential.OpenKeyring(credential.KeyringConfig{
			ServiceName: cfg.Credentials.KeyringService,
			FileDir:     cfg.Credentials.KeyringDir,
			TokenKey:    cfg.Credentials.TokenKey,
			UserIDKey:   cfg.Credentials.UserIDKey,
			CacheTTL:    cfg.Credentials.CacheTTL,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open keyring")
		}
		creds = ring
	default:
		creds = credential.NewStatic(cfg.Credentials.Token, cfg.Credentials.UserID)
	}

	userID, err := creds.UserID(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("could not resolve user id")
	}
	if userID == "" {
		userID = "anonymous"
	}
	log.Info().Str("source", cfg.Credentials.Source).Str("user", userID).Msg("credentials ready")

	// ── Store & Transport Bridge ─────────────────────────────────────────────
	st := store.New()
	client := bridge.NewClient(
		cfg.Backend.APIURL,
		creds,
		&http.Client{Timeout: cfg.Backend.RequestTimeout},
		cfg.Backend.MaxRetries,
	)
	frames := bridge.New(st)

	// ── Connection Manager ───────────────────────────────────────────────────
	mgr := realtime.NewManager(realtime.Options{
		Endpoint: cfg.Backend.SocketURL,
		Tokens:   creds,
		Dialer:   realtime.WebsocketDialer{ReadLimit: cfg.Backend.SocketReadLimit},
		Frames:   frames,
	})
	mgr.OnError(func(err error) {
		log.Warn().Err(err).Msg("notification socket error")
	})

	// ── Application Service ──────────────────────────────────────────────────
	svc := application.NewService(st, client, mgr, cfg.Backend.PageSize)

	if cfg.Backend.RefetchOnConnect {
		mgr.OnStatus(func(s realtime.State) {
			if s.Status != realtime.StatusConnected {
				return
			}
			// Catch up on anything pushed while the socket was down.
			go func() {
				if err := svc.RefetchNotifications(ctx); err != nil {
					log.Warn().Err(err).Msg("refetch after connect failed")
				}
			}()
		})
	}

	// ── SSE Hub & Metrics ────────────────────────────────────────────────────
	hub := transporthttp.NewHub()
	st.Subscribe(hub.PublishChange)
	mgr.OnStatus(hub.PublishStatus)

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		m := metrics.New(cfg.Metrics.Runtime)
		st.Subscribe(m.ObserveChange)
		mgr.OnStatus(m.ObserveState)
		mgr.OnError(m.ObserveError)
		metricsHandler = m.Handler()
	}

	// ── Archive (optional) ───────────────────────────────────────────────────
	var archiverDone chan struct{}
	if cfg.Archive.Enabled {
		pool, err := pgxpool.New(ctx, cfg.Archive.DSN())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("postgres ping failed")
		}
		log.Info().Msg("postgres connected")

		archive := postgres.New(pool, userID)
		if err := archive.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate archive")
		}
		if _, err := svc.Hydrate(ctx, archive, cfg.Archive.LoadLimit); err != nil {
			log.Error().Err(err).Msg("failed to hydrate from archive")
		}

		// Subscribed after hydration so the archive is not rewritten with itself.
		archiver := application.NewArchiver(archive, cfg.Archive.QueueSize)
		st.Subscribe(archiver.Enqueue)
		archiverDone = make(chan struct{})
		go func() {
			defer close(archiverDone)
			archiver.Run(ctx)
		}()

		// ── Retention Purge Job (every 24h, opt-in) ─────────────────────────
		if cfg.Archive.RetentionDays > 0 {
			go func() {
				ticker := time.NewTicker(24 * time.Hour)
				defer ticker.Stop()
				for {
					select {
					case <-ticker.C:
						count, err := archive.PurgeOlderThan(ctx, cfg.Archive.RetentionDays)
						if err != nil {
							log.Error().Err(err).Msg("archive retention purge failed")
							continue
						}
						log.Info().Int64("deleted", count).Int("older_than_days", cfg.Archive.RetentionDays).Msg("archive retention purge completed")
					case <-ctx.Done():
						return
					}
				}
			}()
		}
	}

	// ── Kafka Change Mirror (optional) ───────────────────────────────────────
	var mirror *kafka.Mirror
	if len(cfg.Kafka.Brokers) > 0 {
		mirror, err = kafka.New(cfg.Kafka.Brokers, cfg.Kafka.Topic, userID)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create kafka producer")
		}
		st.Subscribe(mirror.Publish)
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka change mirror enabled")
	}

	// ── Start Connection Manager ─────────────────────────────────────────────
	mgrDone := make(chan struct{})
	go func() {
		defer close(mgrDone)
		mgr.Run(ctx)
	}()
	mgr.Connect()

	if !cfg.Backend.RefetchOnConnect {
		go func() {
			if err := svc.RefetchNotifications(ctx); err != nil {
				log.Warn().Err(err).Msg("initial notification fetch failed")
			}
		}()
	}

	// ── Start HTTP Server ────────────────────────────────────────────────────
	handler := transporthttp.NewHandler(svc, hub)
	router := transporthttp.NewRouter(handler, cfg.Server.APIKey, metricsHandler)

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("HTTP server listening")
		if err := router.Start(":" + cfg.Server.Port); err != nil {
			log.Info().Msg("HTTP server stopped")
		}
	}()

	// ── Graceful Shutdown ────────────────────────────────────────────────────
	<-ctx.Done()
	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := router.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	<-mgrDone
	if archiverDone != nil {
		<-archiverDone
	}
	if mirror != nil {
		mirror.Close(shutdownCtx)
	}

	log.Info().Msg("arda-notification-agent stopped")
}
