package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"

	"github.com/dukerupert/famcal/internal/backup"
	"github.com/dukerupert/famcal/internal/cache"
	"github.com/dukerupert/famcal/internal/calendar"
	"github.com/dukerupert/famcal/internal/calsync"
	"github.com/dukerupert/famcal/internal/config"
	"github.com/dukerupert/famcal/internal/database"
	gprovider "github.com/dukerupert/famcal/internal/google"
	"github.com/dukerupert/famcal/internal/ical"
	"github.com/dukerupert/famcal/internal/logging"
	"github.com/dukerupert/famcal/internal/model"
	"github.com/dukerupert/famcal/internal/notify"
	"github.com/dukerupert/famcal/internal/permission"
	"github.com/dukerupert/famcal/internal/push"
	"github.com/dukerupert/famcal/internal/server"
	"github.com/dukerupert/famcal/internal/store"
	"github.com/dukerupert/famcal/internal/vault"
	ws "github.com/dukerupert/famcal/internal/websocket"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "vapid-keys" {
		pub, priv, err := push.GenerateVAPIDKeys()
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("FAMCAL_VAPID_PUBLIC_KEY=%s\nFAMCAL_VAPID_PRIVATE_KEY=%s\n", pub, priv)
		return
	}

	cfg, err := config.Load(os.Getenv("FAMCAL_CONFIG"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	calendars := store.NewCalendarStore(db)
	events := store.NewEventStore(db)
	families := store.NewFamilyStore(db)
	authority := permission.NewAuthority(store.NewPermissionStore(db), logger.With("component", "permission"))

	cipher, err := vault.NewCipher(cfg.SecretKey)
	if err != nil {
		log.Fatalf("failed to initialize credential vault: %v", err)
	}
	var oauthCfg *oauth2.Config
	if cfg.Google.Enabled() {
		oauthCfg = &oauth2.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       []string{gcal.CalendarScope},
		}
		if cfg.Google.TokenURL != "" {
			oauthCfg.Endpoint.TokenURL = cfg.Google.TokenURL
		}
	}
	creds := vault.New(cipher, oauthCfg, calendars, logger)

	hub := ws.NewHub(logger)
	dispatcher := notify.NewDispatcher(cfg.Notify.Buffer, logger, hub)
	dispatcher.Start(ctx)

	pushSubs := store.NewPushStore(db)
	var pushSink *push.Sink
	if cfg.Push.Enabled() {
		pushSink = push.NewSink(push.NewService(push.Config{
			VAPIDPublicKey:  cfg.Push.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.Push.VAPIDPrivateKey,
			Subscriber:      cfg.Push.Subscriber,
		}), pushSubs, logger)
		dispatcher.AddSink(pushSink)
	} else {
		logger.Info("web push disabled")
	}

	serviceOpts := []calendar.Option{
		calendar.WithOptions(calendar.Options{
			MaxEventsPerCalendar: cfg.Limits.MaxEventsPerCalendar,
			ReminderLead:         cfg.Notify.ReminderLead,
			NotifyOnCreate:       cfg.Notify.OnCreate,
			NotifyOnUpdate:       cfg.Notify.OnUpdate,
		}),
		calendar.WithNotifier(dispatcher),
	}

	var providers calsync.ProviderFactory
	if cfg.Google.Enabled() {
		provider := gprovider.NewProvider(logger)
		providers = provider
		serviceOpts = append(serviceOpts, calendar.WithRemoteWriter(calsync.NewPusher(creds, provider, logger)))
	} else {
		logger.Info("google calendar integration disabled")
	}

	svc := calendar.NewService(calendars, events, families, authority, logger, serviceOpts...)
	feeds := ical.NewFetcher(logger)
	engine := calsync.NewEngine(svc, calendars, creds, providers, feeds, logger, calsync.WithTimeout(cfg.Sync.Timeout))

	backups := backup.NewManager(backup.Config{
		S3: backup.S3Config{
			Endpoint:  cfg.Backup.Endpoint,
			Bucket:    cfg.Backup.Bucket,
			Region:    cfg.Backup.Region,
			AccessKey: cfg.Backup.AccessKey,
			SecretKey: cfg.Backup.SecretKey,
		},
		Passphrase: cfg.Backup.Passphrase,
		Prefix:     cfg.Backup.Prefix,
		Retention:  cfg.Backup.Retention,
	}, db, store.NewBackupStore(db), logger)

	srv := server.New(server.Deps{
		Calendars:      calendars,
		Events:         events,
		Service:        svc,
		Engine:         engine,
		Cache:          cache.New[[]model.Event](cfg.Cache.TTL),
		Hub:            hub,
		JWTSecret:      []byte(cfg.JWTSecret),
		AllowedOrigins: cfg.AllowedOrigins,

		PushSubscriptions: pushSubs,
		VAPIDPublicKey:    cfg.Push.VAPIDPublicKey,
		Backups:           backups,
	}, logger)
	engine.SetStatusCallback(srv.SyncStatusCallback())
	dispatcher.AddSink(srv.CacheSink())

	scheduler := calsync.NewScheduler(engine, cfg.Sync.Schedule, logger)
	if err := scheduler.Start(ctx); err != nil {
		log.Fatalf("failed to start sync scheduler: %v", err)
	}

	if err := backups.Start(ctx, cfg.Backup.Schedule); err != nil {
		log.Fatalf("failed to start backup scheduler: %v", err)
	}

	go srv.RateLimiter().RunCleanup(ctx, 5*time.Minute)

	httpServer := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     srv.Router(),
		ReadTimeout: 5 * time.Second,
		// A manual sync holds the request for up to the sync timeout.
		WriteTimeout: cfg.Sync.Timeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("famcal listening", "addr", fmt.Sprintf("http://localhost:%s", cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	scheduler.Stop()
	backups.Stop()
	dispatcher.Stop()
	if pushSink != nil {
		pushSink.Wait()
	}
}
