package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tazhate/weathercal/config"
	"github.com/tazhate/weathercal/internal/api"
	"github.com/tazhate/weathercal/internal/bot"
	"github.com/tazhate/weathercal/internal/clients/caldav"
	"github.com/tazhate/weathercal/internal/clients/openweather"
	"github.com/tazhate/weathercal/internal/domain"
	"github.com/tazhate/weathercal/internal/logger"
	"github.com/tazhate/weathercal/internal/metrics"
	"github.com/tazhate/weathercal/internal/scheduler"
	"github.com/tazhate/weathercal/internal/service"
	"github.com/tazhate/weathercal/internal/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 2
	}

	log := logger.Get(cfg.LogLevel)
	defer log.Sync()

	if cfg.ExceedsQuota() {
		log.Warnw("Poll interval exceeds the weather API quota, some runs will be refused",
			"interval", cfg.PollInterval.String(),
			"runs_per_day", cfg.RunsPerDay(),
			"quota", cfg.WeatherDailyQuota,
		)
	}

	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		log.Errorw("Failed to init storage", "path", cfg.DatabasePath, "error", err)
		return 1
	}
	defer store.Close()

	weather := openweather.NewClient(cfg.WeatherAPIKey, cfg.Latitude, cfg.Longitude)
	weather.SetBaseURL(cfg.WeatherBaseURL)
	weather.SetGranularity(domain.Granularity(cfg.Granularity), cfg.HourlyStep)
	weather.SetCalendarLocation(cfg.Timezone)
	weather.SetDailyQuota(cfg.WeatherDailyQuota)

	calendar := caldav.NewClient(cfg.CalDAVURL, cfg.CalDAVUsername, cfg.CalDAVPassword)
	calendar.SetCalendarPath(cfg.CalendarPath)
	calendar.SetCalendarName(cfg.CalendarName)
	calendar.SetTimeout(cfg.RequestTimeout)
	calendar.SetSuppressDefaultAlarms(cfg.SuppressDefaultAlarms)

	mapper, err := service.NewForecastMapper(service.MapperConfig{
		Location:        cfg.Timezone,
		Namespace:       cfg.UIDNamespace,
		SummaryTemplate: cfg.SummaryTemplate,
		BodyTemplate:    cfg.BodyTemplate,
	})
	if err != nil {
		log.Errorw("Invalid event templates", "error", err)
		return 2
	}

	upserter := service.NewCalendarUpserter(calendar,
		service.WithEventTimeout(cfg.RequestTimeout),
		service.WithConcurrency(cfg.UpsertConcurrency),
	)

	syncSvc := service.NewSyncService(weather, mapper, calendar, upserter, service.SyncOptions{
		Location:        cfg.Timezone,
		KeepPastDays:    cfg.KeepPastDays,
		RunTimeout:      cfg.RunTimeout,
		NotifyOnSuccess: cfg.NotifyOnSuccess,
	}, log.Named("sync"))

	m := metrics.NewManager()
	syncSvc.SetJournal(store)
	syncSvc.SetRecorder(m)

	if cfg.NotifierEnabled() {
		notifier, err := bot.NewNotifier(cfg.TelegramToken, cfg.TelegramChatID, log.Named("telegram"))
		if err != nil {
			log.Warnw("Telegram notifier disabled", "error", err)
		} else {
			syncSvc.SetNotifier(notifier)
		}
	}

	if cfg.RunOnce {
		r, err := syncSvc.Run(ctx)
		if err != nil {
			log.Errorw("Sync run failed", "error", err)
			return 1
		}
		if r.Status == domain.RunFailed {
			return 1
		}
		return 0
	}

	sched := scheduler.New(cfg, syncSvc, store, log.Named("scheduler"))
	go func() {
		if err := sched.Start(ctx); err != nil {
			log.Errorw("Scheduler error", "error", err)
			stop()
		}
	}()

	var server *http.Server
	if cfg.ServerAddr != "" {
		router := api.NewRouter(store, syncSvc, m, api.Credentials{
			Username: cfg.APIUsername,
			Password: cfg.APIPassword,
		}, log.Named("api"))

		server = &http.Server{
			Addr:              cfg.ServerAddr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			log.Infow("Starting HTTP server", "addr", cfg.ServerAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorw("HTTP server error", "error", err)
				stop()
			}
		}()
	}

	log.Infow("weathercal started",
		"granularity", cfg.Granularity,
		"calendar", calendarLabel(cfg),
		"interval", cfg.PollInterval.String(),
	)

	<-ctx.Done()
	log.Info("Shutting down...")

	sched.Stop()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warnw("Error stopping HTTP server", "error", err)
		}
	}

	log.Info("weathercal stopped")
	return 0
}

func calendarLabel(cfg *config.Config) string {
	if cfg.CalendarPath != "" {
		return cfg.CalendarPath
	}
	return cfg.CalendarName
}
