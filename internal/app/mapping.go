package app

import (
	"context"
	"strings"

	"medminder/internal/config"
	"medminder/internal/notify"
	"medminder/internal/notify/email"
	"medminder/internal/notify/fcm"
	"medminder/internal/notify/telegram"
	"medminder/internal/scheduler"
	"medminder/internal/storage"
	"medminder/internal/telemetry"
	logx "medminder/pkg/logx"
)

// Version is stamped at build time via -ldflags "-X medminder/internal/app.Version=...".
var Version = "dev"

func mapLogging(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		JSON:    c.JSON,
		File: logx.FileConfig{
			Enabled: c.File.Enabled,
			Path:    c.File.Path,
		},
	}
}

func schedulerSettings(s config.Scheduler) scheduler.Settings {
	return scheduler.Settings{
		Location:           s.Location,
		Workers:            s.Workers,
		SweepEvery:         s.SweepEvery,
		LowStockEvery:      s.LowStockEvery,
		CaregiverReminders: s.CaregiverReminders,
	}
}

func notifySettings(n config.Notifier) notify.Settings {
	return notify.Settings{
		RatePerSec:       n.RatePerSec,
		RetryMax:         n.RetryMax,
		RetryBase:        n.RetryBase,
		RetryMaxDelay:    n.RetryMaxDelay,
		SendTimeout:      n.SendTimeout,
		HistorySize:      n.HistorySize,
		LowStockRenotify: n.LowStockRenotify,
	}
}

func mapStorage(c config.StorageConfig) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", c.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.TrimSpace(c.Driver),
		Path:        strings.TrimSpace(c.Path),
		DSN:         strings.TrimSpace(c.DSN),
		BusyTimeout: busy,
		SeedFile:    strings.TrimSpace(c.SeedFile),
	}, nil
}

func mapTelemetry(c config.TelemetryConfig) telemetry.Config {
	name := strings.TrimSpace(c.ServiceName)
	if name == "" {
		name = config.DefaultServiceName
	}
	return telemetry.Config{Endpoint: c.OTLPEndpoint, ServiceName: name, Version: Version}
}

// buildGateway routes addresses to the enabled channels. With no channel
// enabled every notice goes to the log instead.
func buildGateway(ctx context.Context, c config.NotifierConfig, log logx.Logger) (*notify.Router, error) {
	r := notify.NewRouter()
	if e := c.Email; e.Enabled {
		gw, err := email.New(email.Config{
			Host:     e.Host,
			Port:     e.Port,
			Username: e.Username,
			Password: e.Password,
			From:     e.From,
		})
		if err != nil {
			return nil, err
		}
		r.Handle(notify.SchemeEmail, gw)
	}
	if t := c.Telegram; t.Enabled {
		gw, err := telegram.New(t.Token)
		if err != nil {
			return nil, err
		}
		r.Handle(notify.SchemeTelegram, gw)
	}
	if f := c.FCM; f.Enabled {
		gw, err := fcm.New(ctx, f.CredentialsFile)
		if err != nil {
			return nil, err
		}
		r.Handle(notify.SchemeFCM, gw)
	}
	if len(r.Schemes()) == 0 {
		log.Warn("no notification channel enabled; notices are logged only")
		r.Fallback(notify.LogGateway{Log: log.With(logx.String("comp", "notify.log"))})
	}
	return r, nil
}
