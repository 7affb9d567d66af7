package config

import (
	"reflect"
	"sort"
	"strings"

	logx "medminder/pkg/logx"
)

// SummarizeConfigChange returns (1) the sorted list of changed sections,
// (2) safe structured attrs for logging (secrets only as *_set booleans) and
// (3) the changed sections that only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	restart := make([]string, 0, 2)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.json", newCfg.Logging.JSON),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		s := newCfg.Scheduler
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", s.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(s.Timezone)),
			logx.String("scheduler.tick_interval", strings.TrimSpace(s.TickInterval)),
			logx.String("scheduler.grace_period", strings.TrimSpace(s.GracePeriod)),
			logx.Int("scheduler.workers", s.Workers),
			logx.Bool("scheduler.caregiver_reminders", s.CaregiverReminders),
		)
	}

	oN, nN := oldCfg.Notifier, newCfg.Notifier
	if !reflect.DeepEqual(oN, nN) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Int("notifier.rate_per_sec", nN.RatePerSec),
			logx.Int("notifier.retry_max", nN.RetryMax),
			logx.String("notifier.low_stock_renotify", strings.TrimSpace(nN.LowStockRenotify)),
			logx.Bool("notifier.email_enabled", nN.Email.Enabled),
			logx.Bool("notifier.email_password_set", nN.Email.Password != ""),
			logx.Bool("notifier.telegram_enabled", nN.Telegram.Enabled),
			logx.Bool("notifier.telegram_token_set", nN.Telegram.Token != ""),
			logx.Bool("notifier.fcm_enabled", nN.FCM.Enabled),
		)
		// Channels are built once at startup.
		if !reflect.DeepEqual(oN.Email, nN.Email) || !reflect.DeepEqual(oN.Telegram, nN.Telegram) || !reflect.DeepEqual(oN.FCM, nN.FCM) {
			restart = append(restart, "notifier.channels")
		}
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		restart = append(restart, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.Bool("storage.dsn_set", strings.TrimSpace(newCfg.Storage.DSN) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		restart = append(restart, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTP.HTTPAddr()),
		)
	}

	if !reflect.DeepEqual(oldCfg.Telemetry, newCfg.Telemetry) {
		changed = append(changed, "telemetry")
		restart = append(restart, "telemetry")
		attrs = append(attrs, logx.Bool("telemetry.otlp_set", newCfg.Telemetry.OTLPEndpoint != ""))
	}

	sort.Strings(changed)
	sort.Strings(restart)
	return changed, attrs, restart
}
