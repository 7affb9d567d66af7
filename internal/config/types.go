package config

// Config is the medminder file configuration.
//
// All durations are Go duration strings (e.g. "30m", "1m", "500ms").
// Secrets are normally left out of the file and supplied through MEDMINDER_*
// environment variables (see ApplyEnv).
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Notifier  NotifierConfig  `json:"notifier"`
	Storage   StorageConfig   `json:"storage"`
	HTTP      HTTPConfig      `json:"http"`
	Telemetry TelemetryConfig `json:"telemetry"`
}

type LoggingConfig struct {
	Level   string      `json:"level" env:"MEDMINDER_LOG_LEVEL"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty" env:"MEDMINDER_LOG_JSON"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the reminder tick and its sub-tasks.
//
// Defaults (when fields are omitted/zero):
//   - tick_interval: "1m"
//   - workers: 4
//   - grace_period: "30m"
//   - sweep_every: "15m"
//   - low_stock_every: "1h"
//   - sweep_batch: 500
//   - timezone: local time
type SchedulerConfig struct {
	Enabled       bool   `json:"enabled"`
	Timezone      string `json:"timezone,omitempty" env:"MEDMINDER_TIMEZONE"`
	TickInterval  string `json:"tick_interval,omitempty"`
	Workers       int    `json:"workers,omitempty"`
	GracePeriod   string `json:"grace_period,omitempty"`
	SweepEvery    string `json:"sweep_every,omitempty"`
	LowStockEvery string `json:"low_stock_every,omitempty"`
	SweepBatch    int    `json:"sweep_batch,omitempty"`

	// CaregiverReminders also sends the dose-time reminder to caregivers that
	// opted into adherence notices. Off by default.
	CaregiverReminders bool `json:"caregiver_reminders,omitempty"`
}

// NotifierConfig controls delivery: rate limit, retries and channels.
type NotifierConfig struct {
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	SendTimeout   string `json:"send_timeout,omitempty"`
	HistorySize   int    `json:"history_size,omitempty"`

	// LowStockRenotify suppresses repeated low-inventory notices for the same
	// medicine inside this window. "0s" (default) nags on every scan.
	LowStockRenotify string `json:"low_stock_renotify,omitempty"`

	Email    EmailConfig    `json:"email"`
	Telegram TelegramConfig `json:"telegram"`
	FCM      FCMConfig      `json:"fcm"`
}

type EmailConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host" env:"MEDMINDER_SMTP_HOST"`
	Port     int    `json:"port" env:"MEDMINDER_SMTP_PORT"`
	Username string `json:"username,omitempty" env:"MEDMINDER_SMTP_USERNAME"`
	Password string `json:"password,omitempty" env:"MEDMINDER_SMTP_PASSWORD"`
	From     string `json:"from" env:"MEDMINDER_SMTP_FROM"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty" env:"MEDMINDER_TELEGRAM_TOKEN"`
}

type FCMConfig struct {
	Enabled         bool   `json:"enabled"`
	CredentialsFile string `json:"credentials_file,omitempty" env:"MEDMINDER_FCM_CREDENTIALS"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./medminder.db" }
type StorageConfig struct {
	Driver      string `json:"driver" env:"MEDMINDER_STORAGE_DRIVER"` // memory | sqlite | postgres
	Path        string `json:"path,omitempty" env:"MEDMINDER_STORAGE_PATH"`
	DSN         string `json:"dsn,omitempty" env:"MEDMINDER_DATABASE_URL"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	SeedFile    string `json:"seed_file,omitempty" env:"MEDMINDER_SEED_FILE"`
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty" env:"MEDMINDER_HTTP_ADDR"` // default: "127.0.0.1:8080"
	// Pprof mounts net/http/pprof under /debug. Keep the listener on loopback.
	Pprof bool `json:"pprof,omitempty"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `json:"otlp_endpoint,omitempty" env:"MEDMINDER_OTLP_ENDPOINT"`
	ServiceName  string `json:"service_name,omitempty"`
}
