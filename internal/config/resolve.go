package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultTickInterval  = time.Minute
	DefaultWorkers       = 4
	DefaultGracePeriod   = 30 * time.Minute
	DefaultSweepEvery    = 15 * time.Minute
	DefaultLowStockEvery = time.Hour
	DefaultSweepBatch    = 500

	DefaultRatePerSec    = 5
	DefaultRetryMax      = 3
	DefaultRetryBase     = 500 * time.Millisecond
	DefaultRetryMaxDelay = 10 * time.Second
	DefaultSendTimeout   = 15 * time.Second
	DefaultHistorySize   = 200

	DefaultHTTPAddr    = "127.0.0.1:8080"
	DefaultServiceName = "medminder"
)

// Scheduler is the resolved, typed form of SchedulerConfig.
type Scheduler struct {
	Enabled            bool
	Location           *time.Location
	TickInterval       time.Duration
	Workers            int
	GracePeriod        time.Duration
	SweepEvery         time.Duration
	LowStockEvery      time.Duration
	SweepBatch         int
	CaregiverReminders bool
}

// Resolve applies defaults and parses durations and the timezone.
func (c SchedulerConfig) Resolve() (Scheduler, error) {
	out := Scheduler{
		Enabled:            c.Enabled,
		Workers:            c.Workers,
		SweepBatch:         c.SweepBatch,
		CaregiverReminders: c.CaregiverReminders,
		Location:           time.Local,
	}
	var err error
	if out.TickInterval, err = ParseDurationOrDefault("scheduler.tick_interval", c.TickInterval, DefaultTickInterval); err != nil {
		return Scheduler{}, err
	}
	// Empty means the default; an explicit value must be positive.
	out.GracePeriod = DefaultGracePeriod
	if strings.TrimSpace(c.GracePeriod) != "" {
		if out.GracePeriod, err = ParseDurationField("scheduler.grace_period", c.GracePeriod); err != nil {
			return Scheduler{}, err
		}
	}
	if out.SweepEvery, err = ParseDurationOrDefault("scheduler.sweep_every", c.SweepEvery, DefaultSweepEvery); err != nil {
		return Scheduler{}, err
	}
	if out.LowStockEvery, err = ParseDurationOrDefault("scheduler.low_stock_every", c.LowStockEvery, DefaultLowStockEvery); err != nil {
		return Scheduler{}, err
	}
	if out.TickInterval != time.Minute {
		return Scheduler{}, fmt.Errorf("scheduler.tick_interval: must be 1m; dose times are matched per minute (got %s)", out.TickInterval)
	}
	if out.GracePeriod <= 0 {
		return Scheduler{}, fmt.Errorf("scheduler.grace_period: must be positive (got %s)", out.GracePeriod)
	}
	for _, d := range []struct {
		path string
		v    time.Duration
	}{
		{"scheduler.sweep_every", out.SweepEvery},
		{"scheduler.low_stock_every", out.LowStockEvery},
	} {
		if d.v < time.Minute || d.v%time.Minute != 0 {
			return Scheduler{}, fmt.Errorf("%s: must be a whole number of minutes (got %s)", d.path, d.v)
		}
	}
	if out.Workers <= 0 {
		out.Workers = DefaultWorkers
	}
	if out.SweepBatch <= 0 {
		out.SweepBatch = DefaultSweepBatch
	}
	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return Scheduler{}, fmt.Errorf("scheduler.timezone: %w", err)
		}
		out.Location = loc
	}
	return out, nil
}

// Notifier is the resolved, typed form of NotifierConfig (channels excluded).
type Notifier struct {
	RatePerSec       int
	RetryMax         int
	RetryBase        time.Duration
	RetryMaxDelay    time.Duration
	SendTimeout      time.Duration
	HistorySize      int
	LowStockRenotify time.Duration
}

func (c NotifierConfig) Resolve() (Notifier, error) {
	out := Notifier{
		RatePerSec:  c.RatePerSec,
		RetryMax:    c.RetryMax,
		HistorySize: c.HistorySize,
	}
	var err error
	if out.RetryBase, err = ParseDurationOrDefault("notifier.retry_base", c.RetryBase, DefaultRetryBase); err != nil {
		return Notifier{}, err
	}
	if out.RetryMaxDelay, err = ParseDurationOrDefault("notifier.retry_max_delay", c.RetryMaxDelay, DefaultRetryMaxDelay); err != nil {
		return Notifier{}, err
	}
	if out.SendTimeout, err = ParseDurationOrDefault("notifier.send_timeout", c.SendTimeout, DefaultSendTimeout); err != nil {
		return Notifier{}, err
	}
	if out.LowStockRenotify, err = ParseDurationField("notifier.low_stock_renotify", c.LowStockRenotify); err != nil {
		return Notifier{}, err
	}
	if out.RatePerSec <= 0 {
		out.RatePerSec = DefaultRatePerSec
	}
	if out.RetryMax <= 0 {
		out.RetryMax = DefaultRetryMax
	}
	if out.HistorySize <= 0 {
		out.HistorySize = DefaultHistorySize
	}
	return out, nil
}

// Validate checks the whole config. It is run by Manager.Parse, so a config
// that fails here is never committed.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if _, err := cfg.Scheduler.Resolve(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.Notifier.Resolve(); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}
	switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
	case "", "memory":
	case "sqlite":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path: required for sqlite"))
		}
	case "postgres":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn: required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", d))
	}
	if e := cfg.Notifier.Email; e.Enabled {
		if strings.TrimSpace(e.Host) == "" || e.Port <= 0 {
			errs = append(errs, errors.New("notifier.email: host and port required"))
		}
		if strings.TrimSpace(e.From) == "" {
			errs = append(errs, errors.New("notifier.email.from: required"))
		}
	}
	if t := cfg.Notifier.Telegram; t.Enabled && strings.TrimSpace(t.Token) == "" {
		errs = append(errs, errors.New("notifier.telegram.token: required (or MEDMINDER_TELEGRAM_TOKEN)"))
	}
	if f := cfg.Notifier.FCM; f.Enabled && strings.TrimSpace(f.CredentialsFile) == "" {
		errs = append(errs, errors.New("notifier.fcm.credentials_file: required (or MEDMINDER_FCM_CREDENTIALS)"))
	}
	return errors.Join(errs...)
}

// HTTPAddr returns the configured listen address or the default.
func (c HTTPConfig) HTTPAddr() string {
	if a := strings.TrimSpace(c.Addr); a != "" {
		return a
	}
	return DefaultHTTPAddr
}
