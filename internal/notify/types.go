package notify

import "time"

// Settings tune delivery. Zero values fall back to defaults in Apply.
type Settings struct {
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
	HistorySize   int
	// LowStockRenotify > 0 suppresses repeat low-inventory notices for the
	// same medicine inside the window. 0 notifies on every scan.
	LowStockRenotify time.Duration
}

// Delivery is one attempt outcome kept in the history ring.
type Delivery struct {
	At       time.Time `json:"at"`
	Class    string    `json:"class"`
	Key      string    `json:"key"`
	To       string    `json:"to"`
	Subject  string    `json:"subject"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error,omitempty"`
}

// Result summarizes one Fanout.
type Result struct {
	Recipients int
	Sent       int
	Failed     int
	Suppressed bool
	// Err joins every failed delivery; each wraps ErrNotificationFailed.
	Err error
}

// DeliveryEvent is the eventbus payload for notify.* events.
type DeliveryEvent struct {
	Class string    `json:"class"`
	Key   string    `json:"key"`
	To    string    `json:"to,omitempty"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}
