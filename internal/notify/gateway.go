package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	logx "medminder/pkg/logx"
)

var (
	ErrNotificationFailed = errors.New("notification failed")
	ErrNoRoute            = errors.New("no gateway for address")
	// ErrOutcomeUnknown is returned by a gateway that gave up waiting on a
	// send it could not abort. The message may still arrive, so it is not
	// retried.
	ErrOutcomeUnknown = errors.New("delivery outcome unknown")
)

// Gateway sends one rendered message to one address.
type Gateway interface {
	Send(ctx context.Context, address, subject, body string) error
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, address, subject, body string) error

func (f GatewayFunc) Send(ctx context.Context, address, subject, body string) error {
	return f(ctx, address, subject, body)
}

const (
	SchemeEmail    = "mailto"
	SchemeTelegram = "tg"
	SchemeFCM      = "fcm"
)

// ParseAddress splits "scheme:target". Addresses without a scheme that contain
// "@" are email addresses.
func ParseAddress(address string) (scheme, target string, err error) {
	a := strings.TrimSpace(address)
	if a == "" {
		return "", "", fmt.Errorf("%w: empty address", ErrNoRoute)
	}
	if s, t, ok := strings.Cut(a, ":"); ok && !strings.Contains(s, "@") {
		s = strings.ToLower(strings.TrimSpace(s))
		t = strings.TrimSpace(t)
		if s == "" || t == "" {
			return "", "", fmt.Errorf("%w: %q", ErrNoRoute, address)
		}
		return s, t, nil
	}
	if strings.Contains(a, "@") {
		return SchemeEmail, a, nil
	}
	return "", "", fmt.Errorf("%w: %q", ErrNoRoute, address)
}

// Router dispatches by address scheme. Routed gateways receive the target
// without its scheme prefix.
type Router struct {
	mu       sync.RWMutex
	routes   map[string]Gateway
	fallback Gateway
}

func NewRouter() *Router { return &Router{routes: map[string]Gateway{}} }

func (r *Router) Handle(scheme string, gw Gateway) {
	r.mu.Lock()
	r.routes[strings.ToLower(scheme)] = gw
	r.mu.Unlock()
}

// Fallback receives the full address when no scheme route matches.
func (r *Router) Fallback(gw Gateway) {
	r.mu.Lock()
	r.fallback = gw
	r.mu.Unlock()
}

func (r *Router) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.routes))
	for s := range r.routes {
		out = append(out, s)
	}
	return out
}

func (r *Router) Send(ctx context.Context, address, subject, body string) error {
	scheme, target, err := ParseAddress(address)
	r.mu.RLock()
	gw, ok := r.routes[scheme]
	fb := r.fallback
	r.mu.RUnlock()
	switch {
	case err == nil && ok:
		return gw.Send(ctx, target, subject, body)
	case fb != nil:
		return fb.Send(ctx, address, subject, body)
	case err != nil:
		return err
	default:
		return fmt.Errorf("%w: scheme %q", ErrNoRoute, scheme)
	}
}

// LogGateway writes messages to the log instead of delivering them. It is the
// fallback when no channel is configured.
type LogGateway struct {
	Log logx.Logger
}

func (g LogGateway) Send(_ context.Context, address, subject, body string) error {
	g.Log.Info("notification (log channel)",
		logx.String("to", address),
		logx.String("subject", subject),
		logx.Int("body_len", len(body)),
	)
	return nil
}
