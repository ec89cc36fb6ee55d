// Package notify turns terminal payment transitions into user-facing
// notifications and keeps a bounded, newest-first history per merchant.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vybzcody/paymebro-sub003/internal/models"
	"github.com/vybzcody/paymebro-sub003/internal/monitor"
)

const (
	DefaultMaxHistory     = 50
	platformNotifyTimeout = 5 * time.Second
)

// Permission mirrors the browser notification permission states.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// PlatformNotifier delivers native notifications outside the in-app list.
// Permission is per principal: each merchant's dashboards decide for themselves.
type PlatformNotifier interface {
	Permission(principalID string) Permission
	Notify(ctx context.Context, n models.Notification) error
}

// Subscriber receives every new notification, e.g. the websocket hub.
type Subscriber func(models.Notification)

// Dispatcher keeps one bounded feed per principal.
type Dispatcher struct {
	mu          sync.RWMutex
	feeds       map[string][]models.Notification
	max         int
	platform    PlatformNotifier
	subscribers []Subscriber
	now         func() time.Time
	logger      *zap.Logger
}

type DispatcherOption func(d *Dispatcher)

func WithMaxHistory(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.max = n
		}
	}
}

func WithPlatformNotifier(p PlatformNotifier) DispatcherOption {
	return func(d *Dispatcher) {
		d.platform = p
	}
}

func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		d.now = now
	}
}

func NewDispatcher(logger *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		feeds:  make(map[string][]models.Notification),
		max:    DefaultMaxHistory,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Subscribe registers fn to receive every new notification.
func (d *Dispatcher) Subscribe(fn Subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers = append(d.subscribers, fn)
}

// HandleTransition is a monitor.TransitionHandler.
func (d *Dispatcher) HandleTransition(_ context.Context, t monitor.Transition) {
	d.OnTransition(t)
}

// OnTransition records a notification for pending→terminal transitions in
// the owning principal's feed and returns it, or nil for anything else.
func (d *Dispatcher) OnTransition(t monitor.Transition) *models.Notification {
	if t.From != models.StatusPending || !t.To.Terminal() {
		return nil
	}

	n := d.build(t)
	d.push(n)

	if t.To == models.StatusConfirmed {
		go d.notifyPlatform(n)
	}
	return &n
}

// RecordCreated adds the informational entry for a new payment request.
func (d *Dispatcher) RecordCreated(p *models.PaymentDescriptor) models.Notification {
	ts := d.now()
	n := models.Notification{
		ID:          notificationID(p.Reference, models.NotificationPaymentReceived, ts),
		PrincipalID: p.PrincipalID,
		Type:        models.NotificationPaymentReceived,
		Title:       "Payment Request Created",
		Message:     fmt.Sprintf("Waiting for %s %s", p.FeeBreakdown.TotalCustomerPays.String(), p.Currency),
		Timestamp:   ts,
		Reference:   p.Reference,
		Amount:      p.FeeBreakdown.TotalCustomerPays,
		Currency:    p.Currency,
	}
	d.push(n)
	return n
}

func (d *Dispatcher) build(t monitor.Transition) models.Notification {
	ts := d.now()
	amount := t.Expected.Amount.String() + " " + string(t.Expected.Currency)

	n := models.Notification{
		PrincipalID: t.Expected.PrincipalID,
		Timestamp:   ts,
		Reference:   t.Reference,
		Amount:      t.Expected.Amount,
		Currency:    t.Expected.Currency,
		Signature:   t.Signature,
	}
	switch t.To {
	case models.StatusConfirmed:
		n.Type = models.NotificationPaymentConfirmed
		n.Title = "Payment Confirmed"
		n.Message = fmt.Sprintf("Payment of %s confirmed. Signature: %s", amount, t.Signature)
	case models.StatusFailed:
		n.Type = models.NotificationPaymentFailed
		n.Title = "Payment Failed"
		if t.Reason == models.ReasonValidationMismatch {
			n.Message = fmt.Sprintf("A transaction for %s did not match the payment request", amount)
		} else {
			n.Message = fmt.Sprintf("The transaction for %s failed on-chain", amount)
		}
		if t.Signature != "" {
			n.Message += ". Signature: " + t.Signature
		}
	default:
		n.Type = models.NotificationPaymentExpired
		n.Title = "Payment Expired"
		n.Message = fmt.Sprintf("No payment of %s was received in time", amount)
	}
	n.ID = notificationID(t.Reference, n.Type, ts)
	return n
}

func notificationID(reference string, typ models.NotificationType, ts time.Time) string {
	return fmt.Sprintf("%s:%s:%d", reference, typ, ts.UnixNano())
}

func (d *Dispatcher) push(n models.Notification) {
	d.mu.Lock()
	feed := append([]models.Notification{n}, d.feeds[n.PrincipalID]...)
	if len(feed) > d.max {
		feed = feed[:d.max]
	}
	d.feeds[n.PrincipalID] = feed
	subs := append([]Subscriber(nil), d.subscribers...)
	d.mu.Unlock()

	for _, fn := range subs {
		fn(n)
	}
}

// notifyPlatform never touches the history and never propagates failures.
func (d *Dispatcher) notifyPlatform(n models.Notification) {
	if d.platform == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("platform notification panicked", zap.Any("panic", r))
		}
	}()
	if d.platform.Permission(n.PrincipalID) != PermissionGranted {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), platformNotifyTimeout)
	defer cancel()
	if err := d.platform.Notify(ctx, n); err != nil {
		d.logger.Warn("platform notification failed",
			zap.String("reference", n.Reference),
			zap.Error(err),
		)
	}
}

// Notifications returns a copy of the principal's history, newest first.
func (d *Dispatcher) Notifications(principalID string) []models.Notification {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]models.Notification(nil), d.feeds[principalID]...)
}

func (d *Dispatcher) UnreadCount(principalID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	count := 0
	for _, n := range d.feeds[principalID] {
		if !n.Read {
			count++
		}
	}
	return count
}

// MarkAsRead reports whether the principal owns a notification with id.
func (d *Dispatcher) MarkAsRead(principalID, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	feed := d.feeds[principalID]
	for i := range feed {
		if feed[i].ID == id {
			feed[i].Read = true
			return true
		}
	}
	return false
}

func (d *Dispatcher) MarkAllAsRead(principalID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	feed := d.feeds[principalID]
	for i := range feed {
		feed[i].Read = true
	}
}

// Clear removes one of the principal's notifications and reports whether it existed.
func (d *Dispatcher) Clear(principalID, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	feed := d.feeds[principalID]
	for i := range feed {
		if feed[i].ID == id {
			d.feeds[principalID] = append(feed[:i], feed[i+1:]...)
			return true
		}
	}
	return false
}

func (d *Dispatcher) ClearAll(principalID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.feeds, principalID)
}
