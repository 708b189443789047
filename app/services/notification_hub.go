package services

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jaecopzm/trakpilot/utils"
)

// Push event types
const (
	EventEmailOpened = "email_opened"
	EventLinkClicked = "link_clicked"
)

const (
	defaultHeartbeat   = 10 * time.Second
	subscriptionBuffer = 16
	streamRetryMillis  = 3000
)

// PushEvent is the payload delivered to a live dashboard and mirrored to webhooks
type PushEvent struct {
	Type       string    `json:"type"`
	TrackingID string    `json:"tracking_id"`
	Recipient  string    `json:"recipient"`
	Subject    string    `json:"subject"`
	IsProxy    bool      `json:"is_proxy"`
	Location   string    `json:"location,omitempty"`
	Device     string    `json:"device,omitempty"`
	URL        string    `json:"url,omitempty"`
	At         time.Time `json:"at"`
}

// Subscription is one live push connection for an owner
type Subscription struct {
	OwnerID uint

	events    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// Events yields encoded payloads in publish order
func (s *Subscription) Events() <-chan []byte { return s.events }

// Done is closed once the subscription is replaced or removed
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

type hubSlot struct {
	mu  sync.Mutex
	sub *Subscription
}

// NotificationHub maps each owner to at most one live push connection.
// It is process local: deployments with several instances need an external pub/sub.
type NotificationHub struct {
	heartbeat time.Duration

	mu    sync.Mutex
	slots map[uint]*hubSlot
}

func NewNotificationHub(heartbeat time.Duration) *NotificationHub {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &NotificationHub{
		heartbeat: heartbeat,
		slots:     make(map[uint]*hubSlot),
	}
}

// slot returns the owner's slot; slots are kept for the life of the hub
func (h *NotificationHub) slot(ownerID uint) *hubSlot {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.slots[ownerID]
	if !ok {
		s = &hubSlot{}
		h.slots[ownerID] = s
	}
	return s
}

// Subscribe registers a connection for ownerID; a previous one is closed (last connect wins)
func (h *NotificationHub) Subscribe(ownerID uint) *Subscription {
	sub := &Subscription{
		OwnerID: ownerID,
		events:  make(chan []byte, subscriptionBuffer),
		done:    make(chan struct{}),
	}

	s := h.slot(ownerID)
	s.mu.Lock()
	prev := s.sub
	s.sub = sub
	s.mu.Unlock()

	if prev != nil {
		prev.close()
	} else {
		pushConnections.Inc()
	}
	return sub
}

// Unsubscribe removes sub if it is still the owner's current connection
func (h *NotificationHub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	s := h.slot(sub.OwnerID)
	s.mu.Lock()
	current := s.sub == sub
	if current {
		s.sub = nil
	}
	s.mu.Unlock()

	if current {
		pushConnections.Dec()
	}
	sub.close()
}

// Publish hands event to the owner's live connection without blocking.
// Returns false when there is no connection or its buffer is full; the event is dropped.
func (h *NotificationHub) Publish(ownerID uint, event any) bool {
	payload, err := json.Marshal(event)
	if err != nil {
		utils.LogError("push_encode", err, map[string]any{"owner_id": ownerID})
		pushEvents.WithLabelValues("dropped").Inc()
		return false
	}

	s := h.slot(ownerID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub == nil {
		pushEvents.WithLabelValues("dropped").Inc()
		return false
	}
	select {
	case s.sub.events <- payload:
		pushEvents.WithLabelValues("delivered").Inc()
		return true
	default:
		pushEvents.WithLabelValues("dropped").Inc()
		return false
	}
}

// Connected reports whether ownerID has a live connection
func (h *NotificationHub) Connected(ownerID uint) bool {
	s := h.slot(ownerID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub != nil
}

// Stream writes sub's events to w as server-sent events until ctx ends,
// the subscription is replaced, or a write fails. Heartbeat comments keep
// intermediaries from closing an idle connection. fasthttp gives no signal
// when the client goes away, so the first failed heartbeat is what
// deregisters a dead connection.
func (h *NotificationHub) Stream(ctx context.Context, sub *Subscription, w *bufio.Writer) error {
	defer h.Unsubscribe(sub)

	if _, err := fmt.Fprintf(w, "retry: %d\n\n", streamRetryMillis); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.Done():
			return nil
		case payload := <-sub.Events():
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return err
			}
			if err := w.Flush(); err != nil {
				return err
			}
		case <-ticker.C:
			if _, err := w.WriteString(": ping\n\n"); err != nil {
				return err
			}
			if err := w.Flush(); err != nil {
				return err
			}
		}
	}
}
