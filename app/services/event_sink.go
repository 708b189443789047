package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jaecopzm/trakpilot/utils"
	"github.com/nats-io/nats.go"
)

// EventSink mirrors engagement events to a message bus
type EventSink interface {
	Emit(eventType string, payload any) error
	Close()
}

// NoopEventSink discards events
type NoopEventSink struct{}

func (NoopEventSink) Emit(string, any) error { return nil }
func (NoopEventSink) Close()                 {}

// NATSEventSink publishes JSON payloads on <prefix>.<eventType>
type NATSEventSink struct {
	nc     *nats.Conn
	prefix string
}

func NewNATSEventSink(url, prefix string) (*NATSEventSink, error) {
	nc, err := nats.Connect(url,
		nats.Name("trakpilot"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				utils.LogError("nats_disconnected", err, nil)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			utils.LogEvent("nats_reconnected", map[string]any{"url": c.ConnectedUrl()})
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	if prefix == "" {
		prefix = "trakpilot.events"
	}
	return &NATSEventSink{nc: nc, prefix: strings.TrimSuffix(prefix, ".")}, nil
}

func (s *NATSEventSink) Emit(eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := s.nc.Publish(s.prefix+"."+eventType, data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", eventType, err)
	}
	return nil
}

// Close flushes pending publishes and closes the connection
func (s *NATSEventSink) Close() {
	if err := s.nc.Drain(); err != nil {
		s.nc.Close()
	}
}
