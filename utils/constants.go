package utils

import (
	"time"
)

// Request context keys
type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
	UserAgentKey ContextKey = "user_agent"
	IPAddressKey ContextKey = "ip_address"
	EndpointKey  ContextKey = "endpoint"
	TimeoutKey   ContextKey = "timeout"
	OwnerIDKey   ContextKey = "owner_id"
)

// CORS and security constants
const (
	// CORSMaxAge is the maximum age for CORS preflight requests (24 hours)
	CORSMaxAge = 86400
)

// Tracking constants
const (
	// UnknownLocation is recorded whenever geo resolution is skipped or fails
	UnknownLocation = "Unknown"

	// DefaultRequestTimeout bounds handler-created contexts
	DefaultRequestTimeout = 10 * time.Second

	// TrackingTaskTimeout bounds detached ingestion side effects
	TrackingTaskTimeout = 15 * time.Second
)

// TransparentGIF is a 1x1 transparent GIF89a image (43 bytes)
var TransparentGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21,
	0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00,
	0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44,
	0x01, 0x00, 0x3b,
}
