package utils

import (
	"net"
	"strings"
)

// Device classes recorded on open events
const (
	DeviceMobile  = "Mobile"
	DeviceTablet  = "Tablet"
	DeviceDesktop = "Desktop"
	DeviceUnknown = "Unknown"
)

// ClientIP picks the caller address from proxy headers, falling back to the socket address.
// header is usually fiber.Ctx.Get.
func ClientIP(header func(string) string, remote string) string {
	if cf := strings.TrimSpace(header("CF-Connecting-IP")); cf != "" {
		if ip := net.ParseIP(cf); ip != nil {
			return ip.String()
		}
	}

	if real := strings.TrimSpace(header("X-Real-IP")); real != "" {
		if ip := net.ParseIP(real); ip != nil {
			return ip.String()
		}
	}

	// rightmost public hop
	if xff := header("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		for i := len(parts) - 1; i >= 0; i-- {
			ip := net.ParseIP(strings.TrimSpace(parts[i]))
			if ip != nil && IsPublicIP(ip.String()) {
				return ip.String()
			}
		}
	}

	if host, _, err := net.SplitHostPort(remote); err == nil {
		return host
	}
	return remote
}

// IsPublicIP reports whether ip parses and is routable on the public internet
func IsPublicIP(ip string) bool {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return false
	}
	return !parsed.IsLoopback() &&
		!parsed.IsPrivate() &&
		!parsed.IsUnspecified() &&
		!parsed.IsLinkLocalUnicast() &&
		!parsed.IsLinkLocalMulticast() &&
		!parsed.IsMulticast()
}

// DeviceClass derives a coarse device type from a user-agent string
func DeviceClass(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case ua == "":
		return DeviceUnknown
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet") ||
		(strings.Contains(ua, "android") && !strings.Contains(ua, "mobile")):
		return DeviceTablet
	case strings.Contains(ua, "mobile") || strings.Contains(ua, "iphone") ||
		strings.Contains(ua, "android"):
		return DeviceMobile
	default:
		return DeviceDesktop
	}
}
