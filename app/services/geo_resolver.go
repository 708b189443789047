package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/jaecopzm/trakpilot/utils"
	"github.com/valyala/fasthttp"
)

// GeoResolver turns an IP into a human readable location; it never fails
type GeoResolver interface {
	Locate(ctx context.Context, ip string) string
}

type ipAPIResponse struct {
	Status     string `json:"status"`
	Country    string `json:"country"`
	RegionName string `json:"regionName"`
	City       string `json:"city"`
}

// IPAPIGeoResolver queries an ip-api.com compatible endpoint
type IPAPIGeoResolver struct {
	client   *fasthttp.Client
	endpoint string
	timeout  time.Duration
}

// NewIPAPIGeoResolver creates a resolver; endpoint is the base URL up to and excluding the IP
func NewIPAPIGeoResolver(endpoint string, timeout time.Duration) *IPAPIGeoResolver {
	if timeout <= 0 {
		timeout = 1500 * time.Millisecond
	}
	return &IPAPIGeoResolver{
		client: &fasthttp.Client{
			Name:         "trakpilot-geo",
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
		endpoint: strings.TrimRight(endpoint, "/"),
		timeout:  timeout,
	}
}

// Locate returns "City, Region, Country" or utils.UnknownLocation on any failure,
// for non public addresses, and when the lookup exceeds the timeout.
func (r *IPAPIGeoResolver) Locate(ctx context.Context, ip string) string {
	if !utils.IsPublicIP(ip) {
		return utils.UnknownLocation
	}

	timeout := r.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return utils.UnknownLocation
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(r.endpoint + "/" + strings.TrimSpace(ip) + "?fields=status,country,regionName,city")
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := r.client.DoTimeout(req, resp, timeout); err != nil {
		return utils.UnknownLocation
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return utils.UnknownLocation
	}

	var body ipAPIResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil || body.Status != "success" {
		return utils.UnknownLocation
	}
	return formatLocation(body.City, body.RegionName, body.Country)
}

func formatLocation(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return utils.UnknownLocation
	}
	return strings.Join(out, ", ")
}

// StaticGeoResolver answers every lookup with the same location
type StaticGeoResolver string

func (s StaticGeoResolver) Locate(context.Context, string) string { return string(s) }
