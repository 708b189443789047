package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

// WebhookDispatcher posts engagement payloads to an owner's endpoint
type WebhookDispatcher interface {
	Post(ctx context.Context, url string, payload any) error
}

type FastHTTPWebhookDispatcher struct {
	client  *fasthttp.Client
	timeout time.Duration
}

func NewWebhookDispatcher(timeout time.Duration) *FastHTTPWebhookDispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &FastHTTPWebhookDispatcher{
		client: &fasthttp.Client{
			Name:         "TrakPilot-Webhook/1.0",
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
		timeout: timeout,
	}
}

func (d *FastHTTPWebhookDispatcher) Post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	timeout := d.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	if err := d.client.DoTimeout(req, resp, timeout); err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return fmt.Errorf("webhook returned status %d", code)
	}
	return nil
}
