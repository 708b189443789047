package businessflow

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

const (
	shortCodeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	ShortCodeLength   = 8
)

// Instrumenter rewrites outgoing HTML for tracking
type Instrumenter struct {
	origin string
}

func NewInstrumenter(origin string) *Instrumenter {
	return &Instrumenter{origin: strings.TrimRight(origin, "/")}
}

func (in *Instrumenter) RedirectURL(code string) string {
	return in.origin + "/redirect/" + code
}

func (in *Instrumenter) BeaconURL(trackingID string) string {
	return in.origin + "/track?id=" + url.QueryEscape(trackingID)
}

func (in *Instrumenter) UnsubscribeURL(token string) string {
	return in.origin + "/unsubscribe?token=" + url.QueryEscape(token)
}

// IsTrackingURL reports whether u already points at one of our own endpoints
func (in *Instrumenter) IsTrackingURL(u string) bool {
	for _, p := range []string{"/redirect/", "/l/", "/track", "/t/", "/unsubscribe"} {
		if strings.HasPrefix(u, in.origin+p) {
			return true
		}
	}
	return false
}

// RewriteLinks replaces each external anchor href with the redirect URL for the code
// returned by mint. mint receives the unescaped original URL. Everything but the
// rewritten anchor start tags is copied byte for byte.
func (in *Instrumenter) RewriteLinks(body string, mint func(original string) (string, error)) (string, error) {
	z := html.NewTokenizer(strings.NewReader(body))
	var b strings.Builder
	b.Grow(len(body))
	for {
		tt := z.Next()
		// Token lowercases the buffer in place, so copy the raw bytes first
		raw := string(z.Raw())
		switch tt {
		case html.ErrorToken:
			b.WriteString(raw)
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return "", fmt.Errorf("failed to tokenize body: %w", err)
			}
			return b.String(), nil
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data == "a" {
				rewritten, err := in.rewriteAnchor(&tok, mint)
				if err != nil {
					return "", err
				}
				if rewritten {
					b.WriteString(tok.String())
					continue
				}
			}
		}
		b.WriteString(raw)
	}
}

// rewriteAnchor swaps the first href of an anchor when it is an external http(s) URL
func (in *Instrumenter) rewriteAnchor(tok *html.Token, mint func(original string) (string, error)) (bool, error) {
	for i, attr := range tok.Attr {
		if attr.Namespace != "" || attr.Key != "href" {
			continue
		}
		target := strings.TrimSpace(attr.Val)
		if !isHTTPURL(target) || in.IsTrackingURL(target) {
			return false, nil
		}
		code, err := mint(target)
		if err != nil {
			return false, err
		}
		tok.Attr[i].Val = in.RedirectURL(code)
		return true, nil
	}
	return false, nil
}

func isHTTPURL(u string) bool {
	lower := strings.ToLower(u)
	for _, scheme := range []string{"http://", "https://"} {
		if strings.HasPrefix(lower, scheme) && len(u) > len(scheme) {
			return true
		}
	}
	return false
}

// AppendFooter adds the unsubscribe footer inside the body element when there is one
func (in *Instrumenter) AppendFooter(body, unsubscribeURL string) string {
	footer := fmt.Sprintf(
		`<div style="margin-top:24px;font-size:12px;color:#888888;text-align:center;">`+
			`If you no longer wish to receive these emails, <a href="%s" style="color:#888888;">unsubscribe</a>.</div>`,
		html.EscapeString(unsubscribeURL),
	)
	return insertBeforeLastBodyClose(body, footer)
}

// InsertBeacon places the invisible image right before the last closing body tag, or appends it
func (in *Instrumenter) InsertBeacon(body, trackingID string) string {
	tag := fmt.Sprintf(`<img src="%s" width="1" height="1" style="display:none" alt="" />`, html.EscapeString(in.BeaconURL(trackingID)))
	return insertBeforeLastBodyClose(body, tag)
}

func insertBeforeLastBodyClose(body, fragment string) string {
	at := lastBodyClose(body)
	if at < 0 {
		return body + fragment
	}
	return body[:at] + fragment + body[at:]
}

// lastBodyClose returns the offset of the last </body> end tag, or -1
func lastBodyClose(body string) int {
	z := html.NewTokenizer(strings.NewReader(body))
	at, pos := -1, 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return at
		}
		n := len(z.Raw())
		if tt == html.EndTagToken {
			if name, _ := z.TagName(); string(name) == "body" {
				at = pos
			}
		}
		pos += n
	}
}

// GenerateShortCode returns n random base62 characters
func GenerateShortCode(n int) (string, error) {
	if n <= 0 {
		n = ShortCodeLength
	}
	max := big.NewInt(int64(len(shortCodeAlphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate short code: %w", err)
		}
		out[i] = shortCodeAlphabet[idx.Int64()]
	}
	return string(out), nil
}
