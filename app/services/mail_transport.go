package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"regexp"
	"strconv"
	"strings"

	"github.com/jaecopzm/trakpilot/models"
	"github.com/jaecopzm/trakpilot/utils"
	"github.com/jordan-wright/email"
	"gopkg.in/gomail.v2"
)

// Provider failure categories
const (
	CategoryAddressInvalid   = "address_invalid"
	CategoryThrottled        = "throttled"
	CategoryDomainUnverified = "domain_unverified"
	CategoryGeneric          = "generic"
)

// ErrNoTransport means neither an owner relay nor the platform provider is configured
var ErrNoTransport = errors.New("no mail transport configured")

// IdempotencyHeader carries a dedup key for providers that honour it
const IdempotencyHeader = "X-Idempotency-Key"

// OutboundMail is one rendered message. The transport owns the From address;
// FromName is the display name shown to the recipient.
type OutboundMail struct {
	FromName string
	ReplyTo  string
	To       string
	Subject  string
	HTML     string
	Text     string
	Headers  map[string]string
}

// MailTransport delivers one message
type MailTransport interface {
	Send(ctx context.Context, msg *OutboundMail) error
	Name() string
}

// TransportError is a categorized provider rejection
type TransportError struct {
	Transport string
	Category  string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport (%s): %v", e.Transport, e.Category, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

var smtpCodeRe = regexp.MustCompile(`\b([245]\d\d)\b`)

// CategorizeSendError maps an SMTP or provider error to a category by reply code, then by text
func CategorizeSendError(err error) string {
	if err == nil {
		return ""
	}

	code := 0
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		code = tpErr.Code
	} else if m := smtpCodeRe.FindStringSubmatch(err.Error()); m != nil {
		code, _ = strconv.Atoi(m[1])
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not verified") || strings.Contains(msg, "unverified") || strings.Contains(msg, "domain is not"):
		return CategoryDomainUnverified
	case code == 550 || code == 553 || code == 501 || code == 511,
		strings.Contains(msg, "invalid") && (strings.Contains(msg, "recipient") || strings.Contains(msg, "address")),
		strings.Contains(msg, "does not exist"),
		strings.Contains(msg, "mailbox unavailable"),
		strings.Contains(msg, "user unknown"):
		return CategoryAddressInvalid
	case code == 421 || code == 450 || code == 451 || code == 452,
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "too many"),
		strings.Contains(msg, "throttl"):
		return CategoryThrottled
	default:
		return CategoryGeneric
	}
}

func wrapTransportError(transport string, err error) error {
	return &TransportError{Transport: transport, Category: CategorizeSendError(err), Err: err}
}

// RelayConfig is an owner's private SMTP relay with the password already decrypted
type RelayConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
}

// RelayTransport sends through an owner relay with gomail
type RelayTransport struct {
	cfg RelayConfig
}

func NewRelayTransport(cfg RelayConfig) *RelayTransport {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.FromAddress == "" {
		cfg.FromAddress = cfg.Username
	}
	return &RelayTransport{cfg: cfg}
}

func (t *RelayTransport) Name() string { return "relay" }

func (t *RelayTransport) Send(ctx context.Context, msg *OutboundMail) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", t.cfg.FromAddress, msg.FromName)
	m.SetHeader("To", msg.To)
	if msg.ReplyTo != "" && !strings.EqualFold(msg.ReplyTo, t.cfg.FromAddress) {
		m.SetHeader("Reply-To", msg.ReplyTo)
	}
	m.SetHeader("Subject", msg.Subject)
	for k, v := range msg.Headers {
		m.SetHeader(k, v)
	}
	if msg.Text != "" {
		m.SetBody("text/plain", msg.Text)
		m.AddAlternative("text/html", msg.HTML)
	} else {
		m.SetBody("text/html", msg.HTML)
	}

	d := gomail.NewDialer(t.cfg.Host, t.cfg.Port, t.cfg.Username, t.cfg.Password)
	if err := d.DialAndSend(m); err != nil {
		return wrapTransportError(t.Name(), err)
	}
	return nil
}

// PlatformMailConfig is the default transactional provider reached over SMTP
type PlatformMailConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
}

// PlatformTransport sends through the platform provider with jordan-wright/email
type PlatformTransport struct {
	cfg PlatformMailConfig
}

func NewPlatformTransport(cfg PlatformMailConfig) *PlatformTransport {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &PlatformTransport{cfg: cfg}
}

func (t *PlatformTransport) Name() string { return "platform" }

// Configured reports whether host and from address are set
func (t *PlatformTransport) Configured() bool {
	return t != nil && t.cfg.Host != "" && t.cfg.FromAddress != ""
}

func (t *PlatformTransport) Send(ctx context.Context, msg *OutboundMail) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e := email.NewEmail()
	e.From = (&mail.Address{Name: msg.FromName, Address: t.cfg.FromAddress}).String()
	e.To = []string{msg.To}
	if msg.ReplyTo != "" {
		e.ReplyTo = []string{msg.ReplyTo}
	}
	e.Subject = msg.Subject
	e.HTML = []byte(msg.HTML)
	if msg.Text != "" {
		e.Text = []byte(msg.Text)
	}
	for k, v := range msg.Headers {
		e.Headers.Set(k, v)
	}

	var auth smtp.Auth
	if t.cfg.Username != "" {
		auth = smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port)

	if err := e.Send(addr, auth); err != nil {
		return wrapTransportError(t.Name(), err)
	}
	return nil
}

// MailRouter picks the transport for an owner
type MailRouter interface {
	// Route returns ErrNoTransport when nothing is configured for owner
	Route(owner *models.Owner) (MailTransport, error)
}

type MailRouterImpl struct {
	platform *PlatformTransport
	box      SecretBox
}

func NewMailRouter(platform *PlatformTransport, box SecretBox) MailRouter {
	return &MailRouterImpl{platform: platform, box: box}
}

// Route prefers the owner's private relay, then the platform provider
func (r *MailRouterImpl) Route(owner *models.Owner) (MailTransport, error) {
	if owner != nil && owner.HasRelay() {
		if r.box == nil {
			return nil, fmt.Errorf("%w: relay secrets cannot be opened", ErrNoTransport)
		}
		password, err := r.box.Open(*owner.RelayPasswordEnc)
		if err != nil {
			return nil, fmt.Errorf("failed to open relay password: %w", err)
		}
		return NewRelayTransport(RelayConfig{
			Host:        *owner.RelayHost,
			Port:        owner.RelayPort,
			Username:    *owner.RelayUsername,
			Password:    password,
			FromAddress: utils.Deref(owner.RelayFromEmail),
		}), nil
	}
	if r.platform.Configured() {
		return r.platform, nil
	}
	return nil, ErrNoTransport
}
