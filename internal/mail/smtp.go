package mail

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// Renderer renders a named HTML template.
type Renderer interface {
	RenderString(name string, data any) (string, error)
}

// SMTPConfig holds relay settings. Auth is used when Username is set.
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
	Template string
	Timeout  time.Duration
}

// SMTP sends invitation emails rendered from an HTML template.
type SMTP struct {
	cfg      SMTPConfig
	renderer Renderer
	send     func(ctx context.Context, msg *gomail.Msg) error
	now      func() time.Time
}

// NewSMTP constructs an SMTP mailer.
func NewSMTP(cfg SMTPConfig, renderer Renderer) *SMTP {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	m := &SMTP{cfg: cfg, renderer: renderer, now: time.Now}
	m.send = m.deliver
	return m
}

// SendInvitation renders the invitation and relays it.
func (m *SMTP) SendInvitation(ctx context.Context, params Params) error {
	to := params.Recipient()
	if to == "" {
		return fmt.Errorf("%w: recipient is empty", ErrPermanent)
	}
	html, err := m.renderer.RenderString(m.cfg.Template, params)
	if err != nil {
		return fmt.Errorf("%w: render invitation: %v", ErrPermanent, err)
	}

	msg := gomail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return fmt.Errorf("%w: sender %q: %v", ErrPermanent, m.cfg.From, err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("%w: recipient %q: %v", ErrPermanent, to, err)
	}
	msg.Subject("Convite para cotação: " + params["quote_description"])
	msg.SetDateWithValue(m.now())
	msg.SetMessageID()
	msg.SetBodyString(gomail.TypeTextHTML, html)

	if err := m.send(ctx, msg); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("smtp send: %w", errors.Join(ctxErr, err))
		}
		var sendErr *gomail.SendError
		if errors.As(err, &sendErr) && sendErr.ErrorCode() >= 500 {
			return errors.Join(ErrPermanent, err)
		}
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// deliver dials the relay and sends msg. Cancelling ctx aborts the
// conversation at any stage, not only while dialing.
func (m *SMTP) deliver(ctx context.Context, msg *gomail.Msg) error {
	var (
		mu   sync.Mutex
		stop = func() bool { return false }
	)
	defer func() {
		mu.Lock()
		defer mu.Unlock()
		stop()
	}()
	dial := func(dialCtx context.Context, network, addr string) (net.Conn, error) {
		d := net.Dialer{Timeout: m.cfg.Timeout}
		conn, err := d.DialContext(dialCtx, network, addr)
		if err != nil {
			return nil, err
		}
		_ = conn.SetDeadline(time.Now().Add(m.cfg.Timeout))
		mu.Lock()
		stop = context.AfterFunc(ctx, func() {
			_ = conn.SetDeadline(time.Unix(1, 0))
		})
		mu.Unlock()
		return conn, nil
	}

	opts := []gomail.Option{
		gomail.WithPort(m.cfg.Port),
		gomail.WithTimeout(m.cfg.Timeout),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
		gomail.WithDialContextFunc(dial),
	}
	if m.cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(m.cfg.Username),
			gomail.WithPassword(m.cfg.Password))
	}
	client, err := gomail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("%w: smtp client: %v", ErrPermanent, err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}
