package channel

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/db"
)

const (
	transportSMTP   = "smtp"
	transportSES    = "ses"
	defaultSMTPPort = 587
)

// message is one outgoing plain-text email.
type message struct {
	From    string
	To      string
	Subject string
	Body    string
}

// mailer hands a message to a mail transport and returns its message id.
type mailer interface {
	deliver(ctx context.Context, msg message) (string, error)
}

// Email sends notifications as plain-text mail over SMTP or SES.
type Email struct {
	from      string
	transport string
	mailer    mailer
	timeout   time.Duration
	logger    *zap.Logger
}

// newEmail builds an email adapter. SES clients come from sesClients,
// shared across adapters built by one registry.
// Config: host, port, username, password, from_email, use_tls (default true),
// or transport "ses" with from_email and region.
func newEmail(cfg map[string]any, deps Deps, sesClients *sesCache) (*Email, error) {
	if err := ValidateConfig(db.KindEmail, cfg); err != nil {
		return nil, err
	}
	deps = deps.withDefaults()

	e := &Email{
		from:      configString(cfg, "from_email"),
		transport: transportSMTP,
		timeout:   deps.Timeout,
		logger:    deps.Logger,
	}

	if strings.EqualFold(configString(cfg, "transport"), transportSES) {
		client, err := sesClients.get(context.Background(), configString(cfg, "region"))
		if err != nil {
			return nil, fmt.Errorf("ses client: %w", err)
		}
		e.transport = transportSES
		e.mailer = &sesMailer{client: client}
		return e, nil
	}

	port, err := configInt(cfg, "port", defaultSMTPPort)
	if err != nil {
		return nil, &ConfigError{Kind: db.KindEmail, Missing: []string{"port"}}
	}
	e.mailer = &smtpMailer{
		host:     configString(cfg, "host"),
		port:     port,
		username: configString(cfg, "username"),
		password: configString(cfg, "password"),
		useTLS:   configBool(cfg, "use_tls", true),
		timeout:  deps.Timeout,
	}
	return e, nil
}

// composeBody lays out the mail body: subtitle, blank line, content, then
// the link on its own line.
func composeBody(content string, opts Options) string {
	var b strings.Builder
	if opts.Subtitle != "" {
		b.WriteString(opts.Subtitle)
		b.WriteString("\n\n")
	}
	b.WriteString(content)
	if opts.URL != "" {
		b.WriteString("\n\n🔗 ")
		b.WriteString(opts.URL)
	}
	return b.String()
}

// Send mails title and content to the address in to.
func (e *Email) Send(ctx context.Context, to, title, content string, opts Options) (Response, error) {
	if _, err := mail.ParseAddress(to); err != nil {
		return nil, &DeliveryError{Kind: db.KindEmail, Message: fmt.Sprintf("invalid recipient %q", to), Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	msg := message{From: e.from, To: to, Subject: title, Body: composeBody(content, opts)}
	id, err := e.mailer.deliver(ctx, msg)
	if err != nil {
		e.logger.Warn("email delivery failed",
			zap.String("to", to),
			zap.String("transport", e.transport),
			zap.Error(err),
		)
		var de *DeliveryError
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, &DeliveryError{Kind: db.KindEmail, Err: err}
	}

	e.logger.Debug("email delivered", zap.String("to", to), zap.String("transport", e.transport))
	return Response{
		"success":    true,
		"to":         to,
		"subject":    title,
		"transport":  e.transport,
		"message_id": id,
	}, nil
}

// smtpMailer submits over SMTP, upgrading with STARTTLS when useTLS is set.
type smtpMailer struct {
	host     string
	port     int
	username string
	password string
	useTLS   bool
	timeout  time.Duration
}

func (m *smtpMailer) deliver(ctx context.Context, msg message) (string, error) {
	addr := net.JoinHostPort(m.host, strconv.Itoa(m.port))

	dialer := &net.Dialer{Timeout: m.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", addr, err)
	}
	deadline := time.Now().Add(m.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, m.host)
	if err != nil {
		conn.Close()
		return "", fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if m.useTLS {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return "", errors.New("smtp server does not offer STARTTLS")
		}
		if err := c.StartTLS(&tls.Config{ServerName: m.host, MinVersion: tls.VersionTLS12}); err != nil {
			return "", fmt.Errorf("starttls: %w", err)
		}
	}

	if m.username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(smtp.PlainAuth("", m.username, m.password, m.host)); err != nil {
				return "", fmt.Errorf("smtp auth: %w", err)
			}
		}
	}

	id := messageID(msg.From)
	raw, err := buildMessage(msg, id, time.Now())
	if err != nil {
		return "", err
	}

	if err := c.Mail(msg.From); err != nil {
		return "", fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		return "", fmt.Errorf("smtp RCPT TO: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return "", fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return "", fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("smtp end of data: %w", err)
	}
	_ = c.Quit()
	return id, nil
}

func messageID(from string) string {
	domain := "beacon.local"
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		domain = strings.Trim(from[at+1:], "<> ")
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

// buildMessage renders msg as an RFC 5322 message with a quoted-printable
// UTF-8 body and an RFC 2047 encoded subject.
func buildMessage(msg message, id string, now time.Time) ([]byte, error) {
	var buf bytes.Buffer
	header := func(k, v string) {
		buf.WriteString(k)
		buf.WriteString(": ")
		buf.WriteString(v)
		buf.WriteString("\r\n")
	}

	header("From", msg.From)
	header("To", msg.To)
	header("Subject", mime.QEncoding.Encode("utf-8", headerValue(msg.Subject)))
	header("Date", now.Format(time.RFC1123Z))
	header("Message-ID", id)
	header("MIME-Version", "1.0")
	header("Content-Type", `text/plain; charset="utf-8"`)
	header("Content-Transfer-Encoding", "quoted-printable")
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&buf)
	body := strings.ReplaceAll(msg.Body, "\r\n", "\n")
	if _, err := qp.Write([]byte(strings.ReplaceAll(body, "\n", "\r\n"))); err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	if err := qp.Close(); err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	return buf.Bytes(), nil
}
