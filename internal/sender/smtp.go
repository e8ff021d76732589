package sender

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

// SendMailFunc delivers one message. It must give up once ctx is done.
type SendMailFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPEmail sends HTML mail through an SMTP relay.
type SMTPEmail struct {
	addr     string
	auth     smtp.Auth
	from     string
	sendMail SendMailFunc
}

// NewSMTPEmail builds a sender using PLAIN auth when a username is given.
func NewSMTPEmail(host string, port int, username, password, from string) *SMTPEmail {
	var auth smtp.Auth
	if username != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}
	return &SMTPEmail{
		addr:     net.JoinHostPort(host, strconv.Itoa(port)),
		auth:     auth,
		from:     from,
		sendMail: sendMailContext,
	}
}

// WithSendMail swaps the transport (tests).
func (s *SMTPEmail) WithSendMail(fn SendMailFunc) *SMTPEmail {
	s.sendMail = fn
	return s
}

func (s *SMTPEmail) Send(ctx context.Context, msg Message) error {
	to, err := mail.ParseAddress(msg.Contact)
	if err != nil {
		return Permanent(fmt.Errorf("bad email address %q: %w", msg.Contact, err))
	}
	body := buildMail(s.from, to.Address, msg)
	err = callWithContext(ctx, func() error {
		return s.sendMail(ctx, s.addr, s.auth, s.from, []string{to.Address}, body)
	})
	if err == nil {
		return nil
	}
	var tp *textproto.Error
	if errors.As(err, &tp) && tp.Code >= 500 {
		return Permanent(fmt.Errorf("smtp: %w", err))
	}
	return fmt.Errorf("smtp: %w", err)
}

// sendMailContext is smtp.SendMail on a connection bound to ctx: the dial honours ctx,
// every read and write carries its deadline, and cancellation closes the socket.
func sendMailContext(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	host, _, _ := net.SplitHostPort(addr)
	c, err := smtp.NewClient(conn, host)
	if err != nil {
		return err
	}
	defer c.Close()
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(a); err != nil {
				return err
			}
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func buildMail(from, to string, msg Message) []byte {
	subject := strings.NewReplacer("\r", " ", "\n", " ").Replace(msg.Title)
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("MIME-version: 1.0;\r\nContent-Type: text/html; charset=\"UTF-8\";\r\n\r\n")
	b.WriteString("<html><body>" + msg.Body + "</body></html>\r\n")
	return []byte(b.String())
}
