package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"github.com/attestary/attestary/internal/archive"
)

// SMTP emails alerts to a fixed recipient list.
type SMTP struct {
	host       string
	port       int
	username   string
	password   string
	from       string
	recipients []string
	logger     *zap.Logger
}

// NewSMTP creates an SMTP notifier.
func NewSMTP(host string, port int, username, password, from string, recipients []string, logger *zap.Logger) *SMTP {
	return &SMTP{
		host:       host,
		port:       port,
		username:   username,
		password:   password,
		from:       from,
		recipients: recipients,
		logger:     logger,
	}
}

// NotifyFault implements Notifier.
func (s *SMTP) NotifyFault(_ context.Context, f archive.Fault) {
	subject := fmt.Sprintf("attestary: record fault for %s", f.AgentID)
	body := strings.Join([]string{
		"A stored record failed verification.",
		"",
		"agent:     " + f.AgentID,
		fmt.Sprintf("timestamp: %d", f.Timestamp),
		"fault:     " + f.Type,
		"detail:    " + f.Message,
	}, "\r\n")
	s.sendAsync(subject, body)
}

// NotifyAgentStatus implements Notifier.
func (s *SMTP) NotifyAgentStatus(_ context.Context, agentID string, healthy bool, detail string) {
	state := "degraded"
	if healthy {
		state = "recovered"
	}
	subject := fmt.Sprintf("attestary: agent %s %s", agentID, state)
	body := strings.Join([]string{
		fmt.Sprintf("Audit sweeps report agent %s as %s.", agentID, state),
		"",
		"detail: " + detail,
	}, "\r\n")
	s.sendAsync(subject, body)
}

func (s *SMTP) sendAsync(subject, body string) {
	go func() {
		if err := s.send(subject, body); err != nil {
			s.logger.Error("smtp: alert delivery failed",
				zap.String("subject", subject),
				zap.Error(err),
			)
		}
	}()
}

func (s *SMTP) send(subject, body string) error {
	msg := strings.Join([]string{
		"From: " + s.from,
		"To: " + strings.Join(s.recipients, ", "),
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"",
		body,
	}, "\r\n")

	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}

	// Port 465 uses implicit TLS; 587 uses STARTTLS (smtp.SendMail handles this).
	if s.port == 465 {
		return s.sendImplicitTLS(addr, auth, []byte(msg))
	}
	return smtp.SendMail(addr, auth, s.from, s.recipients, []byte(msg))
}

func (s *SMTP) sendImplicitTLS(addr string, auth smtp.Auth, msg []byte) error {
	host, _, _ := net.SplitHostPort(addr)
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: host})
	if err != nil {
		return fmt.Errorf("smtp tls dial: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return fmt.Errorf("smtp new client: %w", err)
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(s.from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, to := range s.recipients {
		if err := client.Rcpt(to); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", to, err)
		}
	}
	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := wc.Write(msg); err != nil {
		return fmt.Errorf("smtp write body: %w", err)
	}
	return wc.Close()
}
