// Package email provides SMTP email sending for the auth service.
package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/studiotrack/auth-service/internal/infrastructure/config"
)

// Service sends the authentication emails via SMTP.
type Service struct {
	cfg *config.EmailConfig
}

// NewService creates a new email service.
func NewService(cfg *config.EmailConfig) *Service {
	return &Service{cfg: cfg}
}

// SendEmailOTP sends a one-time login code to the person's email.
func (s *Service) SendEmailOTP(ctx context.Context, email, code string) error {
	subject := "StudioTrack - Your authentication code"
	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2 style="color: #333;">Authentication code</h2>
  <p>Use this code to finish signing in:</p>
  <div style="background: #f4f4f4; padding: 20px; text-align: center; margin: 20px 0; border-radius: 8px;">
    <span style="font-size: 32px; font-weight: bold; letter-spacing: 8px; color: #2563eb;">%s</span>
  </div>
  <p>This code expires in <strong>5 minutes</strong>.</p>
  <p style="color: #666; font-size: 12px;">If you did not try to sign in, please change your password.</p>
</body>
</html>`, code)

	return s.send(ctx, email, subject, body)
}

// SendResetPassword sends the password recovery link carrying the reset
// token.
func (s *Service) SendResetPassword(ctx context.Context, email, token string) error {
	link := fmt.Sprintf(
		"%s/reset-change-password?email=%s&token=%s",
		strings.TrimRight(s.cfg.FrontendURL, "/"),
		url.QueryEscape(email),
		url.QueryEscape(token),
	)

	subject := "StudioTrack - Password recovery"
	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2 style="color: #333;">Password recovery</h2>
  <p>You asked to reset your password. Follow this link to choose a new one:</p>
  <p style="margin: 20px 0;">
    <a href="%s" style="background: #2563eb; color: #fff; padding: 12px 24px; border-radius: 8px; text-decoration: none;">Reset my password</a>
  </p>
  <p>The link is valid for <strong>2 hours</strong>.</p>
  <p style="color: #666; font-size: 12px;">If you did not request this, please ignore this email.</p>
</body>
</html>`, link)

	return s.send(ctx, email, subject, body)
}

// SendPasswordChanged notifies the person their password was changed.
func (s *Service) SendPasswordChanged(ctx context.Context, email string) error {
	subject := "StudioTrack - Password changed"
	body := `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2 style="color: #333;">Password changed</h2>
  <p>The password of your account has been changed.</p>
  <p style="color: #666; font-size: 12px;">If you did not make this change, please contact your studio administrator immediately.</p>
</body>
</html>`

	return s.send(ctx, email, subject, body)
}

// SendTwoFactorDisabled notifies the person their second factors were
// removed.
func (s *Service) SendTwoFactorDisabled(ctx context.Context, email string) error {
	subject := "StudioTrack - Two-factor authentication disabled"
	body := `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2 style="color: #333;">Two-factor authentication</h2>
  <p>Two-factor authentication has been <strong>disabled</strong> on your account.</p>
  <p style="color: #666; font-size: 12px;">If you did not make this change, please contact your studio administrator immediately.</p>
</body>
</html>`

	return s.send(ctx, email, subject, body)
}

func (s *Service) send(ctx context.Context, to, subject, htmlBody string) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.SMTPHost, s.cfg.SMTPPort)

	headers := map[string]string{
		"From":         fmt.Sprintf("%s <%s>", s.cfg.FromName, s.cfg.FromAddress),
		"To":           to,
		"Subject":      subject,
		"MIME-Version": "1.0",
		"Content-Type": "text/html; charset=UTF-8",
	}

	var msg strings.Builder
	for k, v := range headers {
		fmt.Fprintf(&msg, "%s: %s\r\n", k, v)
	}
	msg.WriteString("\r\n")
	msg.WriteString(htmlBody)

	// Determine auth (nil if no user/password — works for Mailpit)
	var auth smtp.Auth
	if s.cfg.SMTPUser != "" && s.cfg.SMTPPassword != "" {
		auth = smtp.PlainAuth("", s.cfg.SMTPUser, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	}

	if s.cfg.UseTLS {
		return s.sendTLS(ctx, addr, auth, to, msg.String())
	}

	err := smtp.SendMail(addr, auth, s.cfg.FromAddress, []string{to}, []byte(msg.String()))
	if err != nil {
		log.Error().Err(err).Str("to", to).Str("subject", subject).Msg("Failed to send email")
		return fmt.Errorf("failed to send email: %w", err)
	}

	log.Info().Str("to", to).Str("subject", subject).Msg("Email sent successfully")
	return nil
}

func (s *Service) sendTLS(ctx context.Context, addr string, auth smtp.Auth, to, msg string) error {
	tlsConfig := &tls.Config{
		ServerName: s.cfg.SMTPHost,
		MinVersion: tls.VersionTLS12,
	}
	if s.cfg.SkipVerify {
		tlsConfig.InsecureSkipVerify = true //nolint:gosec // Configurable for dev/self-hosted environments.
	}

	dialer := &tls.Dialer{Config: tlsConfig}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}

	client, err := smtp.NewClient(conn, s.cfg.SMTPHost)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close SMTP client")
		}
	}()

	if auth != nil {
		if err = client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP auth failed: %w", err)
		}
	}

	if err = client.Mail(s.cfg.FromAddress); err != nil {
		return fmt.Errorf("SMTP MAIL FROM failed: %w", err)
	}
	if err = client.Rcpt(to); err != nil {
		return fmt.Errorf("SMTP RCPT TO failed: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA failed: %w", err)
	}
	if _, err = w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("SMTP write failed: %w", err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("SMTP close failed: %w", err)
	}

	log.Info().Str("to", to).Msg("Email sent successfully via TLS")
	return client.Quit()
}
