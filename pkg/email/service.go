package email

import (
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/Mercury-nju/novamail-sub004/pkg/logger"
)

// Service delivers transactional email through SendGrid. Without an API key
// it falls back to console-only mode for local development.
type Service struct {
	fromEmail   string
	fromName    string
	sendGridKey string
	useSendGrid bool
	log         logger.Logger
}

// NewService creates a new email service. If sendGridAPIKey is empty,
// emails are logged instead of sent.
func NewService(fromEmail, fromName, sendGridAPIKey string, log logger.Logger) *Service {
	useSendGrid := sendGridAPIKey != ""
	if useSendGrid {
		log.Info("email service initialized with SendGrid")
	} else {
		log.Warn("email service in console-only mode (set SENDGRID_API_KEY for production)")
	}

	return &Service{
		fromEmail:   fromEmail,
		fromName:    fromName,
		sendGridKey: sendGridAPIKey,
		useSendGrid: useSendGrid,
		log:         log,
	}
}

// SendVerificationCode emails a one-time signup/login code. This is the
// only path the code ever leaves the service on; API responses never carry
// it.
func (s *Service) SendVerificationCode(toEmail, code string) error {
	subject := "Your NovaMail verification code"
	body := fmt.Sprintf(`
		<html>
		<body>
			<h2>Verify your email</h2>
			<p>Your NovaMail verification code is:</p>
			<p style="font-size: 28px; font-weight: bold; letter-spacing: 6px;">%s</p>
			<p><strong>This code expires in 10 minutes</strong> and can be used once.</p>
			<p>If you didn't request a code, you can safely ignore this email.</p>
			<p>Thanks,<br>The NovaMail Team</p>
		</body>
		</html>
	`, code)

	plainText := fmt.Sprintf(`
Your NovaMail verification code is: %s

This code expires in 10 minutes and can be used once.

If you didn't request a code, you can safely ignore this email.

Thanks,
The NovaMail Team
	`, code)

	if s.useSendGrid {
		return s.sendViaSendGrid(toEmail, "", subject, body, plainText)
	}

	// Development mode only: the code is sensitive, so this never runs with
	// a real SendGrid key configured.
	s.log.Info("console email", "to", toEmail, "subject", subject, "code", code)
	return nil
}

// SendWelcome sends a welcome email after the account is created.
func (s *Service) SendWelcome(toEmail, name string) error {
	subject := "Welcome to NovaMail!"
	body := fmt.Sprintf(`
		<html>
		<body>
			<h2>Welcome to NovaMail!</h2>
			<p>Hi %s,</p>
			<p>Your account is ready. You can now build campaigns, import contacts and start sending.</p>
			<p>Thanks,<br>The NovaMail Team</p>
		</body>
		</html>
	`, name)

	plainText := fmt.Sprintf(`
Hi %s,

Your account is ready. You can now build campaigns, import contacts and start sending.

Thanks,
The NovaMail Team
	`, name)

	if s.useSendGrid {
		return s.sendViaSendGrid(toEmail, name, subject, body, plainText)
	}

	s.log.Info("console email", "to", toEmail, "subject", subject)
	return nil
}

// sendViaSendGrid sends an email using the SendGrid API
func (s *Service) sendViaSendGrid(toEmail, toName, subject, htmlBody, plainText string) error {
	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(toName, toEmail)
	message := mail.NewSingleEmail(from, subject, to, plainText, htmlBody)

	client := sendgrid.NewSendClient(s.sendGridKey)
	response, err := client.Send(message)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid returned status %d: %s", response.StatusCode, response.Body)
	}

	s.log.Debug("email sent", "to", toEmail, "subject", subject, "status", response.StatusCode)
	return nil
}
