package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"time"

	"github.com/google/uuid"

	"github.com/harborarts/member-api/internal/logging"
)

// Service sends transactional HTML email over SMTP. Links embedded in
// messages are built from the configured public base URL.
type Service struct {
	smtpHost     string
	smtpPort     string
	smtpUser     string
	smtpPassword string
	fromEmail    string
	baseURL      string
}

func NewService(smtpHost, smtpPort, smtpUser, smtpPassword, baseURL string) *Service {
	return &Service{
		smtpHost:     smtpHost,
		smtpPort:     smtpPort,
		smtpUser:     smtpUser,
		smtpPassword: smtpPassword,
		fromEmail:    smtpUser,
		baseURL:      baseURL,
	}
}

// SendVerificationEmail sends an email verification link for a new
// account.
func (s *Service) SendVerificationEmail(ctx context.Context, toEmail, token string) error {
	logger := logging.GetLoggerFromContext(ctx)

	link := fmt.Sprintf("%s/verify-email?token=%s", s.baseURL, token)

	body, err := renderLinkTemplate(linkEmailData{
		Title:      "Verify your email address",
		Intro:      "Thanks for joining! Please confirm your email address to activate your membership account.",
		ButtonText: "Verify Email",
		Link:       link,
		Note:       "This link expires in 24 hours. If you did not create an account, you can ignore this email.",
	})
	if err != nil {
		return fmt.Errorf("render template: %w", err)
	}

	if err := s.sendEmail(toEmail, "Verify your email address", body); err != nil {
		logger.Error("failed to send verification email", "email", toEmail, "error", err)
		return fmt.Errorf("send email: %w", err)
	}

	logger.Info("verification email sent", "email", toEmail)
	return nil
}

// SendEmailChangeEmail sends a verification link for a pending email
// change to the new address.
func (s *Service) SendEmailChangeEmail(ctx context.Context, toEmail, token string) error {
	logger := logging.GetLoggerFromContext(ctx)

	link := fmt.Sprintf("%s/verify-email?token=%s", s.baseURL, token)

	body, err := renderLinkTemplate(linkEmailData{
		Title:      "Confirm your new email address",
		Intro:      "You asked to change the email on your membership account. Confirm the new address to complete the change; until then your account keeps its current email.",
		ButtonText: "Confirm New Email",
		Link:       link,
		Note:       "This link expires in 24 hours. If you did not request this change, you can ignore this email.",
	})
	if err != nil {
		return fmt.Errorf("render template: %w", err)
	}

	if err := s.sendEmail(toEmail, "Confirm your new email address", body); err != nil {
		logger.Error("failed to send email change email", "email", toEmail, "error", err)
		return fmt.Errorf("send email: %w", err)
	}

	logger.Info("email change email sent", "email", toEmail)
	return nil
}

// SendPasswordResetEmail sends a password reset link.
func (s *Service) SendPasswordResetEmail(ctx context.Context, toEmail, token string) error {
	logger := logging.GetLoggerFromContext(ctx)

	link := fmt.Sprintf("%s/reset-password?token=%s", s.baseURL, token)

	body, err := renderLinkTemplate(linkEmailData{
		Title:      "Reset your password",
		Intro:      "We received a request to reset the password on your membership account.",
		ButtonText: "Reset Password",
		Link:       link,
		Note:       "This link expires in 1 hour. If you did not request a reset, you can ignore this email and your password will stay the same.",
	})
	if err != nil {
		return fmt.Errorf("render template: %w", err)
	}

	if err := s.sendEmail(toEmail, "Reset your password", body); err != nil {
		logger.Error("failed to send password reset email", "email", toEmail, "error", err)
		return fmt.Errorf("send email: %w", err)
	}

	logger.Info("password reset email sent", "email", toEmail)
	return nil
}

// SendWelcomeEmail sends the registration confirmation after a member
// verifies their address.
func (s *Service) SendWelcomeEmail(ctx context.Context, toEmail, name string) error {
	logger := logging.GetLoggerFromContext(ctx)

	body, err := renderWelcomeTemplate(name, s.baseURL)
	if err != nil {
		return fmt.Errorf("render template: %w", err)
	}

	if err := s.sendEmail(toEmail, "Welcome to the community", body); err != nil {
		logger.Error("failed to send welcome email", "email", toEmail, "error", err)
		return fmt.Errorf("send email: %w", err)
	}

	logger.Info("welcome email sent", "email", toEmail)
	return nil
}

func (s *Service) sendEmail(to, subject, body string) error {
	auth := smtp.PlainAuth("", s.smtpUser, s.smtpPassword, s.smtpHost)

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), s.smtpHost)

	msg := []byte(fmt.Sprintf(
		"From: %s\r\n"+
			"To: %s\r\n"+
			"Subject: %s\r\n"+
			"Message-ID: %s\r\n"+
			"Date: %s\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: text/html; charset=UTF-8\r\n"+
			"\r\n"+
			"%s\r\n",
		s.fromEmail, to, subject, messageID, time.Now().Format(time.RFC1123Z), body,
	))

	addr := fmt.Sprintf("%s:%s", s.smtpHost, s.smtpPort)
	return smtp.SendMail(addr, auth, s.fromEmail, []string{to}, msg)
}

type linkEmailData struct {
	Title      string
	Intro      string
	ButtonText string
	Link       string
	Note       string
}

var linkTemplate = template.Must(template.New("link").Parse(`
<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
    <div style="background-color: #2c6e49; color: white; padding: 20px; text-align: center; border-radius: 5px 5px 0 0;">
        <h1 style="margin: 0; font-size: 22px;">{{.Title}}</h1>
    </div>
    <div style="background-color: #f9f9f9; padding: 30px; border-radius: 0 0 5px 5px;">
        <p>{{.Intro}}</p>
        <p style="text-align: center; margin: 30px 0;">
            <a href="{{.Link}}" style="background-color: #2c6e49; color: white; padding: 12px 30px; text-decoration: none; border-radius: 5px; display: inline-block;">{{.ButtonText}}</a>
        </p>
        <p>Or copy and paste this link into your browser:</p>
        <p style="word-break: break-all; font-size: 13px;">{{.Link}}</p>
        <p style="color: #666; font-size: 13px;">{{.Note}}</p>
    </div>
</body>
</html>
`))

func renderLinkTemplate(data linkEmailData) (string, error) {
	var buf bytes.Buffer
	if err := linkTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var welcomeTemplate = template.Must(template.New("welcome").Parse(`
<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
    <div style="background-color: #2c6e49; color: white; padding: 20px; text-align: center; border-radius: 5px 5px 0 0;">
        <h1 style="margin: 0; font-size: 22px;">Welcome{{if .Name}}, {{.Name}}{{end}}!</h1>
    </div>
    <div style="background-color: #f9f9f9; padding: 30px; border-radius: 0 0 5px 5px;">
        <p>Your email is verified and your membership account is ready to use.</p>
        <p style="text-align: center; margin: 30px 0;">
            <a href="{{.BaseURL}}/login" style="background-color: #2c6e49; color: white; padding: 12px 30px; text-decoration: none; border-radius: 5px; display: inline-block;">Log In</a>
        </p>
        <p style="color: #666; font-size: 13px;">We're glad to have you with us.</p>
    </div>
</body>
</html>
`))

func renderWelcomeTemplate(name, baseURL string) (string, error) {
	var buf bytes.Buffer
	data := struct {
		Name    string
		BaseURL string
	}{Name: name, BaseURL: baseURL}
	if err := welcomeTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
