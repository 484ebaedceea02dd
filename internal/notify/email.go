package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"gopkg.in/gomail.v2"
)

type EmailSender struct {
	dialer *gomail.Dialer
	from   string
}

func NewEmailSender(smtpHost string, smtpPort int, smtpUser, smtpPassword, fromEmail string) *EmailSender {
	return &EmailSender{
		dialer: gomail.NewDialer(smtpHost, smtpPort, smtpUser, smtpPassword),
		from:   fromEmail,
	}
}

func (s *EmailSender) Send(ctx context.Context, to, subject, contentType, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody(contentType, body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}

	return nil
}

var verificationEmail = template.Must(template.New("verification").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px; border: 1px solid #ddd; border-radius: 8px; background: #f9f9f9;">
    <h2 style="color: #4CAF50; text-align: center;">Verification Code</h2>
    <p style="font-size: 16px; color: #333;">Dear User,</p>
    <div style="text-align: center; margin: 20px 0;">
        <span style="display: inline-block; font-size: 18px; font-weight: bold; color: #4CAF50; padding: 10px 20px; border: 1px solid #4CAF50;">{{.Code}}</span>
    </div>
    <p style="font-size: 16px; color: #333;">Please use this code to verify your email address. The code will expire in {{.Minutes}} minutes.</p>
    <footer style="margin-top: 20px; text-align: center; font-size: 14px; color: #999;">
        <p style="font-size: 12px; color: #aaa;">This is an automated message. Please do not reply to this email.</p>
    </footer>
</div>
`))

func renderVerificationEmail(code string, minutes int) (string, error) {
	var buf bytes.Buffer
	err := verificationEmail.Execute(&buf, struct {
		Code    string
		Minutes int
	}{Code: code, Minutes: minutes})
	if err != nil {
		return "", fmt.Errorf("failed to render verification email: %w", err)
	}
	return buf.String(), nil
}
