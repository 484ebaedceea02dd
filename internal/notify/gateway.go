// Package notify delivers verification codes and password-reset links over
// email or voice call.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPhone Channel = "phone"
)

var ErrUnsupportedChannel = errors.New("unsupported verification channel")

// ParseChannel accepts exactly "email" or "phone".
func ParseChannel(s string) (Channel, error) {
	switch c := Channel(s); c {
	case ChannelEmail, ChannelPhone:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedChannel, s)
	}
}

// Mailer sends a single message. *EmailSender implements it over SMTP.
type Mailer interface {
	Send(ctx context.Context, to, subject, contentType, body string) error
}

// Caller places an outbound voice call that reads the given TwiML.
type Caller interface {
	Call(ctx context.Context, to, twiml string) error
}

type Gateway struct {
	mailer  Mailer
	caller  Caller
	codeTTL time.Duration
	logger  *logrus.Logger
}

// NewGateway builds a gateway; codeTTL is only used to tell the recipient how
// long the code stays valid.
func NewGateway(mailer Mailer, caller Caller, codeTTL time.Duration, logger *logrus.Logger) *Gateway {
	return &Gateway{
		mailer:  mailer,
		caller:  caller,
		codeTTL: codeTTL,
		logger:  logger,
	}
}

func (g *Gateway) SendVerificationCode(ctx context.Context, channel Channel, email, phone, code string) error {
	switch channel {
	case ChannelEmail:
		body, err := renderVerificationEmail(code, int(g.codeTTL.Minutes()))
		if err != nil {
			return err
		}
		if err := g.mailer.Send(ctx, email, "Your Verification Code.", "text/html", body); err != nil {
			return fmt.Errorf("failed to send verification email: %w", err)
		}
	case ChannelPhone:
		if err := g.caller.Call(ctx, phone, verificationTwiML(code)); err != nil {
			return fmt.Errorf("failed to place verification call: %w", err)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedChannel, channel)
	}

	g.logger.WithFields(logrus.Fields{
		"channel": channel,
	}).Info("Verification code dispatched")
	return nil
}

func (g *Gateway) SendPasswordReset(ctx context.Context, email, resetURL string) error {
	body := fmt.Sprintf("Your Reset Password Token is:- \n\n %s \n\n If you have not requested this email then please ignore it.", resetURL)
	if err := g.mailer.Send(ctx, email, "PASSWORD RESET", "text/plain", body); err != nil {
		return fmt.Errorf("failed to send password reset email: %w", err)
	}
	return nil
}

// verificationTwiML spells the code digit by digit and says it twice.
func verificationTwiML(code string) string {
	spaced := strings.Join(strings.Split(code, ""), " ")
	return fmt.Sprintf("<Response><Say>Your verification code is %s. Your verification code is %s.</Say></Response>", spaced, spaced)
}
