package notify

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type VoiceCaller struct {
	client *twilio.RestClient
	from   string
	logger *logrus.Logger
}

func NewVoiceCaller(accountSID, authToken, fromPhone string, logger *logrus.Logger) *VoiceCaller {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &VoiceCaller{
		client: client,
		from:   fromPhone,
		logger: logger,
	}
}

func (c *VoiceCaller) Call(ctx context.Context, to, twiml string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &twilioApi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(c.from)
	params.SetTwiml(twiml)

	resp, err := c.client.Api.CreateCall(params)
	if err != nil {
		c.logger.WithError(err).Error("Failed to create Twilio call")
		return fmt.Errorf("failed to create call: %w", err)
	}

	if resp.Sid != nil {
		c.logger.WithField("call_sid", *resp.Sid).Debug("Twilio call created")
	}
	return nil
}
