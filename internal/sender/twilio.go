package sender

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// SMSProvider is the part of the Twilio API the SMS sender uses.
type SMSProvider interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioSMS sends SMS through Twilio.
type TwilioSMS struct {
	api  SMSProvider
	from string
}

// NewTwilioSMS builds a sender from account credentials. timeout bounds each API request.
func NewTwilioSMS(accountSID, authToken, from string, timeout time.Duration) *TwilioSMS {
	c := twilio.NewRestClientWithParams(twilio.ClientParams{Username: accountSID, Password: authToken})
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return &TwilioSMS{api: c.Api, from: from}
}

// NewTwilioSMSWith uses a custom provider (tests).
func NewTwilioSMSWith(api SMSProvider, from string) *TwilioSMS {
	return &TwilioSMS{api: api, from: from}
}

func (s *TwilioSMS) Send(ctx context.Context, msg Message) error {
	if msg.Contact == "" {
		return Permanent(errors.New("recipient has no phone number"))
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(msg.Contact)
	params.SetFrom(s.from)
	params.SetBody(smsText(msg))
	err := callWithContext(ctx, func() error {
		_, err := s.api.CreateMessage(params)
		return err
	})
	if err == nil {
		return nil
	}
	var rest *twclient.TwilioRestError
	if errors.As(err, &rest) && rest.Status >= 400 && rest.Status < 500 && rest.Status != http.StatusTooManyRequests {
		return Permanent(fmt.Errorf("twilio %d: %s", rest.Code, rest.Message))
	}
	return fmt.Errorf("twilio: %w", err)
}

func smsText(msg Message) string {
	if msg.Title == "" {
		return msg.Body
	}
	return msg.Title + "\n" + msg.Body
}
