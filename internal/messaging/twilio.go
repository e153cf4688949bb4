package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// twilioAPI is the slice of the Twilio REST client used here, narrowed so
// tests can substitute a mock.
type twilioAPI interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// TwilioTokenSender delivers reset tokens over SMS via Twilio. Recipients
// are resolved from a chat user id to a phone number through the directory;
// users without an entry cannot receive tokens on this channel.
type TwilioTokenSender struct {
	api       twilioAPI
	from      string
	directory map[string]string
}

// NewTwilioTokenSender creates an SMS token sender. The directory maps chat
// user ids to E.164 phone numbers.
func NewTwilioTokenSender(accountSID, authToken, from string, directory map[string]string) (*TwilioTokenSender, error) {
	if accountSID == "" || authToken == "" {
		return nil, fmt.Errorf("twilio account SID and auth token must not be empty")
	}
	if from == "" {
		return nil, fmt.Errorf("twilio from number must not be empty")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioTokenSender{api: client.Api, from: from, directory: directory}, nil
}

// NewTwilioTokenSenderWithAPI wires an explicit API implementation, for tests.
func NewTwilioTokenSenderWithAPI(api twilioAPI, from string, directory map[string]string) *TwilioTokenSender {
	return &TwilioTokenSender{api: api, from: from, directory: directory}
}

func (s *TwilioTokenSender) SendResetToken(ctx context.Context, userID, token string) error {
	to, ok := s.directory[userID]
	if !ok {
		return fmt.Errorf("no phone number on file for user %s", userID)
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(fmt.Sprintf("Your GramGate password reset token: %s", token))

	msg, err := s.api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio reset token delivery failed", "error", err, "userID", userID)
		return fmt.Errorf("twilio send: %w", err)
	}
	sid := ""
	if msg.Sid != nil {
		sid = *msg.Sid
	}
	slog.Info("Reset token sent via SMS", "userID", userID, "message_sid", sid)
	return nil
}
