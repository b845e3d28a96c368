package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/LeventeLantos/whatsapp-dispatch/internal/model"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/provider"
)

// messageCreator is the slice of the Twilio REST client the sender needs.
type messageCreator interface {
	CreateMessage(params *api.CreateMessageParams) (*api.ApiV2010Message, error)
}

type TwilioSender struct {
	api            messageCreator
	from           string
	statusCallback string
}

var _ provider.Sender = (*TwilioSender)(nil)

type TwilioConfig struct {
	AccountSID     string
	AuthToken      string
	FromNumber     string
	StatusCallback string
	Timeout        time.Duration
}

func NewTwilioSender(cfg TwilioConfig) *TwilioSender {
	rc := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	if cfg.Timeout > 0 {
		rc.SetTimeout(cfg.Timeout)
	}
	return newTwilioSender(rc.Api, cfg.FromNumber, cfg.StatusCallback)
}

func newTwilioSender(c messageCreator, from, statusCallback string) *TwilioSender {
	return &TwilioSender{
		api:            c,
		from:           whatsappAddr(from),
		statusCallback: statusCallback,
	}
}

func (s *TwilioSender) Send(ctx context.Context, to, templateSID string, vars model.Variables) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &provider.TransportError{Err: err}
	}

	contentVars, err := json.Marshal(vars)
	if err != nil {
		return "", &provider.TransportError{Err: fmt.Errorf("encode content variables: %w", err)}
	}

	params := &api.CreateMessageParams{}
	params.SetFrom(s.from)
	params.SetTo(whatsappAddr(to))
	params.SetContentSid(templateSID)
	params.SetContentVariables(string(contentVars))
	if s.statusCallback != "" {
		params.SetStatusCallback(s.statusCallback)
	}

	resp, err := s.api.CreateMessage(params)
	if err != nil {
		return "", mapTwilioErr(err)
	}
	if resp == nil || resp.Sid == nil || *resp.Sid == "" {
		return "", &provider.TransportError{Err: errors.New("twilio response missing sid")}
	}
	return *resp.Sid, nil
}

func mapTwilioErr(err error) error {
	var restErr *twilioclient.TwilioRestError
	if errors.As(err, &restErr) {
		return &provider.Error{
			Code:    strconv.Itoa(restErr.Code),
			Message: restErr.Message,
			Status:  restErr.Status,
		}
	}
	return &provider.TransportError{Err: err}
}

func whatsappAddr(number string) string {
	return "whatsapp:" + number
}
