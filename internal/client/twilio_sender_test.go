package client

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	twilioclient "github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/LeventeLantos/whatsapp-dispatch/internal/model"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/provider"
)

type fakeCreator struct {
	got  *api.CreateMessageParams
	resp *api.ApiV2010Message
	err  error
}

var _ messageCreator = (*fakeCreator)(nil)

func (f *fakeCreator) CreateMessage(params *api.CreateMessageParams) (*api.ApiV2010Message, error) {
	f.got = params
	return f.resp, f.err
}

func sidResp(sid string) *api.ApiV2010Message {
	return &api.ApiV2010Message{Sid: &sid}
}

func TestTwilioSender_Send_Success(t *testing.T) {
	t.Parallel()

	fc := &fakeCreator{resp: sidResp("SM123")}
	s := newTwilioSender(fc, "+14155238886", "https://example.com/webhooks/twilio/status")

	vars := model.Variables{{Key: "2", Value: "B"}, {Key: "1", Value: "A"}}
	sid, err := s.Send(context.Background(), "+15550001111", "HX1", vars)
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if sid != "SM123" {
		t.Fatalf("expected sid SM123, got %q", sid)
	}

	p := fc.got
	if p == nil {
		t.Fatalf("expected CreateMessage to be called")
	}
	if p.From == nil || *p.From != "whatsapp:+14155238886" {
		t.Fatalf("unexpected From: %v", p.From)
	}
	if p.To == nil || *p.To != "whatsapp:+15550001111" {
		t.Fatalf("unexpected To: %v", p.To)
	}
	if p.ContentSid == nil || *p.ContentSid != "HX1" {
		t.Fatalf("unexpected ContentSid: %v", p.ContentSid)
	}
	if p.ContentVariables == nil || *p.ContentVariables != `{"2":"B","1":"A"}` {
		t.Fatalf("unexpected ContentVariables: %v", p.ContentVariables)
	}
	if p.StatusCallback == nil || *p.StatusCallback != "https://example.com/webhooks/twilio/status" {
		t.Fatalf("unexpected StatusCallback: %v", p.StatusCallback)
	}
}

func TestTwilioSender_Send_NoStatusCallback(t *testing.T) {
	t.Parallel()

	fc := &fakeCreator{resp: sidResp("SM1")}
	s := newTwilioSender(fc, "+1", "")

	if _, err := s.Send(context.Background(), "+2", "HX1", nil); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if fc.got.StatusCallback != nil {
		t.Fatalf("expected no StatusCallback, got %q", *fc.got.StatusCallback)
	}

	var decoded map[string]string
	if err := json.Unmarshal([]byte(*fc.got.ContentVariables), &decoded); err != nil || len(decoded) != 0 {
		t.Fatalf("expected empty variables object, got %q", *fc.got.ContentVariables)
	}
}

func TestTwilioSender_Send_RestErrorMapsToProviderError(t *testing.T) {
	t.Parallel()

	fc := &fakeCreator{err: &twilioclient.TwilioRestError{
		Code:    21656,
		Message: "The ContentVariables Parameter is invalid.",
		Status:  400,
	}}
	s := newTwilioSender(fc, "+1", "")

	_, err := s.Send(context.Background(), "+2", "HX1", nil)

	var perr *provider.Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected *provider.Error, got %T %v", err, err)
	}
	if perr.Code != "21656" || perr.Status != 400 {
		t.Fatalf("unexpected provider error %+v", perr)
	}
	if !perr.Permanent() {
		t.Fatalf("expected 21656 to be permanent")
	}
}

func TestTwilioSender_Send_OtherErrorIsTransport(t *testing.T) {
	t.Parallel()

	fc := &fakeCreator{err: errors.New("dial tcp: i/o timeout")}
	s := newTwilioSender(fc, "+1", "")

	_, err := s.Send(context.Background(), "+2", "HX1", nil)

	var terr *provider.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected *provider.TransportError, got %T %v", err, err)
	}
}

func TestTwilioSender_Send_MissingSIDIsTransport(t *testing.T) {
	t.Parallel()

	fc := &fakeCreator{resp: &api.ApiV2010Message{}}
	s := newTwilioSender(fc, "+1", "")

	_, err := s.Send(context.Background(), "+2", "HX1", nil)

	var terr *provider.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected *provider.TransportError, got %T %v", err, err)
	}
}

func TestTwilioSender_Send_CanceledContextSkipsCall(t *testing.T) {
	t.Parallel()

	fc := &fakeCreator{resp: sidResp("SM1")}
	s := newTwilioSender(fc, "+1", "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Send(ctx, "+2", "HX1", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if fc.got != nil {
		t.Fatalf("expected no provider call")
	}
}
