package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	contentv1 "github.com/twilio/twilio-go/rest/content/v1"
)

// contentService is the slice of the Twilio Content API the client needs.
type contentService interface {
	CreateContent(params *contentv1.CreateContentParams) (*contentv1.ContentV1Content, error)
	CreateApprovalCreate(contentSid string, params *contentv1.CreateApprovalCreateParams) (*contentv1.ContentV1ApprovalCreate, error)
	FetchApprovalFetch(contentSid string) (*contentv1.ContentV1ApprovalFetch, error)
}

// ContentClient talks to the Twilio Content API for template drafts and
// WhatsApp approval requests.
type ContentClient struct {
	api contentService
}

func NewContentClient(cfg TwilioConfig) *ContentClient {
	rc := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	if cfg.Timeout > 0 {
		rc.SetTimeout(cfg.Timeout)
	}
	return newContentClient(rc.ContentV1)
}

func newContentClient(api contentService) *ContentClient {
	return &ContentClient{api: api}
}

// APIError is a non-success answer from the Content API.
type APIError struct {
	Op      string
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twilio %s error: status=%d code=%d message=%q", e.Op, e.Status, e.Code, e.Message)
}

// CreateContent registers a draft. payload must have the shape of a Content
// API create request.
func (c *ContentClient) CreateContent(ctx context.Context, payload map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req, err := toCreateRequest(payload)
	if err != nil {
		return nil, err
	}
	params := &contentv1.CreateContentParams{}
	params.SetContentCreateRequest(req)

	resp, err := c.api.CreateContent(params)
	if err != nil {
		return nil, mapContentErr("content", err)
	}
	return toMap(resp)
}

// SubmitWhatsAppApproval requests WhatsApp approval for an existing content SID.
func (c *ContentClient) SubmitWhatsAppApproval(ctx context.Context, contentSID, name, category string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params := &contentv1.CreateApprovalCreateParams{}
	params.SetContentApprovalRequest(contentv1.ContentApprovalRequest{
		Name:     name,
		Category: category,
	})

	resp, err := c.api.CreateApprovalCreate(contentSID, params)
	if err != nil {
		return nil, mapContentErr("approval", err)
	}
	return toMap(resp)
}

// FetchApprovalRequests returns the approval state of a content SID.
func (c *ContentClient) FetchApprovalRequests(ctx context.Context, contentSID string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := c.api.FetchApprovalFetch(contentSID)
	if err != nil {
		return nil, mapContentErr("approval fetch", err)
	}
	return toMap(resp)
}

func toCreateRequest(payload map[string]any) (contentv1.ContentCreateRequest, error) {
	var req contentv1.ContentCreateRequest
	b, err := json.Marshal(payload)
	if err != nil {
		return req, fmt.Errorf("encode content payload: %w", err)
	}
	if err := json.Unmarshal(b, &req); err != nil {
		return req, fmt.Errorf("decode content payload: %w", err)
	}
	return req, nil
}

// toMap flattens an SDK response into its wire JSON shape.
func toMap(v any) (map[string]any, error) {
	out := map[string]any{}
	if v == nil {
		return out, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("failed to decode json: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func mapContentErr(op string, err error) error {
	var restErr *twilioclient.TwilioRestError
	if errors.As(err, &restErr) {
		return &APIError{
			Op:      op,
			Status:  restErr.Status,
			Code:    restErr.Code,
			Message: restErr.Message,
		}
	}
	return fmt.Errorf("twilio %s: %w", op, err)
}
