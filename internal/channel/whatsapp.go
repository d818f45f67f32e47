package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"inbox-platform/internal/inbox"

	"github.com/go-resty/resty/v2"
)

const defaultGraphBaseURL = "https://graph.facebook.com"

// WhatsAppConfig configures the WhatsApp Cloud API adapter.
type WhatsAppConfig struct {
	APIVersion    string // e.g. v18.0
	PhoneNumberID string
	AccessToken   string

	// BaseURL overrides the Graph API host (tests).
	BaseURL string
	Timeout time.Duration
}

// WhatsAppAdapter sends outbound messages through the WhatsApp Cloud API:
// POST {base}/{version}/{phone_number_id}/messages with bearer auth.
type WhatsAppAdapter struct {
	http          *resty.Client
	phoneNumberID string
	apiVersion    string
}

func NewWhatsAppAdapter(cfg WhatsAppConfig) (*WhatsAppAdapter, error) {
	if cfg.PhoneNumberID == "" {
		return nil, fmt.Errorf("whatsapp phone number id is required")
	}
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("whatsapp access token is required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v18.0"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGraphBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetAuthToken(cfg.AccessToken).
		SetTimeout(cfg.Timeout)

	return &WhatsAppAdapter{
		http:          client,
		phoneNumberID: cfg.PhoneNumberID,
		apiVersion:    cfg.APIVersion,
	}, nil
}

func (a *WhatsAppAdapter) Name() string           { return "whatsapp_cloud" }
func (a *WhatsAppAdapter) Channel() inbox.Channel { return inbox.ChannelWhatsApp }

type waMessagePayload struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             *waText  `json:"text,omitempty"`
	Image            *waImage `json:"image,omitempty"`
}

type waText struct {
	Body string `json:"body"`
}

type waImage struct {
	Link    string `json:"link"`
	Caption string `json:"caption,omitempty"`
}

type waSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type waErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (a *WhatsAppAdapter) SendText(ctx context.Context, to, body string) (SendResult, error) {
	if to == "" || body == "" {
		return SendResult{}, fmt.Errorf("whatsapp: recipient and body are required")
	}
	return a.send(ctx, waMessagePayload{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               digitsOnly(to),
		Type:             "text",
		Text:             &waText{Body: body},
	})
}

func (a *WhatsAppAdapter) SendImage(ctx context.Context, to, link, caption string) (SendResult, error) {
	if to == "" || link == "" {
		return SendResult{}, fmt.Errorf("whatsapp: recipient and image link are required")
	}
	return a.send(ctx, waMessagePayload{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               digitsOnly(to),
		Type:             "image",
		Image:            &waImage{Link: link, Caption: caption},
	})
}

func (a *WhatsAppAdapter) send(ctx context.Context, payload waMessagePayload) (SendResult, error) {
	url := fmt.Sprintf("/%s/%s/messages", a.apiVersion, a.phoneNumberID)

	var out waSendResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&out).
		Post(url)
	if err != nil {
		return SendResult{}, fmt.Errorf("whatsapp: request failed: %w", err)
	}
	if resp.IsError() {
		var apiErr waErrorResponse
		_ = json.Unmarshal(resp.Body(), &apiErr)
		msg := apiErr.Error.Message
		if msg == "" {
			msg = resp.Status()
		}
		return SendResult{}, &ProviderError{
			StatusCode: resp.StatusCode(),
			Code:       apiErr.Error.Code,
			Message:    msg,
		}
	}

	res := SendResult{Raw: string(resp.Body())}
	if len(out.Messages) > 0 {
		res.ExternalID = out.Messages[0].ID
	}
	return res, nil
}

// digitsOnly strips formatting from recipient numbers; the Cloud API wants
// country code + digits.
func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
