package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"relaydesk/config"
	"relaydesk/pkg/logger"

	"go.uber.org/zap"
)

// OutboundMessage is a provider-neutral send request.
type OutboundMessage struct {
	To               string
	Kind             string
	Text             string
	MediaURL         string
	FileName         string
	TemplateName     string
	TemplateLanguage string
}

// SendResult carries either the provider message id or the reason the send
// failed. A timeout is a failure.
type SendResult struct {
	MessageID string
	Err       error
}

func (r SendResult) OK() bool {
	return r.Err == nil && r.MessageID != ""
}

func (r SendResult) FailureReason() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	if r.MessageID == "" {
		return "provider returned no message id"
	}
	return ""
}

// Gateway is the remote send primitive. It must not retry.
type Gateway interface {
	Send(ctx context.Context, msg OutboundMessage) SendResult
}

var (
	ErrTimeout     = errors.New("provider timeout")
	ErrRejected    = errors.New("provider rejected message")
	ErrUnsupported = errors.New("unsupported message kind")
)

type Client struct {
	apiURL        string
	phoneNumberID string
	accessToken   string
	httpClient    *http.Client
	log           *logger.Logger
}

func NewClient(cfg *config.Config, l *logger.Logger) *Client {
	return &Client{
		apiURL:        strings.TrimRight(cfg.WhatsAppAPIURL, "/"),
		phoneNumberID: cfg.WhatsAppPhoneNumberID,
		accessToken:   cfg.WhatsAppAccessToken,
		httpClient:    &http.Client{Timeout: cfg.ProviderTimeout},
		log:           l,
	}
}

type textBody struct {
	Body string `json:"body"`
}

type templateLanguage struct {
	Code string `json:"code"`
}

type templateBody struct {
	Name     string           `json:"name"`
	Language templateLanguage `json:"language"`
}

type mediaBody struct {
	Link     string `json:"link"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type sendRequest struct {
	MessagingProduct string        `json:"messaging_product"`
	RecipientType    string        `json:"recipient_type"`
	To               string        `json:"to"`
	Type             string        `json:"type"`
	Text             *textBody     `json:"text,omitempty"`
	Template         *templateBody `json:"template,omitempty"`
	Image            *mediaBody    `json:"image,omitempty"`
	Document         *mediaBody    `json:"document,omitempty"`
}

type sendResponse struct {
	MessagingProduct string `json:"messaging_product"`
	Contacts         []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func buildRequest(msg OutboundMessage) (sendRequest, error) {
	req := sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               msg.To,
		Type:             msg.Kind,
	}
	switch msg.Kind {
	case "", "text":
		req.Type = "text"
		req.Text = &textBody{Body: msg.Text}
	case "template":
		lang := msg.TemplateLanguage
		if lang == "" {
			lang = "en"
		}
		req.Template = &templateBody{Name: msg.TemplateName, Language: templateLanguage{Code: lang}}
	case "image":
		req.Image = &mediaBody{Link: msg.MediaURL, Caption: msg.Text}
	case "document":
		req.Document = &mediaBody{Link: msg.MediaURL, Filename: msg.FileName}
	default:
		return sendRequest{}, fmt.Errorf("%w: %s", ErrUnsupported, msg.Kind)
	}
	return req, nil
}

// Send posts one message. Any failure, including ctx expiry, is reported in
// the result rather than returned.
func (c *Client) Send(ctx context.Context, msg OutboundMessage) SendResult {
	payload, err := buildRequest(msg)
	if err != nil {
		return SendResult{Err: err}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return SendResult{Err: err}
	}

	url := fmt.Sprintf("%s/%s/messages", c.apiURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return SendResult{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) || isTimeout(err) {
			err = ErrTimeout
		}
		c.log.Logger.Warn("whatsapp send failed", zap.String("to", msg.To), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return SendResult{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return SendResult{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr errorResponse
		reason := http.StatusText(resp.StatusCode)
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			reason = apiErr.Error.Message
		}
		err := fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, reason)
		c.log.Logger.Warn("whatsapp send rejected", zap.String("to", msg.To), zap.Int("status", resp.StatusCode), zap.String("reason", reason))
		return SendResult{Err: err}
	}

	var out sendResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return SendResult{Err: fmt.Errorf("decode provider response: %w", err)}
	}
	if len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return SendResult{Err: fmt.Errorf("%w: no message id in response", ErrRejected)}
	}
	return SendResult{MessageID: out.Messages[0].ID}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
