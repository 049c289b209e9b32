// Package notify holds the outbound message channels: the chat provider used
// for every user-visible reply and the SMS channel that carries approval
// codes to guardians. Both are best-effort; a delivery failure is logged and
// never unwinds the state transition that preceded it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"gatepass-bot/pkg/logger"
)

const (
	requestTimeout = 10 * time.Second
	maxRetries     = 2
	retryBase      = 250 * time.Millisecond
)

// Client sends text messages through the chat provider's messages endpoint.
type Client struct {
	httpClient    *http.Client
	apiURL        string
	phoneNumberID string
	token         string
}

func NewClient(apiURL, phoneNumberID, token string) *Client {
	return &Client{
		httpClient:    &http.Client{Timeout: requestTimeout},
		apiURL:        strings.TrimRight(apiURL, "/"),
		phoneNumberID: phoneNumberID,
		token:         token,
	}
}

type textPayload struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type textBody struct {
	Body string `json:"body"`
}

// SendText delivers a rendered message to the recipient's phone number.
// Transient failures are retried with bounded backoff; the final failure is
// logged and returned, but callers treat delivery as fire-and-forget.
func (c *Client) SendText(ctx context.Context, phone, text string) error {
	body, err := json.Marshal(textPayload{
		MessagingProduct: "whatsapp",
		To:               phone,
		Type:             "text",
		Text:             textBody{Body: text},
	})
	if err != nil {
		return fmt.Errorf("failed to encode message payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/messages", c.apiURL, c.phoneNumberID)

	err = retry.Do(ctx, retry.WithMaxRetries(maxRetries, retry.NewExponential(retryBase)), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 500 {
			return retry.RetryableError(fmt.Errorf("provider returned %d", resp.StatusCode))
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("provider rejected message: %d", resp.StatusCode)
		}
		return nil
	})

	if err != nil {
		zap.L().Error("failed to send chat message",
			zap.String(logger.FieldPhone, phone),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// SMS sends approval codes to guardians over the Twilio Messages API,
// independent of the chat channel.
type SMS struct {
	httpClient *http.Client
	accountSID string
	authToken  string
	fromPhone  string
}

func NewSMS(accountSID, authToken, fromPhone string) *SMS {
	return &SMS{
		httpClient: &http.Client{Timeout: requestTimeout},
		accountSID: accountSID,
		authToken:  authToken,
		fromPhone:  fromPhone,
	}
}

func (s *SMS) Send(ctx context.Context, phone, text string) error {
	form := url.Values{}
	form.Set("To", "+"+strings.TrimPrefix(phone, "+"))
	form.Set("From", s.fromPhone)
	form.Set("Body", text)

	endpoint := fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Messages.json", s.accountSID)

	err := retry.Do(ctx, retry.WithMaxRetries(maxRetries, retry.NewExponential(retryBase)), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return err
		}
		req.SetBasicAuth(s.accountSID, s.authToken)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 500 {
			return retry.RetryableError(fmt.Errorf("sms gateway returned %d", resp.StatusCode))
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("sms gateway rejected message: %d", resp.StatusCode)
		}
		return nil
	})

	if err != nil {
		zap.L().Error("failed to send sms",
			zap.String(logger.FieldPhone, phone),
			zap.Error(err),
		)
		return err
	}
	return nil
}
