package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Client talks to the Slack Web API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter
}

// NewClient creates a Slack Web API client. baseURL is the API root, e.g.
// "https://slack.com/api".
func NewClient(baseURL string, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
		tracer:     tracer,
		meter:      meter,
	}
}

// call posts a form-encoded request to the named API method and decodes the
// response into out, which must embed the ok/error envelope.
func (c *Client) call(ctx context.Context, method string, form url.Values, out interface{ ok() (bool, string) }) error {
	ctx, span := c.tracer.Start(ctx, "slack."+method)
	defer span.End()

	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/"+method, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("content-type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	duration := time.Since(start)
	histogram, err := c.meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err == nil {
		histogram.Record(ctx, float64(duration.Milliseconds()))
	}

	if ok, apiErr := out.ok(); !ok {
		return fmt.Errorf("slack %s failed: %s", method, apiErr)
	}

	return nil
}

func (r *apiResponse) ok() (bool, string) { return r.OK, r.Error }

// OAuthAccess exchanges an OAuth code for a bot identity and credential.
func (c *Client) OAuthAccess(ctx context.Context, clientID, clientSecret, code string) (Install, error) {
	var resp oauthResponse
	err := c.call(ctx, "oauth.access", url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"code":          {code},
	}, &resp)
	if err != nil {
		return Install{}, err
	}

	c.logger.Info("completed oauth exchange", "team_id", resp.TeamID, "bot_user_id", resp.Bot.BotUserID)
	return Install{
		TeamID:    resp.TeamID,
		BotUserID: resp.Bot.BotUserID,
		BotToken:  resp.Bot.BotAccessToken,
	}, nil
}

// Bot binds the client to one bot credential so callers need not thread the
// token through every call.
func (c *Client) Bot(token string) *Bot {
	return &Bot{client: c, token: token}
}

// Bot is a Client bound to a single bot token.
type Bot struct {
	client *Client
	token  string
}

// PostMessage posts a plain text message to a channel.
func (b *Bot) PostMessage(ctx context.Context, channel, text string) error {
	var resp postMessageResponse
	return b.client.call(ctx, "chat.postMessage", url.Values{
		"token":   {b.token},
		"channel": {channel},
		"text":    {text},
		"as_user": {"true"},
	}, &resp)
}

// PostInteractive posts a message carrying interactive button attachments.
func (b *Bot) PostInteractive(ctx context.Context, channel, text string, attachments []Attachment) error {
	encoded, err := json.Marshal(attachments)
	if err != nil {
		return fmt.Errorf("failed to marshal attachments: %w", err)
	}

	var resp postMessageResponse
	return b.client.call(ctx, "chat.postMessage", url.Values{
		"token":       {b.token},
		"channel":     {channel},
		"text":        {text},
		"attachments": {string(encoded)},
		"as_user":     {"true"},
	}, &resp)
}

// PostEphemeral delivers a private reply to the interaction's response route.
// Only the acting user sees it.
func (b *Bot) PostEphemeral(ctx context.Context, responseURL, text string) error {
	ctx, span := b.client.tracer.Start(ctx, "slack.response_url")
	defer span.End()

	reqBody, err := json.Marshal(map[string]any{
		"text":             text,
		"response_type":    "ephemeral",
		"replace_original": false,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal reply: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", responseURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("content-type", "application/json")

	resp, err := b.client.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}

	return nil
}

// ChannelMembers returns the participant identifiers of a channel.
func (b *Bot) ChannelMembers(ctx context.Context, channel string) ([]string, error) {
	var resp channelInfoResponse
	err := b.client.call(ctx, "channels.info", url.Values{
		"token":   {b.token},
		"channel": {channel},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Channel.Members, nil
}

// OpenRTM starts a realtime session and dials its websocket URL.
func (b *Bot) OpenRTM(ctx context.Context) (*RTM, error) {
	var resp rtmStartResponse
	err := b.client.call(ctx, "rtm.start", url.Values{
		"token": {b.token},
	}, &resp)
	if err != nil {
		return nil, err
	}

	return dialRTM(ctx, resp.URL, b.client.logger)
}
