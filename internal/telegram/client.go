// Package telegram implements transport.Provider over the Telegram Bot API.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/devrev/tierbot/internal/model"
	"github.com/devrev/tierbot/internal/transport"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

var allowedUpdates = []string{"message", "callback_query"}

// Config holds Bot API client configuration
type Config struct {
	Token string

	// Endpoint is a format string taking the token and the method name.
	// Defaults to the public Bot API.
	Endpoint string

	RequestTimeout  time.Duration
	LongPollTimeout time.Duration
}

// Client talks to the Bot API. It implements transport.Provider.
type Client struct {
	api    *tgbotapi.BotAPI
	http   *contextClient
	config *Config
	logger *zap.Logger
}

// NewClient creates a client and verifies the token with getMe
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = tgbotapi.APIEndpoint
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.LongPollTimeout <= 0 {
		cfg.LongPollTimeout = 60 * time.Second
	}

	hc := newContextClient(cfg.RequestTimeout, cfg.LongPollTimeout)

	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, cfg.Endpoint, hc)
	if err != nil {
		hc.close()
		return nil, fmt.Errorf("failed to connect to bot api: %w", convertError(err))
	}

	logger.Info("Connected to Bot API",
		zap.String("username", api.Self.UserName),
		zap.Int64("bot_id", api.Self.ID))

	return &Client{
		api:    api,
		http:   hc,
		config: cfg,
		logger: logger,
	}, nil
}

// Username returns the bot's own username
func (c *Client) Username() string {
	return c.api.Self.UserName
}

// Close aborts in-flight requests
func (c *Client) Close() error {
	c.http.close()
	return nil
}

// FetchUpdates long-polls getUpdates
func (c *Client) FetchUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]transport.Update, error) {
	cfg := tgbotapi.NewUpdate(int(offset))
	cfg.Timeout = int(timeout / time.Second)
	cfg.AllowedUpdates = allowedUpdates

	raw, err := call(ctx, func() ([]tgbotapi.Update, error) {
		return c.api.GetUpdates(cfg)
	})
	if err != nil {
		return nil, convertError(err)
	}

	updates := make([]transport.Update, 0, len(raw))
	for _, u := range raw {
		updates = append(updates, convertUpdate(u))
	}
	return updates, nil
}

// Send sends a new message or edits an existing one
func (c *Client) Send(ctx context.Context, out transport.Outbound) error {
	markup := keyboard(out.Options)

	var msg tgbotapi.Chattable
	if out.EditMessageID > 0 {
		edit := tgbotapi.NewEditMessageText(out.ChatID, out.EditMessageID, out.Text)
		edit.ReplyMarkup = markup
		msg = edit
	} else {
		m := tgbotapi.NewMessage(out.ChatID, out.Text)
		if markup != nil {
			m.ReplyMarkup = *markup
		}
		msg = m
	}

	_, err := call(ctx, func() (*tgbotapi.APIResponse, error) {
		return c.api.Request(msg)
	})
	return convertError(err)
}

// AnswerCallback acknowledges a button press
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	_, err := call(ctx, func() (*tgbotapi.APIResponse, error) {
		return c.api.Request(tgbotapi.NewCallback(callbackID, text))
	})
	return convertError(err)
}

// SetWebhook registers url for push delivery. The provider echoes secret in
// the X-Telegram-Bot-Api-Secret-Token header of every push.
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	allowed, err := json.Marshal(allowedUpdates)
	if err != nil {
		return err
	}

	params := tgbotapi.Params{
		"url":             url,
		"allowed_updates": string(allowed),
	}
	if secret != "" {
		params["secret_token"] = secret
	}

	_, err = call(ctx, func() (*tgbotapi.APIResponse, error) {
		return c.api.MakeRequest("setWebhook", params)
	})
	if err != nil {
		return convertError(err)
	}

	c.logger.Info("Webhook registered", zap.String("url", redact(url, secret)))
	return nil
}

// DeleteWebhook removes any registered webhook
func (c *Client) DeleteWebhook(ctx context.Context) error {
	_, err := call(ctx, func() (*tgbotapi.APIResponse, error) {
		return c.api.Request(tgbotapi.DeleteWebhookConfig{})
	})
	return convertError(err)
}

// ParseUpdate decodes one webhook body
func (c *Client) ParseUpdate(body []byte) (transport.Update, error) {
	var u tgbotapi.Update
	if err := json.Unmarshal(body, &u); err != nil {
		return transport.Update{}, fmt.Errorf("failed to decode update: %w", err)
	}
	return convertUpdate(u), nil
}

// call runs fn but stops waiting when ctx ends. The request itself is
// bounded by the http client's timeout.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}

	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}

	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.val, r.err
	}
}

func keyboard(options []model.ActionOption) *tgbotapi.InlineKeyboardMarkup {
	if len(options) == 0 {
		return nil
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(options))
	for _, opt := range options {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(opt.Label, opt.Token),
		))
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}

func redact(url, secret string) string {
	if secret == "" {
		return url
	}
	return strings.ReplaceAll(url, secret, "***")
}

// contextClient bounds every Bot API request and lets Close abort them
type contextClient struct {
	client      *http.Client
	base        context.Context
	cancel      context.CancelFunc
	timeout     time.Duration
	pollTimeout time.Duration
}

func newContextClient(timeout, pollTimeout time.Duration) *contextClient {
	base, cancel := context.WithCancel(context.Background())
	return &contextClient{
		client:      &http.Client{},
		base:        base,
		cancel:      cancel,
		timeout:     timeout,
		pollTimeout: pollTimeout,
	}
}

// Do implements tgbotapi.HTTPClient
func (c *contextClient) Do(req *http.Request) (*http.Response, error) {
	timeout := c.timeout
	if strings.HasSuffix(req.URL.Path, "/getUpdates") {
		// The server holds the request open for up to the poll timeout
		timeout += c.pollTimeout
	}

	ctx, cancel := context.WithTimeout(c.base, timeout)
	resp, err := c.client.Do(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (c *contextClient) close() {
	c.cancel()
	c.client.CloseIdleConnections()
}
