package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrAPI is wrapped by every error the Bot API reports with ok=false.
var ErrAPI = errors.New("telegram: api error")

const (
	defaultBaseURL     = "https://api.telegram.org"
	defaultTimeout     = 45 * time.Second
	defaultPollTimeout = 30 * time.Second
	parseModeHTML      = "HTML"
)

// Options configure the Bot API client.
type Options struct {
	Token   string
	BaseURL string
	// Timeout bounds one HTTP exchange; it must exceed PollTimeout.
	Timeout     time.Duration
	PollTimeout time.Duration
	// RatePerSec and Burst throttle outbound messages.
	RatePerSec float64
	Burst      int
}

// Client talks to the Telegram Bot API over HTTPS.
type Client struct {
	token       string
	baseURL     string
	pollTimeout time.Duration
	client      *http.Client
	limiter     *rate.Limiter
	logger      zerolog.Logger
}

// NewClient constructs a Telegram client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = defaultPollTimeout
	}
	if opts.Timeout <= opts.PollTimeout {
		opts.Timeout = opts.PollTimeout + 15*time.Second
	}
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}

	return &Client{
		token:       opts.Token,
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		pollTimeout: opts.PollTimeout,
		client:      &http.Client{Timeout: opts.Timeout},
		limiter:     rate.NewLimiter(limit, opts.Burst),
		logger:      logger.With().Str("component", "telegram").Logger(),
	}
}

// User is the sender of a message.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Chat identifies a conversation.
type Chat struct {
	ID int64 `json:"id"`
}

// Message is an inbound chat message.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
}

// Update is one entry returned by getUpdates.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

// SendMessage delivers an HTML-formatted text message to chatID.
func (c *Client) SendMessage(ctx context.Context, chatID, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	payload := map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"parse_mode":               parseModeHTML,
		"disable_web_page_preview": true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	if _, err := c.call(ctx, "sendMessage", "application/json", bytes.NewReader(body)); err != nil {
		return err
	}
	c.logger.Debug().Str("chat_id", chatID).Int("length", len(text)).Msg("message sent")
	return nil
}

// SendPhoto uploads a PNG image to chatID with an optional HTML caption.
func (c *Client) SendPhoto(ctx context.Context, chatID, filename string, image []byte, caption string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	_ = form.WriteField("chat_id", chatID)
	if caption != "" {
		_ = form.WriteField("caption", caption)
		_ = form.WriteField("parse_mode", parseModeHTML)
	}
	part, err := form.CreateFormFile("photo", filename)
	if err != nil {
		return fmt.Errorf("create photo part: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return fmt.Errorf("write photo part: %w", err)
	}
	if err := form.Close(); err != nil {
		return fmt.Errorf("close multipart body: %w", err)
	}

	if _, err := c.call(ctx, "sendPhoto", form.FormDataContentType(), &body); err != nil {
		return err
	}
	c.logger.Debug().Str("chat_id", chatID).Int("bytes", len(image)).Msg("photo sent")
	return nil
}

// GetUpdates long-polls for updates with id >= offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	query := url.Values{}
	query.Set("offset", strconv.FormatInt(offset, 10))
	query.Set("timeout", strconv.Itoa(int(c.pollTimeout/time.Second)))
	query.Set("allowed_updates", `["message"]`)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.methodURL("getUpdates")+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create telegram request: %w", err)
	}
	result, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var updates []Update
	if err := json.Unmarshal(result, &updates); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	return updates, nil
}

func (c *Client) call(ctx context.Context, method, contentType string, body io.Reader) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), body)
	if err != nil {
		return nil, fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	return c.do(req)
}

func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		// url.Error embeds the request URL, which carries the token.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	var result apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&result); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("%w: status %d", ErrAPI, resp.StatusCode)
		}
		return nil, fmt.Errorf("decode telegram response: %w", err)
	}
	if !result.OK {
		return nil, fmt.Errorf("%w: %d %s", ErrAPI, result.ErrorCode, result.Description)
	}
	return result.Result, nil
}

func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}
