package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gramgate/gramgate/internal/models"
)

const (
	defaultTelegramAPIBase = "https://api.telegram.org"

	// long-poll wait passed to getUpdates
	telegramPollSeconds = 30

	telegramResponseBuffer = 64
)

// TelegramService is a Service backed by the Telegram Bot API, receiving
// messages via long polling. User ids are Telegram chat ids in decimal.
type TelegramService struct {
	token   string
	apiBase string
	client  *http.Client

	responses chan models.Response
	cancel    context.CancelFunc
	done      chan struct{}
	stopOnce  sync.Once
}

// TelegramOption configures a TelegramService.
type TelegramOption func(*TelegramService)

// WithTelegramAPIBase overrides the API base URL, mainly for tests.
func WithTelegramAPIBase(base string) TelegramOption {
	return func(s *TelegramService) { s.apiBase = strings.TrimRight(base, "/") }
}

// WithTelegramHTTPClient overrides the underlying HTTP client.
func WithTelegramHTTPClient(c *http.Client) TelegramOption {
	return func(s *TelegramService) { s.client = c }
}

// NewTelegramService creates a Telegram transport for the given bot token.
func NewTelegramService(token string, opts ...TelegramOption) (*TelegramService, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token must not be empty")
	}
	s := &TelegramService{
		token:   token,
		apiBase: defaultTelegramAPIBase,
		// The poll request itself blocks up to telegramPollSeconds.
		client:    &http.Client{Timeout: (telegramPollSeconds + 10) * time.Second},
		responses: make(chan models.Response, telegramResponseBuffer),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type telegramUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Date int64  `json:"date"`
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

type telegramUpdatesResponse struct {
	OK          bool             `json:"ok"`
	Description string           `json:"description"`
	Result      []telegramUpdate `json:"result"`
}

// Start launches the long-polling receive loop.
func (s *TelegramService) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.pollLoop(pollCtx)
	slog.Info("Telegram transport started")
	return nil
}

func (s *TelegramService) pollLoop(ctx context.Context) {
	defer close(s.done)
	defer close(s.responses)

	var offset int64
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		updates, err := s.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("Telegram getUpdates failed", "error", err)
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			if upd.Message == nil || upd.Message.Text == "" {
				continue
			}
			resp := models.Response{
				From: strconv.FormatInt(upd.Message.Chat.ID, 10),
				Body: upd.Message.Text,
				Time: upd.Message.Date,
			}
			select {
			case s.responses <- resp:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *TelegramService) getUpdates(ctx context.Context, offset int64) ([]telegramUpdate, error) {
	q := url.Values{}
	q.Set("timeout", strconv.Itoa(telegramPollSeconds))
	if offset > 0 {
		q.Set("offset", strconv.FormatInt(offset, 10))
	}
	endpoint := fmt.Sprintf("%s/bot%s/getUpdates?%s", s.apiBase, s.token, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body telegramUpdatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding getUpdates response: %w", err)
	}
	if !body.OK {
		return nil, fmt.Errorf("getUpdates rejected: %s", body.Description)
	}
	return body.Result, nil
}

// SendMessage delivers text to a Telegram chat.
func (s *TelegramService) SendMessage(ctx context.Context, to, body string) error {
	form := url.Values{}
	form.Set("chat_id", to)
	form.Set("text", body)

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", s.apiBase, s.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Error("Telegram sendMessage failed", "error", err, "to", to)
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding sendMessage response: %w", err)
	}
	if !result.OK {
		slog.Error("Telegram sendMessage rejected", "description", result.Description, "to", to)
		return fmt.Errorf("telegram sendMessage rejected: %s", result.Description)
	}
	slog.Debug("Telegram message sent", "to", to, "length", len(body))
	return nil
}

// Stop cancels the poll loop and waits for it to exit.
func (s *TelegramService) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
	if s.cancel == nil {
		return nil
	}
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	slog.Info("Telegram transport stopped")
	return nil
}

// Responses returns the channel of inbound Telegram messages.
func (s *TelegramService) Responses() <-chan models.Response {
	return s.responses
}
