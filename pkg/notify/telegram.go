package notify

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
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/entrhq/portalcap/pkg/logging"
	"golang.org/x/time/rate"
)

const (
	// MaxCaptionLength is Telegram's photo caption limit in characters.
	MaxCaptionLength = 1024

	// MaxMessageLength is Telegram's text message limit in characters.
	MaxMessageLength = 4096

	actionTyping      = "typing"
	actionUploadPhoto = "upload_photo"

	defaultBaseURL = "https://api.telegram.org"
)

// ErrFileNotFound is logged when SendPhoto is given a missing artifact.
var ErrFileNotFound = errors.New("file not found")

// TelegramConfig configures the Telegram notifier.
type TelegramConfig struct {
	// BotToken is the Telegram bot token from @BotFather
	BotToken string

	// ChatID is the single destination for notices and photos
	ChatID string

	// BaseURL overrides https://api.telegram.org (used by tests)
	BaseURL string

	// ASCIIOnly drops non-ASCII characters before sending
	ASCIIOnly bool

	// Timeout bounds each HTTP request, including long polls
	Timeout time.Duration

	// MessagesPerSecond limits outgoing messages and photos
	MessagesPerSecond float64
}

// Telegram sends notices and photos to one chat and reads bot updates.
// Send methods never return delivery errors to the caller; they log them.
type Telegram struct {
	botToken  string
	chatID    string
	baseURL   string
	asciiOnly bool
	client    *http.Client
	limiter   *rate.Limiter
	logger    *logging.Logger
}

// NewTelegram creates a Telegram notifier.
func NewTelegram(cfg TelegramConfig, logger *logging.Logger) (*Telegram, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	if cfg.ChatID == "" {
		return nil, fmt.Errorf("chat ID is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MessagesPerSecond <= 0 {
		cfg.MessagesPerSecond = 1
	}

	return &Telegram{
		botToken:  cfg.BotToken,
		chatID:    cfg.ChatID,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		asciiOnly: cfg.ASCIIOnly,
		client:    &http.Client{Timeout: cfg.Timeout},
		limiter:   rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), 1),
		logger:    logger,
	}, nil
}

// ChatID returns the destination chat.
func (t *Telegram) ChatID() string {
	return t.chatID
}

// SendText shows a typing indicator and sends message to the destination.
func (t *Telegram) SendText(ctx context.Context, message string) {
	if err := t.sendText(ctx, t.chatID, message); err != nil {
		t.logger.Errorf("error sending message: %v", err)
		recordDelivery(kindText, false)
		return
	}
	recordDelivery(kindText, true)
}

// Reply sends text to an arbitrary chat, typically the sender of a command.
func (t *Telegram) Reply(ctx context.Context, chatID int64, text string) error {
	return t.sendText(ctx, fmt.Sprint(chatID), text)
}

func (t *Telegram) sendText(ctx context.Context, chatID, message string) error {
	message = t.sanitize(message)
	if message == "" {
		return fmt.Errorf("message is empty after sanitization")
	}
	message = truncateRunes(message, MaxMessageLength)

	if err := t.chatAction(ctx, chatID, actionTyping); err != nil {
		t.logger.Warnf("chat action %s failed: %v", actionTyping, err)
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}

	return t.postJSON(ctx, "sendMessage", map[string]interface{}{
		"chat_id": chatID,
		"text":    message,
	}, nil)
}

// SendPhoto uploads the file at path with caption and deletes the file once
// Telegram confirms delivery. It returns whether delivery succeeded.
//
// A missing file is reported to the chat with a single text notice and is
// never opened or deleted.
func (t *Telegram) SendPhoto(ctx context.Context, path, caption string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		t.logger.Warnf("%v: %s", ErrFileNotFound, path)
		t.SendText(ctx, fmt.Sprintf("Archivo no encontrado: %s", path))
		recordDelivery(kindPhoto, false)
		return false
	}

	if err := t.sendPhoto(ctx, path, caption); err != nil {
		t.logger.Errorf("error sending photo %s: %v", path, err)
		recordDelivery(kindPhoto, false)
		return false
	}

	if err := os.Remove(path); err != nil {
		t.logger.Warnf("photo delivered but %s could not be removed: %v", path, err)
	}
	recordDelivery(kindPhoto, true)
	return true
}

func (t *Telegram) sendPhoto(ctx context.Context, path, caption string) error {
	caption = truncateRunes(t.sanitize(caption), MaxCaptionLength)

	if err := t.chatAction(ctx, t.chatID, actionUploadPhoto); err != nil {
		t.logger.Warnf("chat action %s failed: %v", actionUploadPhoto, err)
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open photo: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("chat_id", t.chatID); err != nil {
		return err
	}
	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return err
		}
	}
	part, err := writer.CreateFormFile("photo", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("failed to read photo: %w", err)
	}
	if err := writer.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.methodURL("sendPhoto"), &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return t.do(req, nil)
}

func (t *Telegram) chatAction(ctx context.Context, chatID, action string) error {
	return t.postJSON(ctx, "sendChatAction", map[string]interface{}{
		"chat_id": chatID,
		"action":  action,
	}, nil)
}

// Update is a Telegram update carrying a message.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message is the subset of a Telegram message the bot reads.
type Message struct {
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	Chat      Chat   `json:"chat"`
	From      *User  `json:"from,omitempty"`
}

// Chat identifies a conversation.
type Chat struct {
	ID int64 `json:"id"`
}

// User identifies a sender.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// GetUpdates long-polls for updates starting at offset.
func (t *Telegram) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	var updates []Update
	err := t.postJSON(ctx, "getUpdates", map[string]interface{}{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message"},
	}, &updates)
	if err != nil {
		return nil, err
	}
	return updates, nil
}

// APIError is a non-ok Telegram Bot API response.
type APIError struct {
	Method      string
	StatusCode  int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram API error on %s (status %d): %s", e.Method, e.StatusCode, e.Description)
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

func (t *Telegram) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.botToken, method)
}

func (t *Telegram) postJSON(ctx context.Context, method string, payload map[string]interface{}, result interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.methodURL(method), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return t.do(req, result)
}

func (t *Telegram) do(req *http.Request, result interface{}) error {
	method := path.Base(req.URL.Path)

	resp, err := t.client.Do(req)
	if err != nil {
		// The URL embeds the bot token; keep it out of logs.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: failed to read response: %w", method, err)
	}

	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &APIError{Method: method, StatusCode: resp.StatusCode, Description: string(body)}
		}
		return fmt.Errorf("%s: invalid response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK || !parsed.OK {
		return &APIError{Method: method, StatusCode: resp.StatusCode, Description: parsed.Description}
	}

	if result != nil && len(parsed.Result) > 0 {
		if err := json.Unmarshal(parsed.Result, result); err != nil {
			return fmt.Errorf("%s: invalid result: %w", method, err)
		}
	}
	return nil
}

func (t *Telegram) sanitize(s string) string {
	s = strings.ToValidUTF8(s, "")
	if t.asciiOnly {
		return StripNonASCII(s)
	}
	return s
}

// StripNonASCII drops every character outside the ASCII range.
func StripNonASCII(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] < 0x80 {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func truncateRunes(s string, limit int) string {
	count := 0
	for i := range s {
		if count == limit {
			return s[:i]
		}
		count++
	}
	return s
}
