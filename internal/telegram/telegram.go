package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	cmdpkg "github.com/stupiduntilnot/relaybot/internal/commander"
)

// MaxMessageChars keeps outgoing text under the Bot API limit of 4096.
const MaxMessageChars = 3900

// ErrEmptyText is returned when asked to send a message without text; the
// Bot API rejects those.
var ErrEmptyText = errors.New("telegram sendMessage: empty text")

// Client is a minimal Telegram Bot API client.
type Client struct {
	apiBase    string
	httpClient *http.Client
}

// NewClient creates a Telegram client for the given bot API base URL
// (e.g. "https://api.telegram.org/bot<token>").
func NewClient(apiBase string, requestTimeout time.Duration) *Client {
	return &Client{
		apiBase: strings.TrimRight(apiBase, "/"),
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// Response is the generic Telegram API response wrapper.
type Response struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

// APIError is a Bot API call answered with ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s failed code=%d: %s", e.Method, e.Code, e.Description)
}

type Update = cmdpkg.Update
type Message = cmdpkg.Message

type tgRawUpdate struct {
	UpdateID      int64            `json:"update_id"`
	Message       *cmdpkg.Message  `json:"message,omitempty"`
	CallbackQuery *tgCallbackQuery `json:"callback_query,omitempty"`
}

type tgCallbackQuery struct {
	ID      string          `json:"id"`
	From    *cmdpkg.User    `json:"from,omitempty"`
	Data    string          `json:"data"`
	Message *cmdpkg.Message `json:"message,omitempty"`
}

type keyboardButton struct {
	Text string `json:"text"`
}

type replyKeyboardMarkup struct {
	Keyboard       [][]keyboardButton `json:"keyboard"`
	ResizeKeyboard bool               `json:"resize_keyboard,omitempty"`
}

type sendMessageRequest struct {
	ChatID      int64                `json:"chat_id"`
	Text        string               `json:"text"`
	ReplyMarkup *replyKeyboardMarkup `json:"reply_markup,omitempty"`
}

// GetUpdates calls the getUpdates API. Callback queries are mapped to
// messages carrying the callback data as text.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	params := url.Values{}
	params.Set("offset", strconv.FormatInt(offset, 10))
	params.Set("timeout", strconv.Itoa(timeout))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/getUpdates?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("telegram getUpdates request failed: %w", err)
	}
	result, err := c.do(req, "getUpdates")
	if err != nil {
		return nil, err
	}

	var raws []tgRawUpdate
	if err := json.Unmarshal(result, &raws); err != nil {
		return nil, fmt.Errorf("failed to parse getUpdates result: %w", err)
	}
	updates := make([]Update, 0, len(raws))
	for _, ru := range raws {
		if ru.Message != nil {
			updates = append(updates, Update{UpdateID: ru.UpdateID, Message: ru.Message})
			continue
		}
		if ru.CallbackQuery != nil && ru.CallbackQuery.Message != nil {
			msg := *ru.CallbackQuery.Message
			data := strings.TrimSpace(ru.CallbackQuery.Data)
			msg.Text = &data
			if ru.CallbackQuery.From != nil {
				msg.From = ru.CallbackQuery.From
			}
			if msg.Date == 0 {
				msg.Date = time.Now().Unix()
			}
			updates = append(updates, Update{UpdateID: ru.UpdateID, Message: &msg})
			_ = c.answerCallbackQuery(ctx, ru.CallbackQuery.ID)
		}
	}
	return updates, nil
}

// SendMessage sends a text message to the given chat, optionally attaching a
// reply keyboard.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, opts *cmdpkg.SendOptions) error {
	if text == "" {
		return ErrEmptyText
	}
	payload := sendMessageRequest{ChatID: chatID, Text: truncate(text, MaxMessageChars)}
	if opts != nil && opts.Keyboard != nil {
		payload.ReplyMarkup = toMarkup(opts.Keyboard)
	}
	if _, err := c.postJSON(ctx, "sendMessage", payload); err != nil {
		return err
	}
	return nil
}

func (c *Client) answerCallbackQuery(ctx context.Context, callbackID string) error {
	callbackID = strings.TrimSpace(callbackID)
	if callbackID == "" {
		return nil
	}
	_, err := c.postJSON(ctx, "answerCallbackQuery", map[string]string{"callback_query_id": callbackID})
	return err
}

func (c *Client) postJSON(ctx context.Context, method string, body any) (json.RawMessage, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("telegram %s marshal failed: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/"+method, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("telegram %s request failed: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, method)
}

func (c *Client) do(req *http.Request, method string) (json.RawMessage, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", method, err)
	}

	var tgResp Response
	if err := json.Unmarshal(body, &tgResp); err != nil {
		return nil, fmt.Errorf("failed to parse %s response: %w", method, err)
	}
	if !tgResp.OK {
		return nil, &APIError{Method: method, Code: tgResp.ErrorCode, Description: tgResp.Description}
	}
	return tgResp.Result, nil
}

func toMarkup(kb *cmdpkg.ReplyKeyboard) *replyKeyboardMarkup {
	markup := &replyKeyboardMarkup{ResizeKeyboard: kb.Resize}
	for _, row := range kb.Rows {
		buttons := make([]keyboardButton, 0, len(row))
		for _, label := range row {
			buttons = append(buttons, keyboardButton{Text: label})
		}
		markup.Keyboard = append(markup.Keyboard, buttons)
	}
	return markup
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
