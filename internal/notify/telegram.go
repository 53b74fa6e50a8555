package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Telegram posts alerts to a Telegram chat via bot token, implementing
// the Notifier contract.
type Telegram struct {
	BotToken string
	ChatID   string
	client   *http.Client
}

// NewTelegram returns a ready Telegram notifier, or nil if unconfigured
// (botToken/chatID empty); Notify on a nil *Telegram does nothing, so an
// unconfigured channel is skipped silently.
func NewTelegram(botToken, chatID string) *Telegram {
	if botToken == "" || chatID == "" {
		return nil
	}
	return &Telegram{BotToken: botToken, ChatID: chatID, client: &http.Client{Timeout: 10 * time.Second}}
}

func (t *Telegram) Notify(level Level, title, message string, details map[string]string) error {
	if t == nil {
		return nil
	}
	text := fmt.Sprintf("[%s] %s\n\n%s", level, title, message)
	for k, v := range details {
		text += fmt.Sprintf("\n- %s: %s", k, v)
	}
	return t.send(text)
}

func (t *Telegram) send(text string) error {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.BotToken)
	payload := map[string]interface{}{
		"chat_id": t.ChatID,
		"text":    text,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal telegram payload: %w", err)
	}
	resp, err := t.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: telegram request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: telegram status %d", resp.StatusCode)
	}
	return nil
}

// Log is a Notifier that only writes to the structured logger — the
// always-available fallback when no external channel is configured.
type Log struct {
	Write func(level Level, title, message string)
}

func (l Log) Notify(level Level, title, message string, details map[string]string) error {
	if l.Write != nil {
		l.Write(level, title, message)
	}
	return nil
}
