package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// RunFailure describes an ETL run that finished with status error.
type RunFailure struct {
	LogID      int64
	RunID      string
	Source     string
	Endpoint   string
	StartedAt  time.Time
	FinishedAt time.Time
	RowsLoaded int
	Message    string
}

// Notifier delivers run failure notifications.
type Notifier interface {
	Notify(ctx context.Context, failure RunFailure) error
}

// Nop drops every notification.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, RunFailure) error { return nil }

// TelegramNotifier posts messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls sendMessage with the rendered failure.
func (n *TelegramNotifier) Notify(ctx context.Context, failure RunFailure) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(failure),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram responded with status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram returned ok=false")
	}

	n.logger.Info().
		Str("source", failure.Source).
		Str("run_id", failure.RunID).
		Int64("log_id", failure.LogID).
		Msg("failure notification sent")
	return nil
}

func renderMessage(f RunFailure) string {
	var b strings.Builder
	b.WriteString("[finsign ETL failure]\n")
	fmt.Fprintf(&b, "Source: %s %s\n", f.Source, f.Endpoint)
	fmt.Fprintf(&b, "Run: %s (log #%d)\n", f.RunID, f.LogID)
	fmt.Fprintf(&b, "Started: %s UTC\n", f.StartedAt.UTC().Format(time.RFC3339))
	if !f.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "Finished: %s UTC\n", f.FinishedAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "Rows loaded: %d\n", f.RowsLoaded)
	if f.Message != "" {
		fmt.Fprintf(&b, "Error: %s\n", f.Message)
	}
	return b.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = Nop{}
)
