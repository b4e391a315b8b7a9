package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"arbwatch/internal/spread"
)

// Signal 封装一次套利机会的告警上下文。
type Signal struct {
	Time       time.Time
	PairID     string
	MarketPair string
	Direction  spread.Direction
	NetSpread  decimal.Decimal
	KalshiBid  decimal.Decimal
	KalshiAsk  decimal.Decimal
	PolyBid    decimal.Decimal
	PolyAsk    decimal.Decimal
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, sig Signal) error
	Alert(ctx context.Context, message string) error
}

// Settings is the recognised portion of the opaque alerting config block.
// Unknown keys are tolerated; they belong to other collaborators.
type Settings struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// FromConfig builds a notifier from the verbatim alerting config map.
// Returns nil when no channel is configured.
func FromConfig(raw map[string]any, logger zerolog.Logger) (Notifier, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var settings Settings
	if err := mapstructure.Decode(raw, &settings); err != nil {
		return nil, fmt.Errorf("decode alerting config: %w", err)
	}
	tg := settings.Telegram
	if tg.BotToken == "" || tg.ChatID == "" {
		return nil, nil
	}
	return NewTelegramNotifier(tg.BotToken, tg.ChatID, tg.APIBase, 10*time.Second, logger), nil
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
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

// Notify 推送一条机会窗口告警。
func (n *TelegramNotifier) Notify(ctx context.Context, sig Signal) error {
	if err := n.send(ctx, renderSignal(sig)); err != nil {
		return err
	}
	n.logger.Info().
		Str("pair_id", sig.PairID).
		Str("direction", string(sig.Direction)).
		Msg("告警已发送 (Telegram)")
	return nil
}

// Alert 推送一条纯文本运维告警。
func (n *TelegramNotifier) Alert(ctx context.Context, message string) error {
	return n.send(ctx, message)
}

func (n *TelegramNotifier) send(ctx context.Context, text string) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    text,
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
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}
	return nil
}

func renderSignal(sig Signal) string {
	builder := strings.Builder{}
	builder.WriteString("[Arb Window Open]\n")
	builder.WriteString(fmt.Sprintf("Pair: %s (%s)\n", sig.MarketPair, sig.PairID))
	builder.WriteString(fmt.Sprintf("Direction: %s\n", sig.Direction))
	builder.WriteString(fmt.Sprintf("Net spread: %s\n", sig.NetSpread.StringFixed(4)))
	builder.WriteString(fmt.Sprintf("Kalshi: %s/%s\n", sig.KalshiBid.StringFixed(2), sig.KalshiAsk.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Poly: %s/%s\n", sig.PolyBid.StringFixed(4), sig.PolyAsk.StringFixed(4)))
	builder.WriteString(fmt.Sprintf("At: %s UTC\n", sig.Time.UTC().Format(time.RFC3339)))
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
