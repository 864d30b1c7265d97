// Package notification は区画の状態変化を外部へ通知する機能を提供する。
// 通知は土地所有者向けの連携Webhookへ送信するfire-and-forgetであり、
// 送信の成否は割り当て処理の結果に影響しない。
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/najeeb2500/agrishare/internal/model"
)

// WebhookNotifier は区画状態変化をWebhookへPOSTする通知クライアント。
// URLが未設定の場合は送信せずログ出力のみ行う。
type WebhookNotifier struct {
	httpClient *http.Client
	webhookURL string
}

// NewWebhookNotifier はWebhookNotifierの新しいインスタンスを生成する。
// httpClientにはSSRF防止機能付きのクライアントを渡すこと。
func NewWebhookNotifier(httpClient *http.Client, webhookURL string) *WebhookNotifier {
	return &WebhookNotifier{
		httpClient: httpClient,
		webhookURL: webhookURL,
	}
}

// event はWebhookへ送信するペイロード。
type event struct {
	Event             string    `json:"event"`
	PlotID            string    `json:"plot_id"`
	OwnerID           string    `json:"owner_id"`
	Status            string    `json:"status"`
	PrimaryGardenerID string    `json:"primary_gardener_id,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// PlotStatusChanged は区画の状態変化を通知する。
// 送信失敗はログに記録するだけで呼び出し元へは返さない。
func (n *WebhookNotifier) PlotStatusChanged(ctx context.Context, plot *model.Plot, eventName string) {
	if n.webhookURL == "" {
		slog.Debug("Webhook URLが未設定のため通知をスキップします", "plotID", plot.ID, "event", eventName)
		return
	}

	payload := event{
		Event:      eventName,
		PlotID:     plot.ID,
		OwnerID:    plot.OwnerID,
		Status:     string(plot.Status),
		OccurredAt: time.Now(),
	}
	if plot.Assignment != nil {
		payload.PrimaryGardenerID = plot.Assignment.PrimaryGardenerID
	}

	if err := n.post(ctx, payload); err != nil {
		slog.Error("Webhook通知の送信に失敗しました",
			slog.String("plotID", plot.ID),
			slog.String("event", eventName),
			slog.String("error", err.Error()),
		)
		return
	}

	slog.Info("Webhook通知を送信しました", "plotID", plot.ID, "event", eventName)
}

// post はペイロードをJSONでWebhookへPOSTする。
func (n *WebhookNotifier) post(ctx context.Context, payload event) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ペイロードのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "AgriShare/1.0 Notifier")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// レスポンスボディは読み捨ててコネクションを再利用可能にする
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("Webhookが異常ステータスを返しました: %d", resp.StatusCode)
	}
	return nil
}
