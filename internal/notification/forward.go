package notification

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hnishizawa43-ctrl/eclipse-ai-y9/pkg/httpclient"
)

// webhookPayload はWebhookへ送信する通知のJSON構造。
type webhookPayload struct {
	UserID        string `json:"user_id"`
	ID            string `json:"id"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	Level         string `json:"level"`
	LevelLabel    string `json:"level_label"`
	Category      string `json:"category"`
	CategoryLabel string `json:"category_label"`
	CreatedAt     string `json:"created_at"`
}

// Forwarder は一定以上のレベルの通知を外部のWebhookへ転送する。
// 送信は非同期で行い、失敗してもストアには影響させない。
type Forwarder struct {
	client   *httpclient.Client
	path     string
	minLevel Level
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewForwarder は新しいForwarderを生成する。minLevelが不正な場合はcriticalのみを転送する。
func NewForwarder(client *httpclient.Client, path string, minLevel Level, timeout time.Duration) *Forwarder {
	if !minLevel.Valid() {
		minLevel = LevelCritical
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Forwarder{
		client:   client,
		path:     path,
		minLevel: minLevel,
		timeout:  timeout,
	}
}

// Attach はセッションのストアへ転送用のオブザーバーを登録する。
func (f *Forwarder) Attach(sess *Session) func() {
	return sess.Store.Subscribe(f.Observer(sess.UserID))
}

// Observer はuserIDの通知を転送するオブザーバーを返す。
func (f *Forwarder) Observer(userID string) Observer {
	return func(c Change) {
		if c.Kind != ChangeAdded || !c.Record.Level.AtLeast(f.minLevel) {
			return
		}
		payload := webhookPayload{
			UserID:        userID,
			ID:            c.Record.ID,
			Title:         c.Record.Title,
			Description:   c.Record.Description,
			Level:         string(c.Record.Level),
			LevelLabel:    c.Record.Level.Label(),
			Category:      string(c.Record.Category),
			CategoryLabel: c.Record.Category.Label(),
			CreatedAt:     c.Record.CreatedAt.UTC().Format(time.RFC3339),
		}

		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			ctx, cancel := context.WithTimeout(httpclient.WithUserID(context.Background(), userID), f.timeout)
			defer cancel()
			if err := f.client.PostJSON(ctx, f.path, payload, nil); err != nil {
				slog.Warn("Webhookへの通知転送に失敗",
					slog.String("user_id", userID),
					slog.String("notification_id", payload.ID),
					slog.Any("error", err))
			}
		}()
	}
}

// Wait は送信中の転送がすべて終わるまで待つ。
func (f *Forwarder) Wait() {
	f.wg.Wait()
}
