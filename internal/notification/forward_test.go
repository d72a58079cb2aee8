package notification

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hnishizawa43-ctrl/eclipse-ai-y9/pkg/httpclient"
)

// webhookRecorder は受信したWebhookのペイロードを記録するテスト用サーバー。
type webhookRecorder struct {
	mu       sync.Mutex
	payloads []webhookPayload
	userIDs  []string
}

func (w *webhookRecorder) handler(status int) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		var p webhookPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err == nil {
			w.mu.Lock()
			w.payloads = append(w.payloads, p)
			w.userIDs = append(w.userIDs, r.Header.Get("X-User-ID"))
			w.mu.Unlock()
		}
		rw.WriteHeader(status)
	}
}

func (w *webhookRecorder) received() ([]webhookPayload, []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]webhookPayload(nil), w.payloads...), append([]string(nil), w.userIDs...)
}

func TestForwarder(t *testing.T) {
	t.Parallel()

	t.Run("最低レベル以上の追加のみ転送されること", func(t *testing.T) {
		t.Parallel()

		rec := &webhookRecorder{}
		srv := httptest.NewServer(rec.handler(http.StatusNoContent))
		defer srv.Close()

		f := NewForwarder(httpclient.New(srv.URL), "/hooks/alerts", LevelWarning, time.Second)
		store := NewStore(WithSeed(DefaultSeed(testEpoch)))
		store.Subscribe(f.Observer("alice"))

		if _, err := store.Add(testInput("情報", LevelInfo)); err != nil {
			t.Fatalf("Add()でエラーが発生: %v", err)
		}
		critical, err := store.Add(Input{Title: "PII検出アラート", Description: "個人情報を検出", Level: LevelCritical, Category: CategoryThreat})
		if err != nil {
			t.Fatalf("Add()でエラーが発生: %v", err)
		}
		store.MarkRead(critical.ID)
		store.ClearAll()
		f.Wait()

		payloads, userIDs := rec.received()
		if len(payloads) != 1 {
			t.Fatalf("転送件数 = %d, want 1", len(payloads))
		}
		p := payloads[0]
		if p.ID != critical.ID || p.Level != "critical" || p.LevelLabel != "重大" || p.CategoryLabel != "脅威" {
			t.Errorf("payload = %+v", p)
		}
		if p.UserID != "alice" || userIDs[0] != "alice" {
			t.Errorf("user_id = %q, header = %q, want alice", p.UserID, userIDs[0])
		}
		if p.CreatedAt != critical.CreatedAt.UTC().Format(time.RFC3339) {
			t.Errorf("created_at = %q", p.CreatedAt)
		}
	})

	t.Run("転送先がエラーを返してもストアに影響しないこと", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer((&webhookRecorder{}).handler(http.StatusInternalServerError))
		defer srv.Close()

		f := NewForwarder(httpclient.New(srv.URL), "/", "bogus", 0)
		sessions, _ := setupSessions(t, SessionConfig{}, f.Attach)
		sess := sessions.Get("alice")

		if _, err := sess.Store.Add(Input{Title: "重大", Description: "d", Level: LevelCritical, Category: CategoryModel}); err != nil {
			t.Fatalf("Add()でエラーが発生: %v", err)
		}
		f.Wait()
		if sess.Store.Len() != 4 {
			t.Errorf("Len() = %d, want 4", sess.Store.Len())
		}
	})

	t.Run("不正な最低レベルはcriticalとして扱うこと", func(t *testing.T) {
		t.Parallel()

		f := NewForwarder(httpclient.New("http://127.0.0.1:0"), "/", "bogus", 0)
		if f.minLevel != LevelCritical {
			t.Errorf("minLevel = %s, want critical", f.minLevel)
		}
		if f.timeout != 10*time.Second {
			t.Errorf("timeout = %v, want 10s", f.timeout)
		}
	})
}
