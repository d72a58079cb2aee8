package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hnishizawa43-ctrl/eclipse-ai-y9/internal/notification"
	"github.com/hnishizawa43-ctrl/eclipse-ai-y9/pkg/event"
)

// setupTestRecorder はインメモリSQLiteのRecorderを生成する。
func setupTestRecorder(t *testing.T) *Recorder {
	t.Helper()

	r, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Recorderの生成に失敗: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestOpen(t *testing.T) {
	t.Parallel()

	t.Run("ファイルDBでも開けてマイグレーションを再適用しないこと", func(t *testing.T) {
		t.Parallel()

		dsn := t.TempDir() + "/audit.db"
		r, err := Open(context.Background(), dsn)
		if err != nil {
			t.Fatalf("1回目のOpen()でエラーが発生: %v", err)
		}
		r.Close()

		r, err = Open(context.Background(), dsn)
		if err != nil {
			t.Fatalf("2回目のOpen()でエラーが発生: %v", err)
		}
		defer r.Close()

		var count int
		if err := r.db.Get(&count, "SELECT COUNT(*) FROM schema_migrations"); err != nil {
			t.Fatalf("件数の取得に失敗: %v", err)
		}
		if count != 2 {
			t.Errorf("schema_migrationsの件数 = %d, want 2", count)
		}
	})

	t.Run("ファイルDBへの並行書き込みが取りこぼされないこと", func(t *testing.T) {
		t.Parallel()

		r, err := Open(context.Background(), filepath.Join(t.TempDir(), "audit.db"))
		if err != nil {
			t.Fatalf("Open()でエラーが発生: %v", err)
		}
		defer r.Close()

		const (
			writers   = 8
			perWriter = 100
		)
		base := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			failures []error
		)
		for w := range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				user := fmt.Sprintf("user-%d", w)
				for i := range perWriter {
					ev, err := event.NewAt(user, event.TypeNotificationRead,
						event.NotificationReadData{NotificationID: fmt.Sprintf("notif-%d", i)}, base.Add(time.Duration(i)*time.Second))
					if err == nil {
						err = r.Append(context.Background(), ev)
					}
					if err != nil {
						mu.Lock()
						failures = append(failures, err)
						mu.Unlock()
					}
				}
			}()
		}
		wg.Wait()

		if len(failures) != 0 {
			t.Fatalf("書き込み失敗 %d / %d 件, 最初のエラー: %v", len(failures), writers*perWriter, failures[0])
		}
		for w := range writers {
			user := fmt.Sprintf("user-%d", w)
			events, err := r.List(context.Background(), user, perWriter)
			if err != nil {
				t.Fatalf("List()でエラーが発生: %v", err)
			}
			if len(events) != perWriter {
				t.Errorf("%sの件数 = %d, want %d", user, len(events), perWriter)
				continue
			}
			if events[0].Version != perWriter {
				t.Errorf("%sの最新Version = %d, want %d", user, events[0].Version, perWriter)
			}
		}
	})
}

func TestAppendAndList(t *testing.T) {
	t.Parallel()

	t.Run("ユーザーごとに連番が割り当てられ新しい順に取得できること", func(t *testing.T) {
		t.Parallel()

		r := setupTestRecorder(t)
		ctx := context.Background()
		base := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

		for i, user := range []string{"alice", "alice", "bob", "alice"} {
			ev, err := event.NewAt(user, event.TypeNotificationRead,
				event.NotificationReadData{NotificationID: "init-1"}, base.Add(time.Duration(i)*time.Minute))
			if err != nil {
				t.Fatalf("イベント生成に失敗: %v", err)
			}
			if err := r.Append(ctx, ev); err != nil {
				t.Fatalf("Append()でエラーが発生: %v", err)
			}
		}

		events, err := r.List(ctx, "alice", 0)
		if err != nil {
			t.Fatalf("List()でエラーが発生: %v", err)
		}
		if len(events) != 3 {
			t.Fatalf("len(events) = %d, want 3", len(events))
		}
		for i, want := range []int64{3, 2, 1} {
			if events[i].Version != want {
				t.Errorf("events[%d].Version = %d, want %d", i, events[i].Version, want)
			}
		}
		if !events[0].CreatedAt.Equal(base.Add(3 * time.Minute)) {
			t.Errorf("events[0].CreatedAt = %v, want %v", events[0].CreatedAt, base.Add(3*time.Minute))
		}

		limited, err := r.List(ctx, "alice", 1)
		if err != nil {
			t.Fatalf("List()でエラーが発生: %v", err)
		}
		if len(limited) != 1 || limited[0].Version != 3 {
			t.Errorf("limit=1の結果 = %+v", limited)
		}

		bob, err := r.List(ctx, "bob", 10)
		if err != nil {
			t.Fatalf("List()でエラーが発生: %v", err)
		}
		if len(bob) != 1 || bob[0].Version != 1 {
			t.Errorf("bobの結果 = %+v", bob)
		}
	})
}

func TestObserver(t *testing.T) {
	t.Parallel()

	t.Run("ストアの変更がすべて記録されること", func(t *testing.T) {
		t.Parallel()

		r := setupTestRecorder(t)
		ctx := context.Background()

		store := notification.NewStore(notification.WithCapacity(2))
		unsubscribe := store.Subscribe(r.Observer("alice"))
		defer unsubscribe()

		in := notification.Input{Title: "PII検出アラート", Description: "個人情報パターンを検出", Level: notification.LevelCritical, Category: notification.CategoryThreat}
		first, err := store.Add(in)
		if err != nil {
			t.Fatalf("Add()でエラーが発生: %v", err)
		}
		if _, err := store.Add(in); err != nil {
			t.Fatalf("Add()でエラーが発生: %v", err)
		}
		// 3件目で1件目が押し出される
		if _, err := store.Add(in); err != nil {
			t.Fatalf("Add()でエラーが発生: %v", err)
		}
		store.MarkAllRead()
		store.ClearAll()

		counts, err := r.CountByType(ctx, "alice")
		if err != nil {
			t.Fatalf("CountByType()でエラーが発生: %v", err)
		}
		want := map[event.Type]int{
			event.TypeNotificationAdded:    3,
			event.TypeNotificationEvicted:  1,
			event.TypeNotificationsAllRead: 1,
			event.TypeNotificationsCleared: 1,
		}
		for typ, n := range want {
			if counts[typ] != n {
				t.Errorf("%s の件数 = %d, want %d", typ, counts[typ], n)
			}
		}

		events, err := r.List(ctx, "alice", 0)
		if err != nil {
			t.Fatalf("List()でエラーが発生: %v", err)
		}
		for _, ev := range events {
			if ev.EventType != event.TypeNotificationEvicted {
				continue
			}
			var data event.NotificationEvictedData
			if err := json.Unmarshal(ev.Data, &data); err != nil {
				t.Fatalf("データのデシリアライズに失敗: %v", err)
			}
			if len(data.NotificationIDs) != 1 || data.NotificationIDs[0] != first.ID {
				t.Errorf("押し出されたID = %v, want [%s]", data.NotificationIDs, first.ID)
			}
		}
	})
}

func TestRecordSimulation(t *testing.T) {
	t.Parallel()

	t.Run("シミュレーションの切り替えが記録されること", func(t *testing.T) {
		t.Parallel()

		r := setupTestRecorder(t)
		ctx := context.Background()

		if err := r.RecordSimulation(ctx, "alice", false, time.Now()); err != nil {
			t.Fatalf("RecordSimulation()でエラーが発生: %v", err)
		}

		events, err := r.List(ctx, "alice", 0)
		if err != nil {
			t.Fatalf("List()でエラーが発生: %v", err)
		}
		if len(events) != 1 {
			t.Fatalf("len(events) = %d, want 1", len(events))
		}
		if events[0].AggregateType != event.AggregateTypeSimulation {
			t.Errorf("AggregateType = %q, want %q", events[0].AggregateType, event.AggregateTypeSimulation)
		}
		var data event.SimulationToggledData
		if err := json.Unmarshal(events[0].Data, &data); err != nil {
			t.Fatalf("データのデシリアライズに失敗: %v", err)
		}
		if data.Enabled {
			t.Error("Enabled = true, want false")
		}
	})
}

func TestEventsFor(t *testing.T) {
	t.Parallel()

	t.Run("未知の変更種別でエラーが返ること", func(t *testing.T) {
		t.Parallel()

		if _, err := EventsFor("alice", notification.Change{Kind: "unknown"}); err == nil {
			t.Fatal("未知の変更種別でエラーが返らなかった")
		}
	})
}

func TestFileDSN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "audit.db", want: "audit.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"},
		{in: "file:audit.db?cache=shared", want: "file:audit.db?cache=shared&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"},
		{in: "audit.db?_pragma=busy_timeout(100)", want: "audit.db?_pragma=busy_timeout(100)&_pragma=journal_mode(WAL)"},
		{in: "audit.db?_pragma=busy_timeout(100)&_pragma=journal_mode(DELETE)", want: "audit.db?_pragma=busy_timeout(100)&_pragma=journal_mode(DELETE)"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			if got := fileDSN(tt.in); got != tt.want {
				t.Errorf("fileDSN(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
