package audit

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/hnishizawa43-ctrl/eclipse-ai-y9/internal/notification"
	"github.com/hnishizawa43-ctrl/eclipse-ai-y9/pkg/event"
	"github.com/hnishizawa43-ctrl/eclipse-ai-y9/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultListLimit はList で件数が指定されなかった場合の取得件数。
const DefaultListLimit = 100

// writeTimeout はオブザーバーからの書き込み1件あたりのタイムアウト。
const writeTimeout = 5 * time.Second

// busyTimeout はファイルDBで他の接続の書き込みロック解放を待つ時間。
const busyTimeout = 5 * time.Second

// Recorder は通知フィードの変更履歴を記録する。
type Recorder struct {
	db *sqlx.DB
}

// eventRow はnotification_eventsテーブルの1行。
type eventRow struct {
	ID            string `db:"id"`
	AggregateID   string `db:"aggregate_id"`
	AggregateType string `db:"aggregate_type"`
	EventType     string `db:"event_type"`
	Data          string `db:"data"`
	Version       int64  `db:"version"`
	CreatedAt     string `db:"created_at"`
}

// Open はdsnのSQLiteデータベースを開き、マイグレーションを適用する。
// ":memory:" を指定した場合は単一接続のインメモリデータベースになる。
func Open(ctx context.Context, dsn string) (*Recorder, error) {
	inMemory := strings.Contains(dsn, ":memory:")
	if !inMemory {
		dsn = fileDSN(dsn)
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if inMemory {
		// 接続ごとに別のデータベースになるため1本に固定する
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if _, err := migration.Run(ctx, db.DB, migrationsFS, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	return &Recorder{db: db}, nil
}

// fileDSN はファイルDBのDSNに、全接続へ適用するWALモードとビジータイムアウトを付与する。
// セッションごとのオブザーバーが並行して書き込むため、ロック競合は待ってから再試行させる。
func fileDSN(dsn string) string {
	var pragmas []string
	if !strings.Contains(dsn, "busy_timeout") {
		pragmas = append(pragmas, fmt.Sprintf("_pragma=busy_timeout(%d)", busyTimeout.Milliseconds()))
	}
	if !strings.Contains(dsn, "journal_mode") {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)")
	}
	if len(pragmas) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(pragmas, "&")
}

// Close はデータベース接続を閉じる。
func (r *Recorder) Close() error {
	return r.db.Close()
}

// Append はイベントを追記し、ユーザー内の連番を割り当てる。
// evのVersionとCreatedAtは割り当て後の値で上書きされる。
func (r *Recorder) Append(ctx context.Context, ev *event.Event) error {
	const query = `
		INSERT INTO notification_events (
			id, aggregate_id, aggregate_type, event_type, data, version, created_at
		) VALUES (
			?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(version), 0) + 1 FROM notification_events WHERE aggregate_id = ?),
			?
		)
		RETURNING version`

	var version int64
	err := r.db.QueryRowxContext(ctx, query,
		ev.ID, ev.AggregateID, string(ev.AggregateType), string(ev.EventType), string(ev.Data),
		ev.AggregateID,
		ev.CreatedAt.UTC().Format(time.RFC3339Nano),
	).Scan(&version)
	if err != nil {
		return fmt.Errorf("イベントの追記に失敗: %w", err)
	}
	ev.Version = version
	return nil
}

// List はユーザーのイベントを新しい順に最大limit件返す。limitが0以下の場合はDefaultListLimit件。
func (r *Recorder) List(ctx context.Context, userID string, limit int) ([]event.Event, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	var rows []eventRow
	const query = `
		SELECT id, aggregate_id, aggregate_type, event_type, data, version, created_at
		FROM notification_events
		WHERE aggregate_id = ?
		ORDER BY version DESC
		LIMIT ?`
	if err := r.db.SelectContext(ctx, &rows, query, userID, limit); err != nil {
		return nil, fmt.Errorf("イベント一覧の取得に失敗: %w", err)
	}

	events := make([]event.Event, 0, len(rows))
	for _, row := range rows {
		createdAt, err := time.Parse(time.RFC3339Nano, row.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("作成日時の解析に失敗 (id=%s): %w", row.ID, err)
		}
		events = append(events, event.Event{
			ID:            row.ID,
			AggregateID:   row.AggregateID,
			AggregateType: event.AggregateType(row.AggregateType),
			EventType:     event.Type(row.EventType),
			Data:          json.RawMessage(row.Data),
			Version:       row.Version,
			CreatedAt:     createdAt,
		})
	}
	return events, nil
}

// CountByType はユーザーのイベント件数を種類ごとに返す。
func (r *Recorder) CountByType(ctx context.Context, userID string) (map[event.Type]int, error) {
	var rows []struct {
		EventType string `db:"event_type"`
		Count     int    `db:"count"`
	}
	const query = `
		SELECT event_type, COUNT(*) AS count
		FROM notification_events
		WHERE aggregate_id = ?
		GROUP BY event_type`
	if err := r.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("イベント件数の集計に失敗: %w", err)
	}

	counts := make(map[event.Type]int, len(rows))
	for _, row := range rows {
		counts[event.Type(row.EventType)] = row.Count
	}
	return counts, nil
}

// RecordSimulation はシミュレーションの切り替えを記録する。
func (r *Recorder) RecordSimulation(ctx context.Context, userID string, enabled bool, at time.Time) error {
	ev, err := event.NewAt(userID, event.TypeSimulationToggled,
		event.SimulationToggledData{Enabled: enabled}, at)
	if err != nil {
		return err
	}
	return r.Append(ctx, ev)
}

// Attach はセッションのストアへ記録用のオブザーバーを登録する。
func (r *Recorder) Attach(sess *notification.Session) func() {
	return sess.Store.Subscribe(r.Observer(sess.UserID))
}

// Observer はuserIDのフィードの変更を記録するオブザーバーを返す。
// 書き込みに失敗してもストアには影響させず、ログに残す。
func (r *Recorder) Observer(userID string) notification.Observer {
	return func(c notification.Change) {
		events, err := EventsFor(userID, c)
		if err != nil {
			slog.Error("監査イベントの生成に失敗", slog.String("user_id", userID), slog.Any("error", err))
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		for _, ev := range events {
			if err := r.Append(ctx, ev); err != nil {
				slog.Error("監査イベントの記録に失敗",
					slog.String("user_id", userID),
					slog.String("event_type", string(ev.EventType)),
					slog.Any("error", err))
			}
		}
	}
}

// EventsFor はストアの変更を監査イベントに変換する。
// 追加時に押し出しが発生した場合はNotificationEvictedも続けて生成する。
func EventsFor(userID string, c notification.Change) ([]*event.Event, error) {
	var (
		typ  event.Type
		data any
	)
	switch c.Kind {
	case notification.ChangeAdded:
		typ = event.TypeNotificationAdded
		data = event.NotificationAddedData{
			NotificationID: c.Record.ID,
			Title:          c.Record.Title,
			Description:    c.Record.Description,
			Level:          string(c.Record.Level),
			Category:       string(c.Record.Category),
		}
	case notification.ChangeRead:
		typ = event.TypeNotificationRead
		data = event.NotificationReadData{NotificationID: c.Record.ID}
	case notification.ChangeAllRead:
		typ = event.TypeNotificationsAllRead
		data = event.NotificationsAllReadData{Count: c.Count}
	case notification.ChangeCleared:
		typ = event.TypeNotificationsCleared
		data = event.NotificationsClearedData{Count: c.Count}
	default:
		return nil, fmt.Errorf("未知の変更種別: %q", c.Kind)
	}

	ev, err := event.NewAt(userID, typ, data, c.At)
	if err != nil {
		return nil, err
	}
	events := []*event.Event{ev}

	if len(c.Evicted) > 0 {
		ids := make([]string, 0, len(c.Evicted))
		for _, r := range c.Evicted {
			ids = append(ids, r.ID)
		}
		evicted, err := event.NewAt(userID, event.TypeNotificationEvicted,
			event.NotificationEvictedData{NotificationIDs: ids}, c.At)
		if err != nil {
			return nil, err
		}
		events = append(events, evicted)
	}
	return events, nil
}
