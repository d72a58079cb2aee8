package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

const (
	// AggregateTypeFeed はユーザーごとの通知フィードを表す。
	AggregateTypeFeed AggregateType = "NotificationFeed"
	// AggregateTypeSimulation はユーザーごとのシミュレーションエンジンを表す。
	AggregateTypeSimulation AggregateType = "Simulation"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeNotificationAdded は通知がフィードに追加されたことを表す。
	TypeNotificationAdded Type = "NotificationAdded"
	// TypeNotificationEvicted は上限超過により通知がフィードから押し出されたことを表す。
	TypeNotificationEvicted Type = "NotificationEvicted"
	// TypeNotificationRead は1件の通知が既読になったことを表す。
	TypeNotificationRead Type = "NotificationRead"
	// TypeNotificationsAllRead は全通知の既読化が行われたことを表す。
	TypeNotificationsAllRead Type = "NotificationsAllRead"
	// TypeNotificationsCleared は全通知が削除されたことを表す。
	TypeNotificationsCleared Type = "NotificationsCleared"

	// TypeSimulationToggled はシミュレーションの有効・無効が切り替えられたことを表す。
	TypeSimulationToggled Type = "SimulationToggled"
)

// Event は監査ログに記録する不変のイベントレコードを表す。
// ストアの状態変更はこの構造体として追記される。状態の復元には使用しない。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// Version はAggregate内でのイベントの順序番号。
	Version int64 `json:"version"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// NotificationAddedData はNotificationAddedイベントのデータ。
type NotificationAddedData struct {
	// NotificationID は追加された通知のID。
	NotificationID string `json:"notification_id"`
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Description は通知の詳細。
	Description string `json:"description"`
	// Level は通知の重要度。
	Level string `json:"level"`
	// Category は通知の分類。
	Category string `json:"category"`
}

// NotificationEvictedData はNotificationEvictedイベントのデータ。
type NotificationEvictedData struct {
	// NotificationIDs は押し出された通知のID。
	NotificationIDs []string `json:"notification_ids"`
}

// NotificationReadData はNotificationReadイベントのデータ。
type NotificationReadData struct {
	// NotificationID は既読になった通知のID。
	NotificationID string `json:"notification_id"`
}

// NotificationsAllReadData はNotificationsAllReadイベントのデータ。
type NotificationsAllReadData struct {
	// Count は既読に変わった件数。
	Count int `json:"count"`
}

// NotificationsClearedData はNotificationsClearedイベントのデータ。
type NotificationsClearedData struct {
	// Count は削除された件数。
	Count int `json:"count"`
}

// SimulationToggledData はSimulationToggledイベントのデータ。
type SimulationToggledData struct {
	// Enabled は切り替え後の状態。
	Enabled bool `json:"enabled"`
}
