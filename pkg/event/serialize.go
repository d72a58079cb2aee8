package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Valid はイベント種別が既知かどうかを返す。
func (t Type) Valid() bool {
	switch t {
	case TypeNotificationAdded, TypeNotificationEvicted, TypeNotificationRead,
		TypeNotificationsAllRead, TypeNotificationsCleared, TypeSimulationToggled:
		return true
	}
	return false
}

// Aggregate はイベント種別の対象となるエンティティの種類を返す。
func (t Type) Aggregate() AggregateType {
	if t == TypeSimulationToggled {
		return AggregateTypeSimulation
	}
	return AggregateTypeFeed
}

// NewAt はユーザーuserIDのイベントを作成日時atで生成する。
// dataはJSONにシリアライズされる。Versionは記録時に採番するため0のまま返す。
func NewAt(userID string, eventType Type, data any, at time.Time) (*Event, error) {
	if !eventType.Valid() {
		return nil, fmt.Errorf("未知のイベント種別: %q", eventType)
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%sのデータのシリアライズに失敗: %w", eventType, err)
	}

	return &Event{
		ID:            uuid.NewString(),
		AggregateID:   userID,
		AggregateType: eventType.Aggregate(),
		EventType:     eventType,
		Data:          payload,
		CreatedAt:     at.UTC(),
	}, nil
}
