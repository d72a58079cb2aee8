package notification

import "time"

// Clock は現在時刻とタイマーを提供する。テストでは時間を手動で進める実装に差し替える。
type Clock interface {
	// Now は現在時刻を返す。
	Now() time.Time
	// AfterFunc はd経過後にfを別のゴルーチンで実行するタイマーを登録する。
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer はAfterFuncで登録したタイマーのハンドル。
type Timer interface {
	// Stop はタイマーを停止する。既に発火済みまたは停止済みの場合はfalseを返す。
	Stop() bool
}

// systemClock は実時間に基づくClock。
type systemClock struct{}

// SystemClock は実時間のClockを返す。
func SystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
