package notification

import (
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

const (
	// DefaultMinDelay はシミュレーションイベントの最短発生間隔。
	DefaultMinDelay = 15 * time.Second
	// DefaultMaxDelay はシミュレーションイベントの最長発生間隔。
	DefaultMaxDelay = 30 * time.Second
)

// Adder は通知を追加できる対象。*Store が満たす。
type Adder interface {
	Add(in Input) (Record, error)
}

// RandomDelay は[minDelay, maxDelay)の一様乱数で待ち時間を返す関数を生成する。
// maxDelayがminDelay以下の場合は常にminDelayを返す。
func RandomDelay(minDelay, maxDelay time.Duration) func() time.Duration {
	return func() time.Duration {
		if maxDelay <= minDelay {
			return minDelay
		}
		return minDelay + rand.N(maxDelay-minDelay)
	}
}

// Simulator は定型イベントを一定でない間隔で発生させ、監視フィードを模擬する。
// テンプレートは先頭から順に1周してから繰り返す。
// 次のタイマーは現在のイベントの追加が終わってから登録するため、同時に待機するタイマーは常に1つ以下。
type Simulator struct {
	// mu は以下のすべてのフィールドを保護する。イベントの追加中も保持する。
	mu sync.Mutex
	// target はイベントの追加先。
	target Adder
	// pool は発生させるテンプレート。
	pool []Input
	// counter は次に発生させるテンプレートの通し番号。無効化しても戻さない。
	counter int
	// nextDelay は次のイベントまでの待ち時間を返す。
	nextDelay func() time.Duration
	// clock はタイマーの登録に使用する。
	clock Clock
	// timer は待機中のタイマー。
	timer Timer
	// generation は有効・無効の切り替えごとに増える。古いタイマーの発火を無視するために使用する。
	generation uint64
	// enabled はシミュレーションが有効かどうか。
	enabled bool
	// closed はClose済みかどうか。
	closed bool
	// onTick はイベント発生後に呼ばれるフック。メトリクス記録に使用する。
	onTick func(Record)
}

// SimulatorOption はSimulatorの生成オプション。
type SimulatorOption func(*Simulator)

// WithTemplates は発生させるテンプレートを差し替える。空の場合は無視する。
func WithTemplates(pool []Input) SimulatorOption {
	return func(s *Simulator) {
		if len(pool) > 0 {
			s.pool = append([]Input(nil), pool...)
		}
	}
}

// WithNextDelay は待ち時間の決定方法を差し替える。
func WithNextDelay(f func() time.Duration) SimulatorOption {
	return func(s *Simulator) {
		if f != nil {
			s.nextDelay = f
		}
	}
}

// WithSimulatorClock はタイマーの登録先を差し替える。
func WithSimulatorClock(c Clock) SimulatorOption {
	return func(s *Simulator) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithTickHook はイベント発生ごとに呼ばれるフックを設定する。
func WithTickHook(f func(Record)) SimulatorOption {
	return func(s *Simulator) {
		s.onTick = f
	}
}

// NewSimulator は無効状態のSimulatorを生成する。SetEnabled(true)で開始する。
func NewSimulator(target Adder, opts ...SimulatorOption) *Simulator {
	s := &Simulator{
		target:    target,
		pool:      DefaultTemplates(),
		nextDelay: RandomDelay(DefaultMinDelay, DefaultMaxDelay),
		clock:     SystemClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetEnabled はシミュレーションの有効・無効を切り替える。
// 無効から有効への切り替えで新しい待機を開始し、有効から無効への切り替えで待機中のタイマーを止める。
// 現在と同じ状態の指定やClose後の呼び出しは何もしない。
func (s *Simulator) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.enabled == enabled {
		return
	}
	s.enabled = enabled
	s.generation++
	s.stopLocked()
	if enabled {
		s.scheduleLocked()
	}
}

// Enabled はシミュレーションが有効かどうかを返す。
func (s *Simulator) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Emitted はこれまでに発生させたイベントの件数を返す。
func (s *Simulator) Emitted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter
}

// Close はシミュレーションを停止する。以降イベントは発生せず、SetEnabledも効果を持たない。
func (s *Simulator) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.enabled = false
	s.generation++
	s.stopLocked()
}

// scheduleLocked は次のイベントのタイマーを登録する。
func (s *Simulator) scheduleLocked() {
	gen := s.generation
	s.timer = s.clock.AfterFunc(s.nextDelay(), func() {
		s.tick(gen)
	})
}

// stopLocked は待機中のタイマーを止める。
func (s *Simulator) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// tick はテンプレートを1件発生させ、次のタイマーを登録する。
// 停止後に発火したタイマーは世代が一致しないため何もしない。
func (s *Simulator) tick(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.enabled || gen != s.generation {
		return
	}
	s.timer = nil

	tpl := s.pool[s.counter%len(s.pool)]
	s.counter++
	rec, err := s.target.Add(tpl)
	if err != nil {
		slog.Warn("シミュレーションイベントの追加に失敗", slog.String("title", tpl.Title), slog.Any("error", err))
	} else if s.onTick != nil {
		s.onTick(rec)
	}

	s.scheduleLocked()
}
