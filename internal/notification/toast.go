package notification

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// CriticalToastDuration は重大な通知のトースト表示時間。
	CriticalToastDuration = 8 * time.Second
	// DefaultToastDuration はそれ以外の通知のトースト表示時間。
	DefaultToastDuration = 5 * time.Second
)

// Variant はトーストの表示スタイル。
type Variant string

const (
	// VariantError は重大な通知に使う赤系の表示。
	VariantError Variant = "error"
	// VariantWarning は警告の通知に使う表示。
	VariantWarning Variant = "warning"
	// VariantSuccess は成功の通知に使う表示。
	VariantSuccess Variant = "success"
	// VariantInfo は情報の通知に使う表示。
	VariantInfo Variant = "info"
)

// Toast は一時的に表示するポップアップ通知。
type Toast struct {
	// NotificationID は元になった通知のID。
	NotificationID string `json:"notification_id"`
	// Title はトーストの見出し。
	Title string `json:"title"`
	// Description はトーストの本文。
	Description string `json:"description"`
	// Variant は表示スタイル。
	Variant Variant `json:"variant"`
	// Duration は表示時間。
	Duration time.Duration `json:"-"`
	// DurationMs はDurationのミリ秒表現。JSONでの受け渡しに使用する。
	DurationMs int64 `json:"duration_ms"`
}

// ToastFor は通知のレベルに応じたトーストを組み立てる。
func ToastFor(r Record) Toast {
	variant := VariantInfo
	duration := DefaultToastDuration
	switch r.Level {
	case LevelCritical:
		variant = VariantError
		duration = CriticalToastDuration
	case LevelWarning:
		variant = VariantWarning
	case LevelSuccess:
		variant = VariantSuccess
	}
	return Toast{
		NotificationID: r.ID,
		Title:          r.Title,
		Description:    r.Description,
		Variant:        variant,
		Duration:       duration,
		DurationMs:     duration.Milliseconds(),
	}
}

// Presenter はトーストを表示する。表示の成否は呼び出し元に返さない。
type Presenter interface {
	Present(t Toast)
}

// PresenterFunc は関数をPresenterとして扱うためのアダプター。
type PresenterFunc func(Toast)

// Present はf(t)を呼び出す。
func (f PresenterFunc) Present(t Toast) {
	f(t)
}

// PresentAdded は通知が追加されるたびにトーストを表示するオブザーバーを返す。
func PresentAdded(p Presenter) Observer {
	return func(c Change) {
		if c.Kind != ChangeAdded {
			return
		}
		p.Present(ToastFor(c.Record))
	}
}

// LogPresenter はトーストを構造化ログとして出力するPresenter。
type LogPresenter struct {
	// Logger は出力先のロガー。nilの場合はslog.Default()を使用する。
	Logger *slog.Logger
}

// Present はトーストをログに出力する。
func (p LogPresenter) Present(t Toast) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("トースト通知",
		slog.String("variant", string(t.Variant)),
		slog.String("title", t.Title),
		slog.Int64("duration_ms", t.DurationMs))
}

// Broadcaster はトーストを購読者へ配信するPresenter。SSEストリームの配信元になる。
// 受信が追いつかない購読者へのトーストは破棄する。
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[chan Toast]struct{}
	buffer int
	closed bool
}

// NewBroadcaster は購読者ごとにbuffer件まで溜められるBroadcasterを生成する。
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer < 1 {
		buffer = 1
	}
	return &Broadcaster{
		subs:   make(map[chan Toast]struct{}),
		buffer: buffer,
	}
}

// Subscribe は受信用チャネルと購読解除関数を返す。
// 購読解除またはClose後にチャネルは閉じられる。
func (b *Broadcaster) Subscribe() (<-chan Toast, func()) {
	ch := make(chan Toast, b.buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
	}
}

// Present はすべての購読者へトーストを配信する。
func (b *Broadcaster) Present(t Toast) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		select {
		case ch <- t:
		default:
		}
	}
}

// Subscribers は現在の購読者数を返す。
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close はすべての購読者のチャネルを閉じる。以降の購読は即座に閉じたチャネルを返す。
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}
