package notification

import (
	"log/slog"
	"sync"
	"time"
)

// SessionConfig はセッション生成時の設定。
type SessionConfig struct {
	// Capacity はストアの最大保持件数。0の場合はDefaultCapacity。
	Capacity int
	// SimulationEnabled はセッション開始時にシミュレーションを有効にするかどうか。
	SimulationEnabled bool
	// Templates はシミュレーションのテンプレート。空の場合はDefaultTemplates。
	Templates []Input
	// NextDelay はシミュレーションの待ち時間。nilの場合は15〜30秒の乱数。
	NextDelay func() time.Duration
	// Clock は時刻とタイマーの取得元。nilの場合は実時間。
	Clock Clock
	// Seed は初期通知を返す。nilの場合はDefaultSeed。
	Seed func(now time.Time) []Record
	// ToastBuffer は購読者ごとのトーストのバッファ件数。
	ToastBuffer int
	// OnTick はシミュレーションイベントの発生ごとに呼ばれる。
	OnTick func(userID string, r Record)
	// IdleTimeout は最後の取得からこの時間が過ぎたセッションを終了する。0の場合は終了しない。
	// トーストを購読中のセッションは対象外。
	IdleTimeout time.Duration
}

// AttachFunc はセッション生成時に追加の処理（オブザーバー登録など）を組み込む。
// 返した関数はセッション終了時に呼ばれる。
type AttachFunc func(sess *Session) (detach func())

// Session は1ユーザー分の通知ストアとシミュレーションをまとめたもの。
type Session struct {
	// UserID はセッションの所有者。
	UserID string
	// Store は通知ストア。
	Store *Store
	// Simulator はシミュレーションエンジン。
	Simulator *Simulator
	// Toasts はトーストの配信元。
	Toasts *Broadcaster

	closeOnce sync.Once
	detach    []func()

	// lastAccess はSessions.muで保護する。
	lastAccess time.Time
}

// Close はシミュレーションを止め、オブザーバーとトーストの購読者を切り離す。
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.Simulator.Close()
		for i := len(s.detach) - 1; i >= 0; i-- {
			s.detach[i]()
		}
		s.Toasts.Close()
	})
}

// Sessions はユーザーIDごとのセッションを管理する。
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]*Session
	cfg      SessionConfig
	attach   []AttachFunc
	janitor  Timer
	stopped  bool
}

// NewSessions は新しいセッションレジストリを生成する。
func NewSessions(cfg SessionConfig, attach ...AttachFunc) *Sessions {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.Seed == nil {
		cfg.Seed = DefaultSeed
	}
	if cfg.ToastBuffer < 1 {
		cfg.ToastBuffer = 16
	}
	r := &Sessions{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		attach:   attach,
	}
	if cfg.IdleTimeout > 0 {
		r.mu.Lock()
		r.scheduleReapLocked()
		r.mu.Unlock()
	}
	return r
}

// Get はユーザーのセッションを返す。存在しない場合は初期通知を投入して生成する。
func (r *Sessions) Get(userID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.cfg.Clock.Now()
	if sess, ok := r.sessions[userID]; ok {
		sess.lastAccess = now
		return sess
	}
	sess := r.open(userID)
	sess.lastAccess = now
	r.sessions[userID] = sess
	return sess
}

// Lookup は既存のセッションを返す。生成は行わない。
func (r *Sessions) Lookup(userID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[userID]
	return sess, ok
}

// Close はユーザーのセッションを終了して破棄する。セッションが存在しなかった場合はfalseを返す。
func (r *Sessions) Close(userID string) bool {
	r.mu.Lock()
	sess, ok := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()

	if ok {
		sess.Close()
	}
	return ok
}

// CloseAll はすべてのセッションを終了し、アイドルセッションの巡回も止める。
func (r *Sessions) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.stopped = true
	if r.janitor != nil {
		r.janitor.Stop()
		r.janitor = nil
	}
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}
}

// Len は現在のセッション数を返す。
func (r *Sessions) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ReapIdle はIdleTimeoutを超えてアクセスのないセッションを終了し、終了したユーザーIDを返す。
// トーストの購読者がいるセッションは終了せず、最終アクセスを現在時刻に更新する。
func (r *Sessions) ReapIdle() []string {
	if r.cfg.IdleTimeout <= 0 {
		return nil
	}
	now := r.cfg.Clock.Now()

	r.mu.Lock()
	var expired []*Session
	for userID, sess := range r.sessions {
		if sess.Toasts.Subscribers() > 0 {
			sess.lastAccess = now
			continue
		}
		if now.Sub(sess.lastAccess) >= r.cfg.IdleTimeout {
			expired = append(expired, sess)
			delete(r.sessions, userID)
		}
	}
	r.mu.Unlock()

	userIDs := make([]string, 0, len(expired))
	for _, sess := range expired {
		sess.Close()
		userIDs = append(userIDs, sess.UserID)
	}
	return userIDs
}

// scheduleReapLocked はIdleTimeoutの半分の間隔で次の巡回を登録する。r.mu を保持した状態で呼び出す。
func (r *Sessions) scheduleReapLocked() {
	if r.stopped {
		return
	}
	interval := r.cfg.IdleTimeout / 2
	if interval <= 0 {
		interval = r.cfg.IdleTimeout
	}
	r.janitor = r.cfg.Clock.AfterFunc(interval, func() {
		if reaped := r.ReapIdle(); len(reaped) > 0 {
			slog.Info("アイドルセッションを終了しました", slog.Int("count", len(reaped)))
		}
		r.mu.Lock()
		r.scheduleReapLocked()
		r.mu.Unlock()
	})
}

// open はセッションを生成する。r.mu を保持した状態で呼び出す。
func (r *Sessions) open(userID string) *Session {
	store := NewStore(
		WithCapacity(r.cfg.Capacity),
		WithClock(r.cfg.Clock),
		WithSeed(r.cfg.Seed(r.cfg.Clock.Now())),
	)

	simOpts := []SimulatorOption{
		WithTemplates(r.cfg.Templates),
		WithNextDelay(r.cfg.NextDelay),
		WithSimulatorClock(r.cfg.Clock),
	}
	if r.cfg.OnTick != nil {
		onTick := r.cfg.OnTick
		simOpts = append(simOpts, WithTickHook(func(rec Record) { onTick(userID, rec) }))
	}

	sess := &Session{
		UserID:    userID,
		Store:     store,
		Simulator: NewSimulator(store, simOpts...),
		Toasts:    NewBroadcaster(r.cfg.ToastBuffer),
	}
	sess.detach = append(sess.detach, store.Subscribe(PresentAdded(sess.Toasts)))
	for _, a := range r.attach {
		if detach := a(sess); detach != nil {
			sess.detach = append(sess.detach, detach)
		}
	}

	sess.Simulator.SetEnabled(r.cfg.SimulationEnabled)
	return sess
}
