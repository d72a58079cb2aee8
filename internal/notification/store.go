package notification

import (
	"log/slog"
	"math/rand/v2"
	"slices"
	"strconv"
	"sync"
	"time"
)

// DefaultCapacity はストアが保持する通知の既定の最大件数。
const DefaultCapacity = 50

// ChangeKind はストアに対する変更の種類を表す。
type ChangeKind string

const (
	// ChangeAdded は通知が追加されたことを表す。
	ChangeAdded ChangeKind = "added"
	// ChangeRead は1件の通知が既読になったことを表す。
	ChangeRead ChangeKind = "read"
	// ChangeAllRead は全通知の既読化が行われたことを表す。
	ChangeAllRead ChangeKind = "all_read"
	// ChangeCleared は全通知が削除されたことを表す。
	ChangeCleared ChangeKind = "cleared"
)

// Change はストアの変更をオブザーバーへ伝えるイベント。
type Change struct {
	// Kind は変更の種類。
	Kind ChangeKind
	// Record は追加または既読化された通知。ChangeAdded と ChangeRead で設定される。
	Record Record
	// Evicted は上限超過により削除された通知。ChangeAdded でのみ設定される。
	Evicted []Record
	// Count は ChangeAllRead で既読化された件数、ChangeCleared で削除された件数。
	Count int
	// At は変更が行われた日時。
	At time.Time
}

// Observer はストアの変更を受け取るコールバック。
// 変更の順序どおりに同期的に呼び出される。オブザーバー内からストアを変更してはならない。
type Observer func(Change)

// IDGenerator は作成日時から通知IDを生成する関数。
type IDGenerator func(now time.Time) string

// Store はセッション内の通知を新しい順に保持するインメモリストア。
// リストはStoreだけが変更し、利用者には常にコピーを返す。
type Store struct {
	// emitMu は変更とオブザーバー通知の順序を直列化する。
	emitMu sync.Mutex
	// mu はrecordsとobserversを保護する。
	mu sync.RWMutex
	// records は作成日時の新しい順に並んだ通知。
	records []Record
	// capacity は保持する最大件数。
	capacity int
	// clock は作成日時の取得に使用する。
	clock Clock
	// newID は通知IDの生成関数。
	newID IDGenerator
	// observers は登録されたオブザーバー。キーは購読解除用の連番。
	observers map[uint64]Observer
	// nextObserver は次に割り当てるオブザーバー番号。
	nextObserver uint64
	// seed は初期データ。NewStoreで取り込んだ後は使用しない。
	seed []Record
}

// Option はStoreの生成オプション。
type Option func(*Store)

// WithCapacity は最大保持件数を設定する。1未満の値は無視する。
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithClock は時刻の取得元を差し替える。
func WithClock(c Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithIDGenerator は通知IDの生成関数を差し替える。
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Store) {
		if g != nil {
			s.newID = g
		}
	}
}

// WithSeed は初期データを設定する。作成日時の新しい順に並べ替えたうえで上限まで取り込む。
func WithSeed(records []Record) Option {
	return func(s *Store) {
		s.seed = records
	}
}

// NewStore は新しい通知ストアを生成する。
func NewStore(opts ...Option) *Store {
	s := &Store{
		capacity:  DefaultCapacity,
		clock:     SystemClock(),
		newID:     NewID,
		observers: make(map[uint64]Observer),
	}
	for _, opt := range opts {
		opt(s)
	}

	records := slices.Clone(s.seed)
	slices.SortStableFunc(records, func(a, b Record) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(records) > s.capacity {
		records = records[:s.capacity]
	}
	s.records = records
	s.seed = nil

	return s
}

// NewID は "notif-<エポックミリ秒>-<36進数5桁>" 形式の通知IDを生成する。
func NewID(now time.Time) string {
	const digits = "0123456789abcdefghijklmnopqrstuvwxyz"
	suffix := make([]byte, 5)
	for i := range suffix {
		suffix[i] = digits[rand.IntN(len(digits))]
	}
	return "notif-" + strconv.FormatInt(now.UnixMilli(), 10) + "-" + string(suffix)
}

// Add は通知を作成してリストの先頭に追加する。
// 上限を超えた場合は末尾（最も古い通知）から削除する。
// 入力が不正な場合はErrInvalidArgumentをラップしたエラーを返し、ストアは変更しない。
func (s *Store) Add(in Input) (Record, error) {
	if err := in.Validate(); err != nil {
		return Record{}, err
	}

	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	now := s.clock.Now()
	// 壁時計が巻き戻っても新しい順の並びを崩さない
	if len(s.records) > 0 && now.Before(s.records[0].CreatedAt) {
		now = s.records[0].CreatedAt
	}
	rec := Record{
		ID:          s.uniqueIDLocked(now),
		Title:       in.Title,
		Description: in.Description,
		Level:       in.Level,
		Category:    in.Category,
		CreatedAt:   now,
		Unread:      true,
	}

	records := make([]Record, 0, min(len(s.records)+1, s.capacity))
	records = append(records, rec)
	var evicted []Record
	for i, r := range s.records {
		if i+1 >= s.capacity {
			evicted = append(evicted, s.records[i:]...)
			break
		}
		records = append(records, r)
	}
	s.records = records
	observers := s.observersLocked()
	s.mu.Unlock()

	notify(observers, Change{Kind: ChangeAdded, Record: rec, Evicted: evicted, At: now})
	return rec, nil
}

// uniqueIDLocked は現在のリストと重複しないIDを生成する。
func (s *Store) uniqueIDLocked(now time.Time) string {
	for {
		id := s.newID(now)
		if s.indexLocked(id) < 0 {
			return id
		}
	}
}

// MarkRead は指定IDの通知を既読にする。存在しない場合や既読の場合は何もしない。
func (s *Store) MarkRead(id string) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 || !s.records[i].Unread {
		s.mu.Unlock()
		return
	}
	s.records[i].Unread = false
	rec := s.records[i]
	observers := s.observersLocked()
	now := s.clock.Now()
	s.mu.Unlock()

	notify(observers, Change{Kind: ChangeRead, Record: rec, At: now})
}

// MarkAllRead はすべての通知を既読にする。
func (s *Store) MarkAllRead() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	var changed int
	for i := range s.records {
		if s.records[i].Unread {
			s.records[i].Unread = false
			changed++
		}
	}
	observers := s.observersLocked()
	now := s.clock.Now()
	s.mu.Unlock()

	notify(observers, Change{Kind: ChangeAllRead, Count: changed, At: now})
}

// ClearAll はすべての通知を削除する。
func (s *Store) ClearAll() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	removed := len(s.records)
	s.records = nil
	observers := s.observersLocked()
	now := s.clock.Now()
	s.mu.Unlock()

	notify(observers, Change{Kind: ChangeCleared, Count: removed, At: now})
}

// Notifications は全通知のコピーを新しい順で返す。
func (s *Store) Notifications() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.records)
}

// List は条件に一致する通知のコピーを新しい順で返す。
func (s *Store) List(f Filter) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out
}

// Get は指定IDの通知を返す。
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexLocked(id)
	if i < 0 {
		return Record{}, false
	}
	return s.records[i], true
}

// UnreadCount は未読の通知件数を返す。呼び出しのたびに数え直す。
func (s *Store) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	for _, r := range s.records {
		if r.Unread {
			n++
		}
	}
	return n
}

// Len は保持している通知の件数を返す。
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Capacity は最大保持件数を返す。
func (s *Store) Capacity() int {
	return s.capacity
}

// Now はストアの時刻を返す。表示用の相対時刻計算に使用する。
func (s *Store) Now() time.Time {
	return s.clock.Now()
}

// Subscribe はオブザーバーを登録し、購読解除用の関数を返す。
func (s *Store) Subscribe(o Observer) (unsubscribe func()) {
	if o == nil {
		return func() {}
	}

	s.mu.Lock()
	id := s.nextObserver
	s.nextObserver++
	s.observers[id] = o
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

// indexLocked は指定IDの位置を返す。見つからない場合は-1。
func (s *Store) indexLocked(id string) int {
	return slices.IndexFunc(s.records, func(r Record) bool { return r.ID == id })
}

// observersLocked は登録順にオブザーバーを返す。
func (s *Store) observersLocked() []Observer {
	if len(s.observers) == 0 {
		return nil
	}
	keys := make([]uint64, 0, len(s.observers))
	for k := range s.observers {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := make([]Observer, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.observers[k])
	}
	return out
}

// notify はオブザーバーへ変更を通知する。
// オブザーバーがパニックしてもストアの状態は変更済みのまま保ち、ログに記録して次へ進む。
func notify(observers []Observer, c Change) {
	for _, o := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("オブザーバーでパニックが発生しました",
						slog.String("kind", string(c.Kind)),
						slog.Any("panic", r))
				}
			}()
			o(c)
		}()
	}
}
