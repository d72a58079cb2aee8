package notification

import (
	"sync"
	"testing"
	"time"
)

// fixedDelay は常にdを返す待ち時間関数。
func fixedDelay(d time.Duration) func() time.Duration {
	return func() time.Duration { return d }
}

// setupSimulator はフェイククロックで動くストアとSimulatorを生成する。
func setupSimulator(t *testing.T, opts ...SimulatorOption) (*Store, *Simulator, *fakeClock) {
	t.Helper()

	clock := newFakeClock(testEpoch)
	store := NewStore(WithClock(clock))
	opts = append([]SimulatorOption{WithSimulatorClock(clock), WithNextDelay(fixedDelay(15 * time.Second))}, opts...)
	sim := NewSimulator(store, opts...)
	t.Cleanup(sim.Close)
	return store, sim, clock
}

func TestSimulator(t *testing.T) {
	t.Parallel()

	t.Run("生成直後は無効でイベントが発生しないこと", func(t *testing.T) {
		t.Parallel()

		store, sim, clock := setupSimulator(t)
		clock.Advance(time.Hour)

		if sim.Enabled() {
			t.Error("Enabled() = true, want false")
		}
		if store.Len() != 0 {
			t.Errorf("Len() = %d, want 0", store.Len())
		}
	})

	t.Run("N回の発火で全テンプレートが1回ずつ発生すること", func(t *testing.T) {
		t.Parallel()

		store, sim, clock := setupSimulator(t)
		templates := DefaultTemplates()
		sim.SetEnabled(true)

		for range templates {
			clock.Advance(15 * time.Second)
		}

		got := store.Notifications()
		if len(got) != len(templates) {
			t.Fatalf("Len = %d, want %d", len(got), len(templates))
		}
		seen := make(map[string]int)
		for _, r := range got {
			seen[r.Title]++
		}
		for _, tpl := range templates {
			if seen[tpl.Title] != 1 {
				t.Errorf("%q の発生回数 = %d, want 1", tpl.Title, seen[tpl.Title])
			}
		}
		// 新しい順に並ぶため末尾が最初のテンプレート
		if got[len(got)-1].Title != templates[0].Title {
			t.Errorf("最初のイベント = %q, want %q", got[len(got)-1].Title, templates[0].Title)
		}

		clock.Advance(15 * time.Second)
		if head := store.Notifications()[0]; head.Title != templates[0].Title {
			t.Errorf("一巡後のイベント = %q, want %q", head.Title, templates[0].Title)
		}
		if sim.Emitted() != len(templates)+1 {
			t.Errorf("Emitted() = %d, want %d", sim.Emitted(), len(templates)+1)
		}
	})

	t.Run("待ち時間の途中では発生しないこと", func(t *testing.T) {
		t.Parallel()

		store, sim, clock := setupSimulator(t)
		sim.SetEnabled(true)

		clock.Advance(14 * time.Second)
		if store.Len() != 0 {
			t.Errorf("Len() = %d, want 0", store.Len())
		}
		clock.Advance(time.Second)
		if store.Len() != 1 {
			t.Errorf("Len() = %d, want 1", store.Len())
		}
	})

	t.Run("無効化後はどれだけ時間が進んでも発生しないこと", func(t *testing.T) {
		t.Parallel()

		store, sim, clock := setupSimulator(t)
		sim.SetEnabled(true)
		clock.Advance(15 * time.Second)

		sim.SetEnabled(false)
		sim.SetEnabled(false)
		clock.Advance(24 * time.Hour)

		if store.Len() != 1 {
			t.Errorf("Len() = %d, want 1", store.Len())
		}
		if clock.Pending() != 0 {
			t.Errorf("Pending() = %d, want 0", clock.Pending())
		}
	})

	t.Run("再有効化でテンプレートの続きから発生すること", func(t *testing.T) {
		t.Parallel()

		store, sim, clock := setupSimulator(t)
		templates := DefaultTemplates()

		sim.SetEnabled(true)
		clock.Advance(15 * time.Second)
		sim.SetEnabled(false)
		sim.SetEnabled(true)
		clock.Advance(15 * time.Second)

		got := store.Notifications()
		if len(got) != 2 || got[0].Title != templates[1].Title {
			t.Errorf("Notifications() = %+v, want 2件目が %q", got, templates[1].Title)
		}
	})

	t.Run("待機中のタイマーは常に1つ以下であること", func(t *testing.T) {
		t.Parallel()

		_, sim, clock := setupSimulator(t)
		for range 5 {
			sim.SetEnabled(true)
			sim.SetEnabled(true)
			if clock.Pending() != 1 {
				t.Fatalf("Pending() = %d, want 1", clock.Pending())
			}
			sim.SetEnabled(false)
			sim.SetEnabled(true)
		}
		clock.Advance(15 * time.Second)
		if clock.Pending() != 1 {
			t.Errorf("発火後の Pending() = %d, want 1", clock.Pending())
		}
	})

	t.Run("Close後は発生せず再有効化もできないこと", func(t *testing.T) {
		t.Parallel()

		store, sim, clock := setupSimulator(t)
		sim.SetEnabled(true)
		sim.Close()
		sim.Close()
		sim.SetEnabled(true)
		clock.Advance(24 * time.Hour)

		if store.Len() != 0 {
			t.Errorf("Len() = %d, want 0", store.Len())
		}
		if sim.Enabled() {
			t.Error("Close後に Enabled() = true")
		}
	})

	t.Run("テンプレートとフックを差し替えられること", func(t *testing.T) {
		t.Parallel()

		var ticks []string
		custom := []Input{testInput("独自イベント", LevelSuccess)}
		store, sim, clock := setupSimulator(t,
			WithTemplates(custom),
			WithTickHook(func(r Record) { ticks = append(ticks, r.ID) }),
		)
		sim.SetEnabled(true)
		clock.Advance(30 * time.Second)

		got := store.Notifications()
		if len(got) != 2 || got[0].Title != "独自イベント" || got[1].Title != "独自イベント" {
			t.Errorf("Notifications() = %+v", got)
		}
		if len(ticks) != 2 || ticks[0] != got[1].ID {
			t.Errorf("ticks = %v", ticks)
		}
	})

	t.Run("追加に失敗しても次のイベントを予約すること", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock(testEpoch)
		target := &countingAdder{}
		sim := NewSimulator(target,
			WithSimulatorClock(clock),
			WithNextDelay(fixedDelay(time.Second)),
			WithTemplates([]Input{{Title: "不正"}}),
		)
		defer sim.Close()

		sim.SetEnabled(true)
		clock.Advance(3 * time.Second)
		if target.calls() != 3 {
			t.Errorf("Add呼び出し回数 = %d, want 3", target.calls())
		}
	})
}

// countingAdder は呼び出し回数を数え、入力を検証して返すAdder。
type countingAdder struct {
	mu sync.Mutex
	n  int
}

func (a *countingAdder) Add(in Input) (Record, error) {
	a.mu.Lock()
	a.n++
	a.mu.Unlock()
	return Record{}, in.Validate()
}

func (a *countingAdder) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.n
}

func TestSimulatorRealClock(t *testing.T) {
	t.Parallel()

	t.Run("実時間のタイマーでも発生し停止できること", func(t *testing.T) {
		t.Parallel()

		store := NewStore()
		sim := NewSimulator(store, WithNextDelay(fixedDelay(5*time.Millisecond)))
		added := make(chan struct{}, 1)
		store.Subscribe(func(Change) {
			select {
			case added <- struct{}{}:
			default:
			}
		})

		sim.SetEnabled(true)
		select {
		case <-added:
		case <-time.After(2 * time.Second):
			t.Fatal("イベントが発生しなかった")
		}

		sim.Close()
		n := store.Len()
		time.Sleep(30 * time.Millisecond)
		if store.Len() != n {
			t.Errorf("Close後に件数が %d から %d に増えた", n, store.Len())
		}
	})
}

func TestRandomDelay(t *testing.T) {
	t.Parallel()

	t.Run("範囲内の値を返すこと", func(t *testing.T) {
		t.Parallel()

		next := RandomDelay(DefaultMinDelay, DefaultMaxDelay)
		for range 1000 {
			d := next()
			if d < DefaultMinDelay || d >= DefaultMaxDelay {
				t.Fatalf("RandomDelay() = %v, [%v, %v) の範囲外", d, DefaultMinDelay, DefaultMaxDelay)
			}
		}
	})

	t.Run("上限が下限以下なら下限を返すこと", func(t *testing.T) {
		t.Parallel()

		next := RandomDelay(10*time.Second, 10*time.Second)
		if d := next(); d != 10*time.Second {
			t.Errorf("RandomDelay() = %v, want 10s", d)
		}
	})
}
