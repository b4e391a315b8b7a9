package window

import (
	"sort"
	"sync"
	"time"

	"arbwatch/internal/spread"
)

// errorTicksToClose is how many consecutive bad observations a pair may
// accumulate before its open windows are force-closed as interrupted. A
// single bad tick never terminates a window.
const errorTicksToClose = 3

type key struct {
	pairID    string
	direction spread.Direction
}

// Result reports the window transitions produced by one observation.
type Result struct {
	Opened []*Window
	Closed []*Window
}

// Tracker owns the active-window map, one slot per (pair, direction). All
// mutation of windows happens under its lock; callers receive clones.
type Tracker struct {
	mu        sync.Mutex
	active    map[key]*Window
	errStreak map[string]int
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		active:    make(map[key]*Window),
		errStreak: make(map[string]int),
	}
}

// Observe drives both directional state machines for one OK observation.
// A spread of exactly zero is non-positive: it closes an open window and
// never opens one.
func (t *Tracker) Observe(pairID, label string, net spread.Net, now time.Time) Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.errStreak[pairID] = 0

	var res Result
	for _, dir := range spread.Directions {
		s := net.ByDirection(dir)
		k := key{pairID: pairID, direction: dir}
		w := t.active[k]

		switch {
		case w == nil && s.IsPositive():
			w = newWindow(pairID, label, dir, s, now)
			t.active[k] = w
			res.Opened = append(res.Opened, w.Clone())
		case w != nil && s.IsPositive():
			w.update(s, now)
		case w != nil:
			delete(t.active, k)
			w.close(now, false)
			res.Closed = append(res.Closed, w)
		}
	}
	return res
}

// ObserveError records a missing or invalid observation for the pair. Open
// windows hold their stats; after errorTicksToClose consecutive bad ticks
// they are force-closed with interrupted set.
func (t *Tracker) ObserveError(pairID string, now time.Time) []*Window {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.errStreak[pairID]++
	if t.errStreak[pairID] < errorTicksToClose {
		return nil
	}
	t.errStreak[pairID] = 0
	return t.closePairLocked(pairID, now)
}

func (t *Tracker) closePairLocked(pairID string, now time.Time) []*Window {
	var closed []*Window
	for _, dir := range spread.Directions {
		k := key{pairID: pairID, direction: dir}
		if w := t.active[k]; w != nil {
			delete(t.active, k)
			w.close(now, true)
			closed = append(closed, w)
		}
	}
	return closed
}

// ForceCloseAll closes every open window as interrupted. Used on shutdown.
func (t *Tracker) ForceCloseAll(now time.Time) []*Window {
	t.mu.Lock()
	defer t.mu.Unlock()

	closed := make([]*Window, 0, len(t.active))
	for k, w := range t.active {
		delete(t.active, k)
		w.close(now, true)
		closed = append(closed, w)
	}
	sortWindows(closed)
	return closed
}

// OpenWindows returns clones of all currently-open windows, ordered for
// deterministic checkpoints.
func (t *Tracker) OpenWindows() []*Window {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Window, 0, len(t.active))
	for _, w := range t.active {
		out = append(out, w.Clone())
	}
	sortWindows(out)
	return out
}

// Restore loads previously checkpointed open windows. Later observations
// continue accumulating onto the restored stats.
func (t *Tracker) Restore(windows []*Window) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, w := range windows {
		if w == nil || w.EndTime != nil {
			continue
		}
		cp := w.Clone()
		if cp.SumSpread.IsZero() && !cp.PeakSpread.IsZero() {
			cp.SumSpread = cp.PeakSpread
		}
		t.active[key{pairID: cp.PairID, direction: cp.Direction}] = cp
	}
}

func sortWindows(ws []*Window) {
	sort.Slice(ws, func(i, j int) bool {
		if ws[i].PairID != ws[j].PairID {
			return ws[i].PairID < ws[j].PairID
		}
		return ws[i].Direction < ws[j].Direction
	})
}
