package dedup

// Defaults for live reporting.
const (
	DefaultCooldown = 2.5
	DefaultCapacity = 10
)

// Decision is the outcome of observing one detection.
type Decision int

const (
	Suppress Decision = iota
	Report
)

func (d Decision) String() string {
	if d == Report {
		return "report"
	}
	return "suppress"
}

// State is the per-audio-source cooldown state. It is not safe for concurrent
// use; each ingestion loop owns one.
type State struct {
	cooldown     float64
	lastReported float64
	reported     bool

	// recent is a ring of detection times, oldest at head.
	recent []float64
	head   int
	size   int
}

// NewState allocates a state with the given cooldown (seconds) and ring capacity.
// Non-positive values fall back to the defaults.
func NewState(cooldown float64, capacity int) *State {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &State{cooldown: cooldown, recent: make([]float64, capacity)}
}

// Observe records a detection at now (seconds) and decides whether to report it.
func Observe(st *State, now float64) Decision {
	st.prune(now)
	st.push(now)

	if st.reported && now-st.lastReported < st.cooldown {
		return Suppress
	}
	st.lastReported = now
	st.reported = true
	return Report
}

// Reset clears all state, e.g. on restart.
func (st *State) Reset() {
	st.lastReported = 0
	st.reported = false
	st.head = 0
	st.size = 0
}

// LastReported returns the time of the last reported detection.
func (st *State) LastReported() (float64, bool) {
	return st.lastReported, st.reported
}

// Recent returns the buffered detection times, oldest first.
func (st *State) Recent() []float64 {
	out := make([]float64, 0, st.size)
	for i := 0; i < st.size; i++ {
		out = append(out, st.recent[(st.head+i)%len(st.recent)])
	}
	return out
}

// RecentCount returns how many detections are buffered.
func (st *State) RecentCount() int {
	return st.size
}

func (st *State) push(now float64) {
	if st.size == len(st.recent) {
		st.recent[st.head] = now
		st.head = (st.head + 1) % len(st.recent)
		return
	}
	st.recent[(st.head+st.size)%len(st.recent)] = now
	st.size++
}

func (st *State) prune(now float64) {
	cutoff := now - 2*st.cooldown
	for st.size > 0 && st.recent[st.head] < cutoff {
		st.head = (st.head + 1) % len(st.recent)
		st.size--
	}
}
