package membership

import (
	"sort"
	"sync"
	"time"
)

const (
	// TGossip is the gossiper tick interval, spec.md §5.
	TGossip = 400 * time.Millisecond
	// TFail is the time since last refresh before an Alive entry is
	// considered Failed (Normal mode) or Suspected (Suspicion mode).
	TFail = 3 * time.Second
	// TCleanup is the additional grace period after Failed before an
	// entry is removed from the view entirely.
	TCleanup = 4 * time.Second
	// TSuspicionTimeout is the additional grace period a Suspected entry
	// gets (in Suspicion mode) before being marked Failed.
	TSuspicionTimeout = 5 * time.Second
	// ModeCooldown is the minimum time between mode switches.
	ModeCooldown = 10 * time.Second
	// GossipFanout is the number of random peers gossiped to per tick.
	GossipFanout = 3
)

// View is one process's membership table: a set of entries keyed by run-ID,
// plus the shared Normal/Suspicion mode. All mutation goes through View's
// methods, which hold a single lock — spec.md §5's "one writer per process,
// single critical section per datagram slot" rule.
type View struct {
	mu          sync.RWMutex
	entries     map[string]*Entry
	mode        Mode
	modeChanged time.Time
	selfRunID   string
	nodeIndexOf map[string]int // run_id -> 1-based node index, seeded at construction, extended by SetNodeIndex
}

// NewView creates an empty view seeded with this process's own entry.
func NewView(self Entry, nodeIndexOf map[string]int) *View {
	v := &View{
		entries:     make(map[string]*Entry),
		mode:        ModeNormal,
		modeChanged: time.Now(),
		selfRunID:   self.RunID(),
		nodeIndexOf: nodeIndexOf,
	}
	self.LocalObservedTime = time.Now()
	v.entries[self.RunID()] = &self
	return v
}

// SelfRunID returns this process's own run-ID.
func (v *View) SelfRunID() string {
	return v.selfRunID
}

// Mode returns the current detector mode.
func (v *View) Mode() Mode {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.mode
}

// SetMode forces the detector mode, used by the `enable suspicion` /
// `disable suspicion` CLI verbs. It always resets the cooldown clock.
func (v *View) SetMode(m Mode) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.mode = m
	v.modeChanged = time.Now()
}

// Self returns a copy of this process's own entry.
func (v *View) Self() Entry {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return *v.entries[v.selfRunID]
}

// IncrementSelfHeartbeat bumps this process's own heartbeat counter, the
// gossiper's per-tick action. A heartbeat already at 0 (a prior voluntary
// leave, spec.md §5 Cancellation) is left at 0 rather than resumed.
func (v *View) IncrementSelfHeartbeat() {
	v.mu.Lock()
	defer v.mu.Unlock()
	self := v.entries[v.selfRunID]
	if self.HeartbeatCounter == 0 {
		return
	}
	self.HeartbeatCounter++
	self.LocalObservedTime = time.Now()
}

// Leave sets this process's own heartbeat counter to 0, signaling a
// voluntary departure to peers on the next gossip pass.
func (v *View) Leave() {
	v.mu.Lock()
	defer v.mu.Unlock()
	self := v.entries[v.selfRunID]
	self.HeartbeatCounter = 0
	self.LocalObservedTime = time.Now()
}

// SetNodeIndex records the 1-based node index for a run-ID once the owning
// process resolves it (typically by matching a newly-merged entry's
// hostname against the fixed host list). A no-op fixed mapping at
// construction only covers the local process's own run-ID; peers become
// resolvable as their entries arrive.
func (v *View) SetNodeIndex(runID string, idx int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.nodeIndexOf == nil {
		v.nodeIndexOf = make(map[string]int)
	}
	v.nodeIndexOf[runID] = idx
}

// Entries returns a snapshot copy of every entry in the view.
func (v *View) Entries() []Entry {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]Entry, 0, len(v.entries))
	for _, e := range v.entries {
		out = append(out, *e)
	}
	return out
}

// NonSelfAlive returns run-IDs of every non-self entry whose status is not
// Failed, the gossiper's fanout candidate pool.
func (v *View) NonSelfAlive() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, 0, len(v.entries))
	for id, e := range v.entries {
		if id == v.selfRunID {
			continue
		}
		if e.Status != StatusFailed {
			out = append(out, id)
		}
	}
	return out
}

// GossipPayload returns up to MaxSlotsPerDatagram entries to send in one
// gossip datagram: the local view excluding Failed entries, per spec.md
// §4.1's Gossiper contract.
func (v *View) GossipPayload() []Entry {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]Entry, 0, MaxSlotsPerDatagram)
	for _, e := range v.entries {
		if e.Status == StatusFailed {
			continue
		}
		out = append(out, *e)
		if len(out) == MaxSlotsPerDatagram {
			break
		}
	}
	return out
}

// AliveSet returns the 1-based indices of every node whose status is not
// Failed, spec.md §3's alive-set, for nodes resolvable via nodeIndexOf.
func (v *View) AliveSet() []int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]int, 0, len(v.nodeIndexOf))
	for id, e := range v.entries {
		if e.Status == StatusFailed {
			continue
		}
		if idx, ok := v.nodeIndexOf[id]; ok {
			out = append(out, idx)
		}
	}
	sort.Ints(out)
	return out
}

// AliveSnapshot returns a nodeCount-long byte array, 1 if node index i+1 is
// alive, 0 otherwise — spec.md §4.1's "Exported interface".
func (v *View) AliveSnapshot(nodeCount int) []byte {
	alive := v.AliveSet()
	aliveIdx := make(map[int]bool, len(alive))
	for _, i := range alive {
		aliveIdx[i] = true
	}
	out := make([]byte, nodeCount)
	for i := 0; i < nodeCount; i++ {
		if aliveIdx[i+1] {
			out[i] = 1
		}
	}
	return out
}

// MaybeSwitchMode adopts a received mode if it differs from the local mode
// and the cooldown has elapsed, per spec.md §4.1's Listener contract.
// Returns true if the mode changed.
func (v *View) MaybeSwitchMode(received Mode, now time.Time) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if received == v.mode {
		return false
	}
	if now.Sub(v.modeChanged) < ModeCooldown {
		return false
	}
	v.mode = received
	v.modeChanged = now
	return true
}

// Merge applies the merge rule from spec.md §4.1 for one incoming entry
// against the local view, creating a new local entry if none exists yet.
// Returns true if this merge caused a Status transition worth logging.
func (v *View) Merge(incoming Entry, now time.Time) (transitioned bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	id := incoming.RunID()
	local, exists := v.entries[id]
	if !exists {
		e := incoming
		e.LocalObservedTime = now
		v.entries[id] = &e
		return false
	}

	if incoming.HeartbeatCounter > local.HeartbeatCounter || incoming.HeartbeatCounter == 0 {
		local.HeartbeatCounter = incoming.HeartbeatCounter
		local.LocalObservedTime = now
	}

	prevStatus := local.Status

	// Status adjustment from a peer's gossiped entry only applies in
	// Suspicion mode, per spec.md §4.1's Normal-mode state machine: Alive
	// can only reach Failed there via this node's own T_FAIL timeout.
	if v.mode == ModeSuspicion {
		if id == v.selfRunID && incoming.Status == StatusSuspected {
			self := v.entries[v.selfRunID]
			self.IncNum++
		} else if incoming.Status == StatusFailed {
			local.Status = StatusFailed
		} else if incoming.IncNum == local.IncNum && incoming.Status == StatusSuspected && local.Status != StatusFailed {
			local.Status = StatusSuspected
		} else if incoming.IncNum > local.IncNum && local.Status != StatusFailed {
			local.Status = incoming.Status
			local.IncNum = incoming.IncNum
		}
	}

	return local.Status != prevStatus
}

// AdvanceTimeouts runs one timeout-checker sweep over every non-self entry,
// applying the state machine table from spec.md §4.1. Removed entries are
// deleted from the view; the returned slice lists run-IDs that transitioned
// (for logging) distinct from those removed.
func (v *View) AdvanceTimeouts(now time.Time) (transitioned, removed []string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for id, e := range v.entries {
		if id == v.selfRunID {
			continue
		}
		diff := now.Sub(e.LocalObservedTime)
		prev := e.Status

		if e.HeartbeatCounter == 0 {
			e.Status = StatusFailed
		}

		switch {
		case v.mode == ModeNormal:
			switch e.Status {
			case StatusAlive:
				if diff >= TFail {
					e.Status = StatusFailed
				}
			case StatusFailed:
				if diff >= TFail+TCleanup {
					delete(v.entries, id)
					removed = append(removed, id)
					continue
				}
			}
		case v.mode == ModeSuspicion:
			switch e.Status {
			case StatusAlive:
				if diff >= TFail {
					e.Status = StatusSuspected
				}
			case StatusSuspected:
				if diff >= TFail+TSuspicionTimeout {
					e.Status = StatusFailed
				}
			case StatusFailed:
				if diff >= TFail+TSuspicionTimeout+TCleanup {
					delete(v.entries, id)
					removed = append(removed, id)
					continue
				}
			}
		}

		if e.Status != prev {
			transitioned = append(transitioned, id)
		}
	}
	return transitioned, removed
}
