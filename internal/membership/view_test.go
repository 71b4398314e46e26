package membership

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func selfEntry(host string, port uint16) Entry {
	return Entry{Hostname: host, Port: port, StartTimestamp: 1000, HeartbeatCounter: 1, Status: StatusAlive}
}

func TestMergeCreatesUnknownEntry(t *testing.T) {
	v := NewView(selfEntry("self", 1), map[string]int{})
	peer := Entry{Hostname: "peer", Port: 2, StartTimestamp: 2000, HeartbeatCounter: 5, Status: StatusAlive}

	transitioned := v.Merge(peer, time.Now())
	require.False(t, transitioned)

	entries := v.Entries()
	require.Len(t, entries, 2)
}

func TestMergeAdoptsHigherHeartbeat(t *testing.T) {
	v := NewView(selfEntry("self", 1), map[string]int{})
	now := time.Now()
	peer := Entry{Hostname: "peer", Port: 2, StartTimestamp: 2000, HeartbeatCounter: 1, Status: StatusAlive}
	v.Merge(peer, now)

	peer.HeartbeatCounter = 9
	v.Merge(peer, now.Add(time.Second))

	for _, e := range v.Entries() {
		if e.Hostname == "peer" {
			require.Equal(t, uint32(9), e.HeartbeatCounter)
		}
	}
}

func TestMergeNormalModeIgnoresGossipedFailed(t *testing.T) {
	v := NewView(selfEntry("self", 1), map[string]int{})
	now := time.Now()
	peer := Entry{Hostname: "peer", Port: 2, StartTimestamp: 2000, HeartbeatCounter: 1, Status: StatusAlive}
	v.Merge(peer, now)

	failed := peer
	failed.Status = StatusFailed
	transitioned := v.Merge(failed, now)
	require.False(t, transitioned)

	for _, e := range v.Entries() {
		if e.Hostname == "peer" {
			require.Equal(t, StatusAlive, e.Status)
		}
	}
}

func TestMergeSuspicionModeFailedIsSticky(t *testing.T) {
	v := NewView(selfEntry("self", 1), map[string]int{})
	v.SetMode(ModeSuspicion)
	now := time.Now()
	peer := Entry{Hostname: "peer", Port: 2, StartTimestamp: 2000, HeartbeatCounter: 1, Status: StatusAlive}
	v.Merge(peer, now)

	failed := peer
	failed.Status = StatusFailed
	transitioned := v.Merge(failed, now)
	require.True(t, transitioned)

	for _, e := range v.Entries() {
		if e.Hostname == "peer" {
			require.Equal(t, StatusFailed, e.Status)
		}
	}
}

func TestMergeSuspicionModeSelfDefense(t *testing.T) {
	self := selfEntry("self", 1)
	v := NewView(self, map[string]int{})
	v.SetMode(ModeSuspicion)

	before := v.Self().IncNum
	claim := self
	claim.Status = StatusSuspected
	v.Merge(claim, time.Now())

	require.Equal(t, before+1, v.Self().IncNum)
	require.Equal(t, StatusAlive, v.Self().Status)
}

func TestMergeSuspicionModeMatchingIncNumRaisesToSuspected(t *testing.T) {
	v := NewView(selfEntry("self", 1), map[string]int{})
	v.SetMode(ModeSuspicion)
	now := time.Now()

	peer := Entry{Hostname: "peer", Port: 2, StartTimestamp: 2000, HeartbeatCounter: 1, Status: StatusAlive, IncNum: 0}
	v.Merge(peer, now)

	suspected := peer
	suspected.Status = StatusSuspected
	transitioned := v.Merge(suspected, now)
	require.True(t, transitioned)
}

func TestAdvanceTimeoutsNormalModeAliveToFailed(t *testing.T) {
	v := NewView(selfEntry("self", 1), map[string]int{"peer:2:2000": 2})
	now := time.Now()
	v.Merge(Entry{Hostname: "peer", Port: 2, StartTimestamp: 2000, HeartbeatCounter: 1, Status: StatusAlive}, now)

	transitioned, removed := v.AdvanceTimeouts(now.Add(TFail + time.Second))
	require.Contains(t, transitioned, "peer:2:2000")
	require.Empty(t, removed)
}

func TestAdvanceTimeoutsNormalModeFailedCleanup(t *testing.T) {
	v := NewView(selfEntry("self", 1), map[string]int{})
	now := time.Now()
	v.Merge(Entry{Hostname: "peer", Port: 2, StartTimestamp: 2000, HeartbeatCounter: 0, Status: StatusAlive}, now)

	_, removed := v.AdvanceTimeouts(now.Add(TFail + TCleanup + time.Second))
	require.Contains(t, removed, "peer:2:2000")
}

func TestAdvanceTimeoutsNeverTouchesSelf(t *testing.T) {
	v := NewView(selfEntry("self", 1), map[string]int{})
	transitioned, removed := v.AdvanceTimeouts(time.Now().Add(100 * time.Hour))
	require.Empty(t, transitioned)
	require.Empty(t, removed)
}

func TestAliveSnapshotReflectsFailedNodes(t *testing.T) {
	v := NewView(selfEntry("self", 1), map[string]int{"self:1:1000": 1, "peer:2:2000": 2})
	v.SetMode(ModeSuspicion)
	now := time.Now()
	v.Merge(Entry{Hostname: "peer", Port: 2, StartTimestamp: 2000, HeartbeatCounter: 0, Status: StatusFailed}, now)

	snap := v.AliveSnapshot(3)
	require.Equal(t, []byte{1, 0, 0}, snap)
}

func TestMaybeSwitchModeRespectsCooldown(t *testing.T) {
	v := NewView(selfEntry("self", 1), map[string]int{})
	now := time.Now()
	require.True(t, v.MaybeSwitchMode(ModeSuspicion, now))
	require.False(t, v.MaybeSwitchMode(ModeNormal, now.Add(time.Second)))
	require.True(t, v.MaybeSwitchMode(ModeNormal, now.Add(ModeCooldown+time.Second)))
}
