package membership

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeSlotRoundTrip(t *testing.T) {
	e := Entry{
		Hostname:         "fa23-cs425-5701.cs.illinois.edu",
		Port:             50001,
		StartTimestamp:   1700000000,
		HeartbeatCounter: 42,
		Status:           StatusSuspected,
		IncNum:           7,
	}
	slot, err := EncodeSlot(e)
	require.NoError(t, err)
	require.Len(t, slot, SlotSize)

	got, ok := DecodeSlot(slot)
	require.True(t, ok)
	require.Equal(t, e.Hostname, got.Hostname)
	require.Equal(t, e.Port, got.Port)
	require.Equal(t, e.StartTimestamp, got.StartTimestamp)
	require.Equal(t, e.HeartbeatCounter, got.HeartbeatCounter)
	require.Equal(t, e.Status, got.Status)
	require.Equal(t, e.IncNum, got.IncNum)
}

func TestDecodeSlotSentinelIsEmptyHostname(t *testing.T) {
	var zero [SlotSize]byte
	_, ok := DecodeSlot(zero)
	require.False(t, ok)
}

func TestEncodeDatagramRejectsTooManyEntries(t *testing.T) {
	entries := make([]Entry, MaxSlotsPerDatagram+1)
	for i := range entries {
		entries[i] = Entry{Hostname: "h"}
	}
	_, err := EncodeDatagram(entries, ModeNormal)
	require.Error(t, err)
}

func TestEncodeDecodeDatagramRoundTrip(t *testing.T) {
	entries := []Entry{
		{Hostname: "node1", Port: 1, Status: StatusAlive, HeartbeatCounter: 1},
		{Hostname: "node2", Port: 2, Status: StatusSuspected, HeartbeatCounter: 2, IncNum: 3},
	}
	payload, err := EncodeDatagram(entries, ModeSuspicion)
	require.NoError(t, err)
	require.Len(t, payload, MaxSlotsPerDatagram*SlotSize+1)

	got, mode, err := DecodeDatagram(payload)
	require.NoError(t, err)
	require.Equal(t, ModeSuspicion, mode)
	require.Len(t, got, 2)
	require.Equal(t, "node1", got[0].Hostname)
	require.Equal(t, "node2", got[1].Hostname)
}

func TestDecodeDatagramStopsAtSentinel(t *testing.T) {
	payload, err := EncodeDatagram([]Entry{{Hostname: "only"}}, ModeNormal)
	require.NoError(t, err)
	got, _, err := DecodeDatagram(payload)
	require.NoError(t, err)
	require.Len(t, got, 1)
}
