package membership

import (
	"encoding/binary"
	"fmt"
)

// SlotSize is the fixed size of one serialized entry, spec.md §4.1.
const SlotSize = 70

// MaxSlotsPerDatagram bounds how many entries one gossip UDP packet carries.
const MaxSlotsPerDatagram = 10

const hostnameFieldSize = 50

// EncodeSlot serializes one entry into a fixed 70-byte slot per spec.md's
// offset table. A zero-value Entry (empty hostname) serializes to an
// all-zero slot, the end-of-payload sentinel.
func EncodeSlot(e Entry) ([SlotSize]byte, error) {
	var slot [SlotSize]byte
	if len(e.Hostname) >= hostnameFieldSize {
		return slot, fmt.Errorf("membership: hostname %q too long for 50-byte field", e.Hostname)
	}
	copy(slot[0:hostnameFieldSize], e.Hostname)
	binary.LittleEndian.PutUint16(slot[50:52], e.Port)
	binary.LittleEndian.PutUint64(slot[52:60], uint64(e.StartTimestamp))
	binary.LittleEndian.PutUint32(slot[60:64], e.HeartbeatCounter)
	slot[64] = byte(e.Status)
	binary.LittleEndian.PutUint32(slot[65:69], e.IncNum)
	return slot, nil
}

// DecodeSlot parses one 70-byte slot. ok is false for an all-zero sentinel
// slot (empty hostname), signaling the caller to stop parsing the datagram.
func DecodeSlot(slot [SlotSize]byte) (e Entry, ok bool) {
	nul := 0
	for nul < hostnameFieldSize && slot[nul] != 0 {
		nul++
	}
	if nul == 0 {
		return Entry{}, false
	}
	e.Hostname = string(slot[0:nul])
	e.Port = binary.LittleEndian.Uint16(slot[50:52])
	e.StartTimestamp = int64(binary.LittleEndian.Uint64(slot[52:60]))
	e.HeartbeatCounter = binary.LittleEndian.Uint32(slot[60:64])
	e.Status = Status(slot[64])
	e.IncNum = binary.LittleEndian.Uint32(slot[65:69])
	return e, true
}

// EncodeDatagram packs up to MaxSlotsPerDatagram entries plus a trailing
// mode byte into one UDP payload. Unused slots are all zero, so every
// payload is MaxSlotsPerDatagram*SlotSize+1 bytes long.
func EncodeDatagram(entries []Entry, mode Mode) ([]byte, error) {
	if len(entries) > MaxSlotsPerDatagram {
		return nil, fmt.Errorf("membership: %d entries exceeds max %d per datagram", len(entries), MaxSlotsPerDatagram)
	}
	buf := make([]byte, 0, MaxSlotsPerDatagram*SlotSize+1)
	for _, e := range entries {
		slot, err := EncodeSlot(e)
		if err != nil {
			return nil, err
		}
		buf = append(buf, slot[:]...)
	}
	var zero [SlotSize]byte
	for i := len(entries); i < MaxSlotsPerDatagram; i++ {
		buf = append(buf, zero[:]...)
	}
	buf = append(buf, byte(mode))
	return buf, nil
}

// DecodeDatagram parses a gossip UDP payload back into its carried entries
// and mode byte. Parsing of entries stops at the first sentinel slot.
func DecodeDatagram(payload []byte) ([]Entry, Mode, error) {
	if len(payload) < 1 {
		return nil, ModeNormal, fmt.Errorf("membership: empty datagram")
	}
	body := payload[:len(payload)-1]
	mode := Mode(payload[len(payload)-1])

	var entries []Entry
	for off := 0; off+SlotSize <= len(body); off += SlotSize {
		var slot [SlotSize]byte
		copy(slot[:], body[off:off+SlotSize])
		e, ok := DecodeSlot(slot)
		if !ok {
			break
		}
		entries = append(entries, e)
	}
	return entries, mode, nil
}
