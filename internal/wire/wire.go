// Package wire implements the little-endian binary framing shared by every
// TCP protocol in the cluster: master, datanode, sdfsclient, worker and
// leader all read and write the same primitives instead of hand-rolling
// binary.Write calls at each call site.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxStringLen is the largest length a length-prefixed string can declare:
// the length prefix is a single byte.
const MaxStringLen = 255

// Confirmation is the fixed 4-byte sentinel datanodes send after a
// successful WRITE_FILE.
var Confirmation = [4]byte{0xDE, 0xAD, 0xBE, 0xEF}

// WriteU8 writes a single byte.
func WriteU8(w io.Writer, b byte) error {
	_, err := w.Write([]byte{b})
	return err
}

// ReadU8 reads a single byte.
func ReadU8(r io.Reader) (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// WriteI32 writes a little-endian 4-byte signed integer.
func WriteI32(w io.Writer, n int32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(n))
	_, err := w.Write(buf[:])
	return err
}

// ReadI32 reads a little-endian 4-byte signed integer.
func ReadI32(r io.Reader) (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

// WriteString writes a u8-length-prefixed UTF-8 string.
func WriteString(w io.Writer, s string) error {
	if len(s) > MaxStringLen {
		return fmt.Errorf("wire: string %q exceeds %d bytes", s, MaxStringLen)
	}
	if err := WriteU8(w, byte(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

// ReadString reads a u8-length-prefixed UTF-8 string.
func ReadString(r io.Reader) (string, error) {
	n, err := ReadU8(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
	}
	return string(buf), nil
}

// WriteU8Slice writes a u8 count followed by that many raw bytes (used for
// the master's PUT/LS replica-index replies).
func WriteU8Slice(w io.Writer, vals []byte) error {
	if len(vals) > MaxStringLen {
		return fmt.Errorf("wire: slice of %d exceeds %d", len(vals), MaxStringLen)
	}
	if err := WriteU8(w, byte(len(vals))); err != nil {
		return err
	}
	_, err := w.Write(vals)
	return err
}

// ReadU8Slice reads a u8 count followed by that many raw bytes.
func ReadU8Slice(r io.Reader) ([]byte, error) {
	n, err := ReadU8(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// WriteCustomParams writes a u8 count followed by that many length-prefixed
// strings, matching the MapleJuice leader->worker task framing.
func WriteCustomParams(w io.Writer, params []string) error {
	if len(params) > MaxStringLen {
		return fmt.Errorf("wire: %d custom params exceeds %d", len(params), MaxStringLen)
	}
	if err := WriteU8(w, byte(len(params))); err != nil {
		return err
	}
	for _, p := range params {
		if err := WriteString(w, p); err != nil {
			return err
		}
	}
	return nil
}

// ReadCustomParams reads a u8 count followed by that many length-prefixed
// strings.
func ReadCustomParams(r io.Reader) ([]string, error) {
	n, err := ReadU8(r)
	if err != nil {
		return nil, err
	}
	params := make([]string, 0, n)
	for i := byte(0); i < n; i++ {
		p, err := ReadString(r)
		if err != nil {
			return nil, err
		}
		params = append(params, p)
	}
	return params, nil
}

// KeyFile is a (key, sdfs filename) pair reported by a map worker.
type KeyFile struct {
	Key      string
	Filename string
}

// WriteKeyFiles writes a u8 count followed by that many (key, filename)
// string pairs.
func WriteKeyFiles(w io.Writer, kf []KeyFile) error {
	if len(kf) > MaxStringLen {
		return fmt.Errorf("wire: %d key-files exceeds %d", len(kf), MaxStringLen)
	}
	if err := WriteU8(w, byte(len(kf))); err != nil {
		return err
	}
	for _, e := range kf {
		if err := WriteString(w, e.Key); err != nil {
			return err
		}
		if err := WriteString(w, e.Filename); err != nil {
			return err
		}
	}
	return nil
}

// ReadKeyFiles reads a u8 count followed by that many (key, filename) string
// pairs.
func ReadKeyFiles(r io.Reader) ([]KeyFile, error) {
	n, err := ReadU8(r)
	if err != nil {
		return nil, err
	}
	out := make([]KeyFile, 0, n)
	for i := byte(0); i < n; i++ {
		key, err := ReadString(r)
		if err != nil {
			return nil, err
		}
		filename, err := ReadString(r)
		if err != nil {
			return nil, err
		}
		out = append(out, KeyFile{Key: key, Filename: filename})
	}
	return out, nil
}

// WriteFramed streams r to w as repeated (i32 size, payload) chunks
// terminated by a zero-size frame, the framing spec.md §4.2 uses for
// WRITE_FILE/READ_FILE payloads.
func WriteFramed(w io.Writer, r io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if werr := WriteI32(w, int32(n)); werr != nil {
				return werr
			}
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return WriteI32(w, 0)
		}
		if err != nil {
			return err
		}
	}
}

// ReadFramed reads repeated (i32 size, payload) chunks into w until a
// zero-size frame is received.
func ReadFramed(r io.Reader, w io.Writer) error {
	for {
		size, err := ReadI32(r)
		if err != nil {
			return err
		}
		if size == 0 {
			return nil
		}
		if size < 0 {
			return fmt.Errorf("wire: negative frame size %d", size)
		}
		if _, err := io.CopyN(w, r, int64(size)); err != nil {
			return err
		}
	}
}

// WriteConfirmation writes the fixed DE AD BE EF sentinel.
func WriteConfirmation(w io.Writer) error {
	_, err := w.Write(Confirmation[:])
	return err
}

// ReadConfirmation reads 4 bytes and reports whether they match the
// sentinel.
func ReadConfirmation(r io.Reader) (bool, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return false, err
	}
	return buf == Confirmation, nil
}
