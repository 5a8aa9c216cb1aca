// Package slcan speaks the Lawicel ASCII protocol used by serial-line CAN
// adapters (CANable, USBtin, CANUSB and clones).
//
// Data frames travel as one record per frame, terminated by '\r':
//
//	t1230\r              standard id 0x123, no data
//	t200401020115\r      standard id 0x200, payload 01 02 01 15
//	T000000152AABB\r     extended id 0x15, payload AA BB
//	r1230\r              remote frame (R for extended)
//
// Adapters with timestamps enabled append four hex digits, which are ignored.
package slcan

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/kstaniek/go-bms-bridge/internal/can"
	"github.com/kstaniek/go-bms-bridge/internal/metrics"
)

var ErrMalformed = errors.New("slcan: malformed record")

const (
	cr   = '\r'
	bell = 0x07
	// maxRecord is T + 8 id + dlc + 16 data + 4 timestamp.
	maxRecord = 1 + 8 + 1 + 16 + 4
)

type Codec struct{}

// CompactBuffer reclaims consumed prefix capacity when the underlying buffer
// grows large relative to unread bytes. It returns true if compaction occurred.
func CompactBuffer(b *bytes.Buffer) bool {
	data := b.Bytes()
	if len(data) < 1024 {
		return false
	}
	if len(data)*4 < cap(data) {
		clone := make([]byte, len(data))
		copy(clone, data)
		*b = *bytes.NewBuffer(clone)
		return true
	}
	return false
}

// Encode returns the record for f including the trailing '\r'.
func (Codec) Encode(f can.Frame) []byte {
	n := int(f.Len)
	if n > can.MaxLen {
		n = can.MaxLen
	}
	out := make([]byte, 0, 1+8+1+2*n+1)
	kind := byte('t')
	if f.Remote() {
		kind = 'r'
	}
	if f.Extended() {
		kind -= 'a' - 'A'
		out = append(out, kind)
		out = append(out, fmt.Sprintf("%08X", f.ID())...)
	} else {
		out = append(out, kind)
		out = append(out, fmt.Sprintf("%03X", f.ID())...)
	}
	out = append(out, byte('0'+n))
	if !f.Remote() {
		out = append(out, bytes.ToUpper([]byte(hex.EncodeToString(f.Data[:n])))...)
	}
	return append(out, cr)
}

// ParseRecord decodes one record without its terminator.
func ParseRecord(rec []byte) (can.Frame, error) {
	var fr can.Frame
	if len(rec) == 0 {
		return fr, ErrMalformed
	}
	var idLen int
	var flags uint32
	switch rec[0] {
	case 't':
		idLen = 3
	case 'r':
		idLen, flags = 3, can.CAN_RTR_FLAG
	case 'T':
		idLen, flags = 8, can.CAN_EFF_FLAG
	case 'R':
		idLen, flags = 8, can.CAN_EFF_FLAG|can.CAN_RTR_FLAG
	default:
		return fr, fmt.Errorf("%w: kind %q", ErrMalformed, rec[0])
	}
	if len(rec) < 1+idLen+1 {
		return fr, fmt.Errorf("%w: short record %q", ErrMalformed, rec)
	}
	id, err := strconv.ParseUint(string(rec[1:1+idLen]), 16, 32)
	if err != nil {
		return fr, fmt.Errorf("%w: id %q", ErrMalformed, rec[1:1+idLen])
	}
	if (idLen == 3 && id > can.CAN_SFF_MASK) || id > can.CAN_EFF_MASK {
		return fr, fmt.Errorf("%w: id 0x%X out of range", ErrMalformed, id)
	}
	dlc := int(rec[1+idLen]) - '0'
	if dlc < 0 || dlc > can.MaxLen {
		return fr, fmt.Errorf("%w: dlc %q", ErrMalformed, rec[1+idLen])
	}
	rest := rec[2+idLen:]
	dataLen := 2 * dlc
	if flags&can.CAN_RTR_FLAG != 0 {
		dataLen = 0
	}
	if len(rest) != dataLen && len(rest) != dataLen+4 {
		return fr, fmt.Errorf("%w: %d data digits for dlc %d", ErrMalformed, len(rest), dlc)
	}
	if _, err := hex.Decode(fr.Data[:], rest[:dataLen]); err != nil {
		return fr, fmt.Errorf("%w: data: %v", ErrMalformed, err)
	}
	fr.CANID = uint32(id) | flags
	fr.Len = uint8(dlc)
	return fr, nil
}

// DecodeStream consumes complete records from in and emits frames via out.
// Command acks ("\r", "z\r", "Z\r") are skipped; malformed records and
// error bells are counted and skipped. An incomplete tail stays buffered.
func (Codec) DecodeStream(in *bytes.Buffer, out func(can.Frame)) error {
	for {
		_ = CompactBuffer(in)
		data := in.Bytes()
		if len(data) == 0 {
			return nil
		}
		if data[0] == bell {
			metrics.IncMalformed()
			in.Next(1)
			continue
		}
		end := bytes.IndexByte(data, cr)
		if end < 0 {
			if len(data) > maxRecord {
				// no terminator where one must be: drop the garbage
				metrics.IncMalformed()
				in.Reset()
			}
			return nil
		}
		rec := data[:end]
		switch {
		case len(rec) == 0:
		case len(rec) == 1 && (rec[0] == 'z' || rec[0] == 'Z'):
		default:
			fr, err := ParseRecord(rec)
			if err != nil {
				metrics.IncMalformed()
			} else {
				out(fr)
			}
		}
		in.Next(end + 1)
	}
}
