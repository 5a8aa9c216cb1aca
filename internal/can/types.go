package can

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// SocketCAN flag bits for can_id (same values as <linux/can.h>)
const (
	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7FF
	CAN_EFF_MASK = 0x1FFFFFFF
)

// MaxLen is the classic CAN payload limit.
const MaxLen = 8

// Frame is a classic CAN frame as seen by the bridge.
// CANID carries EFF/RTR/ERR flags in its upper bits like SocketCAN.
// Len is payload length (0..8); only the first Len bytes of Data are valid.
type Frame struct {
	CANID uint32
	Len   uint8
	Data  [MaxLen]byte
}

// NewStandard builds an 11-bit data frame. Payload bytes past MaxLen are dropped.
func NewStandard(id uint32, payload ...byte) Frame {
	fr := Frame{CANID: id & CAN_SFF_MASK}
	fr.Len = uint8(copy(fr.Data[:], payload))
	return fr
}

// NewExtended builds a 29-bit data frame.
func NewExtended(id uint32, payload ...byte) Frame {
	fr := Frame{CANID: (id & CAN_EFF_MASK) | CAN_EFF_FLAG}
	fr.Len = uint8(copy(fr.Data[:], payload))
	return fr
}

// Extended reports whether the frame uses a 29-bit identifier.
func (f Frame) Extended() bool { return f.CANID&CAN_EFF_FLAG != 0 }

// Remote reports whether the RTR flag is set.
func (f Frame) Remote() bool { return f.CANID&CAN_RTR_FLAG != 0 }

// ID returns the identifier with flag bits stripped.
func (f Frame) ID() uint32 {
	if f.Extended() {
		return f.CANID & CAN_EFF_MASK
	}
	return f.CANID & CAN_SFF_MASK
}

// Payload returns the valid data bytes. Len values above MaxLen are clamped.
func (f *Frame) Payload() []byte {
	n := int(f.Len)
	if n > MaxLen {
		n = MaxLen
	}
	return f.Data[:n]
}

// String renders the frame in candump style, e.g. "102#03E8".
func (f Frame) String() string {
	idFmt := "%03X"
	if f.Extended() {
		idFmt = "%08X"
	}
	id := fmt.Sprintf(idFmt, f.ID())
	if f.Remote() {
		return id + "#R"
	}
	return id + "#" + strings.ToUpper(hex.EncodeToString(f.Payload()))
}
