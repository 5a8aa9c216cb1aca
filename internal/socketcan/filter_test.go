package socketcan

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kstaniek/go-bms-bridge/internal/can"
)

func TestLowByteFilters(t *testing.T) {
	fs := LowByteFilters([]uint8{0x02, 0x15, 0x02})
	assert.Len(t, fs, 2, "duplicates collapse")

	pass := func(fr can.Frame) bool {
		for _, f := range fs {
			if f.Match(fr) {
				return true
			}
		}
		return false
	}
	assert.True(t, pass(can.NewStandard(0x002, 1)))
	assert.True(t, pass(can.NewStandard(0x102, 1)), "low byte only")
	assert.True(t, pass(can.NewExtended(0x1F00015, 1)))
	assert.False(t, pass(can.NewStandard(0x003, 1)))
	assert.False(t, pass(can.Frame{CANID: 0x002 | can.CAN_RTR_FLAG}), "remote frames rejected")
	assert.Empty(t, LowByteFilters(nil))
}
