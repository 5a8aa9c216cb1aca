package socketcan

import "github.com/kstaniek/go-bms-bridge/internal/can"

// Filter is a kernel receive filter: a frame passes when
// frame.CANID & Mask == ID & Mask.
type Filter struct {
	ID   uint32
	Mask uint32
}

// LowByteFilters returns one filter per id matching data frames whose
// identifier ends in that byte, standard or extended.
func LowByteFilters(ids []uint8) []Filter {
	seen := make(map[uint8]bool, len(ids))
	out := make([]Filter, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, Filter{ID: uint32(id), Mask: 0xFF | can.CAN_RTR_FLAG})
	}
	return out
}

// Match applies the filter the way the kernel does.
func (f Filter) Match(fr can.Frame) bool { return fr.CANID&f.Mask == f.ID&f.Mask }
