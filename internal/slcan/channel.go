package slcan

import (
	"fmt"
	"io"
	"sort"
)

// bitrateCodes maps CAN bitrates to the Lawicel S<n> setup command.
var bitrateCodes = map[int]byte{
	10000:   '0',
	20000:   '1',
	50000:   '2',
	100000:  '3',
	125000:  '4',
	250000:  '5',
	500000:  '6',
	800000:  '7',
	1000000: '8',
}

// BitrateCode returns the S<n> digit for bitrate.
func BitrateCode(bitrate int) (byte, error) {
	c, ok := bitrateCodes[bitrate]
	if !ok {
		return 0, fmt.Errorf("slcan: unsupported bitrate %d (supported: %v)", bitrate, SupportedBitrates())
	}
	return c, nil
}

// SupportedBitrates lists the bitrates accepted by BitrateCode, ascending.
func SupportedBitrates() []int {
	out := make([]int, 0, len(bitrateCodes))
	for b := range bitrateCodes {
		out = append(out, b)
	}
	sort.Ints(out)
	return out
}

// OpenChannel closes any open channel, sets the bitrate and opens the
// channel: "C\r", "S<n>\r", "O\r". Adapter acks arrive on the read path
// and are skipped by DecodeStream.
func OpenChannel(w io.Writer, bitrate int) error {
	code, err := BitrateCode(bitrate)
	if err != nil {
		return err
	}
	for _, cmd := range [][]byte{{'C', cr}, {'S', code, cr}, {'O', cr}} {
		if _, err := w.Write(cmd); err != nil {
			return fmt.Errorf("slcan: write %q: %w", cmd[:len(cmd)-1], err)
		}
	}
	return nil
}

// CloseChannel takes the adapter off the bus.
func CloseChannel(w io.Writer) error {
	_, err := w.Write([]byte{'C', cr})
	return err
}
