//go:build !linux

package socketcan

import (
	"errors"

	"github.com/kstaniek/go-bms-bridge/internal/can"
)

// ErrUnsupported is returned by Open on platforms without SocketCAN.
var ErrUnsupported = errors.New("socketcan: only supported on linux")

type Device struct{}

func Open(string, ...Filter) (*Device, error) { return nil, ErrUnsupported }

func (*Device) Close() error               { return ErrUnsupported }
func (*Device) ReadFrame(*can.Frame) error { return ErrUnsupported }
func (*Device) WriteFrame(can.Frame) error { return ErrUnsupported }
