package transport

import "github.com/kstaniek/go-bms-bridge/internal/can"

// FrameSource is a blocking CAN frame reader (one frame per call).
type FrameSource interface {
	ReadFrame(*can.Frame) error
}

// FrameSink is a CAN frame transmission target.
type FrameSink interface {
	SendFrame(can.Frame) error
}
