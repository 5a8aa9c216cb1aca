package bms

import (
	"errors"
	"fmt"

	"github.com/kstaniek/go-bms-bridge/internal/metrics"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrConfigShape   = errors.New("config shape")
	ErrFieldType     = errors.New("config field type")
	ErrUnknownKey    = errors.New("unknown config key")
	ErrDecodeBounds  = errors.New("decode bounds")
	ErrEmptyPollList = errors.New("empty poll list")
)

// ShapeError reports a configuration node of the wrong structural type.
// It aborts loading of the whole section.
type ShapeError struct {
	Section string
	Path    string
	Want    string
	Got     string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: %s: want %s, got %s", e.Section, e.Path, e.Want, e.Got)
}

func (e *ShapeError) Unwrap() error { return ErrConfigShape }

// FieldTypeError reports one parameter key with a wrong value type or an
// out-of-range value. The parameter is dropped.
type FieldTypeError struct {
	Section string
	Group   FrameID
	Index   int // position of the parameter within the group's field list
	Field   string
	Want    string
	Got     string
}

func (e *FieldTypeError) Error() string {
	return fmt.Sprintf("%s: group 0x%02X field #%d %q: want %s, got %s",
		e.Section, uint8(e.Group), e.Index, e.Field, e.Want, e.Got)
}

func (e *FieldTypeError) Unwrap() error { return ErrFieldType }

// UnknownKeyError is the warning raised for an unrecognized parameter key.
type UnknownKeyError struct {
	Section string
	Group   FrameID
	Index   int
	Key     string
}

func (e *UnknownKeyError) Error() string {
	return fmt.Sprintf("%s: group 0x%02X field #%d: unexpected key %q", e.Section, uint8(e.Group), e.Index, e.Key)
}

func (e *UnknownKeyError) Unwrap() error { return ErrUnknownKey }

// BoundsError reports a field that does not fit in the received payload.
type BoundsError struct {
	Group      FrameID
	Field      string
	Offset     int
	Length     int
	PayloadLen int
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("frame 0x%02X field %q: bytes [%d,%d) outside payload of %d",
		uint8(e.Group), e.Field, e.Offset, e.Offset+e.Length, e.PayloadLen)
}

func (e *BoundsError) Unwrap() error { return ErrDecodeBounds }

// EmptyPollListError is fatal: polling needs at least one id per list.
type EmptyPollListError struct {
	List ListID
}

func (e *EmptyPollListError) Error() string {
	return fmt.Sprintf("poll list %s has no ids", e.List)
}

func (e *EmptyPollListError) Unwrap() error { return ErrEmptyPollList }

// metricKind maps error classes to stable metric labels.
func metricKind(err error) string {
	switch {
	case errors.Is(err, ErrDecodeBounds):
		return metrics.DecodeBounds
	case errors.Is(err, ErrUnknownKey):
		return metrics.ConfigUnknownKey
	case errors.Is(err, ErrFieldType):
		return metrics.ConfigFieldType
	default:
		return "other"
	}
}
