// Package bms decodes battery-management telemetry from CAN frames and
// schedules the poll requests that make the device send them.
//
// A Model maps a one-byte FrameID to the ordered Group of Parameters carried
// by frames with that id, and holds the two poll lists cycled by the
// Scheduler. Models are immutable once built and may be shared freely
// between the receive path (Decoder) and the poll path (Scheduler).
package bms

import (
	"slices"

	"github.com/kstaniek/go-bms-bridge/internal/can"
)

// FrameID is the one-byte key shared by poll requests and inbound frames.
// Inbound identifiers are narrowed to their low 8 bits, so distinct bus ids
// that share a low byte map to the same group.
type FrameID uint8

// FrameIDOf narrows a received frame's identifier to a FrameID.
func FrameIDOf(fr can.Frame) FrameID { return FrameID(fr.ID() & 0xFF) }

// Parameter is the decoding recipe for one signal.
type Parameter struct {
	Name   string
	Offset int // zero-based byte offset into the payload
	Length int // byte width, 1..8
	Signed bool
	Factor float64
	Unit   string
}

// Group is the ordered set of parameters carried by one FrameID.
type Group []Parameter

// ListID selects one of the two poll lists.
type ListID int

const (
	ListA ListID = iota
	ListB
)

func (l ListID) String() string {
	switch l {
	case ListA:
		return "a"
	case ListB:
		return "b"
	}
	return "?"
}

func (l ListID) valid() bool { return l == ListA || l == ListB }

// Model is the loaded configuration. The zero value is an empty model.
type Model struct {
	groups map[FrameID]Group
	lists  [2][]FrameID
}

// NewModel copies its inputs into an immutable Model.
func NewModel(groups map[FrameID]Group, listA, listB []FrameID) *Model {
	m := &Model{groups: make(map[FrameID]Group, len(groups))}
	for id, g := range groups {
		m.groups[id] = slices.Clone(g)
	}
	m.lists[ListA] = slices.Clone(listA)
	m.lists[ListB] = slices.Clone(listB)
	return m
}

// Group returns a copy of the parameters configured for id.
func (m *Model) Group(id FrameID) (Group, bool) {
	g, ok := m.group(id)
	return slices.Clone(g), ok
}

// group returns the shared slice; callers must not modify it.
func (m *Model) group(id FrameID) (Group, bool) {
	g, ok := m.groups[id]
	return g, ok
}

// PollList returns a copy of the ids cycled for list l.
func (m *Model) PollList(l ListID) []FrameID {
	if !l.valid() {
		return nil
	}
	return slices.Clone(m.lists[l])
}

// IDs returns every configured decode key in ascending order.
func (m *Model) IDs() []FrameID {
	ids := make([]FrameID, 0, len(m.groups))
	for id := range m.groups {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len is the number of configured groups.
func (m *Model) Len() int { return len(m.groups) }
