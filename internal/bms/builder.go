package bms

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/kstaniek/go-bms-bridge/internal/logging"
	"github.com/kstaniek/go-bms-bridge/internal/metrics"
	"github.com/kstaniek/go-bms-bridge/internal/paramtree"
)

// Parameter keys recognized in a field struct.
const (
	keyName     = "name"
	keyOffset   = "offset"
	keyLen      = "len"
	keyIsSigned = "is_signed"
	keyFactor   = "factor"
	keyUnit     = "unit"
)

var requiredKeys = []string{keyName, keyOffset, keyLen, keyIsSigned, keyFactor}

// topicReserved are the characters a parameter name may not contain; names
// become MQTT topic levels.
const topicReserved = "/+#"

// Builder accumulates parameter groups from configuration sections and
// produces a Model. Sections share one group map; each section feeds one
// poll list. A Builder is not safe for concurrent use.
type Builder struct {
	log       *slog.Logger
	strict    bool
	groups    map[FrameID]Group
	lists     [2][]FrameID
	fieldErrs []error
	warnings  []error
}

type BuilderOption func(*Builder)

// WithBuilderLogger overrides the logger (defaults to the global one).
func WithBuilderLogger(l *slog.Logger) BuilderOption {
	return func(b *Builder) {
		if l != nil {
			b.log = l
		}
	}
}

// WithStrictFields makes LoadSection fail when any parameter had a field
// type error. By default such parameters are dropped and loading continues.
func WithStrictFields(strict bool) BuilderOption { return func(b *Builder) { b.strict = strict } }

func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		log:    logging.Component("config"),
		groups: make(map[FrameID]Group),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// LoadSection reads one section: an array of structs, each holding an int
// id (0..255) and an array of field structs, in either order. Every group
// is stored under its id, replacing any earlier group with that id, and the
// id is appended to poll list l.
//
// A *ShapeError aborts the section; groups stored before the offending entry
// are kept. Field type errors drop the affected parameter and are returned
// joined only in strict mode. Unknown keys are logged and ignored.
func (b *Builder) LoadSection(name string, l ListID, tree paramtree.Value) error {
	if !l.valid() {
		return fmt.Errorf("%s: invalid poll list %d", name, int(l))
	}
	if tree.Kind() != paramtree.Array {
		return &ShapeError{Section: name, Path: name, Want: "array", Got: tree.Kind().String()}
	}
	var sectionErrs []error
	for i := 0; i < tree.Len(); i++ {
		id, params, errs, err := b.loadGroup(name, i, tree.Index(i))
		if err != nil {
			return err
		}
		sectionErrs = append(sectionErrs, errs...)
		if _, dup := b.groups[id]; dup {
			b.log.Info("config_group_replaced", "section", name, "id", int(id))
		}
		b.groups[id] = params
		b.lists[l] = append(b.lists[l], id)
		b.log.Info("config_group_saved", "section", name, "id", int(id), "fields", len(params))
	}
	b.fieldErrs = append(b.fieldErrs, sectionErrs...)
	if b.strict && len(sectionErrs) > 0 {
		return errors.Join(sectionErrs...)
	}
	return nil
}

func (b *Builder) loadGroup(section string, i int, entry paramtree.Value) (FrameID, Group, []error, error) {
	path := fmt.Sprintf("%s[%d]", section, i)
	if entry.Kind() != paramtree.Struct {
		return 0, nil, nil, &ShapeError{Section: section, Path: path, Want: "struct", Got: entry.Kind().String()}
	}
	var (
		id        FrameID
		haveID    bool
		fields    paramtree.Value
		haveField bool
	)
	// Members are classified by type, not key name: the int is the id and the
	// array is the field list.
	for _, m := range entry.Members() {
		mpath := path + "." + m.Key
		switch m.Value.Kind() {
		case paramtree.Int:
			if haveID {
				return 0, nil, nil, &ShapeError{Section: section, Path: mpath, Want: "single id", Got: "second int member"}
			}
			n, _ := m.Value.Int()
			if n < 0 || n > 0xFF {
				return 0, nil, nil, &ShapeError{Section: section, Path: mpath, Want: "id 0..255", Got: fmt.Sprintf("%d", n)}
			}
			id, haveID = FrameID(n), true
		case paramtree.Array:
			if haveField {
				return 0, nil, nil, &ShapeError{Section: section, Path: mpath, Want: "single field list", Got: "second array member"}
			}
			fields, haveField = m.Value, true
		default:
			return 0, nil, nil, &ShapeError{Section: section, Path: mpath, Want: "int or array", Got: m.Value.Kind().String()}
		}
	}
	if !haveID {
		return 0, nil, nil, &ShapeError{Section: section, Path: path, Want: "int id member", Got: "none"}
	}
	if !haveField {
		b.log.Warn("config_group_empty", "section", section, "id", int(id))
		return id, Group{}, nil, nil
	}

	params := make(Group, 0, fields.Len())
	var errs []error
	for j := 0; j < fields.Len(); j++ {
		fv := fields.Index(j)
		if fv.Kind() != paramtree.Struct {
			return 0, nil, nil, &ShapeError{
				Section: section, Path: fmt.Sprintf("%s.fields[%d]", path, j),
				Want: "struct", Got: fv.Kind().String(),
			}
		}
		p, err := b.loadParameter(section, id, j, fv)
		if err != nil {
			metrics.IncConfigWarning(metricKind(err))
			b.log.Error("config_field_error", "section", section, "group", int(id), "index", j, "error", err)
			errs = append(errs, err)
			continue
		}
		params = append(params, p)
	}
	return id, params, errs, nil
}

// loadParameter returns the first *FieldTypeError found. Unknown keys are
// logged, recorded as warnings and skipped.
func (b *Builder) loadParameter(section string, id FrameID, idx int, fv paramtree.Value) (Parameter, error) {
	var p Parameter
	seen := make(map[string]bool, len(requiredKeys)+1)
	fieldErr := func(field, want string, got paramtree.Value) error {
		return &FieldTypeError{Section: section, Group: id, Index: idx, Field: field, Want: want, Got: got.Kind().String()}
	}
	for _, m := range fv.Members() {
		v := m.Value
		switch m.Key {
		case keyName:
			s, ok := v.Str()
			if !ok {
				return p, fieldErr(m.Key, "string", v)
			}
			if s == "" {
				return p, &FieldTypeError{Section: section, Group: id, Index: idx, Field: m.Key, Want: "non-empty string", Got: `""`}
			}
			if strings.ContainsAny(s, topicReserved) {
				return p, &FieldTypeError{Section: section, Group: id, Index: idx, Field: m.Key, Want: "name without " + strconv.Quote(topicReserved), Got: strconv.Quote(s)}
			}
			p.Name = s
		case keyOffset:
			n, ok := v.Int()
			if !ok {
				return p, fieldErr(m.Key, "int", v)
			}
			if n < 0 {
				return p, &FieldTypeError{Section: section, Group: id, Index: idx, Field: m.Key, Want: "offset >= 0", Got: fmt.Sprintf("%d", n)}
			}
			p.Offset = int(n)
		case keyLen:
			n, ok := v.Int()
			if !ok {
				return p, fieldErr(m.Key, "int", v)
			}
			if n < 1 || n > 8 {
				return p, &FieldTypeError{Section: section, Group: id, Index: idx, Field: m.Key, Want: "len 1..8", Got: fmt.Sprintf("%d", n)}
			}
			p.Length = int(n)
		case keyIsSigned:
			s, ok := v.Bool()
			if !ok {
				return p, fieldErr(m.Key, "bool", v)
			}
			p.Signed = s
		case keyFactor:
			f, ok := v.Number()
			if !ok {
				return p, fieldErr(m.Key, "double", v)
			}
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return p, &FieldTypeError{Section: section, Group: id, Index: idx, Field: m.Key, Want: "finite double", Got: fmt.Sprintf("%g", f)}
			}
			p.Factor = f
		case keyUnit:
			s, ok := v.Str()
			if !ok {
				return p, fieldErr(m.Key, "string", v)
			}
			p.Unit = s
		default:
			w := &UnknownKeyError{Section: section, Group: id, Index: idx, Key: m.Key}
			b.warnings = append(b.warnings, w)
			metrics.IncConfigWarning(metrics.ConfigUnknownKey)
			b.log.Warn("config_unknown_key", "section", section, "group", int(id), "index", idx, "key", m.Key)
			continue
		}
		seen[m.Key] = true
	}
	for _, k := range requiredKeys {
		if !seen[k] {
			return p, &FieldTypeError{Section: section, Group: id, Index: idx, Field: k, Want: "present", Got: "missing"}
		}
	}
	return p, nil
}

// MarkMissing records a section absent from the configuration source. The
// corresponding poll list stays empty.
func (b *Builder) MarkMissing(name string) {
	metrics.IncConfigWarning(metrics.ConfigMissing)
	b.log.Warn("config_section_missing", "section", name)
}

// FieldErrors returns every parameter dropped so far because of a field error.
func (b *Builder) FieldErrors() []error { return slices.Clone(b.fieldErrs) }

// Warnings returns the unknown-key warnings collected so far.
func (b *Builder) Warnings() []error { return slices.Clone(b.warnings) }

// Build snapshots the accumulated state into an immutable Model. The
// Builder may keep loading afterwards without affecting the returned Model.
func (b *Builder) Build() *Model {
	return NewModel(b.groups, b.lists[ListA], b.lists[ListB])
}
