package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/kstaniek/go-bms-bridge/internal/bms"
	"github.com/kstaniek/go-bms-bridge/internal/paramtree"
)

const topicsKey = "topics"

// loadModel reads the parameter file and builds the frame model. Sections
// named by -poll-list-a/-poll-list-b feed lists A and B; a missing section
// is logged and leaves its list empty. Shape errors are fatal, as are field
// errors under -strict-config. The optional topics list is returned as-is.
func loadModel(cfg *appConfig, l *slog.Logger) (*bms.Model, []string, error) {
	root, err := paramtree.LoadFile(cfg.configPath)
	if err != nil {
		return nil, nil, err
	}
	if root.Kind() != paramtree.Struct {
		return nil, nil, fmt.Errorf("%s: top level must be a mapping, got %s", cfg.configPath, root.Kind())
	}
	b := bms.NewBuilder(bms.WithBuilderLogger(l), bms.WithStrictFields(cfg.strictConfig))
	for _, sec := range []struct {
		name string
		list bms.ListID
	}{{cfg.listA, bms.ListA}, {cfg.listB, bms.ListB}} {
		tree, ok := root.Lookup(sec.name)
		if !ok {
			b.MarkMissing(sec.name)
			continue
		}
		if err := b.LoadSection(sec.name, sec.list, tree); err != nil {
			return nil, nil, fmt.Errorf("load %s: %w", sec.name, err)
		}
	}
	if errs := b.FieldErrors(); len(errs) > 0 {
		l.Warn("config_fields_dropped", "count", len(errs), "error", errors.Join(errs...))
	}

	var topics []string
	if tv, ok := root.Lookup(topicsKey); ok {
		topics, err = tv.Strings()
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", topicsKey, err)
		}
		for _, t := range topics {
			l.Info("config_topic", "topic", t)
		}
	}
	m := b.Build()
	l.Info("config_loaded", "path", cfg.configPath, "groups", m.Len(),
		"list_a", len(m.PollList(bms.ListA)), "list_b", len(m.PollList(bms.ListB)))
	return m, topics, nil
}

// filterIDs returns the configured frame ids as kernel filter input.
func filterIDs(m *bms.Model) []uint8 {
	ids := m.IDs()
	out := make([]uint8, len(ids))
	for i, id := range ids {
		out[i] = uint8(id)
	}
	return out
}
