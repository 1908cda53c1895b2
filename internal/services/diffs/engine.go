// Package diffs compares successive settled snapshots of one
// (subject, check type) and classifies every field change.
package diffs

import (
	"sort"

	"kybmon/internal/domain"
)

// Engine produces classified diffs. The comparison never changes; business
// policy lives entirely in the Table.
type Engine struct {
	table *Table
}

func NewEngine(table *Table) *Engine {
	if table == nil {
		table = DefaultTable()
	}
	return &Engine{table: table}
}

// Compare returns the field-level changes from old to cur. A nil old is a
// first observation and yields no diffs. Output is sorted by field path.
func (e *Engine) Compare(old *domain.Snapshot, cur domain.Snapshot) []domain.Diff {
	if old == nil {
		return nil
	}
	changes := FieldChanges(old.Normalized, cur.Normalized)
	out := make([]domain.Diff, 0, len(changes))
	oldID := old.ID
	for _, ch := range changes {
		cls := e.table.Classify(cur.CheckType, ch)
		out = append(out, domain.Diff{
			SubjectID:     cur.SubjectID,
			CheckType:     cur.CheckType,
			OldSnapshotID: &oldID,
			NewSnapshotID: cur.ID,
			FieldPath:     ch.Path,
			OldValue:      ch.Old,
			NewValue:      ch.New,
			ChangeType:    ch.Type,
			Category:      cls.Category,
			RiskImpact:    cls.Impact,
			RiskDelta:     cls.Delta,
		})
	}
	return out
}

// Change is one raw field difference.
type Change struct {
	Path string
	Old  *string
	New  *string
	Type domain.ChangeType
}

// FieldChanges is the plain map comparison: keys added, modified or removed.
func FieldChanges(old, cur map[string]string) []Change {
	var out []Change
	for k, nv := range cur {
		ov, ok := old[k]
		switch {
		case !ok:
			out = append(out, Change{Path: k, New: ptr(nv), Type: domain.ChangeAdded})
		case ov != nv:
			out = append(out, Change{Path: k, Old: ptr(ov), New: ptr(nv), Type: domain.ChangeModified})
		}
	}
	for k, ov := range old {
		if _, ok := cur[k]; !ok {
			out = append(out, Change{Path: k, Old: ptr(ov), Type: domain.ChangeRemoved})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func ptr(s string) *string { return &s }
