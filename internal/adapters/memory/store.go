package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"kybmon/internal/domain"
	"kybmon/internal/ports"
)

// Store implements ports.Store. Transactions run on a copy of the state that
// replaces the live state only when fn succeeds; they are serialized with
// every other call, so fn must use the tx argument and never the Store.
type Store struct {
	mu     sync.Mutex
	st     *state
	faults map[string]error
}

type state struct {
	now       func() time.Time
	subjects  map[string]domain.Subject
	configs   map[string]domain.MonitoringConfig
	snapshots []domain.Snapshot
	diffs     []domain.Diff
	alerts    []domain.Alert
}

func NewStore() *Store {
	return &Store{
		st: &state{
			now:      time.Now,
			subjects: map[string]domain.Subject{},
			configs:  map[string]domain.MonitoringConfig{},
		},
		faults: map[string]error{},
	}
}

func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.now = now
}

// InjectFault makes every call to the named repository method fail with err
// until cleared with a nil err.
func (s *Store) InjectFault(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, method)
		return
	}
	s.faults[method] = err
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx ports.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.st.clone()
	if err := fn(&repo{st: work, faults: s.faults}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) do(fn func(r *repo) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&repo{st: s.st, faults: s.faults})
}

// Seeding and inspection helpers.

func (s *Store) PutSubject(sub domain.Subject) {
	_ = s.do(func(r *repo) error {
		if sub.CreatedAt.IsZero() {
			sub.CreatedAt = r.st.now()
		}
		r.st.subjects[sub.ID] = sub
		return nil
	})
}

func (s *Store) PutConfig(cfg domain.MonitoringConfig) {
	_ = s.do(func(r *repo) error {
		r.st.configs[cfg.TenantID] = cfg
		return nil
	})
}

func (s *Store) Subject(id string) (domain.Subject, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.st.subjects[id]
	return sub, ok
}

func (s *Store) Snapshots(subjectID string) []domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Snapshot
	for _, sn := range s.st.snapshots {
		if sn.SubjectID == subjectID {
			out = append(out, sn)
		}
	}
	return out
}

func (s *Store) Diffs(subjectID string) []domain.Diff {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Diff
	for _, d := range s.st.diffs {
		if d.SubjectID == subjectID {
			out = append(out, d)
		}
	}
	return out
}

func (s *Store) Alerts(subjectID string) []domain.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Alert
	for _, a := range s.st.alerts {
		if a.SubjectID == subjectID {
			out = append(out, a)
		}
	}
	return out
}

// Locked ports.Repositories methods.

func (s *Store) GetSubject(ctx context.Context, id string) (out domain.Subject, err error) {
	err = s.do(func(r *repo) error { out, err = r.GetSubject(ctx, id); return err })
	return out, err
}

func (s *Store) LockSubject(ctx context.Context, id string) error {
	return s.do(func(r *repo) error { return r.LockSubject(ctx, id) })
}

func (s *Store) UpdateSubjectRisk(ctx context.Context, id string, score float64, level domain.RiskLevel, lastChecked, nextCheck time.Time) error {
	return s.do(func(r *repo) error { return r.UpdateSubjectRisk(ctx, id, score, level, lastChecked, nextCheck) })
}

func (s *Store) ListDueSubjects(ctx context.Context, now time.Time, limit int) (out []string, err error) {
	err = s.do(func(r *repo) error { out, err = r.ListDueSubjects(ctx, now, limit); return err })
	return out, err
}

func (s *Store) CreateSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	return s.do(func(r *repo) error { return r.CreateSnapshot(ctx, snap) })
}

func (s *Store) LatestSnapshot(ctx context.Context, subjectID string, ct domain.CheckType) (out domain.Snapshot, found bool, err error) {
	err = s.do(func(r *repo) error { out, found, err = r.LatestSnapshot(ctx, subjectID, ct); return err })
	return out, found, err
}

func (s *Store) PreviousSettledSnapshot(ctx context.Context, subjectID string, ct domain.CheckType, excludeID string) (out domain.Snapshot, found bool, err error) {
	err = s.do(func(r *repo) error {
		out, found, err = r.PreviousSettledSnapshot(ctx, subjectID, ct, excludeID)
		return err
	})
	return out, found, err
}

func (s *Store) LatestSettledSnapshots(ctx context.Context, subjectID string) (out []domain.Snapshot, err error) {
	err = s.do(func(r *repo) error { out, err = r.LatestSettledSnapshots(ctx, subjectID); return err })
	return out, err
}

func (s *Store) PurgeSnapshots(ctx context.Context, tenantID string, cutoff time.Time) (n int64, err error) {
	err = s.do(func(r *repo) error { n, err = r.PurgeSnapshots(ctx, tenantID, cutoff); return err })
	return n, err
}

func (s *Store) CreateDiffs(ctx context.Context, diffs []domain.Diff) error {
	return s.do(func(r *repo) error { return r.CreateDiffs(ctx, diffs) })
}

func (s *Store) ClaimUnprocessedDiffs(ctx context.Context, subjectID string) (out []domain.Diff, err error) {
	err = s.do(func(r *repo) error { out, err = r.ClaimUnprocessedDiffs(ctx, subjectID); return err })
	return out, err
}

func (s *Store) MarkDiffProcessed(ctx context.Context, id string, alertGenerated bool) error {
	return s.do(func(r *repo) error { return r.MarkDiffProcessed(ctx, id, alertGenerated) })
}

func (s *Store) CreateAlert(ctx context.Context, a *domain.Alert) error {
	return s.do(func(r *repo) error { return r.CreateAlert(ctx, a) })
}

func (s *Store) GetAlertForUpdate(ctx context.Context, id string) (out domain.Alert, err error) {
	err = s.do(func(r *repo) error { out, err = r.GetAlertForUpdate(ctx, id); return err })
	return out, err
}

func (s *Store) UpdateAlertState(ctx context.Context, a domain.Alert) error {
	return s.do(func(r *repo) error { return r.UpdateAlertState(ctx, a) })
}

func (s *Store) PurgeClosedAlerts(ctx context.Context, tenantID string, cutoff time.Time) (n int64, err error) {
	err = s.do(func(r *repo) error { n, err = r.PurgeClosedAlerts(ctx, tenantID, cutoff); return err })
	return n, err
}

func (s *Store) GetMonitoringConfig(ctx context.Context, tenantID string) (out domain.MonitoringConfig, found bool, err error) {
	err = s.do(func(r *repo) error { out, found, err = r.GetMonitoringConfig(ctx, tenantID); return err })
	return out, found, err
}

func (s *Store) ListMonitoringConfigs(ctx context.Context) (out []domain.MonitoringConfig, err error) {
	err = s.do(func(r *repo) error { out, err = r.ListMonitoringConfigs(ctx); return err })
	return out, err
}

func (st *state) clone() *state {
	return &state{
		now:       st.now,
		subjects:  maps.Clone(st.subjects),
		configs:   maps.Clone(st.configs),
		snapshots: slices.Clone(st.snapshots),
		diffs:     slices.Clone(st.diffs),
		alerts:    slices.Clone(st.alerts),
	}
}

// repo operates on one state without locking.
type repo struct {
	st     *state
	faults map[string]error
}

func (r *repo) fault(method string) error {
	if err, ok := r.faults[method]; ok {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

func (r *repo) GetSubject(_ context.Context, id string) (domain.Subject, error) {
	if err := r.fault("GetSubject"); err != nil {
		return domain.Subject{}, err
	}
	sub, ok := r.st.subjects[id]
	if !ok || sub.DeletedAt != nil {
		return domain.Subject{}, fmt.Errorf("subject %s: %w", id, domain.ErrNotFound)
	}
	return sub, nil
}

// LockSubject is a no-op: transactions are already serialized.
func (r *repo) LockSubject(context.Context, string) error {
	return r.fault("LockSubject")
}

func (r *repo) UpdateSubjectRisk(_ context.Context, id string, score float64, level domain.RiskLevel, lastChecked, nextCheck time.Time) error {
	if err := r.fault("UpdateSubjectRisk"); err != nil {
		return err
	}
	sub, ok := r.st.subjects[id]
	if !ok {
		return fmt.Errorf("subject %s: %w", id, domain.ErrNotFound)
	}
	sub.RiskScore = score
	sub.RiskLevel = level
	sub.LastChecked = &lastChecked
	sub.NextCheck = &nextCheck
	r.st.subjects[id] = sub
	return nil
}

func (r *repo) ListDueSubjects(_ context.Context, now time.Time, limit int) ([]string, error) {
	var due []domain.Subject
	for _, sub := range r.st.subjects {
		if !sub.MonitoringEnabled || sub.DeletedAt != nil {
			continue
		}
		if sub.NextCheck == nil || !sub.NextCheck.After(now) {
			due = append(due, sub)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := due[i].NextCheck, due[j].NextCheck
		switch {
		case a == nil && b == nil:
			return due[i].ID < due[j].ID
		case a == nil:
			return true
		case b == nil:
			return false
		}
		return a.Before(*b)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]string, len(due))
	for i, sub := range due {
		ids[i] = sub.ID
	}
	return ids, nil
}

func (r *repo) CreateSnapshot(_ context.Context, snap *domain.Snapshot) error {
	if err := r.fault("CreateSnapshot"); err != nil {
		return err
	}
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = r.st.now()
	}
	r.st.snapshots = append(r.st.snapshots, *snap)
	return nil
}

// newestFirst walks snapshots of (subject, check type) from newest to oldest.
// Insertion order breaks CreatedAt ties.
func (r *repo) newestFirst(subjectID string, ct domain.CheckType, fn func(domain.Snapshot) bool) {
	idx := make([]int, 0)
	for i, sn := range r.st.snapshots {
		if sn.SubjectID == subjectID && (ct == "" || sn.CheckType == ct) {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		sa, sb := r.st.snapshots[idx[a]], r.st.snapshots[idx[b]]
		if !sa.CreatedAt.Equal(sb.CreatedAt) {
			return sa.CreatedAt.After(sb.CreatedAt)
		}
		return idx[a] > idx[b]
	})
	for _, i := range idx {
		if !fn(r.st.snapshots[i]) {
			return
		}
	}
}

func (r *repo) LatestSnapshot(_ context.Context, subjectID string, ct domain.CheckType) (out domain.Snapshot, found bool, err error) {
	r.newestFirst(subjectID, ct, func(sn domain.Snapshot) bool {
		out, found = sn, true
		return false
	})
	return out, found, nil
}

func (r *repo) PreviousSettledSnapshot(_ context.Context, subjectID string, ct domain.CheckType, excludeID string) (out domain.Snapshot, found bool, err error) {
	r.newestFirst(subjectID, ct, func(sn domain.Snapshot) bool {
		if sn.ID == excludeID || !sn.Status.Settled() {
			return true
		}
		out, found = sn, true
		return false
	})
	return out, found, nil
}

func (r *repo) LatestSettledSnapshots(_ context.Context, subjectID string) ([]domain.Snapshot, error) {
	var out []domain.Snapshot
	for _, ct := range domain.CheckTypes {
		r.newestFirst(subjectID, ct, func(sn domain.Snapshot) bool {
			if !sn.Status.Settled() {
				return true
			}
			out = append(out, sn)
			return false
		})
	}
	return out, nil
}

func (r *repo) PurgeSnapshots(_ context.Context, tenantID string, cutoff time.Time) (int64, error) {
	// The newest snapshot and the newest settled one per (subject, check
	// type) survive: the first is the latest observation, the second the
	// diff baseline.
	keep := map[string]bool{}
	for _, sub := range r.st.subjects {
		if sub.TenantID != tenantID {
			continue
		}
		for _, ct := range domain.CheckTypes {
			first := true
			r.newestFirst(sub.ID, ct, func(sn domain.Snapshot) bool {
				if first || sn.Status.Settled() {
					keep[sn.ID] = true
				}
				first = false
				return !sn.Status.Settled()
			})
		}
	}
	removed := map[string]bool{}
	kept := r.st.snapshots[:0:0]
	for _, sn := range r.st.snapshots {
		sub := r.st.subjects[sn.SubjectID]
		if sub.TenantID == tenantID && sn.CreatedAt.Before(cutoff) && !keep[sn.ID] {
			removed[sn.ID] = true
			continue
		}
		kept = append(kept, sn)
	}
	r.st.snapshots = kept

	diffs := r.st.diffs[:0:0]
	droppedDiffs := map[string]bool{}
	for _, d := range r.st.diffs {
		if removed[d.NewSnapshotID] {
			droppedDiffs[d.ID] = true
			continue
		}
		if d.OldSnapshotID != nil && removed[*d.OldSnapshotID] {
			d.OldSnapshotID = nil
		}
		diffs = append(diffs, d)
	}
	r.st.diffs = diffs
	for i, a := range r.st.alerts {
		if a.DiffID != nil && droppedDiffs[*a.DiffID] {
			r.st.alerts[i].DiffID = nil
		}
	}
	return int64(len(removed)), nil
}

func (r *repo) CreateDiffs(_ context.Context, diffs []domain.Diff) error {
	if err := r.fault("CreateDiffs"); err != nil {
		return err
	}
	for i := range diffs {
		if diffs[i].ID == "" {
			diffs[i].ID = uuid.NewString()
		}
		if diffs[i].CreatedAt.IsZero() {
			diffs[i].CreatedAt = r.st.now()
		}
		r.st.diffs = append(r.st.diffs, diffs[i])
	}
	return nil
}

func (r *repo) ClaimUnprocessedDiffs(_ context.Context, subjectID string) ([]domain.Diff, error) {
	var out []domain.Diff
	for _, d := range r.st.diffs {
		if d.SubjectID == subjectID && !d.Processed {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *repo) MarkDiffProcessed(_ context.Context, id string, alertGenerated bool) error {
	if err := r.fault("MarkDiffProcessed"); err != nil {
		return err
	}
	for i := range r.st.diffs {
		if r.st.diffs[i].ID == id {
			r.st.diffs[i].Processed = true
			r.st.diffs[i].AlertGenerated = alertGenerated
			return nil
		}
	}
	return fmt.Errorf("diff %s: %w", id, domain.ErrNotFound)
}

func (r *repo) CreateAlert(_ context.Context, a *domain.Alert) error {
	if err := r.fault("CreateAlert"); err != nil {
		return err
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.st.now()
	}
	r.st.alerts = append(r.st.alerts, *a)
	return nil
}

func (r *repo) GetAlertForUpdate(_ context.Context, id string) (domain.Alert, error) {
	for _, a := range r.st.alerts {
		if a.ID == id {
			return a, nil
		}
	}
	return domain.Alert{}, fmt.Errorf("alert %s: %w", id, domain.ErrNotFound)
}

func (r *repo) UpdateAlertState(_ context.Context, a domain.Alert) error {
	if err := r.fault("UpdateAlertState"); err != nil {
		return err
	}
	for i := range r.st.alerts {
		if r.st.alerts[i].ID == a.ID {
			r.st.alerts[i] = a
			return nil
		}
	}
	return fmt.Errorf("alert %s: %w", a.ID, domain.ErrNotFound)
}

func (r *repo) PurgeClosedAlerts(_ context.Context, tenantID string, cutoff time.Time) (int64, error) {
	var n int64
	kept := r.st.alerts[:0:0]
	for _, a := range r.st.alerts {
		sub := r.st.subjects[a.SubjectID]
		if sub.TenantID == tenantID && a.Status.Closed() && a.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, a)
	}
	r.st.alerts = kept
	return n, nil
}

func (r *repo) GetMonitoringConfig(_ context.Context, tenantID string) (domain.MonitoringConfig, bool, error) {
	cfg, ok := r.st.configs[tenantID]
	return cfg, ok, nil
}

func (r *repo) ListMonitoringConfigs(_ context.Context) ([]domain.MonitoringConfig, error) {
	out := make([]domain.MonitoringConfig, 0, len(r.st.configs))
	for _, cfg := range r.st.configs {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out, nil
}
