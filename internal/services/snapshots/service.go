// Package snapshots turns adapter results into content-addressed,
// append-only observations.
package snapshots

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"kybmon/internal/connectors"
	"kybmon/internal/domain"
	"kybmon/internal/ports"
)

// ContentHash is the SHA-256 of the RFC 8785 canonical JSON of the status
// and normalized payload. Raw payload, timing and error text are excluded so
// the same facts always hash alike.
func ContentHash(status domain.SnapshotStatus, normalized map[string]string) (string, error) {
	if normalized == nil {
		normalized = map[string]string{}
	}
	raw, err := json.Marshal(struct {
		Status string            `json:"status"`
		Data   map[string]string `json:"data"`
	}{string(status), normalized})
	if err != nil {
		return "", fmt.Errorf("marshal snapshot content: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize snapshot content: %w", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// Observation is one adapter outcome ready to be recorded.
type Observation struct {
	CheckType  domain.CheckType
	Result     connectors.Result
	Normalized map[string]string
}

// Record stores the observation unless it repeats the latest snapshot of the
// same (subject, check type), in which case the existing snapshot is returned
// with created=false.
func Record(ctx context.Context, repo ports.SnapshotRepository, subjectID string, obs Observation) (domain.Snapshot, bool, error) {
	status := obs.Result.Status.SnapshotStatus()
	normalized := obs.Normalized
	if !status.Settled() {
		normalized = map[string]string{}
	}
	hash, err := ContentHash(status, normalized)
	if err != nil {
		return domain.Snapshot{}, false, err
	}

	latest, found, err := repo.LatestSnapshot(ctx, subjectID, obs.CheckType)
	if err != nil {
		return domain.Snapshot{}, false, fmt.Errorf("latest snapshot: %w", err)
	}
	if found && latest.ContentHash == hash {
		return latest, false, nil
	}

	snap := domain.Snapshot{
		SubjectID:      subjectID,
		Source:         obs.Result.Source,
		CheckType:      obs.CheckType,
		ContentHash:    hash,
		RawPayload:     obs.Result.Data,
		Normalized:     normalized,
		Status:         status,
		ResponseTimeMs: obs.Result.ResponseTimeMs,
	}
	if obs.Result.Error != "" {
		msg := obs.Result.Error
		snap.ErrorMessage = &msg
	}
	if err := repo.CreateSnapshot(ctx, &snap); err != nil {
		return domain.Snapshot{}, false, fmt.Errorf("create snapshot: %w", err)
	}
	return snap, true, nil
}
