package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Producer identifies this pipeline in artifact metadata.
const Producer = "heimdall"

// SchemaVersion is bumped whenever a stage payload schema changes shape.
const SchemaVersion = 1

// Metadata describes an artifact's provenance.
type Metadata struct {
	Producer            string    `json:"producer"`
	RunID               string    `json:"run_id"`
	Timestamp           time.Time `json:"timestamp"`
	UpstreamFingerprint string    `json:"upstream_fingerprint,omitempty"`
	Fingerprint         string    `json:"fingerprint"`
	SchemaVersion       int       `json:"schema_version"`
}

// Artifact is the envelope every stage writes. Payloads are immutable once
// written; downstream stages read, never mutate.
type Artifact struct {
	Stage             string                 `json:"stage"`
	Metadata          Metadata               `json:"metadata"`
	DataSummary       map[string]interface{} `json:"data_summary"`
	Data              json.RawMessage        `json:"data"`
	ValidationResults ValidationResults      `json:"validation_results"`
}

// Fingerprint computes the content hash of a payload.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// StageDir returns the output directory a stage owns.
func StageDir(root string, number int) string {
	return filepath.Join(root, "outputs", fmt.Sprintf("stage%d", number))
}

// snapshotDir returns the validation snapshot directory.
func snapshotDir(root string) string {
	return filepath.Join(root, "validation_snapshots")
}

// WriteArtifact persists an artifact as timestamped JSON in the stage's own
// directory and returns the written path.
func WriteArtifact(root string, number int, art *Artifact) (string, error) {
	dir := StageDir(root, number)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: mkdir %s: %v", ErrArtifactWriteFailed, dir, err)
	}
	name := fmt.Sprintf("stage%d_%s.json", number, art.Metadata.Timestamp.UTC().Format("20060102T150405Z"))
	path := filepath.Join(dir, name)

	raw, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: marshal: %v", ErrArtifactWriteFailed, err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("%w: %v", ErrArtifactWriteFailed, err)
	}
	return path, nil
}

// LatestArtifact loads the most recent artifact a stage wrote, for the next
// stage's input. Missing artifacts surface ErrUpstreamArtifactMissing.
func LatestArtifact(root string, number int) (*Artifact, error) {
	dir := StageDir(root, number)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: stage %d", ErrUpstreamArtifactMissing, number)
	}
	var newest string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		if e.Name() > newest {
			newest = e.Name()
		}
	}
	if newest == "" {
		return nil, fmt.Errorf("%w: stage %d", ErrUpstreamArtifactMissing, number)
	}
	raw, err := os.ReadFile(filepath.Join(dir, newest))
	if err != nil {
		return nil, fmt.Errorf("%w: stage %d: %v", ErrUpstreamArtifactMissing, number, err)
	}
	var art Artifact
	if err := json.Unmarshal(raw, &art); err != nil {
		return nil, fmt.Errorf("%w: stage %d: %v", ErrUpstreamSchemaMismatch, number, err)
	}
	if art.Metadata.Producer != Producer || art.Metadata.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: stage %d: producer %q schema %d",
			ErrUpstreamSchemaMismatch, number, art.Metadata.Producer, art.Metadata.SchemaVersion)
	}
	return &art, nil
}

// snapshot is the side-file written at end of stage for cross-stage checks.
type snapshot struct {
	Stage             string            `json:"stage"`
	RunID             string            `json:"run_id"`
	Timestamp         time.Time         `json:"timestamp"`
	ValidationResults ValidationResults `json:"validation_results"`
	ValidationPassed  bool              `json:"validation_passed"`
}

// WriteSnapshot writes the validation snapshot atomically: temp file in the
// same directory, then rename.
func WriteSnapshot(root string, number int, runID string, vr ValidationResults) error {
	dir := snapshotDir(root)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: mkdir %s: %v", ErrArtifactWriteFailed, dir, err)
	}
	snap := snapshot{
		Stage:             fmt.Sprintf("stage%d", number),
		RunID:             runID,
		Timestamp:         time.Now().UTC(),
		ValidationResults: vr,
		ValidationPassed:  vr.Passed,
	}
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal snapshot: %v", ErrArtifactWriteFailed, err)
	}

	final := filepath.Join(dir, fmt.Sprintf("stage%d_validation.json", number))
	tmp, err := os.CreateTemp(dir, "snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrArtifactWriteFailed, err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", ErrArtifactWriteFailed, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", ErrArtifactWriteFailed, err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", ErrArtifactWriteFailed, err)
	}
	return nil
}
