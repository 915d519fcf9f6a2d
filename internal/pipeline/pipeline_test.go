package pipeline

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCacheRoundTrip(t *testing.T) {
	cache := NewCache(filepath.Join(t.TempDir(), "cache"))
	key := Key("fingerprint", "step=30s", "algo-v1")

	type payload struct {
		Values []float64 `json:"values"`
	}
	want := payload{Values: []float64{1, 2, 3}}

	var missing payload
	if ok, err := cache.Get(key, &missing); ok || err != nil {
		t.Fatalf("empty cache: ok=%v err=%v", ok, err)
	}
	if err := cache.Put(key, want); err != nil {
		t.Fatalf("Put: %v", err)
	}

	var got payload
	ok, err := cache.Get(key, &got)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if len(got.Values) != 3 || got.Values[2] != 3 {
		t.Errorf("got %v, want %v", got.Values, want.Values)
	}
}

func TestCacheWriteOnce(t *testing.T) {
	cache := NewCache(t.TempDir())
	key := Key("k")

	if err := cache.Put(key, map[string]int{"v": 1}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	// Second insert under the same key must not overwrite.
	if err := cache.Put(key, map[string]int{"v": 2}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	var got map[string]int
	if ok, err := cache.Get(key, &got); !ok || err != nil {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got["v"] != 1 {
		t.Errorf("write-once violated: got %d", got["v"])
	}
}

func TestCacheCorruptEntry(t *testing.T) {
	dir := t.TempDir()
	cache := NewCache(dir)
	key := Key("corrupt")

	if err := os.WriteFile(filepath.Join(dir, key+".json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	var out map[string]int
	if _, err := cache.Get(key, &out); !errors.Is(err, ErrCacheCorrupt) {
		t.Errorf("want ErrCacheCorrupt, got %v", err)
	}
}

func TestKeyDistinguishesComponents(t *testing.T) {
	if Key("ab", "c") == Key("a", "bc") {
		t.Error("component boundaries must affect the key")
	}
}

func TestArtifactRoundTrip(t *testing.T) {
	root := t.TempDir()
	raw, _ := json.Marshal(map[string]string{"hello": "world"})
	art := &Artifact{
		Stage: "stage2",
		Metadata: Metadata{
			Producer:      Producer,
			RunID:         "test",
			Timestamp:     time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
			Fingerprint:   Fingerprint(raw),
			SchemaVersion: SchemaVersion,
		},
		Data:              raw,
		DataSummary:       map[string]interface{}{"n": 1},
		ValidationResults: ValidationResults{Passed: true},
	}

	if _, err := WriteArtifact(root, 2, art); err != nil {
		t.Fatalf("WriteArtifact: %v", err)
	}
	got, err := LatestArtifact(root, 2)
	if err != nil {
		t.Fatalf("LatestArtifact: %v", err)
	}
	if got.Stage != "stage2" || got.Metadata.Fingerprint != art.Metadata.Fingerprint {
		t.Errorf("round trip mismatch: %+v", got.Metadata)
	}
}

func TestLatestArtifactMissing(t *testing.T) {
	if _, err := LatestArtifact(t.TempDir(), 3); !errors.Is(err, ErrUpstreamArtifactMissing) {
		t.Errorf("want ErrUpstreamArtifactMissing, got %v", err)
	}
}

func TestWriteSnapshot(t *testing.T) {
	root := t.TempDir()
	vr := ValidationResults{
		Checks: []CheckResult{{Name: CheckStructure, Passed: true}},
		Passed: true,
	}
	if err := WriteSnapshot(root, 3, "run", vr); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(root, "validation_snapshots", "stage3_validation.json"))
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var snap struct {
		Stage            string `json:"stage"`
		ValidationPassed bool   `json:"validation_passed"`
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Stage != "stage3" || !snap.ValidationPassed {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestValidationAccumulator(t *testing.T) {
	v := NewValidation()
	v.Record(CheckStructure, true, "")
	v.Record(CheckRanges, false, "altitude out of shell")
	v.Record(CheckCounts, true, "")

	r := v.Results()
	if r.Passed {
		t.Error("one failed check must fail the aggregate")
	}
	if len(r.Checks) != 3 {
		t.Errorf("got %d checks", len(r.Checks))
	}
}

func TestExitCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"stage1 input", NewStageError(1, "stage1", "44713", ErrChecksumMismatch), 11},
		{"stage3 input", NewStageError(3, "stage3", "", ErrMissingIERSData), 31},
		{"stage2 compute", NewStageError(2, "stage2", "44713", ErrPropagationDiverged), 23},
		{"stage4 invariant", NewStageError(4, "stage4", "", ErrFieldMissing), 44},
		{"stage6 io", NewStageError(6, "stage6", "", ErrArtifactWriteFailed), 65},
		{"bare error", errors.New("boom"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestStageErrorPresentsRecord(t *testing.T) {
	err := NewStageError(1, "stage1", "44713", ErrChecksumMismatch)
	msg := err.Error()
	for _, want := range []string{"stage 1", "44713", "checksum"} {
		if !strings.Contains(strings.ToLower(msg), want) {
			t.Errorf("error %q should mention %q", msg, want)
		}
	}
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Error("StageError must unwrap to its kind")
	}
}
