package tle

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/asgard/heimdall/internal/config"
	"github.com/asgard/heimdall/internal/pipeline"
)

// MaxTLEAge is the propagation accuracy bound: records whose epoch trails
// the calculation epoch by more than this are stale.
const MaxTLEAge = 14 * 24 * time.Hour

// MaxEpochFuture bounds how far past the calculation epoch an epoch may sit
// before the input is considered inconsistent.
const MaxEpochFuture = 24 * time.Hour

// sidecar is the optional JSON twin of a TLE day file carrying display
// names keyed by catalog id.
type sidecar struct {
	Names map[string]string `json:"names"`
}

// LoadDir reads every day file for one constellation from the layout
// tle/<constellation>/tle/<constellation>_day_NN.tle and returns raw parsed
// records, newest file first not guaranteed; dedup happens later.
func LoadDir(root string, constellation config.Constellation) ([]*Record, error) {
	dir := filepath.Join(root, string(constellation), "tle")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read TLE dir %s: %w", dir, err)
	}

	var records []*Record
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".tle") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		names := loadSidecar(root, constellation, e.Name())
		recs, err := parseFile(path, constellation, names)
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no TLE records under %s", pipeline.ErrEmptyInput, dir)
	}
	return records, nil
}

func loadSidecar(root string, constellation config.Constellation, tleName string) map[string]string {
	jsonName := strings.TrimSuffix(tleName, ".tle") + ".json"
	path := filepath.Join(root, string(constellation), "json", jsonName)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var sc sidecar
	if err := json.Unmarshal(raw, &sc); err != nil {
		return nil
	}
	return sc.Names
}

// parseFile reads one day file as a sequence of 3-line (or headerless
// 2-line) element sets.
func parseFile(path string, constellation config.Constellation, names map[string]string) ([]*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var records []*Record
	var name, line1 string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "1 "):
			line1 = line
		case strings.HasPrefix(line, "2 "):
			if line1 == "" {
				return nil, fmt.Errorf("%w: %s: line 2 without line 1", pipeline.ErrBadTLEFormat, path)
			}
			rec, err := Parse(name, line1, line, constellation)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			if rec.Name == "" && names != nil {
				rec.Name = names[fmt.Sprintf("%d", rec.CatalogID)]
			}
			records = append(records, rec)
			name, line1 = "", ""
		default:
			name = line
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return records, nil
}

// Deduplicate keeps the latest epoch per catalog id and returns records
// sorted by catalog id for stable downstream ordering.
func Deduplicate(records []*Record) []*Record {
	byID := make(map[int]*Record, len(records))
	for _, r := range records {
		if prev, ok := byID[r.CatalogID]; !ok || r.Epoch.After(prev.Epoch) {
			byID[r.CatalogID] = r
		}
	}
	out := lo.Values(byID)
	sort.Slice(out, func(i, j int) bool { return out[i].CatalogID < out[j].CatalogID })
	return out
}

// CalculationEpoch derives the run epoch from the TLE epochs themselves
// (never wall clock): the newest epoch across all retained records.
func CalculationEpoch(records []*Record) time.Time {
	var newest time.Time
	for _, r := range records {
		if r.Epoch.After(newest) {
			newest = r.Epoch
		}
	}
	return newest
}

// FilterEpochWindow rejects records outside the propagation accuracy window
// around the calculation epoch.
func FilterEpochWindow(records []*Record, calcEpoch time.Time) ([]*Record, error) {
	var kept []*Record
	for _, r := range records {
		age := calcEpoch.Sub(r.Epoch)
		if age > MaxTLEAge {
			return nil, fmt.Errorf("%w: catalog %d epoch %s is %.1f days before calculation epoch",
				pipeline.ErrEpochOutOfRange, r.CatalogID, r.Epoch.Format(time.RFC3339), age.Hours()/24)
		}
		if age < -MaxEpochFuture {
			return nil, fmt.Errorf("%w: catalog %d epoch %s is beyond the future bound",
				pipeline.ErrEpochOutOfRange, r.CatalogID, r.Epoch.Format(time.RFC3339))
		}
		kept = append(kept, r)
	}
	return kept, nil
}
