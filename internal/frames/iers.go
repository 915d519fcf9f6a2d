// Package frames implements stage 3: TEME → GCRS → ITRS → WGS84 geodetic
// transformation with IAU 2000/2006 precession-nutation, IERS Earth
// rotation, and polar motion.
package frames

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/asgard/heimdall/internal/pipeline"
)

// IERSStaleAfter is the refresh bound for the local finals file; older
// files still work but draw a warning so operators refresh them.
const IERSStaleAfter = 30 * 24 * time.Hour

// EOPRecord is one daily Earth-orientation record from finals2000A.all.
type EOPRecord struct {
	MJD     float64
	XpArcsec float64
	YpArcsec float64
	DUT1Sec  float64 // UT1-UTC
	LODMs    float64 // length of day excess, milliseconds
}

// EOPTable is the Earth-orientation table, loaded once per run and
// read-only afterwards.
type EOPTable struct {
	records     []EOPRecord // sorted by MJD
	Fingerprint string      // content hash, part of the stage 3 cache key
	FileAge     time.Duration
}

// LoadEOP reads a finals2000A.all file in the USNO fixed-column format.
// Lines without polar-motion values (far-future predictions) are skipped.
func LoadEOP(path string) (*EOPTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", pipeline.ErrMissingIERSData, path, err)
	}

	table := &EOPTable{Fingerprint: pipeline.Fingerprint(raw)}
	if info, err := os.Stat(path); err == nil {
		table.FileAge = time.Since(info.ModTime())
	}

	scanner := bufio.NewScanner(strings.NewReader(string(raw)))
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) < 68 {
			continue
		}
		mjd, err := strconv.ParseFloat(strings.TrimSpace(line[7:15]), 64)
		if err != nil {
			continue
		}
		xp, err1 := strconv.ParseFloat(strings.TrimSpace(line[18:27]), 64)
		yp, err2 := strconv.ParseFloat(strings.TrimSpace(line[37:46]), 64)
		dut1, err3 := strconv.ParseFloat(strings.TrimSpace(line[58:68]), 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		rec := EOPRecord{MJD: mjd, XpArcsec: xp, YpArcsec: yp, DUT1Sec: dut1}
		if len(line) >= 86 {
			if lod, err := strconv.ParseFloat(strings.TrimSpace(line[79:86]), 64); err == nil {
				rec.LODMs = lod
			}
		}
		table.records = append(table.records, rec)
	}
	if len(table.records) == 0 {
		return nil, fmt.Errorf("%w: no usable records in %s", pipeline.ErrMissingIERSData, path)
	}
	return table, nil
}

// mjdFromTime converts UTC to Modified Julian Date.
func mjdFromTime(t time.Time) float64 {
	const unixEpochMJD = 40587.0
	return unixEpochMJD + float64(t.UnixNano())/1e9/86400.0
}

// Lookup interpolates Earth-orientation parameters linearly between daily
// values. An epoch outside the table raises ErrMissingIERSData; the
// transform never substitutes identity polar motion.
func (t *EOPTable) Lookup(at time.Time) (EOPRecord, error) {
	mjd := mjdFromTime(at)
	n := len(t.records)
	if mjd < t.records[0].MJD || mjd > t.records[n-1].MJD {
		return EOPRecord{}, fmt.Errorf("%w: MJD %.3f outside table [%.1f, %.1f]",
			pipeline.ErrMissingIERSData, mjd, t.records[0].MJD, t.records[n-1].MJD)
	}

	// Binary search for the bracketing pair.
	lo, hi := 0, n-1
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		if t.records[mid].MJD <= mjd {
			lo = mid
		} else {
			hi = mid
		}
	}
	a, b := t.records[lo], t.records[hi]
	if b.MJD == a.MJD {
		return a, nil
	}
	f := (mjd - a.MJD) / (b.MJD - a.MJD)
	return EOPRecord{
		MJD:      mjd,
		XpArcsec: a.XpArcsec + f*(b.XpArcsec-a.XpArcsec),
		YpArcsec: a.YpArcsec + f*(b.YpArcsec-a.YpArcsec),
		DUT1Sec:  a.DUT1Sec + f*(b.DUT1Sec-a.DUT1Sec),
		LODMs:    a.LODMs + f*(b.LODMs-a.LODMs),
	}, nil
}
