// Package tle implements stage 1: loading, validating, and deduplicating
// Two-Line Element sets for the tracked constellations.
package tle

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/asgard/heimdall/internal/config"
	"github.com/asgard/heimdall/internal/pipeline"
)

// Record is one validated TLE set, annotated with its constellation.
type Record struct {
	CatalogID      int                  `json:"catalog_id"`
	Name           string               `json:"name"`
	IntlDesignator string               `json:"intl_designator"`
	Epoch          time.Time            `json:"epoch"`
	MeanMotion     float64              `json:"mean_motion"` // revs/day
	Eccentricity   float64              `json:"eccentricity"`
	InclinationDeg float64              `json:"inclination_deg"`
	RAANDeg        float64              `json:"raan_deg"`
	ArgPerigeeDeg  float64              `json:"arg_perigee_deg"`
	MeanAnomalyDeg float64              `json:"mean_anomaly_deg"`
	BStar          float64              `json:"bstar"`
	MeanMotionDot  float64              `json:"mean_motion_dot"`
	MeanMotionDDot float64              `json:"mean_motion_ddot"`
	Line1          string               `json:"line1"`
	Line2          string               `json:"line2"`
	Constellation  config.Constellation `json:"constellation"`
}

// PeriodMinutes returns the orbital period implied by the mean motion.
func (r *Record) PeriodMinutes() float64 {
	return 1440.0 / r.MeanMotion
}

// alpha5 maps Alpha-5 catalog-number letters to numeric prefixes. Catalog
// ids above 99999 (most Starlink launches) use A=10 .. Z=33, skipping I and O.
var alpha5 = map[byte]int{
	'A': 10, 'B': 11, 'C': 12, 'D': 13, 'E': 14, 'F': 15, 'G': 16, 'H': 17,
	'J': 18, 'K': 19, 'L': 20, 'M': 21, 'N': 22,
	'P': 23, 'Q': 24, 'R': 25, 'S': 26, 'T': 27, 'U': 28, 'V': 29, 'W': 30,
	'X': 31, 'Y': 32, 'Z': 33,
}

// Checksum computes the modulo-10 TLE line checksum over the first 68
// columns: digits count their value, '-' counts one, all else zero.
func Checksum(line string) int {
	sum := 0
	for i := 0; i < 68 && i < len(line); i++ {
		c := line[i]
		switch {
		case c >= '0' && c <= '9':
			sum += int(c - '0')
		case c == '-':
			sum++
		}
	}
	return sum % 10
}

// verifyChecksum enforces one line's checksum. catalog is the raw catalog
// field so rejects always name the offending satellite.
func verifyChecksum(line string, lineNo int, catalog string) error {
	if len(line) < 69 {
		return fmt.Errorf("%w: line %d is %d columns, want 69", pipeline.ErrBadTLEFormat, lineNo, len(line))
	}
	want := int(line[68] - '0')
	if want < 0 || want > 9 {
		return fmt.Errorf("%w: line %d checksum column is %q", pipeline.ErrBadTLEFormat, lineNo, line[68])
	}
	if got := Checksum(line); got != want {
		return fmt.Errorf("%w: catalog %s line %d computed %d, recorded %d",
			pipeline.ErrChecksumMismatch, catalog, lineNo, got, want)
	}
	return nil
}

func parseCatalogID(field string) (int, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return 0, fmt.Errorf("%w: empty catalog number", pipeline.ErrBadTLEFormat)
	}
	if prefix, ok := alpha5[field[0]]; ok {
		rest, err := strconv.Atoi(field[1:])
		if err != nil {
			return 0, fmt.Errorf("%w: alpha-5 catalog number %q", pipeline.ErrBadTLEFormat, field)
		}
		return prefix*10000 + rest, nil
	}
	id, err := strconv.Atoi(field)
	if err != nil {
		return 0, fmt.Errorf("%w: catalog number %q", pipeline.ErrBadTLEFormat, field)
	}
	return id, nil
}

// epochToUTC converts a two-digit TLE epoch year and fractional day-of-year
// into UTC. Years 57-99 map to 1957-1999, 00-56 to 2000-2056.
func epochToUTC(yy int, fracDay float64) time.Time {
	year := 2000 + yy
	if yy >= 57 {
		year = 1900 + yy
	}
	day := int(fracDay)
	frac := fracDay - float64(day)
	t := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	t = t.AddDate(0, 0, day-1)
	return t.Add(time.Duration(frac * 24 * float64(time.Hour)))
}

// parseExp parses the TLE "assumed decimal with exponent" fields, e.g.
// " 12345-4" meaning 0.12345e-4.
func parseExp(field string) float64 {
	field = strings.TrimSpace(field)
	if field == "" || field == "00000+0" || field == "00000-0" {
		return 0
	}
	sign := 1.0
	if field[0] == '-' {
		sign = -1
		field = field[1:]
	} else if field[0] == '+' {
		field = field[1:]
	}
	cut := strings.LastIndexAny(field, "+-")
	if cut <= 0 {
		v, _ := strconv.ParseFloat("0."+field, 64)
		return sign * v
	}
	mantissa, err := strconv.ParseFloat("0."+field[:cut], 64)
	if err != nil {
		return 0
	}
	exp, err := strconv.Atoi(field[cut:])
	if err != nil {
		return 0
	}
	return sign * mantissa * math.Pow(10, float64(exp))
}

// Parse extracts a validated Record from a 3-line set. The name line may be
// empty. Checksums are enforced before any field parsing.
func Parse(name, line1, line2 string, constellation config.Constellation) (*Record, error) {
	catalog := ""
	if len(line1) >= 7 {
		catalog = strings.TrimSpace(line1[2:7])
	}
	if err := verifyChecksum(line1, 1, catalog); err != nil {
		return nil, err
	}
	if err := verifyChecksum(line2, 2, catalog); err != nil {
		return nil, err
	}
	if line1[0] != '1' {
		return nil, fmt.Errorf("%w: line 1 starts with %q", pipeline.ErrBadTLEFormat, line1[0])
	}
	if line2[0] != '2' {
		return nil, fmt.Errorf("%w: line 2 starts with %q", pipeline.ErrBadTLEFormat, line2[0])
	}

	id1, err := parseCatalogID(line1[2:7])
	if err != nil {
		return nil, err
	}
	id2, err := parseCatalogID(line2[2:7])
	if err != nil {
		return nil, err
	}
	if id1 != id2 {
		return nil, fmt.Errorf("%w: catalog id %d on line 1, %d on line 2", pipeline.ErrBadTLEFormat, id1, id2)
	}

	rec := &Record{
		CatalogID:      id1,
		Name:           strings.TrimSpace(strings.TrimPrefix(name, "0 ")),
		IntlDesignator: strings.TrimSpace(line1[9:17]),
		Line1:          line1,
		Line2:          line2,
		Constellation:  constellation,
	}

	yy, err := strconv.Atoi(strings.TrimSpace(line1[18:20]))
	if err != nil {
		return nil, fmt.Errorf("%w: epoch year: %v", pipeline.ErrBadTLEFormat, err)
	}
	fracDay, err := strconv.ParseFloat(strings.TrimSpace(line1[20:32]), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: epoch day: %v", pipeline.ErrBadTLEFormat, err)
	}
	if fracDay < 1 || fracDay >= 367 {
		return nil, fmt.Errorf("%w: epoch day %.8f", pipeline.ErrBadTLEFormat, fracDay)
	}
	rec.Epoch = epochToUTC(yy, fracDay)

	rec.MeanMotionDot, _ = strconv.ParseFloat(strings.TrimSpace(line1[33:43]), 64)
	rec.MeanMotionDDot = parseExp(line1[44:52])
	rec.BStar = parseExp(line1[53:61])

	rec.InclinationDeg, err = strconv.ParseFloat(strings.TrimSpace(line2[8:16]), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: inclination: %v", pipeline.ErrBadTLEFormat, err)
	}
	rec.RAANDeg, err = strconv.ParseFloat(strings.TrimSpace(line2[17:25]), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: RAAN: %v", pipeline.ErrBadTLEFormat, err)
	}
	rec.Eccentricity, err = strconv.ParseFloat("0."+strings.TrimSpace(line2[26:33]), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: eccentricity: %v", pipeline.ErrBadTLEFormat, err)
	}
	rec.ArgPerigeeDeg, err = strconv.ParseFloat(strings.TrimSpace(line2[34:42]), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: argument of perigee: %v", pipeline.ErrBadTLEFormat, err)
	}
	rec.MeanAnomalyDeg, err = strconv.ParseFloat(strings.TrimSpace(line2[43:51]), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: mean anomaly: %v", pipeline.ErrBadTLEFormat, err)
	}
	rec.MeanMotion, err = strconv.ParseFloat(strings.TrimSpace(line2[52:63]), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: mean motion: %v", pipeline.ErrBadTLEFormat, err)
	}

	if err := rec.validateRanges(); err != nil {
		return nil, err
	}
	return rec, nil
}

// validateRanges enforces physical bounds on the parsed elements.
func (r *Record) validateRanges() error {
	switch {
	case r.MeanMotion <= 0 || r.MeanMotion > 20:
		return fmt.Errorf("%w: mean motion %.8f revs/day (catalog %d)", pipeline.ErrValueOutOfRange, r.MeanMotion, r.CatalogID)
	case r.Eccentricity < 0 || r.Eccentricity >= 1:
		return fmt.Errorf("%w: eccentricity %.7f (catalog %d)", pipeline.ErrValueOutOfRange, r.Eccentricity, r.CatalogID)
	case r.InclinationDeg < 0 || r.InclinationDeg > 180:
		return fmt.Errorf("%w: inclination %.4f deg (catalog %d)", pipeline.ErrValueOutOfRange, r.InclinationDeg, r.CatalogID)
	case r.RAANDeg < 0 || r.RAANDeg >= 360:
		return fmt.Errorf("%w: RAAN %.4f deg (catalog %d)", pipeline.ErrValueOutOfRange, r.RAANDeg, r.CatalogID)
	case r.ArgPerigeeDeg < 0 || r.ArgPerigeeDeg >= 360:
		return fmt.Errorf("%w: argument of perigee %.4f deg (catalog %d)", pipeline.ErrValueOutOfRange, r.ArgPerigeeDeg, r.CatalogID)
	case r.MeanAnomalyDeg < 0 || r.MeanAnomalyDeg >= 360:
		return fmt.Errorf("%w: mean anomaly %.4f deg (catalog %d)", pipeline.ErrValueOutOfRange, r.MeanAnomalyDeg, r.CatalogID)
	}
	return nil
}
