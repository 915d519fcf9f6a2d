package frames

import (
	"fmt"
	"strings"

	"github.com/asgard/heimdall/internal/hdf5twin"
	"github.com/asgard/heimdall/internal/pipeline"
)

// WriteTwin implements pipeline.TwinWriter: the stage 3 HDF5 twin.
func (s *Stage) WriteTwin(sc *pipeline.Context, payload interface{}, jsonPath string) error {
	p, ok := payload.(*Payload)
	if !ok {
		return fmt.Errorf("%w: stage 3 twin payload type", pipeline.ErrUpstreamSchemaMismatch)
	}

	path := strings.TrimSuffix(jsonPath, ".json") + ".h5"
	f, err := hdf5twin.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %v", pipeline.ErrArtifactWriteFailed, err)
	}
	defer f.Close()

	ids := make([]int64, len(p.Satellites))
	for i, sat := range p.Satellites {
		ids[i] = int64(sat.CatalogID)
	}
	if err := f.WriteInts("catalog_ids", ids); err != nil {
		return fmt.Errorf("%w: %v", pipeline.ErrArtifactWriteFailed, err)
	}

	for _, sat := range p.Satellites {
		n := len(sat.Samples)
		times := make([]float64, n)
		geo := make([]float64, 3*n)
		pos := make([]float64, 3*n)
		vel := make([]float64, 3*n)
		valid := make([]int64, n)
		for i, sample := range sat.Samples {
			times[i] = float64(sample.Time.UnixNano()) / 1e9
			geo[3*i] = sample.Geo.LatDeg
			geo[3*i+1] = sample.Geo.LonDeg
			geo[3*i+2] = sample.Geo.AltM
			copy(pos[3*i:], sample.PosKm[:])
			copy(vel[3*i:], sample.VelKmS[:])
			if sample.Valid {
				valid[i] = 1
			}
		}
		prefix := fmt.Sprintf("sat_%d_", sat.CatalogID)
		for _, ds := range []struct {
			name string
			data []float64
		}{
			{prefix + "time_unix", times},
			{prefix + "geodetic", geo},
			{prefix + "pos_ecef_km", pos},
			{prefix + "vel_ecef_km_s", vel},
		} {
			if err := f.WriteFloats(ds.name, ds.data); err != nil {
				return fmt.Errorf("%w: %v", pipeline.ErrArtifactWriteFailed, err)
			}
		}
		if err := f.WriteInts(prefix+"valid", valid); err != nil {
			return fmt.Errorf("%w: %v", pipeline.ErrArtifactWriteFailed, err)
		}
	}
	sc.Log.Info("wrote HDF5 twin %s", path)
	return nil
}
