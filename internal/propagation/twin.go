package propagation

import (
	"fmt"
	"strings"

	"github.com/asgard/heimdall/internal/hdf5twin"
	"github.com/asgard/heimdall/internal/pipeline"
)

// WriteTwin implements pipeline.TwinWriter: the stage 2 HDF5 twin with the
// same per-satellite series the JSON primary carries.
func (s *Stage) WriteTwin(sc *pipeline.Context, payload interface{}, jsonPath string) error {
	p, ok := payload.(*Payload)
	if !ok {
		return fmt.Errorf("%w: stage 2 twin payload type", pipeline.ErrUpstreamSchemaMismatch)
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
		n := len(sat.States)
		times := make([]float64, n)
		pos := make([]float64, 3*n)
		vel := make([]float64, 3*n)
		valid := make([]int64, n)
		for i, st := range sat.States {
			times[i] = float64(st.Time.UnixNano()) / 1e9
			copy(pos[3*i:], st.PosKm[:])
			copy(vel[3*i:], st.VelKmS[:])
			if st.Valid {
				valid[i] = 1
			}
		}
		prefix := fmt.Sprintf("sat_%d_", sat.CatalogID)
		for _, ds := range []struct {
			name string
			data []float64
		}{
			{prefix + "time_unix", times},
			{prefix + "pos_teme_km", pos},
			{prefix + "vel_teme_km_s", vel},
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
