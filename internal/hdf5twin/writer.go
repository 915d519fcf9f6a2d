// Package hdf5twin writes the HDF5 twin artifacts stages 2 and 3 emit next
// to their JSON primaries. The twin carries the same payload semantics in
// flat numeric datasets for downstream numerical tooling.
package hdf5twin

import (
	"fmt"

	"gonum.org/v1/hdf5"
)

// File wraps an HDF5 file being written.
type File struct {
	f *hdf5.File
}

// Create truncates and opens the twin file.
func Create(path string) (*File, error) {
	f, err := hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	if err != nil {
		return nil, fmt.Errorf("create hdf5 %s: %w", path, err)
	}
	return &File{f: f}, nil
}

// WriteFloats writes a 1-D float64 dataset.
func (w *File) WriteFloats(name string, data []float64) error {
	if len(data) == 0 {
		return nil
	}
	space, err := hdf5.CreateSimpleDataspace([]uint{uint(len(data))}, nil)
	if err != nil {
		return fmt.Errorf("dataspace %s: %w", name, err)
	}
	defer space.Close()

	dset, err := w.f.CreateDataset(name, hdf5.T_NATIVE_DOUBLE, space)
	if err != nil {
		return fmt.Errorf("dataset %s: %w", name, err)
	}
	defer dset.Close()

	if err := dset.Write(&data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// WriteInts writes a 1-D int64 dataset.
func (w *File) WriteInts(name string, data []int64) error {
	if len(data) == 0 {
		return nil
	}
	space, err := hdf5.CreateSimpleDataspace([]uint{uint(len(data))}, nil)
	if err != nil {
		return fmt.Errorf("dataspace %s: %w", name, err)
	}
	defer space.Close()

	dset, err := w.f.CreateDataset(name, hdf5.T_NATIVE_INT64, space)
	if err != nil {
		return fmt.Errorf("dataset %s: %w", name, err)
	}
	defer dset.Close()

	if err := dset.Write(&data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Close flushes and closes the file.
func (w *File) Close() error {
	return w.f.Close()
}
