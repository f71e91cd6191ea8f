package storage

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
)

const (
	// DefaultVectorCapacity is the initial number of vector slots a new
	// region is sized for.
	DefaultVectorCapacity = 1024

	float32Size = 4
)

// VectorFile is a memory-mapped fixed-stride binary region for embedding
// vectors. Each slot holds one vector of dims float32s in little-endian
// order; a slot's byte offset is position * dims * 4. The region doubles
// in capacity (remap) before a write would exceed it.
type VectorFile struct {
	mu       sync.RWMutex
	file     *os.File
	region   mmap.MMap
	path     string
	dims     int
	capacity int
	closed   bool
}

// OpenVectorFile opens (or creates) a vector region at path for vectors of
// the given dimension. A new file is pre-sized for DefaultVectorCapacity
// slots; an existing file keeps its current capacity.
func OpenVectorFile(path string, dims int) (*VectorFile, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive, got %d", dims)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open vector file: %w", err)
	}

	stride := int64(dims) * float32Size
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat vector file: %w", err)
	}

	capacity := int(info.Size() / stride)
	if capacity < DefaultVectorCapacity {
		capacity = DefaultVectorCapacity
		if err := f.Truncate(int64(capacity) * stride); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("size vector file: %w", err)
		}
	}

	region, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("map vector file: %w", err)
	}

	return &VectorFile{
		file:     f,
		region:   region,
		path:     path,
		dims:     dims,
		capacity: capacity,
	}, nil
}

// WriteAt stores a vector at the given slot position, growing the region
// first when the position would exceed current capacity.
func (v *VectorFile) WriteAt(position int, vector []float32) error {
	if position < 0 {
		return fmt.Errorf("negative vector position %d", position)
	}
	if len(vector) != v.dims {
		return fmt.Errorf("vector has %d dimensions, region expects %d", len(vector), v.dims)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return fmt.Errorf("vector file is closed")
	}

	if position >= v.capacity {
		if err := v.growLocked(position); err != nil {
			return err
		}
	}

	offset := position * v.dims * float32Size
	for i, val := range vector {
		binary.LittleEndian.PutUint32(
			v.region[offset+i*float32Size:], math.Float32bits(val))
	}
	return nil
}

// ReadAt loads the vector at the given slot position.
func (v *VectorFile) ReadAt(position int) ([]float32, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return nil, fmt.Errorf("vector file is closed")
	}
	if position < 0 || position >= v.capacity {
		return nil, fmt.Errorf("vector position %d out of range [0, %d)", position, v.capacity)
	}

	offset := position * v.dims * float32Size
	vector := make([]float32, v.dims)
	for i := range vector {
		vector[i] = math.Float32frombits(
			binary.LittleEndian.Uint32(v.region[offset+i*float32Size:]))
	}
	return vector, nil
}

// growLocked doubles capacity until position fits, remapping the region.
func (v *VectorFile) growLocked(position int) error {
	newCapacity := v.capacity
	for newCapacity <= position {
		newCapacity *= 2
	}

	if err := v.region.Flush(); err != nil {
		return fmt.Errorf("flush before grow: %w", err)
	}
	if err := v.region.Unmap(); err != nil {
		return fmt.Errorf("unmap before grow: %w", err)
	}
	if err := v.file.Truncate(int64(newCapacity) * int64(v.dims) * float32Size); err != nil {
		return fmt.Errorf("grow vector file: %w", err)
	}

	region, err := mmap.Map(v.file, mmap.RDWR, 0)
	if err != nil {
		return fmt.Errorf("remap vector file: %w", err)
	}
	v.region = region
	v.capacity = newCapacity
	return nil
}

// Dimensions returns the per-vector dimension.
func (v *VectorFile) Dimensions() int {
	return v.dims
}

// Capacity returns the number of slots the region currently holds.
func (v *VectorFile) Capacity() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.capacity
}

// Flush syncs the mapped region to disk.
func (v *VectorFile) Flush() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return fmt.Errorf("vector file is closed")
	}
	return v.region.Flush()
}

// Close flushes, unmaps, and closes the underlying file.
func (v *VectorFile) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true

	if err := v.region.Flush(); err != nil {
		_ = v.region.Unmap()
		_ = v.file.Close()
		return fmt.Errorf("flush vector file: %w", err)
	}
	if err := v.region.Unmap(); err != nil {
		_ = v.file.Close()
		return fmt.Errorf("unmap vector file: %w", err)
	}
	return v.file.Close()
}
