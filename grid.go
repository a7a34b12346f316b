package atomgrid

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/soypat/geometry/ms3"
)

// Resolution selects the level of detail of an upper voxel's fine grid.
// Voxels near the camera carry both variants, far voxels only [ResLow].
type Resolution uint8

const (
	ResLow Resolution = iota
	ResHigh
	// NumResolutions is the number of resolution variants an upper voxel
	// coordinate can be allocated under.
	NumResolutions = 2
)

// CellsPerAxis returns the fine subdivision of an upper voxel edge.
func (r Resolution) CellsPerAxis() int32 {
	if r == ResHigh {
		return 32
	}
	return 16
}

// CellCount returns the total fine cells inside one upper voxel.
func (r Resolution) CellCount() int32 {
	n := r.CellsPerAxis()
	return n * n * n
}

func (r Resolution) String() string {
	if r == ResHigh {
		return "high"
	}
	return "low"
}

// MaxCellsPerVoxel bounds the fine-cell count of any resolution variant.
// Group scratch buffers are sized to it; changing CellsPerAxis requires
// revisiting this constant.
const MaxCellsPerVoxel = 32 * 32 * 32

// GridConfig describes the upper voxel grid and the fixed buffer budgets of
// structures built over it. The zero value is not usable; call [GridConfig.Validated]
// to apply defaults and bounds checks.
type GridConfig struct {
	// Dims is the upper voxel count per axis.
	Dims [3]int32
	// Origin is the world-space position of voxel (0,0,0)'s min corner (nm).
	Origin ms3.Vec
	// VoxelEdge is the upper voxel edge length in nm. Default 4.
	VoxelEdge float32
	// AtomCapacity is the fixed atom slot budget per upper voxel. References
	// beyond it are dropped for the frame. Default 1024, maximum 8192.
	AtomCapacity int32
	// MaxVoxels bounds the active (coordinate, resolution) pairs per frame.
	// Default 8192, maximum 262142.
	MaxVoxels int32
	// MaxReferences bounds the compacted fine-cell reference total per frame.
	// Default 1<<20.
	MaxReferences int32
	// MaxCells bounds the fine-cell metadata budget per frame. Must be a
	// multiple of 8. Default 1<<21.
	MaxCells int32
	// NearThreshold is the squared voxel-space distance below which an upper
	// voxel is considered near the camera and receives both resolution
	// variants. Default 9 (three voxel edges).
	NearThreshold float32
	// RetryBudget bounds every spin-retry loop contending for slot ownership.
	// On exhaustion the contending write is dropped for the frame. Default 1024.
	RetryBudget int32
	// Workers is the parallel worker count for both build passes.
	// Zero selects GOMAXPROCS-many.
	Workers int
}

const (
	defaultVoxelEdge     = 4.0
	defaultAtomCapacity  = 1024
	defaultMaxVoxels     = 8192
	defaultMaxReferences = 1 << 20
	defaultMaxCells      = 1 << 21
	defaultNearThreshold = 9
	defaultRetryBudget   = 1024

	// MaxAtomCapacity is the hard per-voxel slot limit. The running atom
	// count shares a 32-bit word with the voxel id (14 count bits); the
	// remaining headroom absorbs racy over-counting near capacity.
	MaxAtomCapacity = 1 << 13
	// MaxVoxelLimit is the hard active-voxel limit imposed by the 18 id bits
	// of the slot word, less the invalid-id sentinel.
	MaxVoxelLimit = InvalidVoxelID - 1
)

// Validated returns a copy of c with defaults applied, or an error wrapping
// [ErrBadConfig] if a field is out of range.
func (c GridConfig) Validated() (GridConfig, error) {
	if c.VoxelEdge == 0 {
		c.VoxelEdge = defaultVoxelEdge
	}
	if c.AtomCapacity == 0 {
		c.AtomCapacity = defaultAtomCapacity
	}
	if c.MaxVoxels == 0 {
		c.MaxVoxels = defaultMaxVoxels
	}
	if c.MaxReferences == 0 {
		c.MaxReferences = defaultMaxReferences
	}
	if c.MaxCells == 0 {
		c.MaxCells = defaultMaxCells
	}
	if c.NearThreshold == 0 {
		c.NearThreshold = defaultNearThreshold
	}
	if c.RetryBudget == 0 {
		c.RetryBudget = defaultRetryBudget
	}
	switch {
	case c.Dims[0] <= 0 || c.Dims[1] <= 0 || c.Dims[2] <= 0:
		return c, fmt.Errorf("%w: non-positive dims %v", ErrBadConfig, c.Dims)
	case int64(c.Dims[0])*int64(c.Dims[1])*int64(c.Dims[2]) > 1<<28:
		return c, fmt.Errorf("%w: grid of %v upper voxels too large", ErrBadConfig, c.Dims)
	case c.VoxelEdge <= 0 || math32.IsNaN(c.VoxelEdge) || math32.IsInf(c.VoxelEdge, 0):
		return c, fmt.Errorf("%w: voxel edge %v", ErrBadConfig, c.VoxelEdge)
	case c.AtomCapacity < 0 || c.AtomCapacity > MaxAtomCapacity:
		return c, fmt.Errorf("%w: atom capacity %d exceeds %d", ErrBadConfig, c.AtomCapacity, MaxAtomCapacity)
	case c.MaxVoxels < 0 || c.MaxVoxels > MaxVoxelLimit:
		return c, fmt.Errorf("%w: max voxels %d exceeds %d", ErrBadConfig, c.MaxVoxels, MaxVoxelLimit)
	case c.MaxReferences < 0:
		return c, fmt.Errorf("%w: negative reference budget", ErrBadConfig)
	case c.MaxCells < 0 || c.MaxCells%8 != 0:
		return c, fmt.Errorf("%w: cell budget %d not a multiple of 8", ErrBadConfig, c.MaxCells)
	case c.NearThreshold < 0:
		return c, fmt.Errorf("%w: negative near threshold", ErrBadConfig)
	case c.RetryBudget < 0:
		return c, fmt.Errorf("%w: negative retry budget", ErrBadConfig)
	case c.Workers < 0:
		return c, fmt.Errorf("%w: negative worker count", ErrBadConfig)
	}
	return c, nil
}

// VoxelCount returns the total upper voxel coordinates of the grid.
func (c *GridConfig) VoxelCount() int32 {
	return c.Dims[0] * c.Dims[1] * c.Dims[2]
}

// Index returns the row-major linear address of an in-bounds voxel
// coordinate, x fastest, then y, then z. Behavior for out-of-bounds
// coordinates is undefined; callers clamp or bounds-check first.
func (c *GridConfig) Index(x, y, z int32) int32 {
	return x + c.Dims[0]*(y+c.Dims[1]*z)
}

// Deltas returns the linear address change of a unit step along +x, +y, +z.
// Negative steps use the negated deltas.
func (c *GridConfig) Deltas() [3]int32 {
	return [3]int32{1, c.Dims[0], c.Dims[0] * c.Dims[1]}
}

// InBounds reports whether the voxel coordinate lies inside the grid.
func (c *GridConfig) InBounds(x, y, z int32) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < c.Dims[0] && y < c.Dims[1] && z < c.Dims[2]
}

// VoxelCoord returns the unclamped voxel coordinate containing world point p.
func (c *GridConfig) VoxelCoord(p ms3.Vec) (x, y, z int32) {
	inv := 1 / c.VoxelEdge
	x = int32(math32.Floor((p.X - c.Origin.X) * inv))
	y = int32(math32.Floor((p.Y - c.Origin.Y) * inv))
	z = int32(math32.Floor((p.Z - c.Origin.Z) * inv))
	return x, y, z
}

// ClampedSpan returns the voxel coordinate span overlapped by the axis
// aligned box, clamped to grid bounds. A degenerate box still contributes
// its min corner voxel, so lo ≤ hi always holds per axis.
func (c *GridConfig) ClampedSpan(box ms3.Box) (lo, hi [3]int32) {
	x0, y0, z0 := c.VoxelCoord(box.Min)
	x1, y1, z1 := c.VoxelCoord(box.Max)
	lo = [3]int32{clampi(x0, 0, c.Dims[0]-1), clampi(y0, 0, c.Dims[1]-1), clampi(z0, 0, c.Dims[2]-1)}
	hi = [3]int32{clampi(x1, 0, c.Dims[0]-1), clampi(y1, 0, c.Dims[1]-1), clampi(z1, 0, c.Dims[2]-1)}
	return lo, hi
}

// VoxelOrigin returns the world position of the voxel's min corner.
func (c *GridConfig) VoxelOrigin(x, y, z int32) ms3.Vec {
	e := c.VoxelEdge
	return ms3.Add(c.Origin, ms3.Vec{X: float32(x) * e, Y: float32(y) * e, Z: float32(z) * e})
}

// Bounds returns the world-space box covered by the grid.
func (c *GridConfig) Bounds() ms3.Box {
	sz := ms3.Vec{
		X: float32(c.Dims[0]) * c.VoxelEdge,
		Y: float32(c.Dims[1]) * c.VoxelEdge,
		Z: float32(c.Dims[2]) * c.VoxelEdge,
	}
	return ms3.Box{Min: c.Origin, Max: ms3.Add(c.Origin, sz)}
}

// NearCamera reports whether voxel coordinate (x,y,z) lies within the near
// threshold of the camera's voxel, measured as squared voxel-space distance.
func (c *GridConfig) NearCamera(x, y, z int32, camVoxel [3]int32) bool {
	dx := float32(x - camVoxel[0])
	dy := float32(y - camVoxel[1])
	dz := float32(z - camVoxel[2])
	return dx*dx+dy*dy+dz*dz < c.NearThreshold
}

func clampi(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	} else if v > hi {
		return hi
	}
	return v
}
