// Package agtrace walks rays through the acceleration structure built by
// package agbuild. The DDA primitive visits voxels of a uniform grid in
// non-decreasing entry-parameter order; the Marcher composes two DDAs to
// resolve ray queries against the two-level structure.
package agtrace

import (
	"github.com/chewxy/math32"
	"github.com/soypat/geometry/ms3"
)

// Grid describes a uniform voxel grid for traversal: the upper grid of a
// structure, or the fine grid inside one upper voxel.
type Grid struct {
	// Origin is the world position of voxel (0,0,0)'s min corner.
	Origin ms3.Vec
	// Edge is the voxel edge length.
	Edge float32
	// Dims is the voxel count per axis.
	Dims [3]int32
}

// Box returns the world-space box covered by the grid.
func (g Grid) Box() ms3.Box {
	sz := ms3.Vec{
		X: float32(g.Dims[0]) * g.Edge,
		Y: float32(g.Dims[1]) * g.Edge,
		Z: float32(g.Dims[2]) * g.Edge,
	}
	return ms3.Box{Min: g.Origin, Max: ms3.Add(g.Origin, sz)}
}

// VoxelStep is one voxel visited by a DDA walk. TExit is the largest ray
// parameter the voxel accepts; a consumer that already holds a hit at or
// before TEntry can stop walking.
type VoxelStep struct {
	Coord         [3]int32
	TEntry, TExit float32
}

// DDA steps a ray through a uniform grid one voxel at a time, visiting voxels
// in non-decreasing entry-parameter order regardless of ray direction sign.
// The walk terminates at the grid boundary or at the construction-time
// parameter limit.
type DDA struct {
	pos    [3]int32
	dims   [3]int32
	step   [3]int32
	tNext  [3]float32
	tDelta [3]float32
	t      float32
	tLimit float32
	done   bool
}

// NewDDA prepares a walk of g along the ray origin+t*dir for t in
// [0, tMax]. ok is false when the ray misses the grid entirely. dir need not
// be normalized; parameters are in units of dir's length.
func NewDDA(origin, dir ms3.Vec, g Grid, tMax float32) (d DDA, ok bool) {
	bb := g.Box()
	tEnter, tExit, hit := rayBox(origin, dir, bb)
	if !hit || tExit < 0 || tEnter > tMax {
		return DDA{}, false
	}
	if tEnter < 0 {
		tEnter = 0
	}
	d.dims = g.Dims
	d.t = tEnter
	d.tLimit = minf(tExit, tMax)

	p := ms3.Add(origin, ms3.Scale(tEnter, dir))
	inv := 1 / g.Edge
	o := [3]float32{origin.X, origin.Y, origin.Z}
	dr := [3]float32{dir.X, dir.Y, dir.Z}
	gmin := [3]float32{g.Origin.X, g.Origin.Y, g.Origin.Z}
	pl := [3]float32{p.X, p.Y, p.Z}
	for a := 0; a < 3; a++ {
		c := int32(math32.Floor((pl[a] - gmin[a]) * inv))
		if c < 0 {
			c = 0
		} else if c >= g.Dims[a] {
			c = g.Dims[a] - 1
		}
		d.pos[a] = c
		switch {
		case dr[a] > 0:
			d.step[a] = 1
			d.tNext[a] = (gmin[a] + float32(c+1)*g.Edge - o[a]) / dr[a]
			d.tDelta[a] = g.Edge / dr[a]
		case dr[a] < 0:
			d.step[a] = -1
			d.tNext[a] = (gmin[a] + float32(c)*g.Edge - o[a]) / dr[a]
			d.tDelta[a] = -g.Edge / dr[a]
		default:
			d.step[a] = 0
			d.tNext[a] = math32.Inf(1)
			d.tDelta[a] = math32.Inf(1)
		}
	}
	return d, true
}

// Next returns the next voxel along the ray. ok is false once the walk has
// left the grid or passed its parameter limit.
func (d *DDA) Next() (st VoxelStep, ok bool) {
	if d.done {
		return VoxelStep{}, false
	}
	axis := 0
	if d.tNext[1] < d.tNext[axis] {
		axis = 1
	}
	if d.tNext[2] < d.tNext[axis] {
		axis = 2
	}
	st = VoxelStep{Coord: d.pos, TEntry: d.t, TExit: minf(d.tNext[axis], d.tLimit)}
	if d.tNext[axis] >= d.tLimit {
		d.done = true
		return st, true
	}
	d.t = d.tNext[axis]
	d.tNext[axis] += d.tDelta[axis]
	d.pos[axis] += d.step[axis]
	if d.pos[axis] < 0 || d.pos[axis] >= d.dims[axis] {
		d.done = true
	}
	return st, true
}

// rayBox is a slab-test ray vs axis-aligned box intersection.
func rayBox(origin, dir ms3.Vec, bb ms3.Box) (tEnter, tExit float32, hit bool) {
	tEnter = math32.Inf(-1)
	tExit = math32.Inf(1)
	o := [3]float32{origin.X, origin.Y, origin.Z}
	dr := [3]float32{dir.X, dir.Y, dir.Z}
	lo := [3]float32{bb.Min.X, bb.Min.Y, bb.Min.Z}
	hi := [3]float32{bb.Max.X, bb.Max.Y, bb.Max.Z}
	for a := 0; a < 3; a++ {
		if dr[a] == 0 {
			if o[a] < lo[a] || o[a] > hi[a] {
				return 0, 0, false
			}
			continue
		}
		t0 := (lo[a] - o[a]) / dr[a]
		t1 := (hi[a] - o[a]) / dr[a]
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		tEnter = maxf(tEnter, t0)
		tExit = minf(tExit, t1)
		if tEnter > tExit {
			return 0, 0, false
		}
	}
	return tEnter, tExit, true
}

func minf(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
