package agtrace

import (
	"github.com/atomgrid/atomgrid"
	"github.com/atomgrid/atomgrid/agbuild"
	"github.com/chewxy/math32"
	"github.com/soypat/geometry/ms3"
)

// Marcher resolves ray queries against a built structure. It is cheap to
// construct and safe for concurrent use as long as the structure is not
// rebuilt underneath it.
type Marcher struct {
	s      *agbuild.Structure
	atoms  []atomgrid.Atom
	styles atomgrid.StyleTable
	grid   Grid
}

// NewMarcher wraps a built structure together with the atom buffer and style
// table it was built from.
func NewMarcher(s *agbuild.Structure, atoms []atomgrid.Atom, styles atomgrid.StyleTable) *Marcher {
	cfg := s.Config()
	return &Marcher{
		s:      s,
		atoms:  atoms,
		styles: styles,
		grid:   Grid{Origin: cfg.Origin, Edge: cfg.VoxelEdge, Dims: cfg.Dims},
	}
}

// Grid returns the upper-grid description of the wrapped structure.
func (m *Marcher) Grid() Grid { return m.grid }

// Hit is the result of a ray query: the atom buffer index and the ray
// parameter of the intersection (in units of the query direction's length).
type Hit struct {
	Atom int
	T    float32
}

// NearestAtom walks the two-level structure along the ray and returns the
// closest atom whose sphere the ray intersects with parameter in [0, tMax):
// an origin on a sphere's surface hits at parameter zero, a hit exactly at
// tMax is excluded. Pass tMax <= 0 for an unbounded query. dir must be
// non-zero; it is normalized internally.
//
// Voxels are visited in non-decreasing entry order, so the walk stops as soon
// as the best hit precedes the next voxel's entry parameter.
func (m *Marcher) NearestAtom(origin, dir ms3.Vec, tMax float32) (Hit, bool) {
	n := ms3.Norm(dir)
	if n == 0 || math32.IsNaN(n) {
		return Hit{}, false
	}
	dir = ms3.Scale(1/n, dir)
	if tMax <= 0 {
		tMax = math32.Inf(1)
	}
	cfg := m.s.Config()
	dda, ok := NewDDA(origin, dir, m.grid, tMax)
	if !ok {
		return Hit{}, false
	}
	best := Hit{Atom: -1, T: tMax}
	found := false
	for {
		st, more := dda.Next()
		if !more || (found && best.T <= st.TEntry) {
			break
		}
		id, res, active := m.lookupVoxel(st.Coord)
		if !active {
			continue
		}
		fine := res.CellsPerAxis()
		fg := Grid{
			Origin: cfg.VoxelOrigin(st.Coord[0], st.Coord[1], st.Coord[2]),
			Edge:   cfg.VoxelEdge / float32(fine),
			Dims:   [3]int32{fine, fine, fine},
		}
		fdda, fok := NewDDA(origin, dir, fg, st.TExit)
		if !fok {
			continue
		}
		refs := m.s.AtomRefs(id)
		for {
			cst, cmore := fdda.Next()
			if !cmore || (found && best.T <= cst.TEntry) {
				break
			}
			for _, li := range m.s.CellRefs(id, cst.Coord[0], cst.Coord[1], cst.Coord[2]) {
				ai := refs[li].Atom()
				a := m.atoms[ai]
				t, hit := raySphere(origin, dir, a.Pos, m.styles.Radius(a.Element))
				if hit && t < best.T {
					best = Hit{Atom: int(ai), T: t}
					found = true
				}
			}
		}
	}
	if !found {
		return Hit{}, false
	}
	return best, true
}

// lookupVoxel selects the voxel's resolution variant for traversal: the high
// resolution copy when it was allocated (the voxel is near the camera), the
// low resolution one otherwise.
func (m *Marcher) lookupVoxel(c [3]int32) (id int32, res atomgrid.Resolution, ok bool) {
	if id, ok = m.s.Lookup(c[0], c[1], c[2], atomgrid.ResHigh); ok {
		return id, atomgrid.ResHigh, true
	}
	if id, ok = m.s.Lookup(c[0], c[1], c[2], atomgrid.ResLow); ok {
		return id, atomgrid.ResLow, true
	}
	return 0, 0, false
}

// raySphere intersects a ray with a sphere. dir must be unit length. Returns
// the smallest non-negative parameter.
func raySphere(origin, dir, center ms3.Vec, r float32) (float32, bool) {
	oc := ms3.Sub(origin, center)
	b := ms3.Dot(oc, dir)
	q := ms3.Dot(oc, oc) - r*r
	disc := b*b - q
	if disc < 0 {
		return 0, false
	}
	sq := math32.Sqrt(disc)
	t := -b - sq
	if t < 0 {
		t = -b + sq
		if t < 0 {
			return 0, false
		}
	}
	return t, true
}
