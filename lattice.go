package atomgrid

import "github.com/soypat/geometry/ms3"

// diamondBasis is the 8-atom basis of the diamond cubic cell in fractional
// lattice coordinates.
var diamondBasis = [8]ms3.Vec{
	{X: 0, Y: 0, Z: 0},
	{X: 0, Y: 0.5, Z: 0.5},
	{X: 0.5, Y: 0, Z: 0.5},
	{X: 0.5, Y: 0.5, Z: 0},
	{X: 0.25, Y: 0.25, Z: 0.25},
	{X: 0.25, Y: 0.75, Z: 0.75},
	{X: 0.75, Y: 0.25, Z: 0.75},
	{X: 0.75, Y: 0.75, Z: 0.25},
}

// DiamondCellNM is the diamond cubic lattice constant for carbon (nm).
const DiamondCellNM = 0.357

// DiamondLattice appends a carbon diamond-cubic lattice of cells[0] × cells[1]
// × cells[2] unit cells with lattice constant a (nm), starting at origin, and
// returns the extended slice. It is the canonical test and example scene: the
// structures this index accelerates are diamondoid machine parts.
func DiamondLattice(dst []Atom, cells [3]int, a float32, origin ms3.Vec) []Atom {
	for k := 0; k < cells[2]; k++ {
		for j := 0; j < cells[1]; j++ {
			for i := 0; i < cells[0]; i++ {
				corner := ms3.Add(origin, ms3.Vec{X: float32(i) * a, Y: float32(j) * a, Z: float32(k) * a})
				for _, b := range diamondBasis {
					dst = append(dst, Atom{
						Pos:     ms3.Add(corner, ms3.Scale(a, b)),
						Element: 6,
					})
				}
			}
		}
	}
	return dst
}
