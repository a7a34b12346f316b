package agbuild

import (
	"testing"

	"github.com/atomgrid/atomgrid"
)

// The fine-cell cursor keeps advancing after the cell budget is exhausted.
// Creating far more high resolution voxels than the budget covers must leave
// every over-budget voxel at the -1 sentinel and never hand two voxels the
// same fine-cell region, even once the demanded cell total exceeds 2^31.
func TestAcquireVoxelCellBudgetNoAliasing(t *testing.T) {
	cfg := atomgrid.GridConfig{
		Dims:         [3]int32{64, 64, 64},
		VoxelEdge:    4,
		MaxVoxels:    atomgrid.MaxVoxelLimit,
		AtomCapacity: 1,
	}
	s, err := NewStructure(cfg)
	if err != nil {
		t.Fatal(err)
	}
	// 140000 voxels demand 140000*32768 cells, past both the budget and the
	// 32-bit range.
	const acquisitions = 140000
	cells := int64(atomgrid.ResHigh.CellCount())
	seen := make(map[int32]int32)
	n := 0
	for z := int32(0); z < cfg.Dims[2] && n < acquisitions; z++ {
		for y := int32(0); y < cfg.Dims[1] && n < acquisitions; y++ {
			for x := int32(0); x < cfg.Dims[0] && n < acquisitions; x++ {
				id, _, ok := s.acquireVoxel(x, y, z, atomgrid.ResHigh)
				if !ok {
					t.Fatalf("acquisition %d failed below the voxel budget", n)
				}
				n++
				d := s.voxels[id]
				if d.CellBase < 0 {
					if d.CellBase != -1 {
						t.Fatalf("voxel %d carries corrupt cell base %d", id, d.CellBase)
					}
					continue
				}
				if int64(d.CellBase)+cells > int64(s.cfg.MaxCells) {
					t.Fatalf("voxel %d fine grid at %d exceeds the %d cell budget", id, d.CellBase, s.cfg.MaxCells)
				}
				if prev, dup := seen[d.CellBase]; dup {
					t.Fatalf("voxels %d and %d share fine-cell base %d", prev, id, d.CellBase)
				}
				seen[d.CellBase] = id
			}
		}
	}
	if len(seen) != int(s.cfg.MaxCells/atomgrid.ResHigh.CellCount()) {
		t.Errorf("voxels with fine grids: got %d, want the full budget's worth %d",
			len(seen), s.cfg.MaxCells/atomgrid.ResHigh.CellCount())
	}
	if s.stats.DroppedVoxels != int64(acquisitions)-int64(len(seen)) {
		t.Errorf("dropped voxels: got %d, want %d", s.stats.DroppedVoxels, acquisitions-len(seen))
	}
}
