package agbuild

import (
	"runtime"
	"sync/atomic"

	"github.com/atomgrid/atomgrid"
	"github.com/soypat/geometry/ms3"
)

// Camera carries the camera state pass 1 consumes: the world position and the
// precomputed coordinate of the upper voxel containing it. Voxels within the
// configured near threshold of Voxel receive both resolution variants.
type Camera struct {
	Pos   ms3.Vec
	Voxel [3]int32
}

// CameraAt returns the Camera for a world position under configuration cfg.
// The voxel coordinate is intentionally unclamped: a camera outside the grid
// still orders voxels by distance correctly.
func CameraAt(cfg *atomgrid.GridConfig, pos ms3.Vec) Camera {
	x, y, z := cfg.VoxelCoord(pos)
	return Camera{Pos: pos, Voxel: [3]int32{x, y, z}}
}

// atomKernel is the pass 1 worker body: register atom i in every
// (voxel, resolution) pair its bounding sphere overlaps.
func (s *Structure) atomKernel(i int, pos ms3.Vec, r float32, cam Camera) {
	box := ms3.Box{Min: ms3.AddScalar(-r, pos), Max: ms3.AddScalar(r, pos)}
	grid := s.cfg.Bounds()
	if box.Max.X < grid.Min.X || box.Max.Y < grid.Min.Y || box.Max.Z < grid.Min.Z ||
		box.Min.X > grid.Max.X || box.Min.Y > grid.Max.Y || box.Min.Z > grid.Max.Z {
		return
	}
	lo, hi := s.cfg.ClampedSpan(box)
	for z := lo[2]; z <= hi[2]; z++ {
		for y := lo[1]; y <= hi[1]; y++ {
			for x := lo[0]; x <= hi[0]; x++ {
				variants := [atomgrid.NumResolutions]atomgrid.Resolution{atomgrid.ResLow}
				nvar := 1
				if s.cfg.NearCamera(x, y, z, cam.Voxel) {
					variants[1] = atomgrid.ResHigh
					nvar = 2
				}
				for v := 0; v < nvar; v++ {
					id, w, ok := s.acquireVoxel(x, y, z, variants[v])
					if !ok {
						atomic.AddInt64(&s.stats.DroppedRefs, 1)
						continue
					}
					s.insertRef(w, id, uint32(i))
				}
			}
		}
	}
}

// acquireVoxel resolves the slot word of (coordinate, resolution) to a usable
// voxel id, creating the voxel if this worker wins the vacant→claimed race.
// It returns ok=false when the retry budget runs out before the slot becomes
// ready, or when the active-voxel budget is exhausted.
func (s *Structure) acquireVoxel(x, y, z int32, res atomgrid.Resolution) (id int32, w *uint32, ok bool) {
	w = &s.slots[s.slotIndex(x, y, z, res)]
	for try := int32(0); try <= s.cfg.RetryBudget; try++ {
		cur := atomgrid.SlotWord(atomic.LoadUint32(w))
		switch {
		case cur == atomgrid.SlotVacant:
			if !atomic.CompareAndSwapUint32(w, uint32(atomgrid.SlotVacant), uint32(atomgrid.SlotClaimed)) {
				continue // Lost the claim; reread the winner's progress.
			}
			vid := atomic.AddInt32(&s.nVoxels, 1) - 1
			if vid >= s.cfg.MaxVoxels {
				// Voxel budget exhausted. Publish the invalid id so waiters
				// resolve immediately instead of burning their budgets.
				atomic.StoreUint32(w, uint32(atomgrid.MakeReadySlot(atomgrid.InvalidVoxelID)))
				atomic.AddInt64(&s.stats.DroppedVoxels, 1)
				return 0, w, false
			}
			cells := int64(res.CellCount())
			cellBase := atomic.AddInt64(&s.cellCursor, cells) - cells
			base := int32(-1) // No fine grid this frame.
			if cellBase+cells <= int64(s.cfg.MaxCells) {
				base = int32(cellBase)
			} else {
				atomic.AddInt64(&s.stats.DroppedVoxels, 1)
			}
			if res == atomgrid.ResHigh {
				atomic.AddInt64(&s.stats.HighResVoxels, 1)
			}
			s.voxels[vid] = VoxelDesc{Coord: [3]int32{x, y, z}, Res: res, CellBase: base}
			atomic.StoreUint32(w, uint32(atomgrid.MakeReadySlot(uint32(vid))))
			return vid, w, true
		case cur == atomgrid.SlotClaimed:
			if try&15 == 15 {
				runtime.Gosched()
			}
		default:
			vid := cur.VoxelID()
			if vid >= uint32(s.cfg.MaxVoxels) {
				return 0, w, false
			}
			return int32(vid), w, true
		}
	}
	return 0, w, false
}

// insertRef claims the next atom slot of voxel id via fetch-add on the packed
// count and writes the reference. Writes at or beyond capacity are no-ops.
// The load-check before the add bounds how far the count can overshoot the
// capacity, keeping it clear of the id bits.
func (s *Structure) insertRef(w *uint32, id int32, atom uint32) {
	if atomgrid.SlotWord(atomic.LoadUint32(w)).AtomCount() >= s.cfg.AtomCapacity {
		atomic.AddInt64(&s.stats.DroppedRefs, 1)
		return
	}
	idx := atomgrid.SlotWord(atomic.AddUint32(w, 1)).AtomCount() - 1
	if idx >= s.cfg.AtomCapacity {
		atomic.AddInt64(&s.stats.DroppedRefs, 1)
		return
	}
	s.refs[id*s.cfg.AtomCapacity+idx] = atomgrid.MakeAtomRef(atom, false)
}
