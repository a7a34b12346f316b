package agbuild

import (
	"sync/atomic"

	"github.com/atomgrid/atomgrid"
	"github.com/chewxy/math32"
	"github.com/soypat/geometry/ms3"
)

// Scratch buffers are sized to the largest supported fine grid. Compile-time
// guard: fails to build if the high resolution subdivision outgrows it.
var _ [atomgrid.MaxCellsPerVoxel - 32*32*32]struct{}

// groupScratch is the group-local memory of one pass 2 worker group. Each
// worker owns one scratch for the whole pass; groups never share scratch.
type groupScratch struct {
	// counts accumulates atom-to-cell overlap counts, then survives into the
	// compaction sub-phase.
	counts [atomgrid.MaxCellsPerVoxel]int32
	// offs holds the exclusive prefix sum of counts and is reused as the
	// per-cell write cursor during scatter.
	offs [atomgrid.MaxCellsPerVoxel]int32
}

// voxelKernel is the pass 2 worker-group body for one active upper voxel:
// load, coherence check, count, prefix-sum, scatter, compact. On a GPU the
// sub-phases are separated by group barriers; here one worker executes the
// whole group in program order, which satisfies the same ordering contract.
func (s *Structure) voxelKernel(id int32, atoms []atomgrid.Atom, prev *Structure, scr *groupScratch) {
	d := s.voxels[id]
	cnt := s.AtomCount(id)
	if cnt == 0 {
		s.clearBlocks(d)
		return
	}
	if d.CellBase < 0 {
		return // Cell budget was exhausted at creation; no fine grid.
	}
	refs := s.refs[id*s.cfg.AtomCapacity : id*s.cfg.AtomCapacity+cnt]

	// Coherence check: the voxel may be copied forward only if every member
	// reference agrees it is unchanged since the previous frame.
	if prev != nil {
		unchanged := true
		for _, r := range refs {
			unchanged = unchanged && r.Unchanged()
		}
		if unchanged && s.copyForward(d, cnt, prev) {
			atomic.AddInt64(&s.stats.CoherentVoxels, 1)
			return
		}
	}

	n := d.Res.CellsPerAxis()
	ncells := n * n * n
	vorigin := s.cfg.VoxelOrigin(d.Coord[0], d.Coord[1], d.Coord[2])
	invCell := float32(n) / s.cfg.VoxelEdge
	clear(scr.counts[:ncells])

	// Count sub-phase.
	for _, r := range refs {
		a := atoms[r.Atom()]
		lo, hi := cellSpan(a.Pos, s.radii[r.Atom()], vorigin, invCell, n)
		for cz := lo[2]; cz <= hi[2]; cz++ {
			for cy := lo[1]; cy <= hi[1]; cy++ {
				for cx := lo[0]; cx <= hi[0]; cx++ {
					scr.counts[cx+n*(cy+n*cz)]++
				}
			}
		}
	}

	// Exclusive prefix sum, then one fetch-add reserves this group's disjoint
	// range of the global scatter buffer.
	var total int32
	for ci := int32(0); ci < ncells; ci++ {
		scr.offs[ci] = total
		total += scr.counts[ci]
	}
	base := atomic.AddInt32(&s.refCursor, total) - total
	if int(base)+int(total) > len(s.scatter) {
		s.clearBlocks(d)
		atomic.AddInt64(&s.stats.DroppedVoxels, 1)
		atomic.AddInt64(&s.stats.DroppedRefs, int64(total))
		return
	}

	// Scatter sub-phase: the per-cell offset doubles as the write cursor.
	for li, r := range refs {
		a := atoms[r.Atom()]
		lo, hi := cellSpan(a.Pos, s.radii[r.Atom()], vorigin, invCell, n)
		for cz := lo[2]; cz <= hi[2]; cz++ {
			for cy := lo[1]; cy <= hi[1]; cy++ {
				for cx := lo[0]; cx <= hi[0]; cx++ {
					ci := cx + n*(cy+n*cz)
					k := scr.offs[ci]
					scr.offs[ci] = k + 1
					s.scatter[base+k] = uint16(li)
				}
			}
		}
	}

	// Compact sub-phase: pack each non-empty 2×2×2 block of cells into
	// contiguous chunks for the traversal stage.
	nb := n / blockEdge
	blockBase := d.CellBase / cellsPerBlock
	maxChunks := uint32(len(s.packed) / ChunkRefs)
	for bz := int32(0); bz < nb; bz++ {
		for by := int32(0); by < nb; by++ {
			for bx := int32(0); bx < nb; bx++ {
				bi := blockBase + bx + nb*(by+nb*bz)
				var bcounts [cellsPerBlock]uint16
				var btotal int32
				for sub := int32(0); sub < cellsPerBlock; sub++ {
					cx := bx*blockEdge + (sub & 1)
					cy := by*blockEdge + (sub >> 1 & 1)
					cz := bz*blockEdge + (sub >> 2)
					c := scr.counts[cx+n*(cy+n*cz)]
					bcounts[sub] = uint16(c)
					btotal += c
				}
				if btotal == 0 {
					s.blocks[bi] = BlockDesc{ChunkBase: NoChunk}
					continue
				}
				nchunks := uint32(btotal+ChunkRefs-1) / ChunkRefs
				cbase := atomic.AddUint32(&s.chunkCur, nchunks) - nchunks
				if cbase+nchunks > maxChunks {
					s.blocks[bi] = BlockDesc{ChunkBase: NoChunk}
					atomic.AddInt64(&s.stats.DroppedRefs, int64(btotal))
					continue
				}
				dst := cbase * ChunkRefs
				for sub := int32(0); sub < cellsPerBlock; sub++ {
					cx := bx*blockEdge + (sub & 1)
					cy := by*blockEdge + (sub >> 1 & 1)
					cz := bz*blockEdge + (sub >> 2)
					ci := cx + n*(cy+n*cz)
					c := scr.counts[ci]
					start := base + scr.offs[ci] - c
					copy(s.packed[dst:dst+uint32(c)], s.scatter[start:start+c])
					dst += uint32(c)
				}
				s.blocks[bi] = BlockDesc{ChunkBase: cbase, Counts: bcounts}
				atomic.AddInt64(&s.stats.References, int64(btotal))
				atomic.AddInt64(&s.stats.Chunks, int64(nchunks))
			}
		}
	}
}

// copyForward reuses the previous frame's compacted data for a voxel whose
// membership is flagged unchanged. Returns false when the previous frame has
// no matching voxel, in which case the caller rebuilds (always correct).
func (s *Structure) copyForward(d VoxelDesc, cnt int32, prev *Structure) bool {
	pid, ok := prev.Lookup(d.Coord[0], d.Coord[1], d.Coord[2], d.Res)
	if !ok || prev.AtomCount(pid) != cnt {
		return false
	}
	pd := prev.voxels[pid]
	if pd.CellBase < 0 {
		return false
	}
	nblocks := d.Res.CellCount() / cellsPerBlock
	srcBase := pd.CellBase / cellsPerBlock
	dstBase := d.CellBase / cellsPerBlock
	var chunks uint32
	for b := int32(0); b < nblocks; b++ {
		pb := &prev.blocks[srcBase+b]
		if pb.ChunkBase == NoChunk {
			continue
		}
		chunks += chunksOf(pb)
	}
	cbase := atomic.AddUint32(&s.chunkCur, chunks) - chunks
	if cbase+chunks > uint32(len(s.packed)/ChunkRefs) {
		return false
	}
	cur := cbase
	var refsTotal int64
	for b := int32(0); b < nblocks; b++ {
		pb := &prev.blocks[srcBase+b]
		if pb.ChunkBase == NoChunk {
			s.blocks[dstBase+b] = BlockDesc{ChunkBase: NoChunk}
			continue
		}
		nch := chunksOf(pb)
		var btotal uint32
		for _, c := range pb.Counts {
			btotal += uint32(c)
		}
		copy(s.packed[cur*ChunkRefs:cur*ChunkRefs+btotal], prev.packed[pb.ChunkBase*ChunkRefs:pb.ChunkBase*ChunkRefs+btotal])
		s.blocks[dstBase+b] = BlockDesc{ChunkBase: cur, Counts: pb.Counts}
		cur += nch
		refsTotal += int64(btotal)
	}
	atomic.AddInt64(&s.stats.References, refsTotal)
	atomic.AddInt64(&s.stats.Chunks, int64(chunks))
	return true
}

func chunksOf(b *BlockDesc) uint32 {
	var total uint32
	for _, c := range b.Counts {
		total += uint32(c)
	}
	return (total + ChunkRefs - 1) / ChunkRefs
}

// clearBlocks marks every block of the voxel's reserved region empty so that
// traversal never reads a stale index after a dropped fine grid.
func (s *Structure) clearBlocks(d VoxelDesc) {
	if d.CellBase < 0 {
		return
	}
	blockBase := d.CellBase / cellsPerBlock
	nblocks := d.Res.CellCount() / cellsPerBlock
	for b := int32(0); b < nblocks; b++ {
		s.blocks[blockBase+b] = BlockDesc{ChunkBase: NoChunk}
	}
}

// cellSpan returns the fine-cell span overlapped by an atom's bounding box in
// voxel-local cell coordinates, clamped to the fine grid.
func cellSpan(pos ms3.Vec, r float32, vorigin ms3.Vec, invCell float32, n int32) (lo, hi [3]int32) {
	p := ms3.Sub(pos, vorigin)
	lo[0] = clampcell(math32.Floor((p.X-r)*invCell), n)
	lo[1] = clampcell(math32.Floor((p.Y-r)*invCell), n)
	lo[2] = clampcell(math32.Floor((p.Z-r)*invCell), n)
	hi[0] = clampcell(math32.Floor((p.X+r)*invCell), n)
	hi[1] = clampcell(math32.Floor((p.Y+r)*invCell), n)
	hi[2] = clampcell(math32.Floor((p.Z+r)*invCell), n)
	return lo, hi
}

func clampcell(v float32, n int32) int32 {
	c := int32(v)
	if c < 0 {
		return 0
	} else if c >= n {
		return n - 1
	}
	return c
}
