// Package agbuild builds the frame-scoped two-level sparse voxel acceleration
// structure over an atom buffer. A build runs two data-parallel passes:
//
//   - Pass 1 (upper allocator): one logical worker per atom lazily allocates
//     the coarse voxels the atom's bounding sphere overlaps, decides each
//     voxel's level of detail from camera distance, and records membership.
//   - Pass 2 (lower builder/compactor): one worker group per active upper
//     voxel subdivides it into a fine grid, counts atom-to-cell overlaps,
//     prefix-sums the counts into offsets, scatters compacted references and
//     packs them into cache-line-sized chunks for traversal.
//
// There are no locks anywhere: coordination uses compare-and-swap and
// fetch-add on single words, with every wait bounded by a retry budget.
// Failure is silent, bounded degradation — an exhausted budget or a full
// buffer drops the affected reference for the frame, never hangs the build.
package agbuild

import (
	"sync/atomic"

	"github.com/atomgrid/atomgrid"
)

// VoxelDesc is one entry of the compacted active-voxel coordinate table,
// published by the voxel's creator during pass 1.
type VoxelDesc struct {
	// Coord is the upper voxel coordinate.
	Coord [3]int32
	// Res is the resolution variant this entry was allocated under.
	Res atomgrid.Resolution
	// CellBase is the voxel's base index into the frame's fine-cell budget,
	// or -1 when the cell budget was exhausted and the voxel carries no fine
	// grid this frame.
	CellBase int32
}

// BlockDesc indexes the compacted references of one 2×2×2 block of fine
// cells. Blocks are only materialized (given chunk storage) when non-empty.
type BlockDesc struct {
	// ChunkBase is the block's first chunk in the packed reference buffer,
	// or NoChunk when every cell of the block is empty.
	ChunkBase uint32
	// Counts holds the reference count of each of the block's 8 cells, in
	// sub-cell order (x fastest). A cell's references start at
	// ChunkBase*ChunkRefs plus the sum of the preceding counts.
	Counts [8]uint16
}

const (
	// blockEdge is the fine-cell span of a block per axis.
	blockEdge     = 2
	cellsPerBlock = blockEdge * blockEdge * blockEdge
	// ChunkRefs is the reference capacity of one storage chunk. At two bytes
	// per reference a chunk spans a 32-byte half cache line; blocks reserve
	// whole chunks so adjacent blocks never share one.
	ChunkRefs = 16
	// NoChunk marks a block with no references.
	NoChunk = ^uint32(0)
)

// Structure is a frame-scoped acceleration structure. It is built from
// scratch by [Structure.Build] once per frame and queried by package agtrace;
// all buffers are retained between frames and reused.
//
// A Structure must not be queried while a build is in progress.
type Structure struct {
	cfg atomgrid.GridConfig

	// slots holds one packed SlotWord per (coordinate, resolution) pair,
	// addressed as Index(coord)*NumResolutions + res.
	slots []uint32
	// voxels is the compacted coordinate table, valid up to nVoxels.
	voxels []VoxelDesc
	// refs holds per-voxel atom reference lists in fixed-capacity regions of
	// AtomCapacity entries starting at id*AtomCapacity.
	refs []atomgrid.AtomRef
	// scatter is the intermediate reference buffer pass 2 groups reserve
	// disjoint ranges of; it is consumed by the compaction sub-phase.
	scatter []uint16
	// blocks is the per-block chunk index, in per-voxel regions of
	// CellCount/8 entries starting at CellBase/8.
	blocks []BlockDesc
	// packed is the chunked compacted reference buffer traversal reads.
	packed []uint16

	// radii caches the per-atom bounding radius for the current build.
	radii []float32

	// Frame cursors, advanced only by atomic fetch-add. The cell cursor is
	// 64-bit: it keeps advancing past an exhausted budget and must never
	// wrap back into range.
	cellCursor int64
	nVoxels    int32
	refCursor  int32
	chunkCur   uint32

	scratches []*groupScratch

	stats BuildStats
}

// NewStructure allocates a structure for the given grid configuration with
// defaults applied. The allocation is the frame-independent worst case; no
// further allocation happens during builds.
func NewStructure(cfg atomgrid.GridConfig) (*Structure, error) {
	cfg, err := cfg.Validated()
	if err != nil {
		return nil, err
	}
	maxChunks := cfg.MaxReferences / 8
	s := &Structure{
		cfg:     cfg,
		slots:   make([]uint32, cfg.VoxelCount()*atomgrid.NumResolutions),
		voxels:  make([]VoxelDesc, cfg.MaxVoxels),
		refs:    make([]atomgrid.AtomRef, int(cfg.MaxVoxels)*int(cfg.AtomCapacity)),
		scatter: make([]uint16, cfg.MaxReferences),
		blocks:  make([]BlockDesc, cfg.MaxCells/cellsPerBlock),
		packed:  make([]uint16, int(maxChunks)*ChunkRefs),
	}
	s.reset() // Zeroed slot words would read as ready with voxel id 0.
	return s, nil
}

// Config returns the validated configuration the structure was built with.
func (s *Structure) Config() atomgrid.GridConfig { return s.cfg }

// reset rewinds all frame cursors and marks every slot word vacant.
func (s *Structure) reset() {
	for i := range s.slots {
		s.slots[i] = uint32(atomgrid.SlotVacant)
	}
	s.nVoxels = 0
	s.cellCursor = 0
	s.refCursor = 0
	s.chunkCur = 0
	s.stats = BuildStats{}
}

// ActiveVoxelCount returns the number of active (coordinate, resolution)
// pairs of the last build.
func (s *Structure) ActiveVoxelCount() int32 {
	n := atomic.LoadInt32(&s.nVoxels)
	if n > s.cfg.MaxVoxels {
		n = s.cfg.MaxVoxels
	}
	return n
}

// Voxel returns the coordinate-table entry of voxel id.
func (s *Structure) Voxel(id int32) VoxelDesc { return s.voxels[id] }

// Lookup returns the voxel id allocated for the (coordinate, resolution)
// pair, if any.
func (s *Structure) Lookup(x, y, z int32, res atomgrid.Resolution) (id int32, ok bool) {
	if !s.cfg.InBounds(x, y, z) {
		return 0, false
	}
	w := atomgrid.SlotWord(atomic.LoadUint32(&s.slots[s.slotIndex(x, y, z, res)]))
	if !w.Ready() || w.VoxelID() >= uint32(s.cfg.MaxVoxels) {
		return 0, false
	}
	return int32(w.VoxelID()), true
}

// AtomCount returns the number of atom references stored for voxel id,
// clamped to the configured capacity.
func (s *Structure) AtomCount(id int32) int32 {
	d := s.voxels[id]
	w := atomgrid.SlotWord(s.slots[s.slotIndex(d.Coord[0], d.Coord[1], d.Coord[2], d.Res)])
	n := w.AtomCount()
	if n > s.cfg.AtomCapacity {
		n = s.cfg.AtomCapacity
	}
	return n
}

// AtomRefs returns voxel id's atom reference list. The returned slice aliases
// the structure's buffers and is valid until the next build.
func (s *Structure) AtomRefs(id int32) []atomgrid.AtomRef {
	base := id * s.cfg.AtomCapacity
	return s.refs[base : base+s.AtomCount(id)]
}

// CellRefs returns the compacted reference list of fine cell (cx,cy,cz)
// inside voxel id. References are local indices into [Structure.AtomRefs] of
// the same voxel. The slice aliases the structure's buffers.
func (s *Structure) CellRefs(id int32, cx, cy, cz int32) []uint16 {
	d := s.voxels[id]
	if d.CellBase < 0 {
		return nil
	}
	nb := d.Res.CellsPerAxis() / blockEdge
	bi := d.CellBase/cellsPerBlock + cx/blockEdge + nb*((cy/blockEdge)+nb*(cz/blockEdge))
	b := &s.blocks[bi]
	if b.ChunkBase == NoChunk {
		return nil
	}
	sub := (cx & 1) + blockEdge*(cy&1) + blockEdge*blockEdge*(cz&1)
	start := b.ChunkBase * ChunkRefs
	for i := int32(0); i < sub; i++ {
		start += uint32(b.Counts[i])
	}
	return s.packed[start : start+uint32(b.Counts[sub])]
}

func (s *Structure) slotIndex(x, y, z int32, res atomgrid.Resolution) int32 {
	return s.cfg.Index(x, y, z)*atomgrid.NumResolutions + int32(res)
}
