package agbuild

import "time"

// BuildStats summarizes one frame's build. Counters are accumulated with
// atomic adds during the passes; read them only after Build returns.
type BuildStats struct {
	// Atoms is the input atom count.
	Atoms int
	// ActiveVoxels is the number of allocated (coordinate, resolution) pairs.
	ActiveVoxels int32
	// HighResVoxels counts the active pairs allocated at high resolution.
	HighResVoxels int64
	// References is the total compacted fine-cell references written.
	References int64
	// Chunks is the number of storage chunks reserved for packed references.
	Chunks int64
	// CoherentVoxels counts voxels whose compacted data was copied forward
	// from the previous frame instead of rebuilt.
	CoherentVoxels int64
	// DroppedRefs counts references abandoned to capacity limits or
	// exhausted retry budgets. Dropped references degrade one frame's index
	// and do not propagate.
	DroppedRefs int64
	// DroppedVoxels counts voxels whose fine grid was dropped to exhausted
	// voxel, cell, reference or chunk budgets.
	DroppedVoxels int64
	// Pass1 and Pass2 are wall-clock durations of the two build passes.
	Pass1, Pass2 time.Duration
}

// Stats returns the statistics of the last build.
func (s *Structure) Stats() BuildStats {
	st := s.stats
	st.ActiveVoxels = s.ActiveVoxelCount()
	return st
}
