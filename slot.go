package atomgrid

// SlotWord is the packed allocation state of one (coordinate, resolution)
// upper voxel pair: the low 14 bits hold the running atom count, the high 18
// bits the assigned voxel id. A single 32-bit word lets the builder allocate
// and fill voxels with compare-and-swap and fetch-add alone, with no lock.
//
// Lifecycle of a word within a frame:
//
//	SlotVacant --CAS--> SlotClaimed --store--> ready (id<<14, count 0)
//
// Exactly one claimant wins the CAS and becomes the voxel's creator; everyone
// else spins, bounded by the configured retry budget, until the word reads as
// ready. The two sentinels occupy bit patterns no ready word can take because
// voxel ids are bounded by [MaxVoxelLimit].
type SlotWord uint32

const (
	// SlotVacant marks a voxel coordinate never touched this frame.
	SlotVacant SlotWord = 0xFFFF_FFFF
	// SlotClaimed marks a coordinate whose creator has won the claim but not
	// yet published the voxel id.
	SlotClaimed SlotWord = 0xFFFF_FFFE

	slotCountBits = 14
	// SlotCountMask extracts the running atom count from a ready word.
	SlotCountMask = 1<<slotCountBits - 1
	// InvalidVoxelID is published in place of a real id when the active-voxel
	// budget is exhausted; writers treat such voxels as dropped.
	InvalidVoxelID = 1<<(32-slotCountBits) - 1
)

// MakeReadySlot returns the ready word for a freshly created voxel id with an
// atom count of zero.
func MakeReadySlot(id uint32) SlotWord {
	return SlotWord(id << slotCountBits)
}

// Ready reports whether the word holds a published voxel id.
func (s SlotWord) Ready() bool {
	return s != SlotVacant && s != SlotClaimed
}

// VoxelID returns the voxel id of a ready word.
func (s SlotWord) VoxelID() uint32 {
	return uint32(s) >> slotCountBits
}

// AtomCount returns the running atom count of a ready word. The count keeps
// rising past the voxel's capacity when references are dropped; readers clamp
// to the configured capacity.
func (s SlotWord) AtomCount() int32 {
	return int32(s & SlotCountMask)
}

// AtomRef is a packed reference from a voxel to an atom: the atom buffer
// index in the high 31 bits and a reuse-equality flag in bit 0. References
// are never mutated after being written; their order within a voxel or cell
// is non-deterministic across builds.
type AtomRef uint32

// MakeAtomRef packs an atom buffer index with its reuse-equality flag.
func MakeAtomRef(atom uint32, unchanged bool) AtomRef {
	r := AtomRef(atom << 1)
	if unchanged {
		r |= 1
	}
	return r
}

// Atom returns the atom buffer index.
func (r AtomRef) Atom() uint32 { return uint32(r) >> 1 }

// Unchanged reports the reuse-equality flag. When every reference of a voxel
// carries the flag the lower-grid builder may copy the previous frame's
// compacted data forward instead of rebuilding.
func (r AtomRef) Unchanged() bool { return r&1 != 0 }
