package agbuild

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/atomgrid/atomgrid"
	"github.com/soypat/geometry/ms3"
)

func testConfig() atomgrid.GridConfig {
	return atomgrid.GridConfig{
		Dims:      [3]int32{2, 2, 2},
		Origin:    ms3.Vec{X: -4, Y: -4, Z: -4},
		VoxelEdge: 4,
	}
}

func TestAcquireVoxelSingleWinner(t *testing.T) {
	s, err := NewStructure(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	const workers = 16
	ids := make([]int32, workers)
	var wg sync.WaitGroup
	for k := 0; k < workers; k++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			id, _, ok := s.acquireVoxel(1, 0, 1, atomgrid.ResLow)
			if !ok {
				ids[k] = -1
				return
			}
			ids[k] = id
		}(k)
	}
	wg.Wait()
	if n := atomic.LoadInt32(&s.nVoxels); n != 1 {
		t.Fatalf("nVoxels=%d, want exactly one creation", n)
	}
	for k, id := range ids {
		if id != 0 {
			t.Fatalf("worker %d resolved id %d, want 0", k, id)
		}
	}
	d := s.voxels[0]
	if d.Coord != [3]int32{1, 0, 1} || d.Res != atomgrid.ResLow {
		t.Errorf("voxel 0 descriptor: %+v", d)
	}
}

func TestAcquireVoxelRetryBudget(t *testing.T) {
	cfg := testConfig()
	cfg.RetryBudget = 8
	s, err := NewStructure(cfg)
	if err != nil {
		t.Fatal(err)
	}
	// A slot stuck in the claimed state starves waiters; the budget must
	// bound the wait and fail the acquisition.
	s.slots[s.slotIndex(0, 0, 0, atomgrid.ResLow)] = uint32(atomgrid.SlotClaimed)
	if _, _, ok := s.acquireVoxel(0, 0, 0, atomgrid.ResLow); ok {
		t.Fatal("acquisition of a never-published slot must fail")
	}
}

func TestInsertRefCapacityClamp(t *testing.T) {
	cfg := testConfig()
	cfg.AtomCapacity = 4
	s, err := NewStructure(cfg)
	if err != nil {
		t.Fatal(err)
	}
	id, w, ok := s.acquireVoxel(0, 0, 0, atomgrid.ResLow)
	if !ok {
		t.Fatal("acquire failed on an empty structure")
	}
	for i := uint32(0); i < 10; i++ {
		s.insertRef(w, id, i)
	}
	if c := s.AtomCount(id); c != 4 {
		t.Errorf("count: got %d, want clamp to 4", c)
	}
	for i, r := range s.AtomRefs(id) {
		if r.Atom() != uint32(i) {
			t.Errorf("ref %d: got atom %d", i, r.Atom())
		}
	}
	if s.stats.DroppedRefs != 6 {
		t.Errorf("dropped: got %d, want 6", s.stats.DroppedRefs)
	}
}

func TestCopyForwardCoherentVoxel(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 1 // Sequential builds give identical reference order.
	styles := atomgrid.DefaultStyles()
	atoms := []atomgrid.Atom{
		{Pos: ms3.Vec{X: -2.3, Y: -2.1, Z: -1.9}, Element: 6},
		{Pos: ms3.Vec{X: -1.5, Y: -2.8, Z: -2.2}, Element: 8},
		{Pos: ms3.Vec{X: -2.9, Y: -1.2, Z: -3.1}, Element: 1},
	}
	cam := farAway(cfg)

	prev, err := NewStructure(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := prev.Build(atoms, styles, cam, nil); err != nil {
		t.Fatal(err)
	}
	cur, err := NewStructure(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := cur.Build(atoms, styles, cam, prev); err != nil {
		t.Fatal(err)
	}
	// References default to the changed state, so nothing is reused yet.
	if n := cur.Stats().CoherentVoxels; n != 0 {
		t.Fatalf("coherent voxels after default build: got %d, want 0", n)
	}

	// Flag the voxel's membership unchanged and rerun its worker group: the
	// compacted data must now be copied forward from the previous frame.
	id, ok := cur.Lookup(0, 0, 0, atomgrid.ResLow)
	if !ok {
		t.Fatal("scene voxel missing")
	}
	cnt := cur.AtomCount(id)
	base := id * cur.cfg.AtomCapacity
	for i := base; i < base+cnt; i++ {
		cur.refs[i] |= 1
	}
	cur.voxelKernel(id, atoms, prev, cur.scratches[0])
	if n := cur.Stats().CoherentVoxels; n != 1 {
		t.Fatalf("coherent voxels after flagged rerun: got %d, want 1", n)
	}

	pid, ok := prev.Lookup(0, 0, 0, atomgrid.ResLow)
	if !ok {
		t.Fatal("previous frame voxel missing")
	}
	n := atomgrid.ResLow.CellsPerAxis()
	for cz := int32(0); cz < n; cz++ {
		for cy := int32(0); cy < n; cy++ {
			for cx := int32(0); cx < n; cx++ {
				got := cur.CellRefs(id, cx, cy, cz)
				want := prev.CellRefs(pid, cx, cy, cz)
				if len(got) != len(want) {
					t.Fatalf("cell (%d,%d,%d): got %d refs, want %d", cx, cy, cz, len(got), len(want))
				}
				for i := range got {
					if got[i] != want[i] {
						t.Fatalf("cell (%d,%d,%d) ref %d: got %d, want %d", cx, cy, cz, i, got[i], want[i])
					}
				}
			}
		}
	}
}

func farAway(cfg atomgrid.GridConfig) Camera {
	c, err := cfg.Validated()
	if err != nil {
		panic(err)
	}
	return CameraAt(&c, ms3.Vec{X: 1e4, Y: 1e4, Z: 1e4})
}
