package agbuild

import (
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/atomgrid/atomgrid"
)

var (
	errTooManyAtoms   = errors.New("atom buffer exceeds 2^30 entries")
	errPrevMismatch   = errors.New("previous structure built with a different grid configuration")
	errBuildSelfReuse = errors.New("previous structure must not be the structure being built")
)

// Build rebuilds the acceleration structure from scratch for the frame's atom
// buffer and camera state. Atom radii are looked up once per atom from styles.
//
// prev may carry the previous frame's structure to enable copy-forward of
// voxels whose references are flagged unchanged; pass nil to always rebuild
// (always correct). Callers that want coherence ping-pong two structures.
//
// Build never fails mid-frame: overfull voxels and exhausted retry budgets
// degrade into dropped references, reported in [Structure.Stats].
func (s *Structure) Build(atoms []atomgrid.Atom, styles atomgrid.StyleTable, cam Camera, prev *Structure) error {
	if len(atoms) > 1<<30 {
		return errTooManyAtoms
	}
	if prev == s {
		return errBuildSelfReuse
	}
	if prev != nil && prev.cfg != s.cfg {
		return errPrevMismatch
	}
	if cap(s.radii) < len(atoms) {
		s.radii = make([]float32, len(atoms))
	}
	radii := s.radii[:len(atoms)]
	for i := range atoms {
		radii[i] = styles.Radius(atoms[i].Element)
	}
	s.reset()
	s.stats.Atoms = len(atoms)

	start := time.Now()
	s.parallel(len(atoms), func(_, lo, hi int) {
		for i := lo; i < hi; i++ {
			s.atomKernel(i, atoms[i].Pos, radii[i], cam)
		}
	})
	s.stats.Pass1 = time.Since(start)

	start = time.Now()
	nw := s.workers()
	for len(s.scratches) < nw {
		s.scratches = append(s.scratches, new(groupScratch))
	}
	s.parallel(int(s.ActiveVoxelCount()), func(worker, lo, hi int) {
		scr := s.scratches[worker]
		for id := lo; id < hi; id++ {
			s.voxelKernel(int32(id), atoms, prev, scr)
		}
	})
	s.stats.Pass2 = time.Since(start)
	return nil
}

func (s *Structure) workers() int {
	if s.cfg.Workers > 0 {
		return s.cfg.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// parallel fans n items out over the configured worker count in contiguous
// ranges. fn receives the worker index for scratch selection.
func (s *Structure) parallel(n int, fn func(worker, lo, hi int)) {
	if n == 0 {
		return
	}
	w := s.workers()
	if w > n {
		w = n
	}
	if w <= 1 {
		fn(0, 0, n)
		return
	}
	span := (n + w - 1) / w
	var wg sync.WaitGroup
	for k := 0; k < w; k++ {
		lo := k * span
		hi := lo + span
		if hi > n {
			hi = n
		}
		if lo >= hi {
			break
		}
		wg.Add(1)
		go func(k, lo, hi int) {
			defer wg.Done()
			fn(k, lo, hi)
		}(k, lo, hi)
	}
	wg.Wait()
}
