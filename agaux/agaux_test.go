package agaux_test

import (
	"bytes"
	"image/color"
	"image/png"
	"testing"

	"github.com/atomgrid/atomgrid"
	"github.com/atomgrid/atomgrid/agaux"
	"github.com/atomgrid/atomgrid/agbuild"
	"github.com/atomgrid/atomgrid/agtrace"
	"github.com/chewxy/math32"
	"github.com/soypat/geometry/ms3"
)

func latticeMarcher(t *testing.T) *agtrace.Marcher {
	t.Helper()
	styles := atomgrid.DefaultStyles()
	atoms := atomgrid.DiamondLattice(nil, [3]int{4, 4, 4}, atomgrid.DiamondCellNM, ms3.Vec{})
	cfg := atomgrid.GridConfig{
		Dims:      [3]int32{2, 2, 2},
		Origin:    ms3.Vec{X: -3, Y: -3, Z: -3},
		VoxelEdge: 4,
	}
	s, err := agbuild.NewStructure(cfg)
	if err != nil {
		t.Fatal(err)
	}
	vcfg := s.Config()
	cam := agbuild.CameraAt(&vcfg, ms3.Vec{X: 5, Y: 5, Z: 5})
	if err := s.Build(atoms, styles, cam, nil); err != nil {
		t.Fatal(err)
	}
	return agtrace.NewMarcher(s, atoms, styles)
}

func TestRenderDepthPNG(t *testing.T) {
	m := latticeMarcher(t)
	var buf bytes.Buffer
	cfg := agaux.DepthConfig{
		Width:  48,
		Height: 48,
		CamPos: ms3.Vec{X: 5, Y: 5, Z: 5},
		LookAt: ms3.Vec{X: 0.7, Y: 0.7, Z: 0.7},
	}
	if err := agaux.RenderDepthPNG(&buf, m, cfg); err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 48 || img.Bounds().Dy() != 48 {
		t.Fatalf("decoded bounds %v", img.Bounds())
	}
	// The center ray points straight at the lattice and must land on an atom;
	// the corner rays fan past the scene into the background.
	center := img.At(24, 24)
	corner := img.At(0, 0)
	if sameColor(center, corner) {
		t.Error("center pixel equals background; no atom was hit")
	}
}

func TestRenderDepthBadConfig(t *testing.T) {
	m := latticeMarcher(t)
	var buf bytes.Buffer
	if err := agaux.RenderDepthPNG(&buf, m, agaux.DepthConfig{Width: 0, Height: 10}); err == nil {
		t.Error("empty image accepted")
	}
	cfg := agaux.DepthConfig{Width: 4, Height: 4, CamPos: ms3.Vec{X: 1}, LookAt: ms3.Vec{X: 1}}
	if err := agaux.RenderDepthPNG(&buf, m, cfg); err == nil {
		t.Error("coincident camera and look-at accepted")
	}
}

func TestDepthColorConversion(t *testing.T) {
	conv := agaux.DepthColorConversion(2, 10)
	near := conv(2)
	r, g, b, _ := near.RGBA()
	if r < 0xf000 || g < 0xf000 || b < 0xf000 {
		t.Errorf("near distance not white: %v", near)
	}
	if !sameColor(conv(math32.Inf(1)), conv(math32.NaN())) {
		t.Error("miss colors disagree between Inf and NaN")
	}
	if sameColor(conv(2), conv(12)) {
		t.Error("ramp endpoints must differ")
	}
}

func sameColor(a, b color.Color) bool {
	ar, ag, ab, aa := a.RGBA()
	br, bg, bb, ba := b.RGBA()
	return ar == br && ag == bg && ab == bb && aa == ba
}
