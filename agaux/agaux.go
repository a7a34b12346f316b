// Package agaux provides auxiliary helpers for inspecting built acceleration
// structures: depth-image rendering over the traversal primitive and color
// conversion utilities. Ideally users implement their own presentation layer;
// these helpers exist to get started quickly and to exercise the full
// build→traverse path in tests and examples.
package agaux

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"

	"github.com/atomgrid/atomgrid/agtrace"
	"github.com/chewxy/math32"
	"github.com/soypat/geometry/ms3"
	"github.com/soypat/glgl/math/ms1"
	"github.com/soypat/glgl/math/ms2"
)

type setImage = interface {
	image.Image
	Set(x, y int, c color.Color)
}

// DepthConfig parametrizes a depth render of a built structure.
type DepthConfig struct {
	Width, Height int
	// CamPos and LookAt define the view ray bundle. Up defaults to +Y.
	CamPos, LookAt, Up ms3.Vec
	// FOVDegrees is the vertical field of view. Default 45.
	FOVDegrees float32
	// MaxDist bounds each ray query. Zero means unbounded.
	MaxDist float32
	// Conversion maps hit distance to a pixel color. Misses are passed as
	// +Inf. Nil selects [DepthColorConversion] over the scene extent.
	Conversion func(t float32) color.Color
}

// RenderDepth traces one ray per pixel of img through the marcher's
// structure and writes the converted hit distances.
func RenderDepth(img setImage, m *agtrace.Marcher, cfg DepthConfig) error {
	bb := img.Bounds()
	w, h := bb.Dx(), bb.Dy()
	if w == 0 || h == 0 {
		return errors.New("empty image")
	}
	fov := cfg.FOVDegrees
	if fov == 0 {
		fov = 45
	}
	up := cfg.Up
	if up == (ms3.Vec{}) {
		up = ms3.Vec{Y: 1}
	}
	forward := ms3.Sub(cfg.LookAt, cfg.CamPos)
	if ms3.Norm(forward) == 0 {
		return errors.New("camera position and look-at coincide")
	}
	forward = ms3.Scale(1/ms3.Norm(forward), forward)
	right := ms3.Cross(forward, up)
	if ms3.Norm(right) == 0 {
		return errors.New("up parallel to view direction")
	}
	right = ms3.Scale(1/ms3.Norm(right), right)
	camUp := ms3.Cross(right, forward)

	conv := cfg.Conversion
	if conv == nil {
		g := m.Grid()
		sz := g.Box().Size()
		conv = DepthColorConversion(ms3.Norm(ms3.Sub(g.Origin, cfg.CamPos)), ms3.Norm(sz))
	}
	halfH := math32.Tan(fov * math32.Pi / 360)
	halfW := halfH * float32(w) / float32(h)
	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			ndc := ms2.Vec{
				X: (2*(float32(i)+0.5)/float32(w) - 1) * halfW,
				Y: (1 - 2*(float32(j)+0.5)/float32(h)) * halfH,
			}
			dir := ms3.Add(forward, ms3.Add(ms3.Scale(ndc.X, right), ms3.Scale(ndc.Y, camUp)))
			hit, ok := m.NearestAtom(cfg.CamPos, dir, cfg.MaxDist)
			d := math32.Inf(1)
			if ok {
				d = hit.T // World distance: NearestAtom normalizes dir.
			}
			img.Set(bb.Min.X+i, bb.Min.Y+j, conv(d))
		}
	}
	return nil
}

// RenderDepthPNG renders a depth image and PNG-encodes it to w.
func RenderDepthPNG(w io.Writer, m *agtrace.Marcher, cfg DepthConfig) error {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return errors.New("non-positive image dimensions")
	}
	img := image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	err := RenderDepth(img, m, cfg)
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}

var background = color.RGBA{R: 12, G: 12, B: 16, A: 255}

// DepthColorConversion returns a distance→color ramp that is white at
// nearDist and falls off to deep blue over span. Misses (+Inf or NaN) map to
// a near-black background.
func DepthColorConversion(nearDist, span float32) func(t float32) color.Color {
	if span <= 0 {
		span = 1
	}
	inv := 1 / span
	return func(t float32) color.Color {
		if math32.IsInf(t, 0) || math32.IsNaN(t) {
			return background
		}
		x := ms1.Clamp((t-nearDist)*inv, 0, 1)
		one := ms3.Vec{X: 1, Y: 1, Z: 1}
		far := ms3.Vec{X: 0.05, Y: 0.1, Z: 0.35}
		c := ms3.Add(ms3.Scale(1-x, one), ms3.Scale(x, far))
		return color.RGBA{
			R: uint8(c.X * 255),
			G: uint8(c.Y * 255),
			B: uint8(c.Z * 255),
			A: 255,
		}
	}
}
