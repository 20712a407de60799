package compress

import (
	"image"
	"image/color"
	"math"

	"github.com/dharsanguruparan/ChartSnap/internal/model"
)

var arrowColor = color.RGBA{R: 0xE5, G: 0x1C, B: 0x23, A: 0xFF}

// ApplyEdits applies rotation, then crop, then arrows. Crop and arrow
// coordinates are interpreted against the rotated image.
func ApplyEdits(img image.Image, e *model.Edits) (image.Image, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	out := rotate(flatten(img), e.QuarterTurns())
	if e == nil {
		return out, nil
	}
	if e.Crop != nil {
		out = crop(out, e.Crop)
	}
	for _, a := range e.Arrows {
		drawArrow(out, a)
	}
	return out, nil
}

// Render decodes data, applies e, and fits the result under opts the same
// way Compress does. Zero edits fall through to Compress.
func Render(data []byte, e *model.Edits, opts Options) (*Result, error) {
	if e.IsZero() {
		return Compress(data, opts)
	}
	opts = opts.normalized()
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	img, _, err := decode(data)
	if err != nil {
		return nil, err
	}
	edited, err := ApplyEdits(img, e)
	if err != nil {
		return nil, err
	}
	res, err := fit(edited, opts)
	if err != nil {
		return nil, err
	}
	thumb, err := Thumbnail(edited, opts.ThumbnailEdgePx)
	if err != nil {
		return nil, err
	}
	res.Thumbnail = thumb
	res.OriginalSize = int64(len(data))
	return res, nil
}

// rotate turns src clockwise by quarter turns.
func rotate(src *image.RGBA, turns int) *image.RGBA {
	if turns == 0 {
		return src
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	var dst *image.RGBA
	if turns%2 == 1 {
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
	} else {
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := src.RGBAAt(b.Min.X+x, b.Min.Y+y)
			switch turns {
			case 1:
				dst.SetRGBA(h-1-y, x, c)
			case 2:
				dst.SetRGBA(w-1-x, h-1-y, c)
			case 3:
				dst.SetRGBA(y, w-1-x, c)
			}
		}
	}
	return dst
}

func crop(src *image.RGBA, c *model.Crop) *image.RGBA {
	b := src.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	r := image.Rect(
		int(math.Floor(w*c.X/100)),
		int(math.Floor(h*c.Y/100)),
		int(math.Ceil(w*(c.X+c.Width)/100)),
		int(math.Ceil(h*(c.Y+c.Height)/100)),
	).Add(b.Min).Intersect(b)
	if r.Empty() {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		copy(dst.Pix[y*dst.Stride:y*dst.Stride+r.Dx()*4], src.Pix[src.PixOffset(r.Min.X, r.Min.Y+y):src.PixOffset(r.Min.X, r.Min.Y+y)+r.Dx()*4])
	}
	return dst
}

// drawArrow draws an arrow whose tip sits on the anchor; the shaft extends
// away from the direction given by Angle.
func drawArrow(dst *image.RGBA, a model.Arrow) {
	b := dst.Bounds()
	short := math.Min(float64(b.Dx()), float64(b.Dy()))
	length := short * 0.12
	thickness := math.Max(2, short/150)
	tipX := float64(b.Min.X) + float64(b.Dx())*a.X/100
	tipY := float64(b.Min.Y) + float64(b.Dy())*a.Y/100
	rad := a.Angle * math.Pi / 180
	dx, dy := math.Cos(rad), math.Sin(rad)

	stroke(dst, tipX-dx*length, tipY-dy*length, tipX, tipY, thickness)
	head := length * 0.35
	for _, side := range []float64{-1, 1} {
		hr := rad + math.Pi + side*math.Pi/6
		stroke(dst, tipX, tipY, tipX+math.Cos(hr)*head, tipY+math.Sin(hr)*head, thickness)
	}
}

func stroke(dst *image.RGBA, x0, y0, x1, y1, thickness float64) {
	dist := math.Hypot(x1-x0, y1-y0)
	steps := int(math.Ceil(dist))
	if steps < 1 {
		steps = 1
	}
	radius := thickness / 2
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		stamp(dst, x0+(x1-x0)*t, y0+(y1-y0)*t, radius)
	}
}

func stamp(dst *image.RGBA, cx, cy, radius float64) {
	b := dst.Bounds()
	r := int(math.Ceil(radius))
	for y := int(cy) - r; y <= int(cy)+r; y++ {
		for x := int(cx) - r; x <= int(cx)+r; x++ {
			if !(image.Point{X: x, Y: y}).In(b) {
				continue
			}
			if math.Hypot(float64(x)-cx, float64(y)-cy) <= radius {
				dst.SetRGBA(x, y, arrowColor)
			}
		}
	}
}
