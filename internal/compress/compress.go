package compress

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"

	"golang.org/x/image/draw"
)

// Options is the target configuration for one compression call. Quality is
// expressed as a 0-1 fraction.
type Options struct {
	MaxSizeBytes    int64
	LongestEdgePx   int
	Quality         float64
	StripEXIF       bool
	ThumbnailEdgePx int
}

// DefaultOptions mirrors the widget defaults: 1 MiB, 2048px, 0.85.
func DefaultOptions() Options {
	return Options{
		MaxSizeBytes:    1 << 20,
		LongestEdgePx:   2048,
		Quality:         0.85,
		StripEXIF:       true,
		ThumbnailEdgePx: 256,
	}
}

func (o Options) normalized() Options {
	def := DefaultOptions()
	if o.MaxSizeBytes <= 0 {
		o.MaxSizeBytes = def.MaxSizeBytes
	}
	if o.LongestEdgePx <= 0 {
		o.LongestEdgePx = def.LongestEdgePx
	}
	if o.Quality <= 0 || o.Quality > 1 {
		o.Quality = def.Quality
	}
	if o.ThumbnailEdgePx <= 0 {
		o.ThumbnailEdgePx = def.ThumbnailEdgePx
	}
	return o
}

// Fallback ladder. Qualities are JPEG percentages.
const (
	qualityStep       = 10
	qualityFloor      = 50
	fallbackScale     = 0.8
	fallbackQuality   = 60
	lastResortEdge    = 1024
	lastResortQuality = 40
)

// ContentTypeJPEG is the only output format.
const ContentTypeJPEG = "image/jpeg"

var ErrEmpty = errors.New("empty image")

// Result is a compressed rendition plus its thumbnail.
type Result struct {
	Data         []byte
	ContentType  string
	Width        int
	Height       int
	Quality      float64
	Attempts     int
	PassThrough  bool
	Thumbnail    string
	OriginalSize int64
}

// Size is the byte length of Data.
func (r *Result) Size() int64 {
	return int64(len(r.Data))
}

// Compress turns data into a JPEG no larger than opts.MaxSizeBytes whenever
// that is achievable. When every fallback is exhausted the smallest attempt
// is returned even if it is still over the cap.
func Compress(data []byte, opts Options) (*Result, error) {
	opts = opts.normalized()
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	img, format, err := decode(data)
	if err != nil {
		return nil, err
	}
	thumb, err := Thumbnail(img, opts.ThumbnailEdgePx)
	if err != nil {
		return nil, err
	}
	if format == "jpeg" && int64(len(data)) <= opts.MaxSizeBytes && !(opts.StripEXIF && HasEXIF(data)) {
		b := img.Bounds()
		return &Result{
			Data:         data,
			ContentType:  ContentTypeJPEG,
			Width:        b.Dx(),
			Height:       b.Dy(),
			PassThrough:  true,
			Thumbnail:    thumb,
			OriginalSize: int64(len(data)),
		}, nil
	}
	res, err := fit(img, opts)
	if err != nil {
		return nil, err
	}
	res.Thumbnail = thumb
	res.OriginalSize = int64(len(data))
	return res, nil
}

// fit runs the quality loop followed by at most two dimension reductions.
func fit(img image.Image, opts Options) (*Result, error) {
	flat := flatten(img)
	var (
		best     *Result
		attempts int
	)
	try := func(src image.Image, quality int) (bool, error) {
		out, err := encodeJPEG(src, quality)
		if err != nil {
			return false, err
		}
		attempts++
		b := src.Bounds()
		if best == nil || len(out) < len(best.Data) {
			best = &Result{
				Data:        out,
				ContentType: ContentTypeJPEG,
				Width:       b.Dx(),
				Height:      b.Dy(),
				Quality:     float64(quality) / 100,
			}
		}
		return int64(len(out)) <= opts.MaxSizeBytes, nil
	}
	finish := func() *Result {
		best.Attempts = attempts
		return best
	}

	scaled := resize(flat, opts.LongestEdgePx, draw.CatmullRom)
	quality := int(math.Round(opts.Quality * 100))
	for {
		ok, err := try(scaled, quality)
		if err != nil {
			return nil, err
		}
		if ok {
			return finish(), nil
		}
		if quality <= qualityFloor {
			break
		}
		quality -= qualityStep
		if quality < qualityFloor {
			quality = qualityFloor
		}
	}

	edge := int(float64(opts.LongestEdgePx) * fallbackScale)
	ok, err := try(resize(flat, edge, draw.CatmullRom), fallbackQuality)
	if err != nil {
		return nil, err
	}
	if ok {
		return finish(), nil
	}

	if edge > lastResortEdge {
		edge = lastResortEdge
	}
	if _, err := try(resize(flat, edge, draw.ApproxBiLinear), lastResortQuality); err != nil {
		return nil, err
	}
	return finish(), nil
}

// targetSize scales (w, h) so the longest edge equals edge, never upscaling.
func targetSize(w, h, edge int) (int, int) {
	longest := w
	if h > longest {
		longest = h
	}
	if edge <= 0 || longest <= edge {
		return w, h
	}
	scale := float64(edge) / float64(longest)
	nw := int(math.Round(float64(w) * scale))
	nh := int(math.Round(float64(h) * scale))
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh
}

func resize(src image.Image, edge int, scaler draw.Scaler) image.Image {
	b := src.Bounds()
	w, h := targetSize(b.Dx(), b.Dy(), edge)
	if w == b.Dx() && h == b.Dy() {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	scaler.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

// flatten composites src over white into a zero-origin RGBA buffer; JPEG has
// no alpha channel.
func flatten(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
