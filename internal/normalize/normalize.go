// Package normalize rewrites an image file in place so that it fits a
// bounding box, optionally letterboxed onto a square white canvas, with all
// embedded metadata removed.
package normalize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/tiff" // register decoder

	"github.com/schaermu/imgmirror/internal/config"
)

var (
	// ErrUndecodable is returned when the file is not an image any registered
	// decoder recognizes. The file is left untouched.
	ErrUndecodable = errors.New("not a decodable image")

	// ErrUnsupportedFormat is returned when the file extension has no encoder.
	// The file is left untouched.
	ErrUnsupportedFormat = errors.New("no encoder for file extension")
)

// Options configures a Normalizer. A zero Quality means config.DefaultQuality.
type Options struct {
	Width   int
	Height  int
	Square  bool
	Quality int
}

// Normalizer resizes copied images in place. It holds no per-file state and
// is safe for concurrent use.
type Normalizer struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Normalizer.
func New(opts Options, logger *slog.Logger) *Normalizer {
	if opts.Quality == 0 {
		opts.Quality = config.DefaultQuality
	}
	return &Normalizer{opts: opts, logger: logger}
}

// flatten selects how an image is prepared for its target encoder.
type flatten int

const (
	passthrough flatten = iota
	// flattenAlpha composites onto white using the alpha channel as mask.
	flattenAlpha
	// flattenAnimation pastes the first frame onto white, ignoring alpha.
	flattenAnimation
)

func (f flatten) String() string {
	switch f {
	case flattenAlpha:
		return "alpha"
	case flattenAnimation:
		return "animation"
	default:
		return "passthrough"
	}
}

// selectFlatten picks the flatten strategy from the decoded source format,
// the target encoder and whether the image still carries transparency.
func selectFlatten(sourceFormat string, target imaging.Format, translucent bool) flatten {
	if target != imaging.JPEG {
		return passthrough
	}
	switch {
	case sourceFormat == "gif":
		return flattenAnimation
	case translucent:
		return flattenAlpha
	default:
		return passthrough
	}
}

// Normalize rewrites the image at path. On any error the file keeps its
// previous content.
func (n *Normalizer) Normalize(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	// The decoded format is captured here, before any transformation.
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUndecodable, path, err)
	}

	target, err := targetFormat(path)
	if err != nil {
		return err
	}

	if format == "jpeg" || format == "tiff" {
		n.logMetadata(path, data)
	}

	out, mode := n.transform(img, format, target)

	n.logger.Debug("normalizing image",
		"path", path,
		"format", format,
		"from", img.Bounds().Size(),
		"to", out.Bounds().Size(),
		"flatten", mode)

	return n.write(path, out, target)
}

func (n *Normalizer) transform(img image.Image, sourceFormat string, target imaging.Format) (image.Image, flatten) {
	// paletted sources are sampled, not filtered, so every output pixel
	// keeps an exact palette entry including the transparent one
	filter := resize.Lanczos3
	src, paletted := img.(*image.Paletted)
	if paletted {
		filter = resize.NearestNeighbor
	}
	img = resize.Thumbnail(uint(n.opts.Width), uint(n.opts.Height), img, filter)

	if n.opts.Square {
		canvas := imaging.New(n.opts.Width, n.opts.Height, color.White)
		img = imaging.PasteCenter(canvas, dropAlpha(img))
	}

	mode := selectFlatten(sourceFormat, target, translucent(img))
	switch mode {
	case flattenAlpha:
		canvas := imaging.New(img.Bounds().Dx(), img.Bounds().Dy(), color.White)
		img = imaging.Overlay(canvas, img, image.Pt(0, 0), 1.0)
	case flattenAnimation:
		canvas := imaging.New(img.Bounds().Dx(), img.Bounds().Dy(), color.White)
		img = imaging.Paste(canvas, dropAlpha(img), image.Pt(0, 0))
	}

	if paletted && target == imaging.GIF {
		img = repalette(img, src.Palette)
	}
	return img, mode
}

// repalette maps img back onto pal so the GIF encoder keeps the source
// palette and its transparent index instead of quantizing.
func repalette(img image.Image, pal color.Palette) *image.Paletted {
	if p, ok := img.(*image.Paletted); ok {
		return p
	}
	dst := image.NewPaletted(img.Bounds(), pal)
	draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Src)
	return dst
}

// write encodes img next to path and renames it over path.
func (n *Normalizer) write(path string, img image.Image, target imaging.Format) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat image: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".imgmirror-norm-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	err = imaging.Encode(tmpFile, img, target,
		imaging.JPEGQuality(n.opts.Quality),
		imaging.PNGCompressionLevel(png.BestCompression))
	if err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to encode %s: %w", target, err)
	}

	if err := tmpFile.Chmod(info.Mode().Perm()); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}

// logMetadata reports the EXIF fields that re-encoding is about to drop.
func (n *Normalizer) logMetadata(path string, data []byte) {
	if !n.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	// goexif panics on some malformed segments
	defer func() {
		_ = recover()
	}()

	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return
	}

	attrs := []any{"path", path}
	if tag, err := x.Get(exif.Orientation); err == nil {
		attrs = append(attrs, "orientation", tag.String())
	}
	if tag, err := x.Get(exif.Model); err == nil {
		if model, err := tag.StringVal(); err == nil {
			attrs = append(attrs, "camera", strings.TrimSpace(model))
		}
	}
	n.logger.Debug("stripping embedded metadata", attrs...)
}

// targetFormat maps the file extension to an encoder. ".jfif" is JPEG.
func targetFormat(path string) (imaging.Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".jfif" {
		return imaging.JPEG, nil
	}
	f, err := imaging.FormatFromExtension(ext)
	if err != nil {
		return -1, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return f, nil
}

// dropAlpha returns an opaque copy of img. Color channels are kept as they
// are; transparency is discarded rather than composited.
func dropAlpha(img image.Image) *image.NRGBA {
	dst := imaging.Clone(img)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}

// translucent reports whether img has at least one pixel that is not fully opaque.
func translucent(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return true
}
