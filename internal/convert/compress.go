package convert

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // Register the GIF decoder.
	"image/jpeg"
	"image/png"
	"math"
	"path/filepath"

	_ "golang.org/x/image/bmp" // Register the BMP decoder.
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // Register the TIFF decoder.
	_ "golang.org/x/image/webp" // Register the WebP decoder.
)

const (
	bytesPerMB = 1024 * 1024

	defaultMaxSizeMB        = 1.0
	defaultMaxWidthOrHeight = 1920
	defaultInitialQuality   = 0.8
	defaultMaxIteration     = 10

	// Each extra iteration lowers quality and dimensions by these factors.
	qualityStep   = 0.9
	dimensionStep = 0.95
	minQuality    = 0.1
)

// CompressOptions holds the parameters understood by an ImageCompressor.
type CompressOptions struct {
	// MaxSizeMB is the target upper bound of the output size.
	MaxSizeMB float64
	// MaxWidthOrHeight caps the longest side of the output, in pixels.
	MaxWidthOrHeight int
	// InitialQuality is the first encoding quality tried, in (0, 1].
	InitialQuality float64
	// MaxIteration bounds how many re-encodes are tried to meet MaxSizeMB.
	MaxIteration int
}

// ImageCompressor shrinks an image file.
type ImageCompressor interface {
	Compress(ctx context.Context, file Blob, opts CompressOptions) (Blob, error)
}

// Compressor is the default ImageCompressor. It decodes the input, fits it
// within MaxWidthOrHeight and re-encodes it, lowering quality and size until
// the result is no larger than MaxSizeMB or MaxIteration is reached.
type Compressor struct{}

// NewCompressor creates a Compressor.
func NewCompressor() *Compressor {
	return &Compressor{}
}

func applyDefaultCompressOptions(opts *CompressOptions) {
	opts.MaxSizeMB = defaultFloatNonPositive(opts.MaxSizeMB, defaultMaxSizeMB)
	opts.MaxWidthOrHeight = defaultIntNonPositive(opts.MaxWidthOrHeight, defaultMaxWidthOrHeight)
	opts.InitialQuality = defaultFloatNonPositive(opts.InitialQuality, defaultInitialQuality)
	opts.MaxIteration = defaultIntNonPositive(opts.MaxIteration, defaultMaxIteration)

	if opts.InitialQuality > 1 {
		opts.InitialQuality = 1
	}
}

// Compress implements ImageCompressor.
func (compressor *Compressor) Compress(
	ctx context.Context,
	file Blob,
	opts CompressOptions,
) (Blob, error) {
	applyDefaultCompressOptions(&opts)

	src, format, decodeErr := image.Decode(bytes.NewReader(file.Data))
	if decodeErr != nil {
		return Blob{}, fmt.Errorf("%w: %w", ErrUndecodableImage, decodeErr)
	}

	img := fitWithin(src, opts.MaxWidthOrHeight)
	keepPNG := format == "png"
	maxBytes := int(opts.MaxSizeMB * bytesPerMB)
	quality := opts.InitialQuality

	var encoded []byte

	for iteration := 0; ; iteration++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Blob{}, fmt.Errorf("compression canceled: %w", ctxErr)
		}

		var encodeErr error

		encoded, encodeErr = encodeCompressed(img, keepPNG, quality)
		if encodeErr != nil {
			return Blob{}, encodeErr
		}

		if len(encoded) <= maxBytes || iteration+1 >= opts.MaxIteration {
			break
		}

		quality = math.Max(quality*qualityStep, minQuality)
		img = scaleBy(img, dimensionStep)
	}

	result := Blob{Name: file.Name, MIMEType: "image/jpeg", Data: encoded}
	if keepPNG {
		result.MIMEType = "image/png"
	} else {
		result.Name = withExtension(file.Name, ".jpg")
	}

	return result, nil
}

func encodeCompressed(img image.Image, keepPNG bool, quality float64) ([]byte, error) {
	var buf bytes.Buffer

	if keepPNG {
		encoder := png.Encoder{CompressionLevel: png.BestCompression}
		if err := encoder.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}

		return buf.Bytes(), nil
	}

	return EncodeJPEG(img, quality)
}

// EncodeJPEG encodes img as JPEG at quality in [0, 1]. Transparent areas are
// flattened onto white.
func EncodeJPEG(img image.Image, quality float64) ([]byte, error) {
	bounds := img.Bounds()
	flat := image.NewRGBA(bounds)
	draw.Draw(flat, bounds, image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(flat, bounds, img, bounds.Min, draw.Over)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: jpegQuality(quality)}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}

	return buf.Bytes(), nil
}

func jpegQuality(quality float64) int {
	q := int(math.Round(quality * 100))

	return min(max(q, 1), 100)
}

// fitWithin downsizes img so that neither side exceeds limit.
func fitWithin(img image.Image, limit int) image.Image {
	bounds := img.Bounds()
	longest := max(bounds.Dx(), bounds.Dy())

	if longest <= limit {
		return img
	}

	return scaleBy(img, float64(limit)/float64(longest))
}

func scaleBy(img image.Image, factor float64) image.Image {
	bounds := img.Bounds()
	width := max(int(math.Round(float64(bounds.Dx())*factor)), 1)
	height := max(int(math.Round(float64(bounds.Dy())*factor)), 1)

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)

	return dst
}

func withExtension(name, ext string) string {
	if name == "" {
		return "compressed" + ext
	}

	return StripExtension(filepath.Base(name)) + ext
}
