package convert

import (
	"context"
	"fmt"
	"image"
	"time"
)

const (
	// PageScale is the fixed factor pages are rendered at, relative to 72 DPI.
	PageScale = 2.0
	// JPEGMIMEType is the MIME type of rendered page images.
	JPEGMIMEType = "image/jpeg"

	pointsPerInch = 72.0

	// Engine names accepted by NewRenderEngine.
	EngineFitz        = "fitz"
	EnginePdfium      = "pdfium"
	EngineGhostscript = "ghostscript"

	defaultEngine             = EngineFitz
	defaultGhostscriptBinary  = "gs"
	defaultPdfinfoBinary      = "pdfinfo"
	defaultPdfiumWaitForSlots = 30 * time.Second
)

// RenderEngine opens documents for rasterisation.
type RenderEngine interface {
	Open(ctx context.Context, data []byte) (Document, error)
}

// Document is an opened document. Close releases everything it holds.
type Document interface {
	PageCount() int
	// Page returns the page with the given 1-based number.
	Page(ctx context.Context, number int) (Page, error)
	Close() error
}

// Page renders one page of a Document.
type Page interface {
	Render(ctx context.Context, scale float64) (image.Image, error)
}

// Releaser is implemented by pages holding resources worth freeing early.
type Releaser interface {
	Release()
}

// ReleasePage frees page resources if the page supports it.
func ReleasePage(page Page) {
	if releaser, ok := page.(Releaser); ok {
		releaser.Release()
	}
}

// RenderOptions selects and configures a RenderEngine.
type RenderOptions struct {
	// Engine is one of EngineFitz, EnginePdfium or EngineGhostscript.
	Engine string
	// GhostscriptBinary and PdfinfoBinary name the external tools used by the
	// ghostscript engine.
	GhostscriptBinary string
	PdfinfoBinary     string
	// PdfiumInstanceTimeout bounds the wait for a free pdfium instance.
	PdfiumInstanceTimeout time.Duration
}

func applyDefaultRenderOptions(opts *RenderOptions) {
	opts.Engine = defaultString(opts.Engine, defaultEngine)
	opts.GhostscriptBinary = defaultString(opts.GhostscriptBinary, defaultGhostscriptBinary)
	opts.PdfinfoBinary = defaultString(opts.PdfinfoBinary, defaultPdfinfoBinary)

	if opts.PdfiumInstanceTimeout <= 0 {
		opts.PdfiumInstanceTimeout = defaultPdfiumWaitForSlots
	}
}

// NewRenderEngine builds the engine named in opts.
func NewRenderEngine(opts RenderOptions) (RenderEngine, error) {
	applyDefaultRenderOptions(&opts)

	switch opts.Engine {
	case EngineFitz:
		return NewFitzEngine(), nil
	case EnginePdfium:
		return NewPdfiumEngine(opts.PdfiumInstanceTimeout), nil
	case EngineGhostscript:
		return NewGhostscriptEngine(opts.GhostscriptBinary, opts.PdfinfoBinary), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, opts.Engine)
	}
}

// dpiForScale converts a render scale into dots per inch.
func dpiForScale(scale float64) float64 {
	return pointsPerInch * scale
}

func checkPageNumber(number, pageCount int) error {
	if number < 1 || number > pageCount {
		return fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, number, pageCount)
	}

	return nil
}
