// Package flow implements the three conversion flows of the conversion page.
//
// Every flow follows the same shape: select input, trigger an engine, expose
// the output as revocable artifacts. Each flow owns its state and an in-flight
// guard; nothing is shared between flows.
package flow

import (
	"errors"
	"sync/atomic"

	"github.com/book-expert/logger"

	"github.com/book-expert/fileconv-service/internal/artifact"
	"github.com/book-expert/fileconv-service/internal/convert"
	"github.com/book-expert/fileconv-service/internal/publish"
)

var (
	// ErrNoImageSelected is returned by Compress without a selected image.
	ErrNoImageSelected = errors.New("no image selected")
	// ErrNoImagesSelected is returned by Assemble without selected images.
	ErrNoImagesSelected = errors.New("no images selected")
	// ErrNoDocumentSelected is returned by ExtractPages without a selected PDF.
	ErrNoDocumentSelected = errors.New("no PDF selected")
	// ErrBusy is returned when the flow's operation is already running.
	ErrBusy = errors.New("operation already in progress")
	// ErrQualityOutOfRange is returned for quality values outside the flow's range.
	ErrQualityOutOfRange = errors.New("quality out of range")
	// ErrConversionFailed wraps engine and storage failures of a conversion.
	// The flow has already logged them.
	ErrConversionFailed = errors.New("conversion failed")
)

// User-facing alert texts.
const (
	MsgSelectImage  = "Please select an image first."
	MsgSelectImages = "Please select one or more images."
	MsgSelectPDF    = "Please select a PDF file."
	MsgPDFFailed    = "Failed to process PDF. Is the file valid?"
)

// Notifier shows blocking, user-facing alerts.
type Notifier interface {
	Alert(message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(message string)

// Alert implements Notifier.
func (f NotifierFunc) Alert(message string) { f(message) }

// SelectedFile is a user-chosen input file.
type SelectedFile struct {
	Name     string
	MIMEType string
	Data     []byte
}

func (file SelectedFile) blob() convert.Blob {
	return convert.Blob{Name: file.Name, MIMEType: file.MIMEType, Data: file.Data}
}

// Engines are the external converters the flows drive.
type Engines struct {
	Compressor convert.ImageCompressor
	NewBuilder func() convert.DocumentBuilder
	Renderer   convert.RenderEngine
}

// Deps are the collaborators shared by a workspace's flows.
type Deps struct {
	Store      artifact.Store
	Log        *logger.Logger
	Notifier   Notifier
	Publisher  publish.Publisher
	WorkflowID string
}

func (deps *Deps) applyDefaults() {
	if deps.Store == nil {
		deps.Store = artifact.NewMemoryStore()
	}

	if deps.Notifier == nil {
		deps.Notifier = NotifierFunc(func(string) {})
	}

	if deps.Publisher == nil {
		deps.Publisher = publish.Nop{}
	}
}

// Settings holds the tunable defaults of the flows.
type Settings struct {
	// MaxSizeMB and MaxWidthOrHeight are passed to the compressor.
	MaxSizeMB        float64
	MaxWidthOrHeight int
	// DefaultQuality is the initial compression quality, 1-100.
	DefaultQuality int
	// DefaultPageQuality is the initial page JPEG quality, 0-1.
	DefaultPageQuality float64
}

const (
	defaultMaxSizeMB          = 1.0
	defaultMaxWidthOrHeight   = 1920
	defaultCompressionQuality = 80
	defaultPageQuality        = 0.8
)

func applyDefaultSettings(settings *Settings) {
	if settings.MaxSizeMB <= 0 {
		settings.MaxSizeMB = defaultMaxSizeMB
	}

	if settings.MaxWidthOrHeight <= 0 {
		settings.MaxWidthOrHeight = defaultMaxWidthOrHeight
	}

	if settings.DefaultQuality < minCompressionQuality || settings.DefaultQuality > maxCompressionQuality {
		settings.DefaultQuality = defaultCompressionQuality
	}

	if settings.DefaultPageQuality <= 0 || settings.DefaultPageQuality > 1 {
		settings.DefaultPageQuality = defaultPageQuality
	}
}

// guard lets one operation of a flow run at a time.
type guard struct {
	busy atomic.Bool
}

func (g *guard) acquire() error {
	if !g.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}

	return nil
}

func (g *guard) release() {
	g.busy.Store(false)
}

// Running reports whether the guarded operation is in flight.
func (g *guard) Running() bool {
	return g.busy.Load()
}

func refPtr(refs []artifact.Ref) *artifact.Ref {
	if len(refs) == 0 {
		return nil
	}

	ref := refs[len(refs)-1]

	return &ref
}
