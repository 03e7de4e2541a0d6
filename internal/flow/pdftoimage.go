package flow

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"sync"

	"github.com/book-expert/fileconv-service/internal/artifact"
	"github.com/book-expert/fileconv-service/internal/convert"
)

const slotPages = "pages"

// PageResult is one extracted page: an image that can be shown inline,
// downloaded under DownloadName, or opened on its own.
type PageResult struct {
	Image        artifact.Ref `json:"image"`
	DownloadName string       `json:"download_name"`
	Number       int          `json:"number"`
}

// PDFToImageState is a snapshot of a PDFToImageFlow.
type PDFToImageState struct {
	Selected     string       `json:"selected,omitempty"`
	QualityLabel string       `json:"quality_label"`
	Pages        []PageResult `json:"pages"`
	Running      bool         `json:"running"`
}

// ProgressFunc is called after page number of total has been emitted.
type ProgressFunc func(number, total int)

// PDFToImageFlow renders every page of the selected PDF to a JPEG.
type PDFToImageFlow struct {
	renderer convert.RenderEngine
	onPage   ProgressFunc
	deps     Deps
	scope    *artifact.Scope
	selected *SelectedFile
	pages    []PageResult
	guard    guard
	quality  float64
	fallback float64
	mu       sync.Mutex
}

// NewPDFToImageFlow creates a PDFToImageFlow.
func NewPDFToImageFlow(renderer convert.RenderEngine, deps Deps, settings Settings) *PDFToImageFlow {
	deps.applyDefaults()
	applyDefaultSettings(&settings)

	return &PDFToImageFlow{
		renderer: renderer,
		deps:     deps,
		scope:    artifact.NewScope(deps.Store),
		quality:  settings.DefaultPageQuality,
		fallback: settings.DefaultPageQuality,
	}
}

// OnPage registers a callback run after each emitted page.
func (flow *PDFToImageFlow) OnPage(fn ProgressFunc) {
	flow.mu.Lock()
	flow.onPage = fn
	flow.mu.Unlock()
}

// Select replaces the selected document and revokes the pages of the previous
// one. The new pages are not rendered until ExtractPages.
func (flow *PDFToImageFlow) Select(ctx context.Context, file SelectedFile) error {
	if err := flow.guard.acquire(); err != nil {
		return err
	}
	defer flow.guard.release()

	if clearErr := flow.scope.Clear(ctx, slotPages); clearErr != nil {
		flow.deps.Log.Warn("Failed to revoke previous page images: %v", clearErr)
	}

	flow.mu.Lock()
	flow.selected = &file
	flow.pages = nil
	flow.mu.Unlock()

	return nil
}

// SetQuality sets the JPEG quality, in [0, 1], for the next extraction and
// returns the label to display. 0 and NaN mean the default quality.
func (flow *PDFToImageFlow) SetQuality(quality float64) (string, error) {
	if math.IsNaN(quality) {
		quality = 0
	}

	if quality < 0 || quality > 1 {
		return "", fmt.Errorf("%w: %g not in [0, 1]", ErrQualityOutOfRange, quality)
	}

	flow.mu.Lock()
	flow.quality = quality
	flow.mu.Unlock()

	return strconv.FormatFloat(quality, 'f', -1, 64), nil
}

func (flow *PDFToImageFlow) effectiveQuality() float64 {
	if flow.quality == 0 {
		return flow.fallback
	}

	return flow.quality
}

// ExtractPages clears earlier results and renders the selected document page
// by page. On failure the pages emitted so far are kept, the error is logged
// and the user is alerted once.
func (flow *PDFToImageFlow) ExtractPages(ctx context.Context) ([]PageResult, error) {
	if err := flow.guard.acquire(); err != nil {
		return nil, err
	}
	defer flow.guard.release()

	flow.mu.Lock()
	selected := flow.selected
	quality := flow.effectiveQuality()
	flow.mu.Unlock()

	if selected == nil {
		flow.deps.Notifier.Alert(MsgSelectPDF)

		return nil, ErrNoDocumentSelected
	}

	flow.mu.Lock()
	flow.pages = nil
	flow.mu.Unlock()

	if clearErr := flow.scope.Clear(ctx, slotPages); clearErr != nil {
		flow.deps.Log.Warn("Failed to revoke previous page images: %v", clearErr)
	}

	extractErr := flow.extract(ctx, selected, quality)
	if extractErr != nil {
		flow.deps.Log.Error("PDF -> Image error for %s: %v", selected.Name, extractErr)
		flow.deps.Notifier.Alert(MsgPDFFailed)

		return flow.Pages(), fmt.Errorf("%w: extract pages of %s: %w", ErrConversionFailed, selected.Name, extractErr)
	}

	pages := flow.Pages()
	flow.deps.Log.Info("Extracted %d page(s) from %s", len(pages), selected.Name)

	return pages, nil
}

func (flow *PDFToImageFlow) extract(ctx context.Context, selected *SelectedFile, quality float64) error {
	document, openErr := flow.renderer.Open(ctx, selected.Data)
	if openErr != nil {
		return openErr
	}

	defer func() {
		if closeErr := document.Close(); closeErr != nil {
			flow.deps.Log.Warn("Failed to close %s: %v", selected.Name, closeErr)
		}
	}()

	total := document.PageCount()

	for number := 1; number <= total; number++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("canceled before page %d: %w", number, ctxErr)
		}

		result, pageErr := flow.renderPage(ctx, document, selected.Name, number, quality)
		if pageErr != nil {
			return fmt.Errorf("page %d: %w", number, pageErr)
		}

		flow.mu.Lock()
		flow.pages = append(flow.pages, result)
		onPage := flow.onPage
		flow.mu.Unlock()

		publishErr := flow.deps.Publisher.PageExtracted(ctx, flow.deps.WorkflowID, result.Image, number, total)
		if publishErr != nil {
			flow.deps.Log.Warn("Failed to publish page %d of %s: %v", number, selected.Name, publishErr)
		}

		if onPage != nil {
			onPage(number, total)
		}
	}

	return nil
}

// renderPage renders, encodes and stores one page; the page is released
// before returning.
func (flow *PDFToImageFlow) renderPage(
	ctx context.Context,
	document convert.Document,
	documentName string,
	number int,
	quality float64,
) (PageResult, error) {
	page, pageErr := document.Page(ctx, number)
	if pageErr != nil {
		return PageResult{}, pageErr
	}
	defer convert.ReleasePage(page)

	img, renderErr := page.Render(ctx, convert.PageScale)
	if renderErr != nil {
		return PageResult{}, renderErr
	}

	encoded, encodeErr := convert.EncodeJPEG(img, quality)
	if encodeErr != nil {
		return PageResult{}, encodeErr
	}

	downloadName := convert.PageImageName(documentName, number)

	ref, putErr := flow.scope.Put(ctx, slotPages, downloadName, convert.JPEGMIMEType, encoded)
	if putErr != nil {
		return PageResult{}, putErr
	}

	return PageResult{Image: ref, DownloadName: downloadName, Number: number}, nil
}

// Pages returns the emitted page results in page order.
func (flow *PDFToImageFlow) Pages() []PageResult {
	flow.mu.Lock()
	defer flow.mu.Unlock()

	return slices.Clone(flow.pages)
}

// State returns a snapshot for display.
func (flow *PDFToImageFlow) State() PDFToImageState {
	flow.mu.Lock()
	defer flow.mu.Unlock()

	state := PDFToImageState{
		QualityLabel: strconv.FormatFloat(flow.quality, 'f', -1, 64),
		Pages:        slices.Clone(flow.pages),
		Running:      flow.guard.Running(),
	}

	if flow.selected != nil {
		state.Selected = flow.selected.Name
	}

	return state
}

// Owns reports whether the artifact id belongs to this flow.
func (flow *PDFToImageFlow) Owns(id string) bool {
	return flow.scope.Owns(id)
}

// Close revokes every artifact of the flow.
func (flow *PDFToImageFlow) Close(ctx context.Context) error {
	return flow.scope.Close(ctx)
}
