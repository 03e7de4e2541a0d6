package flow

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/book-expert/fileconv-service/internal/artifact"
	"github.com/book-expert/fileconv-service/internal/convert"
)

// Placement of every image on its page, in millimetres. A height of 0 keeps
// the aspect ratio.
const (
	imageFormat   = "JPEG"
	imageOffsetMM = 10
	imageWidthMM  = 190
	autoHeight    = 0

	slotDocument = "document"

	// AssembledDocumentName is the file name of the assembled PDF.
	AssembledDocumentName = "converted.pdf"
	// PDFDownloadLabel labels the assembled PDF download.
	PDFDownloadLabel = "Download PDF"
)

// ImageToPDFState is a snapshot of an ImageToPDFFlow.
type ImageToPDFState struct {
	Selected      []string      `json:"selected"`
	Document      *artifact.Ref `json:"document,omitempty"`
	DownloadLabel string        `json:"download_label,omitempty"`
	Running       bool          `json:"running"`
}

// ImageToPDFFlow assembles the selected images into one PDF, one page per
// image, in selection order.
type ImageToPDFFlow struct {
	newBuilder func() convert.DocumentBuilder
	deps       Deps
	scope      *artifact.Scope
	selected   []SelectedFile
	guard      guard
	mu         sync.Mutex
}

// NewImageToPDFFlow creates an ImageToPDFFlow. newBuilder is called once per
// Assemble.
func NewImageToPDFFlow(newBuilder func() convert.DocumentBuilder, deps Deps) *ImageToPDFFlow {
	deps.applyDefaults()

	return &ImageToPDFFlow{
		newBuilder: newBuilder,
		deps:       deps,
		scope:      artifact.NewScope(deps.Store),
	}
}

// Select replaces the selection and revokes the previous document.
func (flow *ImageToPDFFlow) Select(ctx context.Context, files []SelectedFile) error {
	if err := flow.guard.acquire(); err != nil {
		return err
	}
	defer flow.guard.release()

	if clearErr := flow.scope.Clear(ctx, slotDocument); clearErr != nil {
		flow.deps.Log.Warn("Failed to revoke previous PDF: %v", clearErr)
	}

	flow.mu.Lock()
	flow.selected = slices.Clone(files)
	flow.mu.Unlock()

	return nil
}

// Assemble builds the document from the current selection.
func (flow *ImageToPDFFlow) Assemble(ctx context.Context) (artifact.Ref, error) {
	if err := flow.guard.acquire(); err != nil {
		return artifact.Ref{}, err
	}
	defer flow.guard.release()

	flow.mu.Lock()
	images := slices.Clone(flow.selected)
	flow.mu.Unlock()

	if len(images) == 0 {
		flow.deps.Notifier.Alert(MsgSelectImages)

		return artifact.Ref{}, ErrNoImagesSelected
	}

	document, buildErr := flow.build(ctx, images)
	if buildErr != nil {
		flow.deps.Log.Error("Image -> PDF error: %v", buildErr)

		return artifact.Ref{}, fmt.Errorf("%w: %w", ErrConversionFailed, buildErr)
	}

	if clearErr := flow.scope.Clear(ctx, slotDocument); clearErr != nil {
		flow.deps.Log.Warn("Failed to revoke previous PDF: %v", clearErr)
	}

	ref, putErr := flow.scope.Put(ctx, slotDocument, AssembledDocumentName, convert.PDFMIMEType, document)
	if putErr != nil {
		flow.deps.Log.Error("Failed to store assembled PDF: %v", putErr)

		return artifact.Ref{}, fmt.Errorf("%w: store assembled PDF: %w", ErrConversionFailed, putErr)
	}

	publishErr := flow.deps.Publisher.DocumentAssembled(ctx, flow.deps.WorkflowID, ref)
	if publishErr != nil {
		flow.deps.Log.Warn("Failed to publish assembled PDF %s: %v", ref.ID, publishErr)
	}

	flow.deps.Log.Info("Assembled %d image(s) into %s (%d bytes)", len(images), ref.Name, ref.Size)

	return ref, nil
}

func (flow *ImageToPDFFlow) build(ctx context.Context, images []SelectedFile) ([]byte, error) {
	builder := flow.newBuilder()

	for index, img := range images {
		dataURL, encodeErr := convert.EncodeDataURL(ctx, bytes.NewReader(img.Data))
		if encodeErr != nil {
			return nil, fmt.Errorf("encode %s: %w", img.Name, encodeErr)
		}

		if index > 0 {
			builder.AddPage()
		}

		addErr := builder.AddImage(dataURL, imageFormat, imageOffsetMM, imageOffsetMM, imageWidthMM, autoHeight)
		if addErr != nil {
			return nil, fmt.Errorf("add %s: %w", img.Name, addErr)
		}
	}

	document, exportErr := builder.Export(ctx)
	if exportErr != nil {
		return nil, fmt.Errorf("export PDF: %w", exportErr)
	}

	return document, nil
}

// State returns a snapshot for display.
func (flow *ImageToPDFFlow) State() ImageToPDFState {
	flow.mu.Lock()
	defer flow.mu.Unlock()

	state := ImageToPDFState{
		Document: refPtr(flow.scope.Refs(slotDocument)),
		Running:  flow.guard.Running(),
	}

	for _, file := range flow.selected {
		state.Selected = append(state.Selected, file.Name)
	}

	if state.Document != nil {
		state.DownloadLabel = PDFDownloadLabel
	}

	return state
}

// Owns reports whether the artifact id belongs to this flow.
func (flow *ImageToPDFFlow) Owns(id string) bool {
	return flow.scope.Owns(id)
}

// Close revokes every artifact of the flow.
func (flow *ImageToPDFFlow) Close(ctx context.Context) error {
	return flow.scope.Close(ctx)
}
