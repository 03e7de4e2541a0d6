package flow

import (
	"context"
	"errors"

	"github.com/book-expert/fileconv-service/internal/panel"
)

// Workspace is one user's conversion page: the panel switcher and the three
// flows, each with its own state.
type Workspace struct {
	Panels      *panel.Switcher
	Compression *CompressionFlow
	ImageToPDF  *ImageToPDFFlow
	PDFToImage  *PDFToImageFlow
	ID          string
}

// NewWorkspace creates a workspace. The compressor panel is visible first.
func NewWorkspace(id string, engines Engines, deps Deps, settings Settings) *Workspace {
	deps.applyDefaults()

	if deps.WorkflowID == "" {
		deps.WorkflowID = id
	}

	return &Workspace{
		ID:          id,
		Panels:      panel.NewSwitcher(panel.Compressor, panel.ImageToPDF, panel.PDFToImage),
		Compression: NewCompressionFlow(engines.Compressor, deps, settings),
		ImageToPDF:  NewImageToPDFFlow(engines.NewBuilder, deps),
		PDFToImage:  NewPDFToImageFlow(engines.Renderer, deps, settings),
	}
}

// Owns reports whether any flow of the workspace produced the artifact.
func (ws *Workspace) Owns(id string) bool {
	return ws.Compression.Owns(id) || ws.ImageToPDF.Owns(id) || ws.PDFToImage.Owns(id)
}

// Close revokes every artifact of every flow.
func (ws *Workspace) Close(ctx context.Context) error {
	return errors.Join(
		ws.Compression.Close(ctx),
		ws.ImageToPDF.Close(ctx),
		ws.PDFToImage.Close(ctx),
	)
}
