package flow

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/book-expert/fileconv-service/internal/artifact"
	"github.com/book-expert/fileconv-service/internal/convert"
)

const (
	minCompressionQuality = 1
	maxCompressionQuality = 100

	slotBefore = "before"
	slotAfter  = "after"

	// CompressedDownloadLabel labels the compressed image download.
	CompressedDownloadLabel = "Download Compressed Image"
)

// CompressionState is a snapshot of a CompressionFlow.
type CompressionState struct {
	Selected      string        `json:"selected,omitempty"`
	QualityLabel  string        `json:"quality_label"`
	Before        *artifact.Ref `json:"before,omitempty"`
	After         *artifact.Ref `json:"after,omitempty"`
	DownloadLabel string        `json:"download_label,omitempty"`
	Running       bool          `json:"running"`
}

// CompressionFlow compresses one selected image at a chosen quality.
type CompressionFlow struct {
	compressor convert.ImageCompressor
	deps       Deps
	settings   Settings
	scope      *artifact.Scope
	selected   *SelectedFile
	guard      guard
	quality    int
	mu         sync.Mutex
}

// NewCompressionFlow creates a CompressionFlow.
func NewCompressionFlow(compressor convert.ImageCompressor, deps Deps, settings Settings) *CompressionFlow {
	deps.applyDefaults()
	applyDefaultSettings(&settings)

	return &CompressionFlow{
		compressor: compressor,
		deps:       deps,
		settings:   settings,
		scope:      artifact.NewScope(deps.Store),
		quality:    settings.DefaultQuality,
	}
}

// Select replaces the selected image and its "before" preview. Earlier outputs
// of the flow are revoked. The file is not validated here.
func (flow *CompressionFlow) Select(ctx context.Context, file SelectedFile) error {
	if err := flow.guard.acquire(); err != nil {
		return err
	}
	defer flow.guard.release()

	clearErr := flow.clear(ctx, slotBefore, slotAfter)
	if clearErr != nil {
		flow.deps.Log.Warn("Failed to revoke previous compression artifacts: %v", clearErr)
	}

	flow.mu.Lock()
	flow.selected = &file
	flow.mu.Unlock()

	_, putErr := flow.scope.Put(ctx, slotBefore, file.Name, file.MIMEType, file.Data)
	if putErr != nil {
		return fmt.Errorf("store preview of %s: %w", file.Name, putErr)
	}

	return nil
}

// SetQuality changes the quality used by the next Compress and returns the
// label to display. Existing outputs are not touched.
func (flow *CompressionFlow) SetQuality(quality int) (string, error) {
	if quality < minCompressionQuality || quality > maxCompressionQuality {
		return "", fmt.Errorf("%w: %d not in [%d, %d]",
			ErrQualityOutOfRange, quality, minCompressionQuality, maxCompressionQuality)
	}

	flow.mu.Lock()
	flow.quality = quality
	flow.mu.Unlock()

	return strconv.Itoa(quality), nil
}

// Compress runs the compressor on the selected image. On failure the error is
// logged and the previous output stays as it was.
func (flow *CompressionFlow) Compress(ctx context.Context) (artifact.Ref, error) {
	if err := flow.guard.acquire(); err != nil {
		return artifact.Ref{}, err
	}
	defer flow.guard.release()

	flow.mu.Lock()
	selected := flow.selected
	quality := flow.quality
	flow.mu.Unlock()

	if selected == nil {
		flow.deps.Notifier.Alert(MsgSelectImage)

		return artifact.Ref{}, ErrNoImageSelected
	}

	compressed, compressErr := flow.compressor.Compress(ctx, selected.blob(), convert.CompressOptions{
		MaxSizeMB:        flow.settings.MaxSizeMB,
		MaxWidthOrHeight: flow.settings.MaxWidthOrHeight,
		InitialQuality:   float64(quality) / maxCompressionQuality,
	})
	if compressErr != nil {
		flow.deps.Log.Error("Compression error for %s: %v", selected.Name, compressErr)

		return artifact.Ref{}, fmt.Errorf("%w: compress %s: %w", ErrConversionFailed, selected.Name, compressErr)
	}

	if clearErr := flow.clear(ctx, slotAfter); clearErr != nil {
		flow.deps.Log.Warn("Failed to revoke previous compressed image: %v", clearErr)
	}

	ref, putErr := flow.scope.Put(ctx, slotAfter, compressed.Name, compressed.MIMEType, compressed.Data)
	if putErr != nil {
		flow.deps.Log.Error("Failed to store compressed %s: %v", selected.Name, putErr)

		return artifact.Ref{}, fmt.Errorf("%w: store compressed %s: %w", ErrConversionFailed, selected.Name, putErr)
	}

	flow.deps.Log.Info("Compressed %s: %d -> %d bytes at quality %d",
		selected.Name, len(selected.Data), len(compressed.Data), quality)

	return ref, nil
}

// State returns a snapshot for display.
func (flow *CompressionFlow) State() CompressionState {
	flow.mu.Lock()
	defer flow.mu.Unlock()

	state := CompressionState{
		QualityLabel: strconv.Itoa(flow.quality),
		Before:       refPtr(flow.scope.Refs(slotBefore)),
		After:        refPtr(flow.scope.Refs(slotAfter)),
		Running:      flow.guard.Running(),
	}

	if flow.selected != nil {
		state.Selected = flow.selected.Name
	}

	if state.After != nil {
		state.DownloadLabel = CompressedDownloadLabel
	}

	return state
}

// Owns reports whether the artifact id belongs to this flow.
func (flow *CompressionFlow) Owns(id string) bool {
	return flow.scope.Owns(id)
}

// Close revokes every artifact of the flow.
func (flow *CompressionFlow) Close(ctx context.Context) error {
	return flow.scope.Close(ctx)
}

func (flow *CompressionFlow) clear(ctx context.Context, slots ...string) error {
	for _, slot := range slots {
		if err := flow.scope.Clear(ctx, slot); err != nil {
			return err
		}
	}

	return nil
}
