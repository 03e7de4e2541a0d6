package convert

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const tempFileMode = 0o600

// CommandExecutor defines an interface for running external commands.
// This abstraction is crucial for enabling unit tests to mock command execution.
type CommandExecutor interface {
	// Run executes a command and returns its standard output.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
	// RunCombined executes a command and returns its combined standard output and
	// standard error.
	RunCombined(ctx context.Context, name string, args ...string) ([]byte, error)
}

// defaultExecutor implements the CommandExecutor interface using os/exec.
type defaultExecutor struct{}

func (executor *defaultExecutor) Run(
	ctx context.Context,
	name string,
	args ...string,
) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

func (executor *defaultExecutor) RunCombined(
	ctx context.Context,
	name string,
	args ...string,
) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// GhostscriptEngine renders documents by shelling out to pdfinfo and Ghostscript.
type GhostscriptEngine struct {
	executor          CommandExecutor
	ghostscriptBinary string
	pdfinfoBinary     string
}

// NewGhostscriptEngine creates a GhostscriptEngine using the named binaries.
func NewGhostscriptEngine(ghostscriptBinary, pdfinfoBinary string) *GhostscriptEngine {
	return &GhostscriptEngine{
		executor:          &defaultExecutor{},
		ghostscriptBinary: ghostscriptBinary,
		pdfinfoBinary:     pdfinfoBinary,
	}
}

// Open implements RenderEngine. The document is spooled to a private temporary
// directory that Close removes.
func (engine *GhostscriptEngine) Open(ctx context.Context, data []byte) (Document, error) {
	workDir, mkdirErr := os.MkdirTemp("", "fileconv-gs-")
	if mkdirErr != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", mkdirErr)
	}

	pdfPath := filepath.Join(workDir, "input.pdf")

	writeErr := os.WriteFile(pdfPath, data, tempFileMode)
	if writeErr != nil {
		return nil, errors.Join(
			fmt.Errorf("failed to spool pdf: %w", writeErr),
			os.RemoveAll(workDir),
		)
	}

	pageCount, pagesErr := engine.pdfPages(ctx, pdfPath)
	if pagesErr != nil {
		return nil, errors.Join(pagesErr, os.RemoveAll(workDir))
	}

	return &ghostscriptDocument{
		engine:    engine,
		workDir:   workDir,
		pdfPath:   pdfPath,
		pageCount: pageCount,
	}, nil
}

// pdfPages executes `pdfinfo` to determine the number of pages in a PDF.
func (engine *GhostscriptEngine) pdfPages(ctx context.Context, pdfPath string) (int, error) {
	outputBytes, execErr := engine.executor.Run(ctx, engine.pdfinfoBinary, pdfPath)
	if execErr != nil {
		return 0, fmt.Errorf(
			"pdfinfo execution failed: %w. Output: %s",
			execErr,
			string(outputBytes),
		)
	}

	return parsePdfInfoOutput(string(outputBytes))
}

// parsePdfInfoOutput scans pdfinfo output for the "Pages:" line.
func parsePdfInfoOutput(output string) (int, error) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "Pages:") {
			parts := strings.Fields(line)
			if len(parts) >= 2 {
				pageCount, convErr := strconv.Atoi(parts[1])
				if convErr == nil {
					return pageCount, nil
				}
			}
		}
	}

	return 0, errors.New("could not parse 'Pages:' line from pdfinfo output")
}

// buildGhostscriptArgs constructs the arguments rendering one page to a PNG.
func buildGhostscriptArgs(dpi, page int, outPath, pdfPath string) []string {
	return []string{
		"-q", "-dNOPAUSE", "-dBATCH", "-dSAFER",
		"-sDEVICE=png16m",
		fmt.Sprintf("-r%d", dpi),
		fmt.Sprintf("-dFirstPage=%d", page),
		fmt.Sprintf("-dLastPage=%d", page),
		"-o", outPath,
		"-dTextAlphaBits=4",
		"-dGraphicsAlphaBits=4",
		pdfPath,
	}
}

type ghostscriptDocument struct {
	engine    *GhostscriptEngine
	workDir   string
	pdfPath   string
	pageCount int
}

func (document *ghostscriptDocument) PageCount() int {
	return document.pageCount
}

func (document *ghostscriptDocument) Page(ctx context.Context, number int) (Page, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	if rangeErr := checkPageNumber(number, document.pageCount); rangeErr != nil {
		return nil, rangeErr
	}

	return &ghostscriptPage{
		document: document,
		number:   number,
		pngPath:  filepath.Join(document.workDir, fmt.Sprintf("page_%04d.png", number)),
	}, nil
}

func (document *ghostscriptDocument) Close() error {
	return os.RemoveAll(document.workDir)
}

type ghostscriptPage struct {
	document *ghostscriptDocument
	pngPath  string
	number   int
}

func (page *ghostscriptPage) Render(ctx context.Context, scale float64) (image.Image, error) {
	engine := page.document.engine
	dpi := int(math.Round(dpiForScale(scale)))
	args := buildGhostscriptArgs(dpi, page.number, page.pngPath, page.document.pdfPath)

	outputBytes, execErr := engine.executor.RunCombined(ctx, engine.ghostscriptBinary, args...)
	if execErr != nil {
		return nil, fmt.Errorf(
			"ghostscript execution failed: %w. Output: %s",
			execErr,
			string(outputBytes),
		)
	}

	pngBytes, readErr := os.ReadFile(page.pngPath)
	if readErr != nil {
		return nil, fmt.Errorf("read rendered page %d: %w", page.number, readErr)
	}

	img, decodeErr := png.Decode(bytes.NewReader(pngBytes))
	if decodeErr != nil {
		return nil, fmt.Errorf("decode rendered page %d: %w", page.number, decodeErr)
	}

	return img, nil
}

// Release removes the intermediate PNG.
func (page *ghostscriptPage) Release() {
	_ = os.Remove(page.pngPath)
}
