package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/briandowns/spinner"
	"github.com/cheggaaa/pb/v3"
	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"

	"github.com/book-expert/fileconv-service/internal/artifact"
	"github.com/book-expert/fileconv-service/internal/convert"
	"github.com/book-expert/fileconv-service/internal/flow"
	"github.com/book-expert/fileconv-service/internal/server"
)

const (
	outputFileMode   = 0o640
	outputDirMode    = 0o750
	compressedSuffix = "-compressed"
)

var errNoPDFsFound = errors.New("no PDF files found")

func (cmd *command) serveCommand() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the conversion page over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return cmd.withApp(c.Context(), serve)
		},
	}

	serveCmd.Flags().StringVar(&cmd.flgs.addr, "addr", "", "Listen address (default :8080)")

	return serveCmd
}

func serve(ctx context.Context, application *app) error {
	srv, srvErr := server.New(application.opts.Server, application.newWorkspace, application.store, application.log)
	if srvErr != nil {
		return fmt.Errorf("failed to create server: %w", srvErr)
	}

	return srv.Run(ctx)
}

func (cmd *command) compressCommand() *cobra.Command {
	compressCmd := &cobra.Command{
		Use:     "compress <image>",
		Short:   "Compress an image",
		Example: "fileconv compress photo.png --quality 70 -o out/",
		Args:    cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return cmd.withApp(c.Context(), func(ctx context.Context, application *app) error {
				return compressImage(ctx, application, args[0])
			})
		},
	}

	compressCmd.Flags().IntVar(&cmd.flgs.quality, "quality", 0, "Compression quality, 1-100")
	compressCmd.Flags().StringVarP(&cmd.flgs.output, "output", "o", "", "Output directory")

	return compressCmd
}

func compressImage(ctx context.Context, application *app, path string) error {
	workspace := application.cliWorkspace()
	defer closeWorkspace(ctx, application, workspace)

	file, readErr := readSelectedFile(path)
	if readErr != nil {
		return readErr
	}

	if selectErr := workspace.Compression.Select(ctx, file); selectErr != nil {
		return selectErr
	}

	if application.opts.Quality != 0 {
		if _, qualityErr := workspace.Compression.SetQuality(application.opts.Quality); qualityErr != nil {
			return qualityErr
		}
	}

	spin := newSpinner("Compressing " + file.Name + " ")
	spin.Start()
	ref, compressErr := workspace.Compression.Compress(ctx)
	spin.Stop()

	if compressErr != nil {
		return compressErr
	}

	outPath := filepath.Join(outputDir(application.opts), compressedName(ref.Name))

	if saveErr := saveArtifact(ctx, application.store, ref, outPath); saveErr != nil {
		return saveErr
	}

	fmt.Printf("%s: %s -> %s, saved to %s\n",
		file.Name, humanize.Bytes(uint64(len(file.Data))), humanize.Bytes(uint64(ref.Size)), outPath)

	return nil
}

func (cmd *command) imageToPDFCommand() *cobra.Command {
	imageToPDFCmd := &cobra.Command{
		Use:     "img2pdf <image>...",
		Short:   "Assemble images into a PDF, one page per image",
		Example: "fileconv img2pdf scan1.jpg scan2.jpg -o scans.pdf",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return cmd.withApp(c.Context(), func(ctx context.Context, application *app) error {
				return imagesToPDF(ctx, application, args)
			})
		},
	}

	imageToPDFCmd.Flags().StringVarP(&cmd.flgs.output, "output", "o", "", "Output PDF path")

	return imageToPDFCmd
}

func imagesToPDF(ctx context.Context, application *app, paths []string) error {
	workspace := application.cliWorkspace()
	defer closeWorkspace(ctx, application, workspace)

	files := make([]flow.SelectedFile, 0, len(paths))

	for _, path := range paths {
		file, readErr := readSelectedFile(path)
		if readErr != nil {
			return readErr
		}

		files = append(files, file)
	}

	if selectErr := workspace.ImageToPDF.Select(ctx, files); selectErr != nil {
		return selectErr
	}

	spin := newSpinner(fmt.Sprintf("Assembling %d image(s) ", len(files)))
	spin.Start()
	ref, assembleErr := workspace.ImageToPDF.Assemble(ctx)
	spin.Stop()

	if assembleErr != nil {
		return assembleErr
	}

	outPath := application.opts.OutputDir
	if outPath == "" {
		outPath = flow.AssembledDocumentName
	} else if filepath.Ext(outPath) == "" {
		outPath = filepath.Join(outPath, flow.AssembledDocumentName)
	}

	if saveErr := saveArtifact(ctx, application.store, ref, outPath); saveErr != nil {
		return saveErr
	}

	fmt.Printf("%d page(s), %s, saved to %s\n", len(files), humanize.Bytes(uint64(ref.Size)), outPath)

	return nil
}

func (cmd *command) pdfToImageCommand() *cobra.Command {
	pdfToImageCmd := &cobra.Command{
		Use:     "pdf2img <pdf|directory>",
		Short:   "Render every page of a PDF to a JPEG image",
		Example: "fileconv pdf2img report.pdf --quality 0.9 -o pages/",
		Args:    cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return cmd.withApp(c.Context(), func(ctx context.Context, application *app) error {
				return pdfsToImages(ctx, application, args[0])
			})
		},
	}

	pdfToImageCmd.Flags().Float64Var(&cmd.flgs.pageQuality, "quality", 0, "JPEG quality, 0-1 (0 selects the default)")
	pdfToImageCmd.Flags().StringVarP(&cmd.flgs.output, "output", "o", "", "Output directory")

	return pdfToImageCmd
}

// pdfsToImages renders one PDF, or every PDF of a directory. A failing PDF
// is logged and the rest are still processed.
func pdfsToImages(ctx context.Context, application *app, input string) error {
	pdfPaths, discoverErr := inputPDFs(input)
	if discoverErr != nil {
		return discoverErr
	}

	var failed int

	for _, pdfPath := range pdfPaths {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		application.log.Info("Starting processing for: %s", filepath.Base(pdfPath))

		pages, renderErr := pdfToImages(ctx, application, pdfPath)
		if renderErr != nil {
			failed++
			application.log.Error("Failed to process %s: %v", filepath.Base(pdfPath), renderErr)

			continue
		}

		application.log.Success("Successfully processed %s (%d pages)", filepath.Base(pdfPath), pages)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d PDF(s) failed", failed, len(pdfPaths))
	}

	return nil
}

func inputPDFs(input string) ([]string, error) {
	info, statErr := os.Stat(input)
	if statErr != nil {
		return nil, fmt.Errorf("could not stat %s: %w", input, statErr)
	}

	if !info.IsDir() {
		return []string{input}, nil
	}

	pdfPaths, discoverErr := convert.DiscoverPDFs(input)
	if discoverErr != nil {
		return nil, discoverErr
	}

	if len(pdfPaths) == 0 {
		return nil, fmt.Errorf("%w in %s", errNoPDFsFound, input)
	}

	return pdfPaths, nil
}

// pdfToImages renders one PDF into <output>/<name>/jpg and returns the number
// of pages written. Pages rendered before a failure are still written.
func pdfToImages(ctx context.Context, application *app, pdfPath string) (int, error) {
	workspace := application.cliWorkspace()
	defer closeWorkspace(ctx, application, workspace)

	file, readErr := readSelectedFile(pdfPath)
	if readErr != nil {
		return 0, readErr
	}

	if selectErr := workspace.PDFToImage.Select(ctx, file); selectErr != nil {
		return 0, selectErr
	}

	if _, qualityErr := workspace.PDFToImage.SetQuality(application.opts.PageQuality); qualityErr != nil {
		return 0, qualityErr
	}

	pageDir, dirErr := convert.SetupOutputDirectory(outputDir(application.opts), pdfPath)
	if dirErr != nil {
		return 0, dirErr
	}

	bar := pb.New(0).
		SetTemplateString(`{{ string . "name" }} {{ bar . " " "━" "━" " " " "}} {{counters .}} {{rtime .}}`).
		Set("name", file.Name).
		SetWriter(os.Stderr).
		Start()

	workspace.PDFToImage.OnPage(func(number, total int) {
		bar.SetTotal(int64(total))
		bar.SetCurrent(int64(number))
	})

	pages, extractErr := workspace.PDFToImage.ExtractPages(ctx)
	bar.Finish()

	for _, page := range pages {
		outPath := filepath.Join(pageDir, page.DownloadName)
		if saveErr := saveArtifact(ctx, application.store, page.Image, outPath); saveErr != nil {
			return 0, saveErr
		}
	}

	if extractErr != nil {
		return len(pages), extractErr
	}

	return len(pages), nil
}

func readSelectedFile(path string) (flow.SelectedFile, error) {
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		return flow.SelectedFile{}, fmt.Errorf("failed to read %s: %w", path, readErr)
	}

	return flow.SelectedFile{
		Name:     filepath.Base(path),
		MIMEType: mimetype.Detect(data).String(),
		Data:     data,
	}, nil
}

func saveArtifact(ctx context.Context, store artifact.Store, ref artifact.Ref, outPath string) error {
	stored, getErr := store.Get(ctx, ref.ID)
	if getErr != nil {
		return fmt.Errorf("failed to read artifact %s: %w", ref.Name, getErr)
	}

	if mkdirErr := os.MkdirAll(filepath.Dir(outPath), outputDirMode); mkdirErr != nil {
		return fmt.Errorf("failed to create directory for %s: %w", outPath, mkdirErr)
	}

	if writeErr := os.WriteFile(outPath, stored.Data, outputFileMode); writeErr != nil {
		return fmt.Errorf("failed to write %s: %w", outPath, writeErr)
	}

	return nil
}

func closeWorkspace(ctx context.Context, application *app, workspace *flow.Workspace) {
	if closeErr := workspace.Close(context.WithoutCancel(ctx)); closeErr != nil {
		application.log.Warn("Failed to release artifacts: %v", closeErr)
	}
}

func outputDir(opts options) string {
	if opts.OutputDir == "" {
		return "."
	}

	return opts.OutputDir
}

// compressedName inserts a suffix so the output never overwrites its input.
func compressedName(name string) string {
	return convert.StripExtension(name) + compressedSuffix + filepath.Ext(name)
}

func newSpinner(prefix string) *spinner.Spinner {
	spin := spinner.New(spinner.CharSets[4], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	spin.Prefix = prefix

	return spin
}
