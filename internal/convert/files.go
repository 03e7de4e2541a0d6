package convert

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// defaultDirMode is the default permissions for created directories.
	defaultDirMode = 0o750
)

// DiscoverPDFs finds all PDF files in a given directory.
// It performs a case-insensitive search and does not recurse into subdirectories.
func DiscoverPDFs(dirPath string) ([]string, error) {
	dirEntries, readErr := os.ReadDir(dirPath)
	if readErr != nil {
		return nil, fmt.Errorf(
			"could not read directory %s: %w",
			dirPath,
			readErr,
		)
	}

	var pdfPaths []string

	for _, entry := range dirEntries {
		if !entry.IsDir() &&
			strings.HasSuffix(strings.ToLower(entry.Name()), ".pdf") {
			pdfPaths = append(pdfPaths, filepath.Join(dirPath, entry.Name()))
		}
	}

	return pdfPaths, nil
}

// SetupOutputDirectory creates the folder a document's page images go to.
// For a PDF named 'mydoc.pdf', it creates '<baseOutputPath>/mydoc/jpg/'.
func SetupOutputDirectory(baseOutputPath, pdfPath string) (string, error) {
	pdfBaseName := StripExtension(filepath.Base(pdfPath))
	outputDir := filepath.Join(baseOutputPath, pdfBaseName, "jpg")

	mkdirErr := os.MkdirAll(outputDir, defaultDirMode)
	if mkdirErr != nil {
		return "", fmt.Errorf(
			"failed to create output directory %s: %w",
			outputDir,
			mkdirErr,
		)
	}

	return outputDir, nil
}

// PageImageName is the download name of page number of the document named
// documentName, e.g. "report-page-3.jpg".
func PageImageName(documentName string, number int) string {
	return fmt.Sprintf("%s-page-%d.jpg", StripExtension(documentName), number)
}
