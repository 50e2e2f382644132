package processor

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

type CLIUnzip struct {
	BinaryPath string
}

func NewCLIUnzip() (*CLIUnzip, error) {
	path, err := exec.LookPath("unzip")
	if err != nil {
		return nil, fmt.Errorf("unzip binary not found in PATH: %w", err)
	}
	return &CLIUnzip{BinaryPath: path}, nil
}

// Name returns the extractor name
func (u *CLIUnzip) Name() string {
	return "ZIP"
}

// CanExtract checks if the file is a ZIP archive
func (u *CLIUnzip) CanExtract(filePath string) (bool, error) {
	if !strings.HasSuffix(strings.ToLower(filepath.Base(filePath)), ".zip") {
		return false, nil
	}
	return sniff(filePath, "zip")
}

// Extract extracts the ZIP archive to the destination directory
func (u *CLIUnzip) Extract(ctx context.Context, archivePath string, destDir string) ([]string, error) {
	return baseExtract(ctx, archivePath, destDir, func(workDir string) *exec.Cmd {
		// unzip -o -q <archive> -d <destination>
		// -o = overwrite existing files
		// -q = quiet mode
		return exec.CommandContext(ctx, u.BinaryPath, "-o", "-q", archivePath, "-d", workDir)
	})
}
