package processor

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

type CLI7z struct {
	BinaryPath string
}

// NewCLI7z creates a new 7z extractor using the system's 7z binary
func NewCLI7z() (*CLI7z, error) {
	// Try both '7z' and '7za' (7za is often the standalone version)
	path, err := exec.LookPath("7z")
	if err != nil {
		path, err = exec.LookPath("7za")
		if err != nil {
			return nil, fmt.Errorf("7z/7za binary not found in PATH: %w", err)
		}
	}
	return &CLI7z{BinaryPath: path}, nil
}

// Name returns the extractor name
func (z *CLI7z) Name() string {
	return "7-Zip"
}

// CanExtract checks if the file is a 7z archive
func (z *CLI7z) CanExtract(filePath string) (bool, error) {
	if !strings.HasSuffix(strings.ToLower(filepath.Base(filePath)), ".7z") {
		return false, nil
	}
	return sniff(filePath, "7z")
}

// Extract extracts the 7z archive to the destination directory
func (z *CLI7z) Extract(ctx context.Context, archivePath string, destDir string) ([]string, error) {
	return baseExtract(ctx, archivePath, destDir, func(workDir string) *exec.Cmd {
		// 7z x -o<destination> -y <archive>
		// x = extract with full paths
		// -o = output directory (no space between -o and path)
		// -y = assume yes on all queries
		return exec.CommandContext(ctx, z.BinaryPath, "x", "-o"+workDir, "-y", archivePath)
	})
}
