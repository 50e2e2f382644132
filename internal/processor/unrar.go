package processor

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// reRarVolume matches every volume of a multi-part rar set, in both naming schemes.
var reRarVolume = regexp.MustCompile(`(?i)^(.+?)(\.part\d+\.rar|\.rar|\.r\d{2,3})$`)

type CLIUnrar struct {
	BinaryPath string
}

// NewCLIUnrar creates a new UnRAR extractor using the system's unrar binary.
// Returns an error if the unrar binary is not found in PATH.
func NewCLIUnrar() (*CLIUnrar, error) {
	path, err := exec.LookPath("unrar")
	if err != nil {
		return nil, fmt.Errorf("unrar binary not found in PATH: %w", err)
	}
	return &CLIUnrar{BinaryPath: path}, nil
}

// Name returns the extractor name
func (u *CLIUnrar) Name() string {
	return "RAR"
}

// CanExtract checks if the file is a RAR archive by verifying:
// 1. File extension (.rar)
// 2. Content type
// 3. For multi-part archives, only extract the first part
func (u *CLIUnrar) CanExtract(filePath string) (bool, error) {
	lower := strings.ToLower(filepath.Base(filePath))

	// Quick extension check first
	if !strings.HasSuffix(lower, ".rar") {
		return false, nil
	}

	// For multi-part archives, only process the first part
	if strings.Contains(lower, ".part") {
		if !(strings.Contains(lower, ".part01.rar") ||
			strings.Contains(lower, ".part001.rar") ||
			strings.Contains(lower, ".part1.rar")) {
			return false, nil // Skip other parts
		}
	}

	return sniff(filePath, "rar")
}

// Extract extracts the RAR archive to the destination directory
func (u *CLIUnrar) Extract(ctx context.Context, archivePath string, destDir string) ([]string, error) {
	return baseExtract(ctx, archivePath, destDir, func(workDir string) *exec.Cmd {
		// unrar x -o+ -y -kb -p- <archive> <destination>
		// x = extract with full paths
		// -o+ = overwrite existing files
		// -y = assume yes on all queries (non-interactive)
		// -kb = keep broken
		// -p- = never prompt for a password
		args := []string{"x", "-o+", "-y", "-kb", "-p-", archivePath, workDir + string(filepath.Separator)}
		return exec.CommandContext(ctx, u.BinaryPath, args...)
	})
}
