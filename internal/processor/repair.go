package processor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// Repairer defines the behavior for verifying and fixing downloads
type Repairer interface {
	// Verify checks if the files described by the par2 index are healthy.
	// Returns true if healthy, false if repair is needed.
	Verify(ctx context.Context, par2Path string) (bool, error)

	// Repair attempts to fix the files using available parity volumes.
	Repair(ctx context.Context, par2Path string) error
}

type CLIPar2 struct {
	BinaryPath string
}

func NewCLIPar2() (*CLIPar2, error) {
	path, err := exec.LookPath("par2")
	if err != nil {
		return nil, fmt.Errorf("par2 binary not found in PATH: %w", err)
	}
	return &CLIPar2{BinaryPath: path}, nil
}

func (c *CLIPar2) Verify(ctx context.Context, path string) (bool, error) {
	// 'v' is verify, '-q' is quiet
	cmd := exec.CommandContext(ctx, c.BinaryPath, "v", "-q", path)
	cmd.Dir = filepath.Dir(path)
	err := cmd.Run()
	if err == nil {
		return true, nil // Exit code 0
	}

	var exitError *exec.ExitError
	if errors.As(err, &exitError) && exitError.ExitCode() == 1 {
		return false, nil // Damaged but repairable
	}
	return false, err // Hard error or unrepairable (Exit code 2+)
}

func (c *CLIPar2) Repair(ctx context.Context, path string) error {
	// 'r' is repair
	cmd := exec.CommandContext(ctx, c.BinaryPath, "r", "-q", path)
	cmd.Dir = filepath.Dir(path)
	return cmd.Run()
}

func (p *Processor) handleRepair(ctx context.Context, primaryPar string) error {
	p.log.Debug("PAR2 Index found: %s. Verifying...", filepath.Base(primaryPar))

	if p.repairer == nil {
		return errors.New("cannot initialize repair engine: par2 not available")
	}

	healthy, err := p.repairer.Verify(ctx, primaryPar)
	if err == nil && healthy {
		p.log.Info("All files verified healthy via PAR2.")
		return nil
	}

	p.log.Warn("Files are damaged. Attempting repair...")
	if repairErr := p.repairer.Repair(ctx, primaryPar); repairErr != nil {
		return fmt.Errorf("PAR2 repair failed: %w", repairErr)
	}

	p.log.Info("Repair complete.")
	return nil
}

// primaryPar2 picks the index file of a par2 set: the .par2 without a
// ".volNN+MM" part, or the first volume in names when there is none.
func primaryPar2(names []string) string {
	var best string
	for _, name := range names {
		lower := strings.ToLower(name)
		if !strings.HasSuffix(lower, ".par2") {
			continue
		}
		if !strings.Contains(lower, ".vol") {
			if best == "" || strings.Contains(strings.ToLower(best), ".vol") || len(name) < len(best) {
				best = name
			}
			continue
		}
		if best == "" {
			best = name
		}
	}
	return best
}
