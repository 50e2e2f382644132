package platform

import (
	"os/exec"

	"github.com/datallboy/nzbleecher/internal/infra/logger"
)

// RecommendedBinaries lists external system binaries post-processing relies on
var RecommendedBinaries = []string{
	"par2",
}

var OptionalExtractorBinaries = map[string]string{
	"unrar": "RAR",
	"unzip": "ZIP",
	"7z":    "7-Zip",
	"7za":   "7-Zip",
}

// CheckDependencies logs which post-processing tools are missing from PATH
// and returns the missing recommended ones. Downloading works without them.
func CheckDependencies(log *logger.Logger) []string {
	var missing []string
	for _, bin := range RecommendedBinaries {
		if _, err := exec.LookPath(bin); err != nil {
			log.Warn("'%s' not found in PATH. Damaged archives will not be repaired.", bin)
			missing = append(missing, bin)
		}
	}

	for bin, formatName := range OptionalExtractorBinaries {
		if _, err := exec.LookPath(bin); err != nil {
			log.Info("%s (%s) not found. %s extraction will be disabled.", bin, formatName, formatName)
		}
	}

	return missing
}
