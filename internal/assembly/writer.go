package assembly

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// partialSuffix marks a segment file that is still being written. The
// working dir scan ignores it, so a crash never leaves a half written
// segment that looks complete.
const partialSuffix = ".partial"

// WriteSegment streams decoded data into path. The file only appears under
// its final name once fully written and synced.
func WriteSegment(path string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, noSpace(err)
	}

	tmp := path + partialSuffix
	out, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, noSpace(fmt.Errorf("could not open segment file: %w", err))
	}

	n, err := io.Copy(out, r)
	if err == nil {
		err = out.Sync()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return n, noSpace(err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return n, err
	}
	return n, nil
}
