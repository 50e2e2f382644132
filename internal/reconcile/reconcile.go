// Package reconcile matches a manifest's declared files and segments against
// what is already in the working directory, so nothing is downloaded twice.
package reconcile

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/datallboy/nzbleecher/internal/nzb"
)

// segmentExtRe matches the extension of a decoded segment file: "segmentNNNN".
var segmentExtRe = regexp.MustCompile(`^segment(\d{4})$`)

// segmentSuffixLen is len(".segmentNNNN")
const segmentSuffixLen = 12

// Listing is a cached directory listing of valid working files (basenames only).
type Listing struct {
	Dir   string
	Names []string
}

// ScanWorkingDir lists the regular files in dir. Zero byte files are left out
// when overwriteZeroByte is set, so they are fetched again.
func ScanWorkingDir(dir string, overwriteZeroByte bool) (*Listing, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return &Listing{Dir: dir}, nil
		}
		return nil, fmt.Errorf("failed to list working dir: %w", err)
	}

	l := &Listing{Dir: dir, Names: make([]string, 0, len(entries))}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if overwriteZeroByte {
			info, err := e.Info()
			if err != nil {
				continue
			}
			if info.Size() == 0 {
				continue
			}
		}
		l.Names = append(l.Names, e.Name())
	}
	return l, nil
}

// FileNeedsDownload is the quick first pass: a file is not needed when its
// destination already exists, or, while only its temp name is known, when a
// working file name is found inside its subject line.
func FileNeedsDownload(f *nzb.File, listing *Listing) bool {
	if dest, err := f.Destination(); err == nil {
		if info, err := os.Stat(dest); err == nil && info.Mode().IsRegular() {
			if info.Size() > 0 || !f.Archive.OverwriteZeroByteFiles {
				return false
			}
		}
	}

	if f.RealFilename() == "" && listing != nil {
		for _, name := range listing.Names {
			if strings.Contains(f.Subject, name) {
				return false
			}
		}
	}
	return true
}

// Result is the outcome of a bulk segment reconciliation.
type Result struct {
	// NeedDownload holds the segments that must be fetched, in input order.
	NeedDownload []*nzb.Segment
	// NeedFiles holds the files those segments belong to, in first-seen order.
	NeedFiles []*nzb.File
	// OnDisk holds the segments already satisfied by working files.
	OnDisk []*nzb.Segment
}

// NeedsDownload reports whether f is in NeedFiles.
func (r *Result) NeedsDownload(f *nzb.File) bool {
	for _, nf := range r.NeedFiles {
		if nf == f {
			return true
		}
	}
	return false
}

// Segments is the second pass, run once over every candidate segment.
//
// A segment is satisfied when a working file with the same segment number
// either appears in its file's subject line, or equals its own temp name.
// Satisfied segments leave their file's pending set. A match for segment one
// on a non-temporary name reveals the file's real name.
func Segments(segments []*nzb.Segment, listing *Listing) Result {
	onDiskByNumber := make(map[int][]string)
	if listing != nil {
		for _, name := range listing.Names {
			ext := strings.TrimPrefix(filepath.Ext(name), ".")
			m := segmentExtRe.FindStringSubmatch(ext)
			if m == nil {
				continue
			}
			number, _ := strconv.Atoi(m[1])
			base := name[:len(name)-segmentSuffixLen]
			onDiskByNumber[number] = append(onDiskByNumber[number], base)
		}
	}

	var res Result
	seenFiles := make(map[*nzb.File]struct{})
	needFile := func(f *nzb.File) {
		if _, ok := seenFiles[f]; ok {
			return
		}
		seenFiles[f] = struct{}{}
		res.NeedFiles = append(res.NeedFiles, f)
	}

	for _, seg := range segments {
		names, ok := onDiskByNumber[seg.Number]
		if !ok {
			res.NeedDownload = append(res.NeedDownload, seg)
			needFile(seg.File)
			continue
		}

		tempName := seg.File.TempFilename()
		found := ""
		for _, name := range names {
			if strings.Contains(seg.File.Subject, name) || name == tempName {
				found = name
				break
			}
		}

		if found == "" {
			res.NeedDownload = append(res.NeedDownload, seg)
			needFile(seg.File)
			continue
		}

		seg.File.RemovePending(seg)
		if seg.Number == 1 && !strings.HasPrefix(found, nzb.TempFilePrefix) {
			// Heuristic: a subject match on a real name for segment one
			seg.File.SetRealFilename(found)
		}
		res.OnDisk = append(res.OnDisk, seg)
	}

	return res
}
