package decoding

import (
	"errors"

	"github.com/datallboy/nzbleecher/internal/nzb"
)

var ErrNoFilename = errors.New("no filename in article data")

// Inspector resolves a file's real name from the yEnc header recorded when
// its first segment was decoded.
type Inspector struct {
	// SubjectFallback guesses the name from the subject line when the
	// payload carries none.
	SubjectFallback bool
}

func (i Inspector) InspectFilename(seg *nzb.Segment) error {
	if info := seg.DecodeInfo(); info != nil && info.Name != "" {
		if seg.File.SetRealFilename(info.Name) || seg.File.RealFilename() != "" {
			return nil
		}
	}

	if i.SubjectFallback {
		if name := nzb.SubjectFileName(seg.File.Subject); name != "" {
			if seg.File.SetRealFilename(name) || seg.File.RealFilename() != "" {
				return nil
			}
		}
	}
	return ErrNoFilename
}

// Info converts a parsed header into the segment's decode metadata.
func (h Header) Info(crc uint32) nzb.DecodeInfo {
	return nzb.DecodeInfo{
		Name:      h.Name,
		FileSize:  h.Size,
		PartBegin: h.PartBegin,
		PartEnd:   h.PartEnd,
		CRC:       crc,
	}
}
