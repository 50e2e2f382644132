package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrArticleNotFound indicates a 430 response from Usenet
var ErrArticleNotFound = errors.New("article not found")

// ErrPoolsExhausted indicates a segment has failed on every known server pool
var ErrPoolsExhausted = errors.New("segment missing from all server pools")

// ErrInvalidNZB indicates the manifest could not be parsed as well-formed XML
var ErrInvalidNZB = errors.New("invalid nzb file")

// ErrNoSpace indicates the destination volume ran out of space during assembly.
// The whole process must shut down when this is seen.
var ErrNoSpace = errors.New("no space left on device")

// ErrUnknownPool indicates a server pool name that was not registered with the retry router
var ErrUnknownPool = errors.New("unknown server pool")

// ErrArchiveCancelled indicates work was discarded because its archive was cancelled
var ErrArchiveCancelled = errors.New("archive cancelled")

// ErrArchiveInactive indicates a segment was not requeued because its archive
// was postponed, cancelled or already finished
var ErrArchiveInactive = errors.New("archive no longer active")

// ErrArchiveNotFound indicates an archive id that is not in the queue
var ErrArchiveNotFound = errors.New("archive not found")

// ErrArchiveBusy indicates an archive that already left the download stage
var ErrArchiveBusy = errors.New("archive is being post-processed")

// ExhaustedError reports a segment that no server pool could supply.
type ExhaustedError struct {
	Archive   string
	File      string
	Segment   int
	MessageID string
	Pools     []string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: segment %d (%s) of %s missing from pools [%s]",
		e.Archive, e.Segment, e.MessageID, e.File, strings.Join(e.Pools, ", "))
}

func (e *ExhaustedError) Unwrap() error { return ErrPoolsExhausted }

// FilenameError is returned when payload inspection could not determine a file's name.
type FilenameError struct {
	Archive string
	File    string
	Err     error
}

func (e *FilenameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("could not determine filename for %s (archive %s): %v", e.File, e.Archive, e.Err)
	}
	return fmt.Sprintf("could not determine filename for %s (archive %s)", e.File, e.Archive)
}

func (e *FilenameError) Unwrap() error { return e.Err }
