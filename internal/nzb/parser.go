package nzb

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/datallboy/nzbleecher/internal/domain"
	"golang.org/x/text/encoding/charmap"
)

// Handler receives manifest elements in document order.
type Handler interface {
	StartFile(subject, date, poster string) error
	Group(name string) error
	Segment(bytes int64, number int, messageID string) error
	EndFile() error
}

// Parse streams an NZB 1.x document into h. Malformed documents return an
// error wrapping domain.ErrInvalidNZB. Errors returned by h abort the parse
// and are passed through unchanged.
func Parse(r io.Reader, h Handler) error {
	decoder := xml.NewDecoder(r)
	decoder.CharsetReader = charsetReader

	var (
		chars     *strings.Builder
		inFile    bool
		segBytes  int64
		segNumber int
	)

	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidNZB, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "file":
				if inFile {
					return fmt.Errorf("%w: nested <file> element", domain.ErrInvalidNZB)
				}
				inFile = true
				if err := h.StartFile(attr(t, "subject"), attr(t, "date"), attr(t, "poster")); err != nil {
					return err
				}
			case "group":
				chars = &strings.Builder{}
			case "segment":
				if !inFile {
					return fmt.Errorf("%w: <segment> outside of <file>", domain.ErrInvalidNZB)
				}
				segBytes, err = strconv.ParseInt(attr(t, "bytes"), 10, 64)
				if err != nil {
					return fmt.Errorf("%w: segment bytes: %v", domain.ErrInvalidNZB, err)
				}
				segNumber, err = strconv.Atoi(attr(t, "number"))
				if err != nil {
					return fmt.Errorf("%w: segment number: %v", domain.ErrInvalidNZB, err)
				}
				chars = &strings.Builder{}
			}

		case xml.CharData:
			if chars != nil {
				chars.Write(t)
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "file":
				inFile = false
				if err := h.EndFile(); err != nil {
					return err
				}
			case "group":
				if chars != nil && inFile {
					if err := h.Group(strings.TrimSpace(chars.String())); err != nil {
						return err
					}
				}
				chars = nil
			case "segment":
				if chars != nil {
					msgID := strings.TrimSpace(chars.String())
					if err := h.Segment(segBytes, segNumber, msgID); err != nil {
						return err
					}
				}
				chars = nil
			}
		}
	}

	if inFile {
		return fmt.Errorf("%w: unterminated <file> element", domain.ErrInvalidNZB)
	}
	return nil
}

func attr(e xml.StartElement, name string) string {
	for _, a := range e.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// charsetReader handles the latin-1 declarations common in NZB files.
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(charset) {
	case "utf-8", "utf8", "us-ascii", "ascii":
		return input, nil
	case "iso-8859-1", "iso8859-1", "latin1", "latin-1":
		return charmap.ISO8859_1.NewDecoder().Reader(input), nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder().Reader(input), nil
	}
	return nil, fmt.Errorf("unsupported charset %q", charset)
}
