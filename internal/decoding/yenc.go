package decoding

import (
	"bufio"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"strconv"
	"strings"
)

var ErrHeaderNotFound = errors.New("yenc header not found")

// Header is the metadata of a =ybegin / =ypart pair.
type Header struct {
	Name      string
	Line      int
	Size      int64
	Part      int
	Total     int
	PartBegin int64
	PartEnd   int64
}

type YencDecoder struct {
	scanner     *bufio.Reader
	reachedEnd  bool
	escaped     bool // State: was the previous byte '='?
	hash        hash.Hash32
	expectedCRC uint32
	hasCRC      bool

	Header Header
}

func NewYencDecoder(r io.Reader) *YencDecoder {
	return &YencDecoder{
		scanner: bufio.NewReader(r),
		hash:    crc32.NewIEEE(), // yEnc uses the standard IEEE polynomial
	}
}

// ReadHeader skips to =ybegin and parses it, and =ypart when present.
func (d *YencDecoder) ReadHeader() error {
	for {
		line, err := d.scanner.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ErrHeaderNotFound
			}
			return fmt.Errorf("searching for yenc header: %w", err)
		}

		if strings.HasPrefix(line, "=ybegin ") {
			d.parseBegin(strings.TrimRight(line, "\r\n"))
			return d.handlePotentialPartHeader()
		}
	}
}

// parseBegin reads "=ybegin part=1 total=3 line=128 size=123456 name=some file.bin".
// name is always last and may contain spaces.
func (d *YencDecoder) parseBegin(line string) {
	rest := strings.TrimPrefix(line, "=ybegin ")
	if i := strings.Index(rest, "name="); i >= 0 {
		d.Header.Name = strings.TrimSpace(rest[i+len("name="):])
		rest = rest[:i]
	}
	for _, field := range strings.Fields(rest) {
		key, val, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "line":
			d.Header.Line, _ = strconv.Atoi(val)
		case "size":
			d.Header.Size, _ = strconv.ParseInt(val, 10, 64)
		case "part":
			d.Header.Part, _ = strconv.Atoi(val)
		case "total":
			d.Header.Total, _ = strconv.Atoi(val)
		}
	}
}

func (d *YencDecoder) handlePotentialPartHeader() error {
	// Peek so binary data isn't consumed if there is no =ypart line
	peek, _ := d.scanner.Peek(6)
	if string(peek) != "=ypart" {
		return nil
	}

	line, err := d.scanner.ReadString('\n')
	if err != nil {
		return err
	}
	for _, field := range strings.Fields(strings.TrimRight(line, "\r\n")) {
		key, val, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "begin":
			d.Header.PartBegin, _ = strconv.ParseInt(val, 10, 64)
		case "end":
			d.Header.PartEnd, _ = strconv.ParseInt(val, 10, 64)
		}
	}
	return nil
}

func (d *YencDecoder) Read(p []byte) (n int, err error) {
	if d.reachedEnd {
		return 0, io.EOF
	}

	for n < len(p) {
		b, err := d.scanner.ReadByte()
		if err != nil {
			return n, err
		}

		if b == '=' && !d.escaped {
			// Peek ahead to see if this is actually the end of the part
			peek, _ := d.scanner.Peek(4)
			if len(peek) >= 4 && string(peek) == "yend" {
				d.reachedEnd = true
				d.parseFooter()
				return n, io.EOF
			}

			d.escaped = true
			continue
		}

		if b == '\r' || b == '\n' {
			// yEnc ignores critical characters (newlines) unless they are escaped.
			d.escaped = false
			continue
		}

		var decoded byte
		if d.escaped {
			decoded = b - 64 - 42
			d.escaped = false
		} else {
			decoded = b - 42
		}

		p[n] = decoded
		d.hash.Write(p[n : n+1])
		n++
	}

	return n, nil
}

func (d *YencDecoder) parseFooter() {
	line, _ := d.scanner.ReadString('\n')
	// Typical footer: =yend size=12345 part=1 pcrc32=ABC12345
	for _, part := range strings.Fields(line) {
		if val, ok := strings.CutPrefix(part, "pcrc32="); ok {
			if crc, err := strconv.ParseUint(val, 16, 32); err == nil {
				d.expectedCRC = uint32(crc)
				d.hasCRC = true
				return
			}
		}
		// Single part posts only carry crc32
		if val, ok := strings.CutPrefix(part, "crc32="); ok && d.Header.Part == 0 {
			if crc, err := strconv.ParseUint(val, 16, 32); err == nil {
				d.expectedCRC = uint32(crc)
				d.hasCRC = true
			}
		}
	}
}

// Verify checks the decoded data against the footer checksum. Posts
// without a checksum pass.
func (d *YencDecoder) Verify() error {
	if !d.hasCRC {
		return nil
	}
	actual := d.hash.Sum32()
	if actual != d.expectedCRC {
		return fmt.Errorf("checksum mismatch: expected %08X, got %08X", d.expectedCRC, actual)
	}
	return nil
}

// CRC is the part checksum from the footer, zero when absent.
func (d *YencDecoder) CRC() uint32 {
	return d.expectedCRC
}
