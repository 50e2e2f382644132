package decoding

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"io"
	"strings"
	"testing"

	"github.com/datallboy/nzbleecher/internal/nzb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encode produces a yEnc part the way posting tools do.
func encode(data []byte, header string, footer string) string {
	var b strings.Builder
	b.WriteString(header)
	col := 0
	for _, c := range data {
		e := c + 42
		switch e {
		case 0, '\n', '\r', '=':
			b.WriteByte('=')
			e += 64
			col++
		}
		b.WriteByte(e)
		col++
		if col >= 128 {
			b.WriteString("\r\n")
			col = 0
		}
	}
	b.WriteString("\r\n")
	b.WriteString(footer)
	return b.String()
}

func TestDecodeMultipart(t *testing.T) {
	data := bytes.Repeat([]byte{0, 1, 2, 19, 214, 224, 227, 200, 255, 46}, 35)
	crc := crc32.ChecksumIEEE(data)
	article := encode(data,
		"=ybegin part=2 total=3 line=128 size=1050 name=my file.bin\r\n=ypart begin=351 end=700\r\n",
		fmt.Sprintf("=yend size=350 part=2 pcrc32=%08x\r\n", crc))

	d := NewYencDecoder(strings.NewReader(article))
	require.NoError(t, d.ReadHeader())

	assert.Equal(t, Header{
		Name: "my file.bin", Line: 128, Size: 1050, Part: 2, Total: 3,
		PartBegin: 351, PartEnd: 700,
	}, d.Header)

	got, err := io.ReadAll(d)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.NoError(t, d.Verify())
	assert.Equal(t, crc, d.CRC())
}

func TestDecodeSinglePart(t *testing.T) {
	data := []byte("hello yenc")
	article := encode(data,
		"=ybegin line=128 size=10 name=hello.txt\r\n",
		fmt.Sprintf("=yend size=10 crc32=%08X\r\n", crc32.ChecksumIEEE(data)))

	d := NewYencDecoder(strings.NewReader(article))
	require.NoError(t, d.ReadHeader())
	assert.Equal(t, "hello.txt", d.Header.Name)
	assert.Zero(t, d.Header.PartBegin)

	got, err := io.ReadAll(d)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.NoError(t, d.Verify())
}

func TestDecodeChecksumMismatch(t *testing.T) {
	article := encode([]byte("abc"),
		"=ybegin part=1 line=128 size=3 name=x\r\n=ypart begin=1 end=3\r\n",
		"=yend size=3 part=1 pcrc32=deadbeef\r\n")

	d := NewYencDecoder(strings.NewReader(article))
	require.NoError(t, d.ReadHeader())
	_, err := io.ReadAll(d)
	require.NoError(t, err)
	assert.Error(t, d.Verify())
}

func TestDecodeNoHeader(t *testing.T) {
	d := NewYencDecoder(strings.NewReader("just some text\r\nno yenc here\r\n"))
	assert.ErrorIs(t, d.ReadHeader(), ErrHeaderNotFound)
}

func TestInspector(t *testing.T) {
	var ids nzb.IDGenerator
	a := nzb.NewArchive(&ids, "x.nzb", t.TempDir())

	t.Run("from payload", func(t *testing.T) {
		f := a.AddFile(`"subject.bin" yEnc (1/1)`, "", "")
		seg := f.AddSegment(1, 1, "m")
		seg.SetDecodeInfo(Header{Name: "payload.bin"}.Info(0))

		require.NoError(t, Inspector{}.InspectFilename(seg))
		assert.Equal(t, "payload.bin", f.RealFilename())
	})

	t.Run("subject fallback", func(t *testing.T) {
		f := a.AddFile(`"subject.bin" yEnc (1/1)`, "", "")
		seg := f.AddSegment(1, 1, "m")

		assert.ErrorIs(t, Inspector{}.InspectFilename(seg), ErrNoFilename)
		require.NoError(t, Inspector{SubjectFallback: true}.InspectFilename(seg))
		assert.Equal(t, "subject.bin", f.RealFilename())
	})

	t.Run("resolves through the file", func(t *testing.T) {
		a.Inspector = Inspector{}
		f := a.AddFile("whatever", "", "")
		seg := f.AddSegment(1, 1, "m")
		seg.SetDecodeInfo(Header{Name: "../evil/name.rar"}.Info(0))
		seg.MarkPayload()

		name, err := f.Filename()
		require.NoError(t, err)
		assert.Equal(t, "name.rar", name)
	})
}
