package nzb

import (
	"strings"
	"testing"

	"github.com/datallboy/nzbleecher/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleNZB = `<?xml version="1.0" encoding="iso-8859-1" ?>
<!DOCTYPE nzb PUBLIC "-//newzBin//DTD NZB 1.0//EN" "http://www.newzbin.com/DTD/nzb/nzb-1.0.dtd">
<nzb xmlns="http://www.newzbin.com/DTD/2003/nzb">
 <file poster="poster@example.com" date="1136073600" subject="[1/2] - &quot;data.bin&quot; yEnc (1/3)">
  <groups>
   <group>alt.binaries.test</group>
  </groups>
  <segments>
   <segment bytes="100" number="1">part1@example.com</segment>
   <segment bytes="200" number="2">part2@example.com</segment>
   <segment bytes="150" number="3">part3@example.com</segment>
  </segments>
 </file>
 <file poster="poster@example.com" date="1136073601" subject="[2/2] - &quot;data.par2&quot; yEnc (1/1)">
  <groups>
   <group>alt.binaries.test</group>
   <group>alt.binaries.misc</group>
  </groups>
  <segments>
   <segment bytes="50" number="1">par@example.com</segment>
  </segments>
 </file>
</nzb>`

type event struct {
	kind string
	args []any
}

type recorder struct {
	events []event
}

func (r *recorder) StartFile(subject, date, poster string) error {
	r.events = append(r.events, event{"file", []any{subject, date, poster}})
	return nil
}

func (r *recorder) Group(name string) error {
	r.events = append(r.events, event{"group", []any{name}})
	return nil
}

func (r *recorder) Segment(bytes int64, number int, messageID string) error {
	r.events = append(r.events, event{"segment", []any{bytes, number, messageID}})
	return nil
}

func (r *recorder) EndFile() error {
	r.events = append(r.events, event{"endfile", nil})
	return nil
}

func TestParseEmitsDocumentOrder(t *testing.T) {
	rec := &recorder{}
	require.NoError(t, Parse(strings.NewReader(sampleNZB), rec))

	kinds := make([]string, 0, len(rec.events))
	for _, e := range rec.events {
		kinds = append(kinds, e.kind)
	}
	assert.Equal(t, []string{
		"file", "group", "segment", "segment", "segment", "endfile",
		"file", "group", "group", "segment", "endfile",
	}, kinds)

	assert.Equal(t, []any{`[1/2] - "data.bin" yEnc (1/3)`, "1136073600", "poster@example.com"}, rec.events[0].args)
	assert.Equal(t, []any{"alt.binaries.test"}, rec.events[1].args)
	assert.Equal(t, []any{int64(200), 2, "part2@example.com"}, rec.events[3].args)
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"truncated", `<nzb><file subject="x"><segments><segment bytes="1" number="1">a`},
		{"bad bytes", `<nzb><file subject="x"><segments><segment bytes="abc" number="1">a</segment></segments></file></nzb>`},
		{"segment outside file", `<nzb><segment bytes="1" number="1">a</segment></nzb>`},
		{"mismatched tags", `<nzb><file></nzb>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Parse(strings.NewReader(tt.doc), &recorder{})
			assert.ErrorIs(t, err, domain.ErrInvalidNZB)
		})
	}
}
