package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/datallboy/nzbleecher/internal/domain"
	"github.com/datallboy/nzbleecher/internal/infra/logger"
	"github.com/datallboy/nzbleecher/internal/nzb"
	"github.com/datallboy/nzbleecher/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const threeSegments = `<?xml version="1.0" encoding="utf-8"?>
<nzb xmlns="http://www.newzbin.com/DTD/2003/nzb">
 <file poster="p@example.com" date="1136073600" subject="scenario yEnc (1/3)">
  <groups><group>alt.binaries.test</group></groups>
  <segments>
   <segment bytes="100" number="1">one@example.com</segment>
   <segment bytes="200" number="2">two@example.com</segment>
   <segment bytes="150" number="3">three@example.com</segment>
  </segments>
 </file>
</nzb>`

type fakeAssembler struct {
	files      []*nzb.File
	autoFinish []bool
	err        error
}

func (a *fakeAssembler) AssembleFile(_ context.Context, f *nzb.File, autoFinish bool) error {
	a.files = append(a.files, f)
	a.autoFinish = append(a.autoFinish, autoFinish)
	return a.err
}

// inlinePoster runs posted work immediately.
type inlinePoster struct{ posted int }

func (p *inlinePoster) Post(fn func()) {
	p.posted++
	fn()
}

type fixture struct {
	dir    string
	queue  *queue.DownloadQueue
	asm    *fakeAssembler
	poster *inlinePoster
	loader *Loader
	done   []*nzb.Archive
	ids    nzb.IDGenerator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{
		dir:    t.TempDir(),
		queue:  queue.NewDownloadQueue(),
		asm:    &fakeAssembler{},
		poster: &inlinePoster{},
	}
	fx.loader = New(fx.queue, fx.asm, fx.poster, logger.Discard())
	fx.loader.OnArchiveDone = func(a *nzb.Archive) { fx.done = append(fx.done, a) }
	return fx
}

func (fx *fixture) archive() *nzb.Archive {
	return nzb.NewArchive(&fx.ids, "scenario.nzb", fx.dir)
}

func (fx *fixture) touch(t *testing.T, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(fx.dir, name), []byte("data"), 0644))
}

func TestLoadQueuesEverything(t *testing.T) {
	fx := newFixture(t)
	a := fx.archive()

	complete, err := fx.loader.Load(context.Background(), a, strings.NewReader(threeSegments))
	require.NoError(t, err)
	assert.False(t, complete)

	require.Len(t, a.Files, 1)
	f := a.Files[0]
	assert.Equal(t, []string{"alt.binaries.test"}, f.Groups)
	assert.Equal(t, int64(450), fx.queue.QueuedBytes())
	assert.Equal(t, 3, fx.queue.Len())
	assert.Equal(t, []*nzb.Archive{a}, fx.queue.CurrentArchives())

	for i, want := range f.Segments {
		got, ok := fx.queue.Get("news1")
		require.True(t, ok)
		assert.Same(t, want, got)
		assert.Equal(t, queue.ContentPriority+i+1, got.Priority())
	}
	assert.Empty(t, fx.asm.files)
	assert.Empty(t, fx.done)
}

func TestLoadSkipsSegmentsOnDisk(t *testing.T) {
	fx := newFixture(t)
	a := fx.archive()
	tmp := nzb.TempFilePrefix + "scenario.file0001"
	fx.touch(t, tmp+".segment0001")
	fx.touch(t, tmp+".segment0003")

	complete, err := fx.loader.Load(context.Background(), a, strings.NewReader(threeSegments))
	require.NoError(t, err)
	assert.False(t, complete)

	f := a.Files[0]
	assert.Equal(t, []*nzb.Segment{f.Segments[1]}, f.PendingSegments())
	assert.Equal(t, int64(250), f.SkippedBytes())
	assert.Equal(t, int64(200), fx.queue.QueuedBytes())

	got, ok := fx.queue.Get("news1")
	require.True(t, ok)
	assert.Same(t, f.Segments[1], got)
	_, ok = fx.queue.Get("news1")
	assert.False(t, ok)
}

func TestLoadAllSegmentsOnDisk(t *testing.T) {
	fx := newFixture(t)
	a := fx.archive()
	for i := 1; i <= 3; i++ {
		fx.touch(t, fmt.Sprintf("%sscenario.file0001.segment%04d", nzb.TempFilePrefix, i))
	}

	complete, err := fx.loader.Load(context.Background(), a, strings.NewReader(threeSegments))
	require.NoError(t, err)
	assert.True(t, complete)

	assert.Equal(t, a.Files, fx.asm.files)
	assert.Equal(t, []bool{false}, fx.asm.autoFinish)
	assert.Equal(t, []*nzb.Archive{a}, fx.done)
	assert.Empty(t, fx.queue.CurrentArchives())
	assert.Zero(t, fx.queue.Len())
}

func TestLoadFileAlreadyAssembled(t *testing.T) {
	fx := newFixture(t)
	a := fx.archive()
	// the subject line names a finished file in the working dir
	fx.touch(t, "scenario")

	complete, err := fx.loader.Load(context.Background(), a, strings.NewReader(threeSegments))
	require.NoError(t, err)
	assert.True(t, complete)

	f := a.Files[0]
	assert.True(t, f.IsAssembled())
	assert.Equal(t, int64(450), f.SkippedBytes())
	assert.Empty(t, fx.asm.files)
	assert.Len(t, fx.done, 1)
}

func TestLoadInvalidManifest(t *testing.T) {
	fx := newFixture(t)
	a := fx.archive()

	_, err := fx.loader.Load(context.Background(), a, strings.NewReader(`<nzb><file subject="x">`))
	assert.ErrorIs(t, err, domain.ErrInvalidNZB)
	assert.Empty(t, fx.queue.CurrentArchives())
	assert.Zero(t, fx.poster.posted)
}

func TestLoadNoSpace(t *testing.T) {
	fx := newFixture(t)
	fx.asm.err = fmt.Errorf("write: %w", domain.ErrNoSpace)
	a := fx.archive()
	for i := 1; i <= 3; i++ {
		fx.touch(t, fmt.Sprintf("%sscenario.file0001.segment%04d", nzb.TempFilePrefix, i))
	}

	complete, err := fx.loader.Load(context.Background(), a, strings.NewReader(threeSegments))
	assert.False(t, complete)
	assert.ErrorIs(t, err, domain.ErrNoSpace)
	assert.Empty(t, fx.queue.CurrentArchives())
	assert.Empty(t, fx.done)
}

func TestSequenceSpansFiles(t *testing.T) {
	doc := `<nzb>
 <file subject="a"><segments><segment bytes="1" number="1">a1</segment><segment bytes="1" number="2">a2</segment></segments></file>
 <file subject="b"><segments><segment bytes="1" number="1">b1</segment></segments></file>
</nzb>`
	fx := newFixture(t)
	a := fx.archive()
	_, err := fx.loader.Load(context.Background(), a, strings.NewReader(doc))
	require.NoError(t, err)

	require.Len(t, a.Files, 2)
	assert.Equal(t, queue.ContentPriority+2, a.Files[0].Segments[1].Priority())
	assert.Equal(t, queue.ContentPriority+3, a.Files[1].Segments[0].Priority())
}

func TestRepairIndexQueuedFirst(t *testing.T) {
	doc := `<nzb>
 <file subject="&quot;show.mkv&quot; yEnc (1/2)"><segments><segment bytes="10" number="1">m1</segment><segment bytes="10" number="2">m2</segment></segments></file>
 <file subject="&quot;show.vol00+01.par2&quot; yEnc (1/1)"><segments><segment bytes="5" number="1">v1</segment></segments></file>
 <file subject="&quot;show.par2&quot; yEnc (1/2)"><segments><segment bytes="1" number="1">p1</segment><segment bytes="1" number="2">p2</segment></segments></file>
</nzb>`
	fx := newFixture(t)
	a := fx.archive()
	_, err := fx.loader.Load(context.Background(), a, strings.NewReader(doc))
	require.NoError(t, err)

	index := a.Files[2]
	assert.Equal(t, queue.RepairPriority, index.Segments[0].Priority())
	assert.Equal(t, queue.RepairPriority+1, index.Segments[1].Priority())
	assert.Equal(t, queue.ContentPriority+3, a.Files[1].Segments[0].Priority(), "recovery volumes stay in the content band")

	var order []string
	for {
		seg, ok := fx.queue.Get("news1")
		if !ok {
			break
		}
		order = append(order, seg.MessageID)
	}
	assert.Equal(t, []string{"p1", "p2", "m1", "m2", "v1"}, order)
}

func TestLoadRejectsOversizedManifest(t *testing.T) {
	var b strings.Builder
	b.WriteString(`<nzb><file subject="huge"><segments>`)
	for i := 1; i <= queue.ContentPriority; i++ {
		fmt.Fprintf(&b, `<segment bytes="1" number="%d">s%d</segment>`, i, i)
	}
	b.WriteString(`</segments></file></nzb>`)

	fx := newFixture(t)
	a := fx.archive()
	complete, err := fx.loader.Load(context.Background(), a, strings.NewReader(b.String()))
	assert.False(t, complete)
	assert.ErrorIs(t, err, domain.ErrInvalidNZB)
	assert.Empty(t, fx.queue.CurrentArchives())
	assert.Zero(t, fx.queue.Len())
}
