package hfhub

import (
	"fmt"
	"io"
	"sync"

	humanize "github.com/dustin/go-humanize"
	mpbv8 "github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Progress observes file transfers.
type Progress interface {
	// Track wraps r, which is expected to deliver size bytes of name.
	Track(name string, size int64, r io.Reader) io.Reader
	// Done marks name finished.
	Done(name string)
}

// Bars renders one terminal progress bar per file.
type Bars struct {
	mu   sync.Mutex
	mpb  *mpbv8.Progress
	bars map[string]*mpbv8.Bar
}

// NewBars renders to w (usually stderr).
func NewBars(w io.Writer) *Bars {
	return &Bars{
		mpb:  mpbv8.New(mpbv8.WithWidth(60), mpbv8.WithOutput(w)),
		bars: make(map[string]*mpbv8.Bar),
	}
}

func (b *Bars) Track(name string, size int64, r io.Reader) io.Reader {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.bars[name]; ok {
		return r
	}
	total := max(size, 0)
	bar := b.mpb.New(total,
		mpbv8.BarStyle(),
		mpbv8.BarFillerOnComplete("|"),
		mpbv8.PrependDecorators(decor.Name(fmt.Sprintf("fetch %s", name), decor.WCSyncSpaceR)),
		mpbv8.AppendDecorators(
			decor.OnComplete(decor.Counters(decor.SizeB1024(0), "% .2f / % .2f"), humanize.IBytes(uint64(total))),
			decor.OnComplete(decor.Name(" | ", decor.WCSyncWidthR), " | "),
			decor.OnComplete(decor.AverageSpeed(decor.SizeB1024(0), "% .2f", decor.WCSyncWidthR), "done"),
		),
	)
	b.bars[name] = bar
	return bar.ProxyReader(r)
}

func (b *Bars) Done(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bar, ok := b.bars[name]; ok {
		bar.SetTotal(-1, true)
	}
}

// Wait blocks until every bar finished rendering.
func (b *Bars) Wait() {
	b.mu.Lock()
	for _, bar := range b.bars {
		if !bar.Completed() {
			bar.Abort(false)
		}
	}
	b.mu.Unlock()
	b.mpb.Wait()
}

type noProgress struct{}

func (noProgress) Track(_ string, _ int64, r io.Reader) io.Reader { return r }
func (noProgress) Done(string)                                   {}
