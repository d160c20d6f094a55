package flasher

import "fmt"

// Progress is one event of a flash attempt. Percent never decreases within
// an attempt and is 100 only for StageFinished.
type Progress struct {
	Stage   Stage
	Percent int
	Message string

	// Written and Total are image byte counts, set from StageWriting on.
	Written int
	Total   int

	// Err is set on the StageError event.
	Err error
}

func (p Progress) String() string {
	return fmt.Sprintf("[%3d%%] %s: %s", p.Percent, p.Stage, p.Message)
}

// ProgressFunc receives progress events synchronously. It must not call
// back into the Flasher.
type ProgressFunc func(Progress)

const (
	percentPrepared   = 10
	percentErasing    = 15
	percentWriteStart = 20
	percentWriteEnd   = 80
	percentVerifying  = 85
	percentFinished   = 100
)

// reporter turns stage updates into events. A nil sink is allowed; control
// flow never depends on it.
type reporter struct {
	sink    ProgressFunc
	last    int
	written int
	total   int
}

func (r *reporter) emit(stage Stage, percent int, format string, args ...interface{}) {
	if percent < r.last {
		percent = r.last
	}
	if percent >= percentFinished && stage != StageFinished {
		percent = percentFinished - 1
	}
	r.last = percent
	if r.sink == nil {
		return
	}
	r.sink(Progress{
		Stage:   stage,
		Percent: percent,
		Message: fmt.Sprintf(format, args...),
		Written: r.written,
		Total:   r.total,
	})
}

// wrote records n more bytes and reports them as a writing event.
func (r *reporter) wrote(n int, addr uint32) {
	r.written += n
	percent := percentWriteStart
	if r.total > 0 {
		percent += (percentWriteEnd - percentWriteStart) * r.written / r.total
	}
	r.emit(StageWriting, percent, "Wrote %d of %d bytes (%#x)", r.written, r.total, addr)
}

func (r *reporter) fail(err error) {
	if r.sink == nil {
		return
	}
	percent := r.last
	if percent >= percentFinished {
		percent = percentFinished - 1
	}
	r.sink(Progress{
		Stage:   StageError,
		Percent: percent,
		Message: Guidance(err),
		Written: r.written,
		Total:   r.total,
		Err:     err,
	})
}
