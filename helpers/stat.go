package helpers

import (
	"expvar"
	"io"
)

// StatReader counts bytes read into expvar.
// Fix is added once per successful non-empty Read, e.g. frame or TCP overhead.
type StatReader struct {
	R   io.Reader
	V   *expvar.Int
	Fix int64
}

var _ io.Reader = &StatReader{}

func NewStatReader(r io.Reader, counter *expvar.Int, fix int64) io.Reader {
	return &StatReader{R: r, Fix: fix, V: counter}
}

func (sr *StatReader) Read(p []byte) (n int, err error) {
	n, err = sr.R.Read(p)
	if n > 0 {
		sr.V.Add(int64(n) + sr.Fix)
	}
	return
}

type StatWriter struct {
	W   io.Writer
	V   *expvar.Int
	Fix int64
}

var _ io.Writer = &StatWriter{}

func NewStatWriter(w io.Writer, counter *expvar.Int, fix int64) io.Writer {
	return &StatWriter{W: w, Fix: fix, V: counter}
}

func (sw *StatWriter) Write(p []byte) (n int, err error) {
	n, err = sw.W.Write(p)
	if n > 0 {
		sw.V.Add(int64(n) + sw.Fix)
	}
	return
}
