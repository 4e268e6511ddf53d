package extractor

import "time"

// Watermark is the newest event time already emitted. The zero value admits everything.
type Watermark struct {
	at  time.Time
	set bool
}

func (w Watermark) Admits(t time.Time) bool {
	return !w.set || t.After(w.at)
}

// Advance never moves the watermark backwards.
func (w Watermark) Advance(t time.Time) Watermark {
	if !w.Admits(t) {
		return w
	}
	return Watermark{at: t, set: true}
}

func (w Watermark) Time() (time.Time, bool) {
	return w.at, w.set
}
