package clock

import "time"

// Clock abstracts time for services that stamp rows or compare expiries.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Fixed is a test clock pinned to one instant.
type Fixed struct {
	At time.Time
}

func (f Fixed) Now() time.Time { return f.At }
