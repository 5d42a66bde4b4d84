package clock

import (
	"net/http"
	"strconv"
	"time"
)

// TestNowHeader carries an epoch-millisecond timestamp that substitutes for
// wall-clock time. It is only honored when the server runs in test mode.
const TestNowHeader = "X-Test-Now-Ms"

type Clock interface {
	Now() time.Time
}

type System struct{}

func (System) Now() time.Time { return time.Now() }

// Fixed always reports the same instant. Test helper.
type Fixed struct {
	T time.Time
}

func (f Fixed) Now() time.Time { return f.T }

// RequestClock resolves "now" for an inbound request. In test mode a valid
// X-Test-Now-Ms header overrides the base clock; everywhere else the header
// is ignored.
type RequestClock struct {
	base     Clock
	testMode bool
}

func NewRequestClock(base Clock, testMode bool) *RequestClock {
	if base == nil {
		base = System{}
	}
	return &RequestClock{base: base, testMode: testMode}
}

func (c *RequestClock) Now() time.Time {
	return c.base.Now()
}

func (c *RequestClock) FromRequest(r *http.Request) time.Time {
	if c.testMode && r != nil {
		if raw := r.Header.Get(TestNowHeader); raw != "" {
			if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
				return time.UnixMilli(ms)
			}
		}
	}
	return c.base.Now()
}
