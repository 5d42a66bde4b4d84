package clock

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestFromRequestTestMode(t *testing.T) {
	base := Fixed{T: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	rc := NewRequestClock(base, true)

	r := httptest.NewRequest("GET", "/pastes/abc123XY", nil)
	r.Header.Set(TestNowHeader, "1717243200000")
	got := rc.FromRequest(r)
	want := time.UnixMilli(1717243200000)
	if !got.Equal(want) {
		t.Errorf("FromRequest = %v, want %v", got, want)
	}
}

func TestFromRequestIgnoresHeaderOutsideTestMode(t *testing.T) {
	base := Fixed{T: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	rc := NewRequestClock(base, false)

	r := httptest.NewRequest("GET", "/pastes/abc123XY", nil)
	r.Header.Set(TestNowHeader, "1717243200000")
	if got := rc.FromRequest(r); !got.Equal(base.T) {
		t.Errorf("header honored outside test mode: got %v", got)
	}
}

func TestFromRequestBadHeaderFallsBack(t *testing.T) {
	base := Fixed{T: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	rc := NewRequestClock(base, true)

	r := httptest.NewRequest("GET", "/pastes/abc123XY", nil)
	r.Header.Set(TestNowHeader, "not-a-number")
	if got := rc.FromRequest(r); !got.Equal(base.T) {
		t.Errorf("bad header should fall back to base clock, got %v", got)
	}

	if got := rc.FromRequest(nil); !got.Equal(base.T) {
		t.Errorf("nil request should fall back to base clock, got %v", got)
	}
}

func TestNilBaseDefaultsToSystem(t *testing.T) {
	rc := NewRequestClock(nil, false)
	before := time.Now().Add(-time.Minute)
	after := time.Now().Add(time.Minute)
	got := rc.Now()
	if got.Before(before) || got.After(after) {
		t.Errorf("Now = %v, not close to wall clock", got)
	}
}
