// Package globaltime is the process clock. Tests freeze or step it to make
// "most recent wins" decisions deterministic.
package globaltime

import (
	"sync"
	"time"
)

var (
	mu      sync.RWMutex
	nowFunc = time.Now
	frozen  *time.Time
)

func Now() time.Time {
	mu.RLock()
	defer mu.RUnlock()
	return nowFunc()
}

func UTC() time.Time {
	return Now().UTC()
}

// SetMockTime freezes the clock at t.
func SetMockTime(t time.Time) {
	mu.Lock()
	defer mu.Unlock()
	at := t
	frozen = &at
	nowFunc = func() time.Time { return *frozen }
}

// Advance moves a frozen clock forward. It is a no-op on the real clock.
func Advance(d time.Duration) {
	mu.Lock()
	defer mu.Unlock()
	if frozen == nil {
		return
	}
	next := frozen.Add(d)
	frozen = &next
}

func ResetTime() {
	mu.Lock()
	defer mu.Unlock()
	frozen = nil
	nowFunc = time.Now
}
