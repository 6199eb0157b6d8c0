package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sync/singleflight"
)

// Prober answers "is this pid alive" with two layers of damping: results are
// cached for the trust window, and concurrent probes for the same pid
// collapse into one OS call.
type Prober struct {
	trust time.Duration
	group singleflight.Group

	mu    sync.Mutex
	cache map[int]probeResult
}

type probeResult struct {
	alive bool
	at    time.Time
}

// NewProber returns a prober whose results stay trusted for trust.
func NewProber(trust time.Duration) *Prober {
	return &Prober{
		trust: trust,
		cache: make(map[int]probeResult),
	}
}

// SetTrustWindow adjusts the cache lifetime after a config reload.
func (p *Prober) SetTrustWindow(trust time.Duration) {
	p.mu.Lock()
	p.trust = trust
	p.mu.Unlock()
}

// Alive reports whether pid currently exists. lastSeen is the newest event
// timestamp for the process; a record fresh inside the trust window is
// assumed alive without touching the OS, since the process just spoke to us.
func (p *Prober) Alive(pid int, lastSeen, now time.Time) bool {
	if pid <= 0 {
		return false
	}

	p.mu.Lock()
	trust := p.trust
	cached, ok := p.cache[pid]
	p.mu.Unlock()

	if !lastSeen.IsZero() && now.Sub(lastSeen) < trust {
		return true
	}
	if ok && now.Sub(cached.at) < trust {
		return cached.alive
	}

	v, _, _ := p.group.Do(fmt.Sprintf("pid-%d", pid), func() (any, error) {
		exists, err := process.PidExists(int32(pid))
		if err != nil {
			// Unknowable beats wrongly-dead: an EPERM or proc hiccup must
			// not tombstone a healthy session.
			exists = true
		}
		p.mu.Lock()
		p.cache[pid] = probeResult{alive: exists, at: time.Now()}
		p.mu.Unlock()
		return exists, nil
	})
	return v.(bool)
}

// Forget drops the cached result for pid, forcing the next Alive call to
// probe the OS.
func (p *Prober) Forget(pid int) {
	p.mu.Lock()
	delete(p.cache, pid)
	p.mu.Unlock()
}

// Prune drops cache entries older than the trust window so the map does not
// grow with pid churn.
func (p *Prober) Prune(now time.Time) {
	p.mu.Lock()
	for pid, res := range p.cache {
		if now.Sub(res.at) >= p.trust {
			delete(p.cache, pid)
		}
	}
	p.mu.Unlock()
}
