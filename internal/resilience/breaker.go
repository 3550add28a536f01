package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrBreakerOpen is returned by Allow while a provider is tripped.
var ErrBreakerOpen = eris.New("resilience: breaker open")

// Breaker trips after Threshold consecutive failures. A tripped breaker
// rejects calls until Cooldown passes; a zero Cooldown keeps it open for the
// life of the breaker, which for a resolve run means the rest of the run.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	failures int
	openedAt time.Time
	open     bool
}

// NewBreaker returns a closed breaker. threshold <= 0 disables tripping.
func NewBreaker(name string, threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{name: name, threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Allow returns ErrBreakerOpen while the breaker is tripped. Once the
// cooldown passes one trial call is let through.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return nil
	}
	if b.cooldown > 0 && b.now().Sub(b.openedAt) >= b.cooldown {
		b.open = false
		b.failures = b.threshold - 1
		return nil
	}
	return ErrBreakerOpen
}

// Record feeds a call outcome into the breaker.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.failures = 0
		return
	}
	b.failures++
	if b.threshold > 0 && !b.open && b.failures >= b.threshold {
		b.open = true
		b.openedAt = b.now()
		zap.L().Warn("resilience: breaker tripped",
			zap.String("name", b.name),
			zap.Int("failures", b.failures),
		)
	}
}

// Open reports whether the breaker is currently tripped.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// Breakers holds one Breaker per name, created on first use.
type Breakers struct {
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewBreakers returns an empty registry whose breakers share the settings.
func NewBreakers(threshold int, cooldown time.Duration) *Breakers {
	return &Breakers{threshold: threshold, cooldown: cooldown, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for name.
func (bs *Breakers) Get(name string) *Breaker {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	b, ok := bs.breakers[name]
	if !ok {
		b = NewBreaker(name, bs.threshold, bs.cooldown)
		bs.breakers[name] = b
	}
	return b
}

// Tripped lists the names of open breakers.
func (bs *Breakers) Tripped() []string {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	var out []string
	for name, b := range bs.breakers {
		if b.Open() {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
