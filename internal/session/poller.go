package session

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Poller runs job every interval until stopped. A run that is still in progress when the
// next tick arrives causes that tick to be skipped.
type Poller struct {
	interval time.Duration
	job      func()

	mu   sync.Mutex
	cron *cron.Cron
}

// NewPoller returns a stopped Poller. Intervals under a second are rounded up to one second.
func NewPoller(interval time.Duration, job func()) *Poller {
	return &Poller{interval: interval, job: job}
}

// Start schedules the job. Calling Start on a running Poller does nothing.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron != nil || p.interval <= 0 {
		return
	}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	c.Schedule(cron.Every(p.interval), cron.FuncJob(p.job))
	c.Start()
	p.cron = c
}

// Stop cancels future runs and waits for a running job to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	c := p.cron
	p.cron = nil
	p.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}

// Running reports whether the Poller is scheduled.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cron != nil
}
