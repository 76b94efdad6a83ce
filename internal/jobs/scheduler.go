package jobs

import (
	"context"
	"sync"

	"github.com/openregister/openregister/internal/safego"
)

// Scheduler starts a set of sweepers and stops them together
type Scheduler struct {
	jobs []*Sweeper
	wg   sync.WaitGroup
	once sync.Once
}

// NewScheduler groups jobs; nil entries are ignored
func NewScheduler(jobs ...*Sweeper) *Scheduler {
	s := &Scheduler{}
	for _, j := range jobs {
		if j != nil {
			s.jobs = append(s.jobs, j)
		}
	}
	return s
}

// Start launches every job in its own panic-safe goroutine
func (s *Scheduler) Start(ctx context.Context) {
	for _, j := range s.jobs {
		j := j
		s.wg.Add(1)
		safego.Go(func() {
			defer s.wg.Done()
			j.Start(ctx)
		})
	}
}

// Stop signals every job and waits for their loops to exit
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		for _, j := range s.jobs {
			j.Stop()
		}
	})
	s.wg.Wait()
}
