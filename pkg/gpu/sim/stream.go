package sim

import (
	"sync"

	"github.com/orneryd/tilegemm/pkg/gpu/driver"
)

// Stream is an in-order command queue served by one worker goroutine.
type Stream struct {
	dev   *Device
	tasks chan func() error

	pending sync.WaitGroup

	mu       sync.Mutex
	released bool

	errMu sync.Mutex
	err   error
}

func newStream(dev *Device) *Stream {
	s := &Stream{
		dev:   dev,
		tasks: make(chan func() error, 64),
	}
	go s.worker()
	return s
}

func (s *Stream) worker() {
	for task := range s.tasks {
		if err := task(); err != nil {
			s.errMu.Lock()
			if s.err == nil {
				s.err = err
			}
			s.errMu.Unlock()
		}
		s.pending.Done()
	}
}

// submit enqueues task. It fails if the stream has been released.
func (s *Stream) submit(task func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return driver.Errorf(backend, driver.ErrLaunch, "launch", "stream released")
	}
	s.pending.Add(1)
	s.tasks <- task
	return nil
}

// Synchronize implements driver.Stream. It returns the first error of any
// task completed since the previous Synchronize.
func (s *Stream) Synchronize() error {
	s.pending.Wait()

	s.errMu.Lock()
	defer s.errMu.Unlock()
	err := s.err
	s.err = nil
	return err
}

// Release implements driver.Stream. Queued work still runs to completion.
func (s *Stream) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return
	}
	s.released = true
	close(s.tasks)
}
