package processor

import "sync"

// fetchSlots caps the number of in-flight tile requests. Acquire
// blocks until a slot frees; Wait blocks until every acquired slot
// has been released.
type fetchSlots struct {
	wg    sync.WaitGroup
	slots chan struct{}
}

func newFetchSlots(n int) *fetchSlots {
	if n < 1 {
		n = 1
	}
	return &fetchSlots{slots: make(chan struct{}, n)}
}

func (s *fetchSlots) Acquire() {
	s.wg.Add(1)
	s.slots <- struct{}{}
}

func (s *fetchSlots) Release() {
	<-s.slots
	s.wg.Done()
}

func (s *fetchSlots) Wait() {
	s.wg.Wait()
}
