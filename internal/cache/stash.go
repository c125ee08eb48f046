package cache

import "sync"

// stashedObject is one object deferred for reclamation, tagged with the
// generation value live when it was stashed (spec.md §4.3's "stashed
// objects carry their birth generation").
type stashedObject struct {
	birth uint64
	obj   any
}

// stashList is a simple mutex-guarded queue of stashed objects for one
// generation. A lock-free variant is not warranted here: sweeps run on a
// single background goroutine and pushes are infrequent relative to reads.
type stashList struct {
	mu    sync.Mutex
	items []stashedObject
}

func (s *stashList) push(o stashedObject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, o)
}

// drainBelow frees (via free) and removes every item whose birth
// generation is strictly less than boundary.
func (s *stashList) drainBelow(boundary uint64, free func(any)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	remaining := s.items[:0]
	for _, item := range s.items {
		if item.birth < boundary {
			free(item.obj)
			continue
		}
		remaining = append(remaining, item)
	}
	s.items = remaining
}
