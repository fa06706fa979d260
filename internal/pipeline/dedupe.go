package pipeline

import "container/list"

// recentKeySet is a bounded LRU of force-order dedup keys. Not thread-safe;
// only the cache stage goroutine touches it.
type recentKeySet struct {
	capacity int
	cache    map[string]*list.Element
	order    *list.List
}

func newRecentKeySet(capacity int) *recentKeySet {
	return &recentKeySet{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// Seen reports whether key was already recorded, and records it. A hit
// promotes the key so hot symbols are not evicted under churn.
func (s *recentKeySet) Seen(key string) bool {
	if elem, ok := s.cache[key]; ok {
		s.order.MoveToFront(elem)
		return true
	}
	s.cache[key] = s.order.PushFront(key)
	if s.order.Len() > s.capacity {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.cache, oldest.Value.(string))
	}
	return false
}
