package repository

import "sync"

// keyedLocks hands out one FIFO lock per key.
type keyedLocks struct {
	mu     sync.Mutex
	queues map[string][]chan struct{}
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{queues: make(map[string][]chan struct{})}
}

func (k *keyedLocks) Lock(key string) func() {
	turn := make(chan struct{})

	k.mu.Lock()
	waiting := k.queues[key]
	k.queues[key] = append(waiting, turn)
	if len(waiting) == 0 {
		close(turn)
	}
	k.mu.Unlock()

	<-turn

	var once sync.Once
	return func() {
		once.Do(func() {
			k.mu.Lock()
			defer k.mu.Unlock()
			rest := k.queues[key][1:]
			if len(rest) == 0 {
				delete(k.queues, key)
				return
			}
			k.queues[key] = rest
			close(rest[0])
		})
	}
}
