package vulkan

import "sync"

type LockGroup string

const (
	SamplerManagement LockGroup = "sampler_management"
	ShaderManagement  LockGroup = "shader_management"
)

type queueSlot struct {
	family uint32
	index  uint32
}

// LockPool serializes callers per lock group and per queue. Queues are
// externally synchronized objects: submissions to one queue must never overlap.
type LockPool struct {
	locks map[LockGroup]*sync.Mutex
	mu    sync.Mutex // Protects access to the lock maps

	queueMutexes map[queueSlot]*sync.Mutex
}

func NewLockPool() *LockPool {
	return &LockPool{
		locks:        make(map[LockGroup]*sync.Mutex),
		queueMutexes: make(map[queueSlot]*sync.Mutex),
	}
}

// Get or create a mutex for a specific group
func (lp *LockPool) groupLock(group LockGroup) *sync.Mutex {
	lp.mu.Lock()
	defer lp.mu.Unlock()

	l, exists := lp.locks[group]
	if !exists {
		l = &sync.Mutex{}
		lp.locks[group] = l
	}
	return l
}

func (lp *LockPool) queueLock(family, index uint32) *sync.Mutex {
	lp.mu.Lock()
	defer lp.mu.Unlock()

	key := queueSlot{family: family, index: index}
	l, exists := lp.queueMutexes[key]
	if !exists {
		l = &sync.Mutex{}
		lp.queueMutexes[key] = l
	}
	return l
}

// SafeCall runs fn while holding the lock of group.
func (lp *LockPool) SafeCall(group LockGroup, fn func() error) error {
	l := lp.groupLock(group)
	l.Lock()
	defer l.Unlock()

	return fn()
}

// SafeQueueCall runs fn while holding the lock of queue. Calls on different
// queues run concurrently.
func (lp *LockPool) SafeQueueCall(queue *Queue, fn func() error) error {
	l := lp.queueLock(queue.familyIndex, queue.index)
	l.Lock()
	defer l.Unlock()

	return fn()
}
