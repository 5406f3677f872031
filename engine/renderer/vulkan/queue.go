package vulkan

// noCopy is picked up by go vet's copylocks check.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Queue is a submission queue obtained from a LogicalDevice. It is exclusively
// owned and must be passed by pointer; Move transfers ownership.
type Queue struct {
	noCopy noCopy

	device      *LogicalDevice
	handle      Handle
	familyIndex uint32
	index       uint32
	flags       QueueFlags
	canPresent  bool
}

func newQueue(device *LogicalDevice, handle Handle, familyIndex, index uint32, flags QueueFlags, canPresent bool) *Queue {
	return &Queue{
		device:      device,
		handle:      handle,
		familyIndex: familyIndex,
		index:       index,
		flags:       flags,
		canPresent:  canPresent,
	}
}

// Move returns a new owner of the queue and leaves q invalid.
func (q *Queue) Move() *Queue {
	moved := newQueue(q.device, q.handle, q.familyIndex, q.index, q.flags, q.canPresent)
	q.invalidate()
	return moved
}

func (q *Queue) invalidate() {
	q.device = nil
	q.handle = nil
}

// Valid is false once the queue has been moved or its device destroyed.
func (q *Queue) Valid() bool {
	return q.handle != nil
}

func (q *Queue) Device() *LogicalDevice {
	return q.device
}

func (q *Queue) Handle() Handle {
	return q.handle
}

func (q *Queue) FamilyIndex() uint32 {
	return q.familyIndex
}

func (q *Queue) Index() uint32 {
	return q.index
}

func (q *Queue) Flags() QueueFlags {
	return q.flags
}

func (q *Queue) CanPresent() bool {
	return q.canPresent
}
