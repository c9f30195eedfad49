package analysis

// Buffer is a reusable block of mono samples handed to the real-time tap.
type Buffer struct {
	Samples []float64
}

// BufferPool is a bounded free list of buffers. Get never blocks: it
// allocates when the pool is empty. Put drops buffers once the pool is full.
type BufferPool struct {
	free     chan *Buffer
	capacity int
}

// NewBufferPool creates a pool holding at most size idle buffers, each
// preallocated with room for capacity samples.
func NewBufferPool(size, capacity int) *BufferPool {
	if size < 1 {
		size = 1
	}
	p := &BufferPool{free: make(chan *Buffer, size), capacity: capacity}
	for i := 0; i < size; i++ {
		p.free <- &Buffer{Samples: make([]float64, 0, capacity)}
	}
	return p
}

// Get returns an empty buffer.
func (p *BufferPool) Get() *Buffer {
	select {
	case b := <-p.free:
		return b
	default:
		return &Buffer{Samples: make([]float64, 0, p.capacity)}
	}
}

// Put resets b to zero length and returns it to the pool.
func (p *BufferPool) Put(b *Buffer) {
	if b == nil {
		return
	}
	b.Samples = b.Samples[:0]
	select {
	case p.free <- b:
	default:
	}
}

// Idle returns the number of buffers waiting in the pool.
func (p *BufferPool) Idle() int { return len(p.free) }
