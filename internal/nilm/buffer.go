package nilm

// SampleBuffer is a fixed-capacity ring of recent samples. Appending at
// capacity evicts the oldest entry. Not safe for concurrent use — the
// pipeline serializes access.
type SampleBuffer struct {
	buf      []Sample
	capacity int
	head     int // next write position
	count    int
}

// NewSampleBuffer creates a buffer holding at most capacity samples.
func NewSampleBuffer(capacity int) *SampleBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &SampleBuffer{
		buf:      make([]Sample, capacity),
		capacity: capacity,
	}
}

// Append stores a sample, evicting the oldest if the buffer is full.
func (b *SampleBuffer) Append(s Sample) {
	b.buf[b.head] = s
	b.head = (b.head + 1) % b.capacity
	if b.count < b.capacity {
		b.count++
	}
}

// Len returns the number of samples currently held.
func (b *SampleBuffer) Len() int {
	return b.count
}

// Recent returns the last k samples in arrival order. If fewer than k are
// held, all of them are returned.
func (b *SampleBuffer) Recent(k int) []Sample {
	if k > b.count {
		k = b.count
	}
	if k <= 0 {
		return nil
	}
	out := make([]Sample, k)
	start := (b.head - k + b.capacity) % b.capacity
	for i := 0; i < k; i++ {
		out[i] = b.buf[(start+i)%b.capacity]
	}
	return out
}

// Powers returns the power readings of all held samples in arrival order.
func (b *SampleBuffer) Powers() []float64 {
	out := make([]float64, b.count)
	start := (b.head - b.count + b.capacity) % b.capacity
	for i := 0; i < b.count; i++ {
		out[i] = b.buf[(start+i)%b.capacity].Power
	}
	return out
}

// Last returns the most recent sample. ok is false when the buffer is empty.
func (b *SampleBuffer) Last() (s Sample, ok bool) {
	if b.count == 0 {
		return Sample{}, false
	}
	idx := (b.head - 1 + b.capacity) % b.capacity
	return b.buf[idx], true
}

// Reset discards all held samples.
func (b *SampleBuffer) Reset() {
	b.head = 0
	b.count = 0
}
