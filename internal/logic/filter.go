package logic

// Kernel holds the FIR weights. Weight i applies to the pair formed by the
// sample i steps before the newest and the sample i steps after the oldest.
type Kernel [RingSize / 2]int32

// DefaultKernel is the weighting of the reference installation.
var DefaultKernel = Kernel{8, 14, 24, 40, 64, 96, 128, 128}

// filterShift normalizes the weighted sum.
const filterShift = 3

// Filter derives a trend signal from the most recent heater samples.
// No value is produced until RingSize samples have been observed.
type Filter struct {
	ring     SampleRing
	kernel   Kernel
	warmup   int
	ready    bool
	filtered int32
}

// NewFilter creates a filter with the given kernel.
func NewFilter(kernel Kernel) *Filter {
	return &Filter{
		kernel: kernel,
		warmup: RingSize,
	}
}

// Add pushes a sample and recomputes the filtered value once warm-up is over.
func (f *Filter) Add(v Temperature) {
	f.ring.Push(v)
	if f.warmup > 0 {
		f.warmup--
		return
	}
	f.filtered = f.compute()
	f.ready = true
}

func (f *Filter) compute() int32 {
	var sum int32
	for i, w := range f.kernel {
		sum += (int32(f.ring.Newest(i)) - int32(f.ring.Oldest(i))) * w
	}
	return sum >> filterShift
}

// Value returns the most recent filtered value, or 0 during warm-up.
func (f *Filter) Value() int32 {
	return f.filtered
}

// Warm reports whether a filtered value has been computed.
func (f *Filter) Warm() bool {
	return f.ready
}

// Latest returns the newest raw sample.
func (f *Filter) Latest() Temperature {
	return f.ring.Newest(0)
}
