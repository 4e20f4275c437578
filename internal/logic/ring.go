package logic

// RingSize is the number of samples held by a SampleRing. Must be a power of two.
const RingSize = 16

const ringMask = RingSize - 1

// SampleRing holds the RingSize most recent samples. The zero value is a
// ring full of zero samples.
type SampleRing struct {
	buf  [RingSize]Temperature
	head uint8 // position of the newest sample
}

// Push stores v as the newest sample, overwriting the oldest.
func (r *SampleRing) Push(v Temperature) {
	r.head = (r.head + 1) & ringMask
	r.buf[r.head] = v
}

// Newest returns the sample i steps before the newest one. Newest(0) is the
// most recent sample. i is taken modulo RingSize.
func (r *SampleRing) Newest(i int) Temperature {
	return r.buf[(int(r.head)-i)&ringMask]
}

// Oldest returns the sample i steps after the oldest one. Oldest(0) is the
// least recent sample. i is taken modulo RingSize.
func (r *SampleRing) Oldest(i int) Temperature {
	return r.buf[(int(r.head)+1+i)&ringMask]
}
