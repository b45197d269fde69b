package core

import (
	"encoding/binary"
	"time"
)

// Frame is a block of mono signed 16-bit PCM at SampleRate Hz.
type Frame struct {
	SampleRate int
	Samples    []int16
}

func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

func (f Frame) Clone() Frame {
	s := make([]int16, len(f.Samples))
	copy(s, f.Samples)
	return Frame{SampleRate: f.SampleRate, Samples: s}
}

// Resample converts f to rate using linear interpolation.
func (f Frame) Resample(rate int) Frame {
	if rate <= 0 || f.SampleRate <= 0 || rate == f.SampleRate || len(f.Samples) == 0 {
		return f
	}
	n := len(f.Samples) * rate / f.SampleRate
	if n == 0 {
		n = 1
	}
	out := make([]int16, n)
	step := float64(f.SampleRate) / float64(rate)
	last := len(f.Samples) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = f.Samples[last]
			continue
		}
		frac := pos - float64(j)
		out[i] = int16(float64(f.Samples[j])*(1-frac) + float64(f.Samples[j+1])*frac)
	}
	return Frame{SampleRate: rate, Samples: out}
}

// PCM16LE encodes the samples as little-endian bytes, the layout both
// realtime model APIs and the g711 codec expect.
func (f Frame) PCM16LE() []byte {
	b := make([]byte, 2*len(f.Samples))
	for i, s := range f.Samples {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(s))
	}
	return b
}

// FrameFromPCM16LE decodes little-endian PCM. A trailing odd byte is ignored.
func FrameFromPCM16LE(rate int, b []byte) Frame {
	s := make([]int16, len(b)/2)
	for i := range s {
		s[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return Frame{SampleRate: rate, Samples: s}
}
