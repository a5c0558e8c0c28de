// Package fragment splits application payloads into fixed-size wire
// fragments and reassembles them back into the original bytes, mirroring
// the split/rebuild pair the teacher library implements in
// core/multipart, generalized from MeshCore's variable-size chunks to the
// spec's fixed 128-byte FragmentSize.
package fragment

import (
	"github.com/kabili207/dronenet-go/core/wire"
)

// Split divides payload into wire.Fragment values of wire.FragmentSize
// bytes each, the final one possibly shorter (spec §4.2). An empty payload
// yields exactly one fragment of length 0.
func Split(payload []byte) []wire.Fragment {
	total := len(payload) / wire.FragmentSize
	if len(payload)%wire.FragmentSize != 0 || len(payload) == 0 {
		total++
	}

	fragments := make([]wire.Fragment, total)
	for i := 0; i < total; i++ {
		start := i * wire.FragmentSize
		end := start + wire.FragmentSize
		if end > len(payload) {
			end = len(payload)
		}
		f := wire.Fragment{
			FragmentIndex:  uint64(i),
			TotalFragments: uint64(total),
			Length:         uint8(end - start),
		}
		copy(f.Payload[:], payload[start:end])
		fragments[i] = f
	}
	return fragments
}
