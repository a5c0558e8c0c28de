package serial

import (
	"bytes"
	"errors"
	"testing"

	"github.com/kabili207/dronenet-go/core/wire"
)

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5}
	frame := encodeFrame(payload)

	got, remaining, err := decodeFrame(frame)
	if err != nil {
		t.Fatalf("decodeFrame() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("decodeFrame() payload = %v, want %v", got, payload)
	}
	if len(remaining) != 0 {
		t.Errorf("remaining = %v, want empty", remaining)
	}
}

func TestDecodeFrameIncomplete(t *testing.T) {
	frame := encodeFrame([]byte{1, 2, 3})
	_, _, err := decodeFrame(frame[:headerSize+1])
	if !errors.Is(err, errIncompleteFrame) {
		t.Errorf("decodeFrame() error = %v, want errIncompleteFrame", err)
	}
}

func TestDecodeFrameBadChecksum(t *testing.T) {
	frame := encodeFrame([]byte{1, 2, 3})
	frame[len(frame)-1] ^= 0xFF
	_, _, err := decodeFrame(frame)
	if err == nil {
		t.Error("decodeFrame() with corrupted checksum: want error, got nil")
	}
}

func TestProcessFramesExtractsMultiple(t *testing.T) {
	l := New(Config{Port: "/dev/null"})
	var received []*wire.Packet
	l.SetPacketHandler(func(p *wire.Packet) { received = append(received, p) })

	var combined []byte
	for _, id := range []uint64{9, 8} {
		data, err := (&wire.Packet{SessionID: id, Kind: wire.KindAck, Ack: &wire.Ack{}}).WriteTo()
		if err != nil {
			t.Fatalf("WriteTo() error = %v", err)
		}
		combined = append(combined, encodeFrame(data)...)
	}

	if rest := l.processFrames(combined); len(rest) != 0 {
		t.Errorf("processFrames() left %d bytes, want 0", len(rest))
	}
	if len(received) != 2 {
		t.Fatalf("extracted %d packets, want 2", len(received))
	}
	if received[0].SessionID != 9 || received[1].SessionID != 8 {
		t.Errorf("session ids = %d, %d, want 9, 8", received[0].SessionID, received[1].SessionID)
	}
}

func TestFindMagicLocatesResyncPoint(t *testing.T) {
	data := []byte{0x00, 0x00, magicHi, magicLo, 0x01}
	if idx := findMagic(data); idx != 2 {
		t.Errorf("findMagic() = %d, want 2", idx)
	}
}
