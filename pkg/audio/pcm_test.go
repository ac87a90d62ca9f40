package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestPCMRoundTripAllLengths(t *testing.T) {
	t.Parallel()

	for n := 0; n <= 256; n++ {
		pcm := make([]byte, n)
		for i := range pcm {
			pcm[i] = byte(i * 7)
		}
		decoded, err := DecodePCM(EncodePCM(pcm))
		if err != nil {
			t.Fatalf("len %d: decode error: %v", n, err)
		}
		if !bytes.Equal(decoded, pcm) {
			t.Fatalf("len %d: round trip mismatch", n)
		}
	}
}

func TestSamplesRoundTrip(t *testing.T) {
	t.Parallel()

	samples := []int16{0, 1, -1, 32767, -32768, 12345, -12345}
	decoded, err := DecodeSamples(EncodeSamples(samples))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(decoded) != len(samples) {
		t.Fatalf("len = %d, want %d", len(decoded), len(samples))
	}
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Fatalf("sample %d = %d, want %d", i, decoded[i], samples[i])
		}
	}
}

func TestBytesToSamplesRejectsOddLength(t *testing.T) {
	t.Parallel()

	if _, err := BytesToSamples([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected alignment error")
	}
}

func TestSamplesToBytesLittleEndian(t *testing.T) {
	t.Parallel()

	got := SamplesToBytes([]int16{0x0102})
	if got[0] != 0x02 || got[1] != 0x01 {
		t.Fatalf("bytes = % x, want little endian", got)
	}
}

func TestBytesToMS(t *testing.T) {
	t.Parallel()

	// One second of 24 kHz 16-bit mono audio is 48000 bytes.
	if ms := BytesToMS(48000, SampleRateHz); ms != 1000 {
		t.Fatalf("ms = %d, want 1000", ms)
	}
	if ms := BytesToMS(4800, SampleRateHz); ms != 100 {
		t.Fatalf("ms = %d, want 100", ms)
	}
	if ms := BytesToMS(48000, 0); ms != 0 {
		t.Fatalf("ms = %d, want 0 for invalid rate", ms)
	}
}

func TestPCMToWAVHeader(t *testing.T) {
	t.Parallel()

	pcm := make([]byte, 100)
	wav := PCMToWAVDefault(pcm)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav len = %d", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("bad riff header: % x", wav[:12])
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != SampleRateHz {
		t.Fatalf("sample rate = %d", rate)
	}
	if size := binary.LittleEndian.Uint32(wav[40:44]); size != uint32(len(pcm)) {
		t.Fatalf("data size = %d", size)
	}
}
