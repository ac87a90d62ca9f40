// Package audio provides PCM codec utilities and the microphone capture /
// speaker playback pipeline for live sessions.
//
// All audio is 16-bit little-endian mono PCM at 24 kHz unless stated
// otherwise.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

const (
	// SampleRateHz is the fixed sample rate of the live audio stream.
	SampleRateHz = 24000

	// BytesPerSample for 16-bit PCM.
	BytesPerSample = 2
)

// EncodePCM encodes raw s16le PCM bytes as base64 text for the wire.
func EncodePCM(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// DecodePCM decodes base64 text back to raw s16le PCM bytes.
func DecodePCM(b64 string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(b64)
}

// SamplesToBytes packs 16-bit samples into little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(s))
	}
	return out
}

// BytesToSamples unpacks little-endian bytes into 16-bit samples.
// The byte length must be even.
func BytesToSamples(pcm []byte) ([]int16, error) {
	if len(pcm)%BytesPerSample != 0 {
		return nil, fmt.Errorf("pcm length %d is not sample-aligned", len(pcm))
	}
	out := make([]int16, len(pcm)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:]))
	}
	return out, nil
}

// EncodeSamples encodes 16-bit samples as base64 text.
func EncodeSamples(samples []int16) string {
	return EncodePCM(SamplesToBytes(samples))
}

// DecodeSamples decodes base64 text to 16-bit samples.
func DecodeSamples(b64 string) ([]int16, error) {
	pcm, err := DecodePCM(b64)
	if err != nil {
		return nil, err
	}
	return BytesToSamples(pcm)
}

// BytesToMS converts a PCM byte count to playback duration in milliseconds.
func BytesToMS(n int64, sampleRate int) int64 {
	if sampleRate <= 0 {
		return 0
	}
	return (n * 1000) / (int64(sampleRate) * BytesPerSample)
}

// PCMToWAV wraps raw PCM audio data with a 44-byte WAV header, for saving
// captured or played audio to disk.
func PCMToWAV(pcmData []byte, sampleRate, bitsPerSample, channels int) []byte {
	dataLen := len(pcmData)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	header := make([]byte, 44)

	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+dataLen))
	copy(header[8:12], "WAVE")

	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], uint16(bitsPerSample))

	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataLen))

	return append(header, pcmData...)
}

// PCMToWAVDefault wraps PCM data using the live stream format (24 kHz, 16-bit
// mono).
func PCMToWAVDefault(pcmData []byte) []byte {
	return PCMToWAV(pcmData, SampleRateHz, 16, 1)
}
