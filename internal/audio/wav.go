// Package audio provides minimal PCM/WAV helpers for the service facades.
package audio

import (
	"encoding/binary"
	"time"
)

const (
	BitsPerSample = 16
	HeaderSize    = 44
)

// PCMToWAV wraps raw 16-bit little-endian PCM samples in a RIFF/WAVE header.
func PCMToWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * BitsPerSample / 8
	blockAlign := channels * BitsPerSample / 8
	dataSize := len(pcm)

	wav := make([]byte, HeaderSize+dataSize)

	copy(wav[0:4], "RIFF")
	binary.LittleEndian.PutUint32(wav[4:8], uint32(36+dataSize))
	copy(wav[8:12], "WAVE")

	copy(wav[12:16], "fmt ")
	binary.LittleEndian.PutUint32(wav[16:20], 16)
	binary.LittleEndian.PutUint16(wav[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(wav[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(wav[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(wav[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(wav[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(wav[34:36], BitsPerSample)

	copy(wav[36:40], "data")
	binary.LittleEndian.PutUint32(wav[40:44], uint32(dataSize))

	copy(wav[HeaderSize:], pcm)
	return wav
}

// SilencePCM returns d of 16-bit mono silence at the given sample rate.
func SilencePCM(d time.Duration, sampleRate int) []byte {
	samples := int(float64(sampleRate) * d.Seconds())
	return make([]byte, samples*2)
}

// PCMDuration reports the playback duration of raw 16-bit PCM.
func PCMDuration(pcm []byte, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	bytesPerSecond := sampleRate * channels * 2
	return time.Duration(float64(len(pcm)) / float64(bytesPerSecond) * float64(time.Second))
}
