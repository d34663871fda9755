package ttsengine

import (
	"fmt"
	"io"
)

// readWAVPCM16 parses a RIFF/WAVE container down to raw PCM16 bytes,
// averaging stereo channels to mono, shaped after internal/tts/server.go's
// parser but returning the declared sample rate instead of assuming 48kHz.
func readWAVPCM16(r io.Reader) (pcm []byte, sampleRate uint32, err error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, err
	}
	if len(b) < 44 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("ttsengine: not a WAV body")
	}

	off := 12
	var dataOff, dataLen int
	var channels uint16
	var bits uint16
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(uint32(b[off+4]) | uint32(b[off+5])<<8 | uint32(b[off+6])<<16 | uint32(b[off+7])<<24)
		off += 8
		switch id {
		case "fmt ":
			if off+size > len(b) {
				return nil, 0, fmt.Errorf("ttsengine: truncated fmt chunk")
			}
			tag := uint16(b[off]) | uint16(b[off+1])<<8
			channels = uint16(b[off+2]) | uint16(b[off+3])<<8
			sampleRate = uint32(b[off+4]) | uint32(b[off+5])<<8 | uint32(b[off+6])<<16 | uint32(b[off+7])<<24
			bits = uint16(b[off+14]) | uint16(b[off+15])<<8
			if tag != 1 || bits != 16 {
				return nil, 0, fmt.Errorf("ttsengine: unsupported WAV format tag=%d bits=%d", tag, bits)
			}
			off += size
		case "data":
			dataOff = off
			dataLen = size
			off += size
		default:
			off += size
		}
	}
	if dataOff <= 0 || dataOff+dataLen > len(b) {
		return nil, 0, fmt.Errorf("ttsengine: no data chunk")
	}
	raw := b[dataOff : dataOff+dataLen]

	if channels == 2 {
		mono := make([]byte, dataLen/2)
		for i, j := 0, 0; i+3 < len(raw); i, j = i+4, j+2 {
			left := int16(uint16(raw[i]) | uint16(raw[i+1])<<8)
			right := int16(uint16(raw[i+2]) | uint16(raw[i+3])<<8)
			avg := int16((int32(left) + int32(right)) / 2)
			mono[j] = byte(uint16(avg) & 0xFF)
			mono[j+1] = byte(uint16(avg) >> 8)
		}
		raw = mono
	}
	return raw, sampleRate, nil
}
