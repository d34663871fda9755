package audioclock

import (
	"encoding/binary"
	"fmt"

	"turnmesh/internal/types"
)

// Wire header layout, mirroring original_source's
// struct.pack("!36sIIHH8sI", session_id, seq, t_audio_ms, duration_ms,
// overlap_ms, codec, len(payload)):
//
//	36 bytes  session id, NUL-padded UTF-8
//	4  bytes  seq            (uint32, big-endian)
//	4  bytes  t_audio_ms     (uint32, big-endian)
//	2  bytes  duration_ms    (uint16, big-endian)
//	2  bytes  overlap_ms     (uint16, big-endian)
//	8  bytes  codec, NUL-padded ASCII
//	4  bytes  payload length (uint32, big-endian)
//	N  bytes  payload
const (
	sessionIDFieldLen = 36
	codecFieldLen     = 8
	headerLen         = sessionIDFieldLen + 4 + 4 + 2 + 2 + codecFieldLen + 4
)

// MarshalPacket encodes an AudioPacket into the fixed-width wire format.
func MarshalPacket(p types.AudioPacket) ([]byte, error) {
	if len(p.SessionID) > sessionIDFieldLen {
		return nil, fmt.Errorf("audioclock: session id %q exceeds %d bytes", p.SessionID, sessionIDFieldLen)
	}
	if len(p.Codec) > codecFieldLen {
		return nil, fmt.Errorf("audioclock: codec %q exceeds %d bytes", p.Codec, codecFieldLen)
	}

	buf := make([]byte, headerLen+len(p.Payload))
	off := 0

	copy(buf[off:off+sessionIDFieldLen], p.SessionID)
	off += sessionIDFieldLen

	binary.BigEndian.PutUint32(buf[off:], p.Seq)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], p.TAudioMs)
	off += 4
	binary.BigEndian.PutUint16(buf[off:], p.DurationMs)
	off += 2
	binary.BigEndian.PutUint16(buf[off:], p.OverlapMs)
	off += 2

	copy(buf[off:off+codecFieldLen], p.Codec)
	off += codecFieldLen

	binary.BigEndian.PutUint32(buf[off:], uint32(len(p.Payload)))
	off += 4

	copy(buf[off:], p.Payload)
	return buf, nil
}

// UnmarshalPacket decodes a wire-format AudioPacket produced by MarshalPacket.
func UnmarshalPacket(b []byte) (types.AudioPacket, error) {
	if len(b) < headerLen {
		return types.AudioPacket{}, fmt.Errorf("audioclock: short packet header, got %d bytes want at least %d", len(b), headerLen)
	}

	off := 0
	sessionID := trimNul(b[off : off+sessionIDFieldLen])
	off += sessionIDFieldLen

	seq := binary.BigEndian.Uint32(b[off:])
	off += 4
	tAudioMs := binary.BigEndian.Uint32(b[off:])
	off += 4
	durationMs := binary.BigEndian.Uint16(b[off:])
	off += 2
	overlapMs := binary.BigEndian.Uint16(b[off:])
	off += 2

	codec := trimNul(b[off : off+codecFieldLen])
	off += codecFieldLen

	payloadLen := binary.BigEndian.Uint32(b[off:])
	off += 4

	if uint32(len(b)-off) < payloadLen {
		return types.AudioPacket{}, fmt.Errorf("audioclock: truncated payload, header declares %d bytes, have %d", payloadLen, len(b)-off)
	}
	payload := append([]byte(nil), b[off:off+int(payloadLen)]...)

	return types.AudioPacket{
		SessionID:  sessionID,
		Seq:        seq,
		TAudioMs:   tAudioMs,
		DurationMs: durationMs,
		OverlapMs:  overlapMs,
		Codec:      codec,
		Payload:    payload,
	}, nil
}

func trimNul(b []byte) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[:i])
}
