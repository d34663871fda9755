package audioclock

import (
	"turnmesh/internal/types"
)

// Packetizer re-chunks a raw PCM byte stream into exactly-20ms AudioPackets,
// prepending the previous packet's trailing 5ms as cross-fade overlap
// without advancing the clock. Grounded on
// original_source/audio/transport/packetizer.py's Packetizer dataclass,
// translated from its buffer-field dataclass shape into an explicit Go
// struct with the same fields.
type Packetizer struct {
	SessionID     string
	SampleRate    int
	Channels      int
	BitsPerSample int
	PacketMs      uint16
	OverlapMs     uint16
	Codec         string

	clock        *Clock
	buffer       []byte
	seq          uint32
	overlapBuf   []byte
	cancelled    bool
}

// NewPacketizer constructs a packetizer bound to clock, the session's
// single audio clock (owned by the Turn, not a package global).
func NewPacketizer(sessionID string, clock *Clock) *Packetizer {
	return &Packetizer{
		SessionID:     sessionID,
		SampleRate:    16000,
		Channels:      1,
		BitsPerSample: 16,
		PacketMs:      DefaultPacketDurationMs,
		OverlapMs:     DefaultOverlapMs,
		Codec:         "pcm16le",
		clock:         clock,
	}
}

func (p *Packetizer) bytesPerSample() int { return (p.BitsPerSample * p.Channels) / 8 }
func (p *Packetizer) samplesPerPacket() int {
	return p.SampleRate * int(p.PacketMs) / 1000
}
func (p *Packetizer) bytesPerPacket() int { return p.samplesPerPacket() * p.bytesPerSample() }
func (p *Packetizer) samplesPerOverlap() int {
	return p.SampleRate * int(p.OverlapMs) / 1000
}
func (p *Packetizer) bytesPerOverlap() int { return p.samplesPerOverlap() * p.bytesPerSample() }

// Process appends audioBytes to the internal buffer and returns every
// complete 20ms packet it can now emit. Incomplete trailing bytes are
// buffered for the next call. Overlap bytes are prepended but do NOT
// advance the clock — only Advance(PacketMs) does, once per packet.
func (p *Packetizer) Process(audioBytes []byte) []types.AudioPacket {
	if p.cancelled {
		return nil
	}
	p.buffer = append(p.buffer, audioBytes...)

	bpp := p.bytesPerPacket()
	bpo := p.bytesPerOverlap()
	var out []types.AudioPacket

	for len(p.buffer) >= bpp {
		payload := p.buffer[:bpp]
		p.buffer = p.buffer[bpp:]

		var full []byte
		if len(p.overlapBuf) > 0 {
			full = make([]byte, 0, len(p.overlapBuf)+len(payload))
			full = append(full, p.overlapBuf...)
			full = append(full, payload...)
		} else {
			full = append([]byte(nil), payload...)
		}

		if bpo > 0 && bpo <= len(payload) {
			p.overlapBuf = append([]byte(nil), payload[len(payload)-bpo:]...)
		} else {
			p.overlapBuf = nil
		}

		tAudioMs := p.clock.Advance(p.PacketMs)

		overlapMs := p.OverlapMs
		if p.seq == 0 {
			// No overlap is carried into the very first packet: there is
			// no prior packet to cross-fade against.
			overlapMs = 0
		}

		out = append(out, types.AudioPacket{
			SessionID:  p.SessionID,
			Seq:        p.seq,
			TAudioMs:   tAudioMs,
			DurationMs: p.PacketMs,
			OverlapMs:  overlapMs,
			Codec:      p.Codec,
			Payload:    full,
		})
		p.seq++
	}
	return out
}

// Flush zero-pads any remaining buffered audio, whatever its length, to a
// full packet and emits it. There is no drop mode: a partial tail is always
// padded, never discarded.
func (p *Packetizer) Flush() []types.AudioPacket {
	if p.cancelled || len(p.buffer) == 0 {
		return nil
	}
	bpp := p.bytesPerPacket()
	if len(p.buffer) < bpp {
		pad := make([]byte, bpp-len(p.buffer))
		p.buffer = append(p.buffer, pad...)
	}
	return p.Process(nil)
}

// Cancel stops emission immediately: the in-flight frame is dropped, no
// flush tail is produced, and the client-visible silence begins within one
// packet boundary. A Packetizer cannot resume after Cancel.
func (p *Packetizer) Cancel() {
	p.cancelled = true
	p.buffer = nil
	p.overlapBuf = nil
}

// Reset clears packetizer state for a new stream within the same session
// (a new Turn gets a fresh Packetizer in practice; Reset exists for tests
// and for reuse across turns that share a session-level packetizer).
func (p *Packetizer) Reset() {
	p.buffer = nil
	p.seq = 0
	p.overlapBuf = nil
	p.cancelled = false
}
