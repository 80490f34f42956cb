// This file implements Player, which paces recorded media against the wall
// clock. The connection goroutine calls Tick; the player never blocks.

package rtmp

import (
	"errors"
	"io"
	"time"

	"amsd/internal/core/bus"
	"amsd/internal/core/protocol/amf0"
	rtmpprotocol "amsd/internal/core/protocol/rtmp"
)

// DefaultBufferTime is how far ahead of the wall clock a player sends.
const DefaultBufferTime = 3 * time.Second

// playOutput is where a player writes. NetStream implements it.
type playOutput interface {
	sendMedia(msg *bus.MediaMessage) error
	sendData(values ...amf0.Value) error
	sendUserControl(event uint16) error
	sendStatus(code, description string, extra amf0.Object) error
}

// Player plays one Deserializer. It is owned by a NetStream and only used
// from its connection goroutine.
type Player struct {
	source     bus.Deserializer
	out        playOutput
	name       string
	bufferTime time.Duration

	epoch   time.Time
	cursor  uint32
	pending *bus.MediaMessage
	paused  bool
	stopped bool
	audio   bool
	video   bool
}

// NewPlayer creates a paused player. Call Seek to start it.
func NewPlayer(source bus.Deserializer, out playOutput, name string, bufferTime time.Duration) *Player {
	return &Player{
		source:     source,
		out:        out,
		name:       name,
		bufferTime: bufferTime,
		paused:     true,
		audio:      true,
		video:      true,
	}
}

// Seek moves to the nearest keyframe at or before ms, re-anchors the clock
// so that sample is due bufferTime ago, resumes and re-sends the start data.
func (p *Player) Seek(ms uint32, now time.Time) error {
	ts, err := p.source.Seek(ms)
	if err != nil {
		return err
	}
	p.cursor = ts
	p.epoch = now.Add(-p.bufferTime).Add(-time.Duration(ts) * time.Millisecond)
	p.pending = nil
	p.stopped = false
	p.paused = false
	return p.writeStartData()
}

func (p *Player) writeStartData() error {
	if err := p.out.sendData("|RtmpSampleAccess", false, false); err != nil {
		return err
	}
	if err := p.out.sendData("onStatus", amf0.Object{"code": "NetStream.Data.Start"}); err != nil {
		return err
	}
	for _, m := range []*bus.MediaMessage{p.source.MetaData(), p.source.VideoHeader(), p.source.AudioHeader()} {
		if m == nil {
			continue
		}
		if err := p.out.sendMedia(m); err != nil {
			return err
		}
	}
	return nil
}

// Tick sends every sample due at now. The end of the source triggers the
// stop sequence once.
func (p *Player) Tick(now time.Time) error {
	if p.paused || p.stopped {
		return nil
	}
	elapsed := now.Sub(p.epoch).Milliseconds()
	for {
		if p.pending == nil {
			msg, err := p.source.ReadNext()
			if errors.Is(err, io.EOF) {
				return p.stop()
			}
			if err != nil {
				return err
			}
			p.pending = msg
		}
		if int64(p.pending.Timestamp) > elapsed {
			return nil
		}
		msg := p.pending
		p.pending = nil
		p.cursor = msg.Timestamp
		if msg.Type == bus.MessageTypeAudio && !p.audio {
			continue
		}
		if msg.Type == bus.MessageTypeVideo && !p.video {
			continue
		}
		if err := p.out.sendMedia(msg); err != nil {
			return err
		}
	}
}

func (p *Player) stop() error {
	p.stopped = true
	p.paused = true
	if err := p.out.sendUserControl(rtmpprotocol.ControlStreamEOF); err != nil {
		return err
	}
	complete := amf0.Object{"level": "status", "code": "NetStream.Play.Complete"}
	if err := p.out.sendData("onPlayStatus", complete); err != nil {
		return err
	}
	return p.out.sendStatus("NetStream.Play.Stop", "Stopped playing "+p.name+".", nil)
}

// Pause stops or resumes sending. Resuming re-anchors the clock at the
// current position so paused time is not skipped.
func (p *Player) Pause(paused bool, now time.Time) {
	if !paused && p.paused && !p.stopped {
		p.epoch = now.Add(-p.bufferTime).Add(-time.Duration(p.cursor) * time.Millisecond)
	}
	p.paused = paused
}

// Paused reports whether the player is paused or stopped.
func (p *Player) Paused() bool { return p.paused }

// Stopped reports whether the stop sequence was sent.
func (p *Player) Stopped() bool { return p.stopped }

// Cursor returns the timestamp of the last sample consumed.
func (p *Player) Cursor() uint32 { return p.cursor }

// ReceiveAudio enables or mutes audio. Muted samples are consumed.
func (p *Player) ReceiveAudio(on bool) { p.audio = on }

// ReceiveVideo enables or mutes video. Muted samples are consumed.
func (p *Player) ReceiveVideo(on bool) { p.video = on }

// Close releases the source.
func (p *Player) Close() error {
	p.stopped = true
	return p.source.Close()
}
