// This file implements NetStream, one message stream of a connection.
// A stream either publishes into the registry or plays a live publisher
// or a recorded file, never both.

package rtmp

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"amsd/internal/core/bus"
	"amsd/internal/core/protocol/amf0"
	"amsd/internal/core/protocol/flv"
	rtmpprotocol "amsd/internal/core/protocol/rtmp"
)

// Play start values with special meaning.
const (
	playLiveOnly   = -1
	playLiveOrFile = -2
)

// position clamps a client supplied offset in milliseconds to the range
// of a media timestamp.
func position(ms int64) uint32 {
	if ms < 0 {
		return 0
	}
	if ms > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(ms)
}

// NetStream is a message stream created by createStream.
// Lock expectations: mu guards the role fields; id and conn are immutable,
// so WriteMedia and the send helpers never take mu.
type NetStream struct {
	id     uint32
	conn   *NetConnection
	logger *slog.Logger

	mu            sync.Mutex
	transactionID float64
	playName      string
	publisher     *bus.Publisher
	subscriber    *bus.Subscriber
	player        *Player
}

func newNetStream(id uint32, conn *NetConnection) *NetStream {
	return &NetStream{
		id:     id,
		conn:   conn,
		logger: conn.logger.With("stream_id", id),
	}
}

// ID returns the message stream id.
func (ns *NetStream) ID() uint32 {
	return ns.id
}

func (ns *NetStream) setTransactionID(txn float64) {
	ns.mu.Lock()
	ns.transactionID = txn
	ns.mu.Unlock()
}

// Publisher returns the stream's publisher, or nil.
func (ns *NetStream) Publisher() *bus.Publisher {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return ns.publisher
}

// Player returns the stream's file player, or nil.
func (ns *NetStream) Player() *Player {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return ns.player
}

func chunkStreamFor(msg rtmpprotocol.Message) uint32 {
	switch msg.(type) {
	case rtmpprotocol.Audio:
		return rtmpprotocol.ChunkStreamAudio
	case rtmpprotocol.Video:
		return rtmpprotocol.ChunkStreamVideo
	case rtmpprotocol.Data:
		return rtmpprotocol.ChunkStreamData
	}
	return rtmpprotocol.ChunkStreamCommand
}

func (ns *NetStream) send(ts uint32, msg rtmpprotocol.Message) error {
	return ns.conn.session.SendMessage(chunkStreamFor(msg), ns.id, ts, msg)
}

// WriteMedia implements bus.Sink for live playback.
func (ns *NetStream) WriteMedia(msg *bus.MediaMessage) error {
	return ns.sendMedia(msg)
}

// OnUnpublish implements bus.UnpublishNotifier.
func (ns *NetStream) OnUnpublish() {
	ns.mu.Lock()
	ns.subscriber = nil
	name := ns.playName
	ns.mu.Unlock()
	if err := ns.sendStatus("NetStream.Play.UnpublishNotify", name+" is now unpublished.", nil); err != nil {
		ns.logger.Debug("unpublish notify failed", "error", err)
	}
}

func (ns *NetStream) sendMedia(msg *bus.MediaMessage) error {
	switch msg.Type {
	case bus.MessageTypeAudio:
		return ns.send(msg.Timestamp, rtmpprotocol.Audio{Payload: msg.Payload})
	case bus.MessageTypeVideo:
		return ns.send(msg.Timestamp, rtmpprotocol.Video{Payload: msg.Payload})
	case bus.MessageTypeMetadata:
		return ns.send(msg.Timestamp, rtmpprotocol.Data{Payload: msg.Payload})
	}
	return nil
}

func (ns *NetStream) sendData(values ...amf0.Value) error {
	d, err := rtmpprotocol.NewDataMessage(values...)
	if err != nil {
		return err
	}
	return ns.send(0, d)
}

func (ns *NetStream) sendUserControl(event uint16) error {
	return ns.conn.session.SendControl(rtmpprotocol.UserControl{Event: event, StreamID: ns.id})
}

func (ns *NetStream) sendStatus(code, description string, extra amf0.Object) error {
	info := amf0.Object{
		"level":    "status",
		"code":     code,
		"clientId": float64(ns.id),
	}
	if description != "" {
		info["description"] = description
	}
	for k, v := range extra {
		info[k] = v
	}
	return ns.sendOnStatus(info)
}

func (ns *NetStream) sendError(code, details string) error {
	return ns.sendOnStatus(amf0.Object{"level": "error", "code": code, "details": details})
}

func (ns *NetStream) sendOnStatus(info amf0.Object) error {
	ns.mu.Lock()
	txn := ns.transactionID
	ns.mu.Unlock()
	return ns.send(0, rtmpprotocol.Command{Name: "onStatus", TransactionID: txn, Args: amf0.Array{nil, info}})
}

// publish registers a publisher under app/name. A name that is already
// live is refused without touching the registry or any file.
func (ns *NetStream) publish(app, name, mode string) error {
	ns.mu.Lock()
	busy := ns.publisher != nil || ns.subscriber != nil || ns.player != nil
	ns.mu.Unlock()
	if busy {
		return ns.sendError("NetStream.Publish.BadName", "This channel is already in use")
	}

	c := ns.conn
	key := bus.NewStreamKey(app, name)
	pub := bus.NewPublisher(key, bus.PublisherOptions{
		AckInterval: c.opts.AckInterval,
		Logger:      ns.logger,
	})
	if err := c.registry.Register(pub); err != nil {
		ns.logger.Warn("publish refused", "name", key.String(), "error", err)
		return ns.sendError("NetStream.Error", fmt.Sprintf("The publish '%s' is already used", key.Name))
	}

	if mode == "record" || mode == "append" {
		recMode := flv.RecordTruncate
		if mode == "append" {
			recMode = flv.RecordAppend
		}
		_, file := splitStreamName(name)
		if path, err := mediaPath(c.opts.MediaRoot, app, file); err != nil {
			ns.logger.Warn("recording disabled", "name", name, "error", err)
		} else if rec, err := flv.CreateRecorder(path, recMode); err != nil {
			ns.logger.Warn("recording disabled", "path", path, "error", err)
		} else {
			pub.SetRecorder(rec)
			ns.logger.Info("recording", "path", path, "mode", mode)
		}
	}

	ns.mu.Lock()
	ns.publisher = pub
	ns.mu.Unlock()
	ns.logger.Info("publish started", "name", key.String(), "mode", mode)

	if err := ns.sendUserControl(rtmpprotocol.ControlStreamBegin); err != nil {
		return err
	}
	return ns.sendStatus("NetStream.Publish.Start", "Start publishing "+key.Name+".", amf0.Object{"details": key.Name})
}

// play starts live or file playback. start is -1 for live only, -2 for
// live falling back to a file, or a file position in milliseconds.
func (ns *NetStream) play(app, name string, start int64, reset bool, now time.Time) error {
	ns.mu.Lock()
	busy := ns.publisher != nil || ns.subscriber != nil || ns.player != nil
	ns.mu.Unlock()
	if busy {
		return ns.sendError("NetStream.Error", "This channel is already playing")
	}

	c := ns.conn
	key := bus.NewStreamKey(app, name)
	var live *bus.Publisher
	if start == playLiveOnly || start == playLiveOrFile {
		live = c.registry.Lookup(key)
	}

	var player *Player
	if live == nil {
		if start == playLiveOnly {
			return ns.sendStatus("NetStream.Play.StreamNotFound", "Live stream "+key.Name+" is not found.", nil)
		}
		source, err := c.openMedia(app, name)
		if err != nil {
			ns.logger.Info("play source not found", "name", name, "error", err)
			return ns.sendStatus("NetStream.Play.StreamNotFound", "Stream "+name+" is not found.", nil)
		}
		if start < 0 {
			start = 0
		}
		player = NewPlayer(source, ns, name, c.opts.BufferTime)
	}

	ns.mu.Lock()
	ns.playName = name
	ns.player = player
	ns.mu.Unlock()

	if err := c.setPlayChunkSize(); err != nil {
		return err
	}
	if err := ns.sendUserControl(rtmpprotocol.ControlStreamIsRecorded); err != nil {
		return err
	}
	if err := ns.sendUserControl(rtmpprotocol.ControlStreamBegin); err != nil {
		return err
	}
	if reset {
		if err := ns.sendStatus("NetStream.Play.Reset", "Resetting "+name+".", amf0.Object{"details": name}); err != nil {
			return err
		}
	}
	if err := ns.sendStatus("NetStream.Play.Start", "Start playing "+name+".", nil); err != nil {
		return err
	}

	if player != nil {
		ns.logger.Info("play file", "name", name, "start", start)
		return player.Seek(position(start), now)
	}

	ns.logger.Info("play live", "name", key.String())
	sub := live.Subscribe(ns)
	if sub == nil {
		return ns.sendStatus("NetStream.Play.UnpublishNotify", key.Name+" is now unpublished.", nil)
	}
	ns.mu.Lock()
	ns.subscriber = sub
	ns.mu.Unlock()
	return nil
}

func (ns *NetStream) seek(ms int64, now time.Time) error {
	player := ns.Player()
	if player == nil {
		return ns.sendError("NetStream.Error", "This channel is already closed")
	}
	for _, ev := range []uint16{rtmpprotocol.ControlStreamEOF, rtmpprotocol.ControlStreamIsRecorded, rtmpprotocol.ControlStreamBegin} {
		if err := ns.sendUserControl(ev); err != nil {
			return err
		}
	}
	offset := position(ms)
	if err := player.Seek(offset, now); err != nil {
		ns.logger.Warn("seek failed", "offset", offset, "error", err)
		return ns.sendError("NetStream.Seek.Failed", err.Error())
	}
	ns.mu.Lock()
	name := ns.playName
	ns.mu.Unlock()
	desc := "Seeking " + strconv.FormatUint(uint64(offset), 10) + "."
	if err := ns.sendStatus("NetStream.Seek.Notify", desc, amf0.Object{"details": name}); err != nil {
		return err
	}
	return ns.sendStatus("NetStream.Play.Start", "Start playing "+name+".", nil)
}

func (ns *NetStream) pause(paused bool, now time.Time) error {
	player := ns.Player()
	if player == nil {
		return ns.sendError("NetStream.Error", "This channel is already closed")
	}
	player.Pause(paused, now)
	if paused {
		return ns.sendStatus("NetStream.Pause.Notify", "", nil)
	}
	return ns.sendStatus("NetStream.Unpause.Notify", "", nil)
}

func (ns *NetStream) receive(audio, on bool) error {
	player := ns.Player()
	if player == nil {
		return ns.sendError("NetStream.Error", "This channel is already closed")
	}
	if audio {
		player.ReceiveAudio(on)
	} else {
		player.ReceiveVideo(on)
	}
	return nil
}

// tick advances file playback.
func (ns *NetStream) tick(now time.Time) error {
	player := ns.Player()
	if player == nil {
		return nil
	}
	return player.Tick(now)
}

// close detaches whichever role the stream has. A publisher is removed from
// the registry before it is closed so its name is free once close returns.
func (ns *NetStream) close() {
	ns.mu.Lock()
	pub, sub, player := ns.publisher, ns.subscriber, ns.player
	ns.publisher, ns.subscriber, ns.player = nil, nil, nil
	ns.mu.Unlock()

	if player != nil {
		if err := player.Close(); err != nil {
			ns.logger.Debug("player close failed", "error", err)
		}
	}
	if sub != nil {
		sub.Close()
	}
	if pub != nil {
		// close first so the recording is complete once the key is free
		pub.Close()
		ns.conn.registry.Remove(pub)
		ns.logger.Info("publish stopped", "name", pub.Key().String())
	}
}

// openMedia opens a recorded stream for playback.
func (c *NetConnection) openMedia(app, name string) (bus.Deserializer, error) {
	typ, file := splitStreamName(name)
	path, err := mediaPath(c.opts.MediaRoot, app, file)
	if err != nil {
		return nil, err
	}
	if !isFLV(typ, path) {
		return nil, fmt.Errorf("%s: %w", path, errUnsupportedContainer)
	}
	return flv.Open(path)
}

var errUnsupportedContainer = errors.New("unsupported container")
