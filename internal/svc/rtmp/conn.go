// This file implements NetConnection, the per-connection state machine.
// One goroutine runs Serve: it pumps the session, dispatches each complete
// message and ticks file players in between.

package rtmp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"amsd/internal/core/bus"
	"amsd/internal/core/protocol/amf0"
	rtmpprotocol "amsd/internal/core/protocol/rtmp"
)

// NetConnection is one client connection and its stream table.
// The stream table is only touched from the Serve goroutine.
type NetConnection struct {
	id       string
	session  *rtmpprotocol.Session
	registry *bus.Registry
	opts     Options
	logger   *slog.Logger
	now      func() time.Time

	app      string
	streams  map[uint32]*NetStream
	lastTick time.Time
}

// NewNetConnection creates a connection over a server-role session.
func NewNetConnection(session *rtmpprotocol.Session, registry *bus.Registry, opts Options, logger *slog.Logger) *NetConnection {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &NetConnection{
		id:       id,
		session:  session,
		registry: registry,
		opts:     opts.withDefaults(),
		logger:   logger.With("conn_id", id, "remote", session.RemoteAddr()),
		now:      time.Now,
		streams:  make(map[uint32]*NetStream),
	}
}

// ID returns the connection id used in logs.
func (c *NetConnection) ID() string {
	return c.id
}

// App returns the application name from connect, or "".
func (c *NetConnection) App() string {
	return c.app
}

// Serve runs the connection until the peer goes away, a transport error
// occurs or ctx is done. Streams are closed before Serve returns.
func (c *NetConnection) Serve(ctx context.Context) error {
	defer c.Close()
	c.logger.Debug("connection accepted")
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if _, err := c.poll(); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, rtmpprotocol.ErrSessionClosed) {
				c.logger.Info("connection closed")
				return nil
			}
			c.logger.Warn("connection failed", "error", err)
			return err
		}
	}
}

// poll runs one pump iteration. It dispatches at most one message and
// reports whether it did. Players are ticked whenever the pump has nothing
// ready, and at least once per tick interval while messages keep arriving.
func (c *NetConnection) poll() (bool, error) {
	res := c.session.PumpRead()
	switch res.Status {
	case rtmpprotocol.PumpError:
		return false, res.Err
	case rtmpprotocol.PumpReady:
		if err := c.handle(res.Header, res.Message); err != nil {
			return true, err
		}
		if now := c.now(); now.Sub(c.lastTick) >= c.opts.TickInterval {
			return true, c.tick(now)
		}
		return true, nil
	}
	return false, c.tick(c.now())
}

func (c *NetConnection) tick(now time.Time) error {
	c.lastTick = now
	for _, id := range c.streamIDs() {
		if err := c.streams[id].tick(now); err != nil {
			return err
		}
	}
	return nil
}

func (c *NetConnection) streamIDs() []uint32 {
	ids := make([]uint32, 0, len(c.streams))
	for id := range c.streams {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// handle dispatches one message. Only transport failures are returned.
func (c *NetConnection) handle(h rtmpprotocol.Header, msg rtmpprotocol.Message) error {
	switch m := msg.(type) {
	case rtmpprotocol.Command:
		return c.dispatch(h, m)
	case rtmpprotocol.Audio:
		return c.publishMedia(h, bus.NewMessage(bus.MessageTypeAudio, h.Timestamp, m.Payload))
	case rtmpprotocol.Video:
		return c.publishMedia(h, bus.NewMessage(bus.MessageTypeVideo, h.Timestamp, m.Payload))
	case rtmpprotocol.Data:
		return c.publishMedia(h, bus.NewMessage(bus.MessageTypeMetadata, h.Timestamp, metadataPayload(m)))
	case rtmpprotocol.SetChunkSize:
		c.logger.Debug("peer chunk size", "size", m.Size)
	case rtmpprotocol.WindowAckSize:
		c.logger.Debug("peer window ack size", "size", m.Size)
	case rtmpprotocol.PeerBandwidth:
		c.logger.Debug("peer bandwidth", "size", m.Size, "limit", m.LimitType)
	case rtmpprotocol.UserControl:
		if m.Event == rtmpprotocol.ControlPingRequest {
			return c.session.SendControl(rtmpprotocol.UserControl{Event: rtmpprotocol.ControlPingResponse, Timestamp: m.Timestamp})
		}
	case rtmpprotocol.Ack, rtmpprotocol.Abort:
	case rtmpprotocol.Unknown:
		c.logger.Debug("ignored message", "type", m.Type, "size", len(m.Payload))
	}
	return nil
}

// publishMedia feeds the publisher on the message's stream and sends an
// Ack upstream whenever the publisher asks for one.
func (c *NetConnection) publishMedia(h rtmpprotocol.Header, msg *bus.MediaMessage) error {
	ns := c.streams[h.StreamID]
	if ns == nil {
		c.logger.Warn("media for unknown stream", "stream_id", h.StreamID, "type", msg.Type)
		return nil
	}
	pub := ns.Publisher()
	if pub == nil {
		return nil
	}
	if total, due := pub.Publish(msg); due {
		return c.session.SendControl(rtmpprotocol.Ack{BytesRead: total})
	}
	return nil
}

// metadataPayload strips the @setDataFrame wrapper encoders put around
// onMetaData so players receive the bare script data.
func metadataPayload(d rtmpprotocol.Data) []byte {
	payload := d.Payload
	if d.AMF3 && len(payload) > 0 && payload[0] == 0 {
		payload = payload[1:]
	}
	values, err := rtmpprotocol.DecodeData(d)
	if err != nil || len(values) < 2 {
		return payload
	}
	if name, _ := values[0].(string); name != "@setDataFrame" {
		return payload
	}
	out, err := amf0.EncodeCommand(values[1:])
	if err != nil {
		return payload
	}
	return out
}

// createStream allocates the lowest unused positive stream id.
func (c *NetConnection) createStream() *NetStream {
	id := uint32(1)
	for c.streams[id] != nil {
		id++
	}
	ns := newNetStream(id, c)
	c.streams[id] = ns
	return ns
}

func (c *NetConnection) closeStream(ns *NetStream) {
	ns.close()
	delete(c.streams, ns.id)
}

// setPlayChunkSize raises the write chunk size before playback starts.
func (c *NetConnection) setPlayChunkSize() error {
	size := c.opts.PlayChunkSize
	if size == 0 || c.session.WriteChunkSize() == size {
		return nil
	}
	return c.session.SendControl(rtmpprotocol.SetChunkSize{Size: size})
}

// Streams returns the number of open streams. Only safe from the Serve goroutine.
func (c *NetConnection) Streams() int {
	return len(c.streams)
}

// Close closes every stream and the session. Only the Serve goroutine
// closes streams; other goroutines stop a connection with Session().Close.
func (c *NetConnection) Close() {
	for _, id := range c.streamIDs() {
		c.closeStream(c.streams[id])
	}
	_ = c.session.Close()
}

// Session returns the underlying protocol session.
func (c *NetConnection) Session() *rtmpprotocol.Session {
	return c.session
}
