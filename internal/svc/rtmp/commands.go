// This file holds the command table. Each handler receives the message
// header and the decoded command; stream commands find their NetStream by
// the header's message stream id.

package rtmp

import (
	"fmt"

	"amsd/internal/core/protocol/amf0"
	rtmpprotocol "amsd/internal/core/protocol/rtmp"
)

type commandHandler func(c *NetConnection, h rtmpprotocol.Header, cmd rtmpprotocol.Command) error

// commands maps command names to handlers. Names not listed are accepted
// and ignored.
var commands = map[string]commandHandler{
	"connect":       (*NetConnection).onConnect,
	"createStream":  (*NetConnection).onCreateStream,
	"deleteStream":  (*NetConnection).onDeleteStream,
	"closeStream":   (*NetConnection).onCloseStream,
	"releaseStream": (*NetConnection).onEmptyResult,
	"FCPublish":     (*NetConnection).onEmptyResult,
	"publish":       (*NetConnection).onPublish,
	"play":          (*NetConnection).onPlay,
	"seek":          (*NetConnection).onSeek,
	"pause":         (*NetConnection).onPause,
	"pauseRaw":      (*NetConnection).onPause,
	"receiveAudio":  (*NetConnection).onReceiveAudio,
	"receiveVideo":  (*NetConnection).onReceiveVideo,
}

// Command arguments after the command object.
func argString(cmd rtmpprotocol.Command, i int, def string) string {
	return cmd.ParamString(i+1, def)
}

func argInt(cmd rtmpprotocol.Command, i int, def int64) int64 {
	return cmd.ParamInt(i+1, def)
}

func argBool(cmd rtmpprotocol.Command, i int, def bool) bool {
	return cmd.ParamBool(i+1, def)
}

func (c *NetConnection) dispatch(h rtmpprotocol.Header, cmd rtmpprotocol.Command) error {
	handler, ok := commands[cmd.Name]
	if !ok {
		c.logger.Debug("ignored command", "name", cmd.Name, "stream_id", h.StreamID)
		return nil
	}
	c.logger.Debug("command", "name", cmd.Name, "stream_id", h.StreamID, "txn", cmd.TransactionID)
	return handler(c, h, cmd)
}

// reply sends a command on the chunk stream and message stream the request
// came in on.
func (c *NetConnection) reply(h rtmpprotocol.Header, name string, txn float64, args ...amf0.Value) error {
	return c.session.SendMessage(h.ChunkStreamID, h.StreamID, 0, rtmpprotocol.Command{
		Name:          name,
		TransactionID: txn,
		Args:          amf0.Array(args),
	})
}

func (c *NetConnection) replyError(h rtmpprotocol.Header, txn float64, code, details string) error {
	return c.reply(h, "onStatus", txn, nil, amf0.Object{
		"level":   "error",
		"code":    code,
		"details": details,
	})
}

// stream returns the stream the command addresses, replying with a
// NetStream.Error when there is none.
func (c *NetConnection) stream(h rtmpprotocol.Header, cmd rtmpprotocol.Command) (*NetStream, error) {
	ns := c.streams[h.StreamID]
	if ns == nil {
		details := fmt.Sprintf("Invalid '%s' stream id %d", cmd.Name, h.StreamID)
		c.logger.Warn("command for unknown stream", "name", cmd.Name, "stream_id", h.StreamID)
		return nil, c.replyError(h, cmd.TransactionID, "NetStream.Error", details)
	}
	ns.setTransactionID(cmd.TransactionID)
	return ns, nil
}

func (c *NetConnection) onConnect(h rtmpprotocol.Header, cmd rtmpprotocol.Command) error {
	obj := cmd.CommandObject()
	app, ok := obj["app"].(string)
	if !ok {
		c.logger.Warn("connect without app")
		return c.replyError(h, cmd.TransactionID, "NetConnection", "Invalid 'Connect' parameters")
	}
	c.app = app
	c.logger = c.logger.With("app", app)
	c.logger.Info("connected", "tc_url", obj["tcUrl"], "flash_ver", obj["flashVer"])

	if err := c.session.SendControl(rtmpprotocol.WindowAckSize{Size: c.opts.WindowAckSize}); err != nil {
		return err
	}
	peer := rtmpprotocol.PeerBandwidth{Size: c.opts.PeerBandwidth, LimitType: rtmpprotocol.BandwidthLimitDynamic}
	if err := c.session.SendControl(peer); err != nil {
		return err
	}
	if err := c.session.SendControl(rtmpprotocol.UserControl{Event: rtmpprotocol.ControlStreamBegin, StreamID: h.StreamID}); err != nil {
		return err
	}

	props := amf0.Object{
		"fmsVer":       ServerVersion,
		"capabilities": float64(31),
		"mode":         float64(1),
	}
	info := amf0.Object{
		"level":       "status",
		"code":        "NetConnection.Connect.Success",
		"description": "Connection succeeded.",
	}
	if enc, ok := obj["objectEncoding"]; ok {
		info["objectEncoding"] = enc
	}
	return c.reply(h, "_result", cmd.TransactionID, props, info)
}

func (c *NetConnection) onCreateStream(h rtmpprotocol.Header, cmd rtmpprotocol.Command) error {
	ns := c.createStream()
	c.logger.Debug("stream created", "stream_id", ns.id)
	return c.reply(h, "_result", cmd.TransactionID, nil, float64(ns.id))
}

// onEmptyResult acknowledges releaseStream and FCPublish.
func (c *NetConnection) onEmptyResult(h rtmpprotocol.Header, cmd rtmpprotocol.Command) error {
	return c.reply(h, "_result", cmd.TransactionID, nil)
}

func (c *NetConnection) onDeleteStream(h rtmpprotocol.Header, cmd rtmpprotocol.Command) error {
	id := argInt(cmd, 0, -1)
	ns := c.streams[uint32(id)]
	if id <= 0 || ns == nil {
		return c.replyError(h, cmd.TransactionID, "NetStream.Error", "Invalid 'deleteStream' stream id")
	}
	c.closeStream(ns)
	return nil
}

func (c *NetConnection) onCloseStream(h rtmpprotocol.Header, cmd rtmpprotocol.Command) error {
	ns, err := c.stream(h, cmd)
	if ns == nil {
		return err
	}
	c.closeStream(ns)
	return nil
}

func (c *NetConnection) onPublish(h rtmpprotocol.Header, cmd rtmpprotocol.Command) error {
	ns, err := c.stream(h, cmd)
	if ns == nil {
		return err
	}
	name := argString(cmd, 0, "")
	if name == "" {
		return ns.sendError("NetStream.Publish.BadName", "Missing publish name")
	}
	return ns.publish(c.app, name, argString(cmd, 1, "live"))
}

func (c *NetConnection) onPlay(h rtmpprotocol.Header, cmd rtmpprotocol.Command) error {
	ns, err := c.stream(h, cmd)
	if ns == nil {
		return err
	}
	name := argString(cmd, 0, "")
	if name == "" {
		return ns.sendStatus("NetStream.Play.StreamNotFound", "Missing stream name", nil)
	}
	start := argInt(cmd, 1, playLiveOrFile)
	reset := argBool(cmd, 3, true)
	return ns.play(c.app, name, start, reset, c.now())
}

func (c *NetConnection) onSeek(h rtmpprotocol.Header, cmd rtmpprotocol.Command) error {
	ns, err := c.stream(h, cmd)
	if ns == nil {
		return err
	}
	return ns.seek(argInt(cmd, 0, 0), c.now())
}

func (c *NetConnection) onPause(h rtmpprotocol.Header, cmd rtmpprotocol.Command) error {
	ns, err := c.stream(h, cmd)
	if ns == nil {
		return err
	}
	return ns.pause(argBool(cmd, 0, false), c.now())
}

func (c *NetConnection) onReceiveAudio(h rtmpprotocol.Header, cmd rtmpprotocol.Command) error {
	ns, err := c.stream(h, cmd)
	if ns == nil {
		return err
	}
	return ns.receive(true, argBool(cmd, 0, false))
}

func (c *NetConnection) onReceiveVideo(h rtmpprotocol.Header, cmd rtmpprotocol.Command) error {
	ns, err := c.stream(h, cmd)
	if ns == nil {
		return err
	}
	return ns.receive(false, argBool(cmd, 0, false))
}
