// This file implements the RTMP client side used by relay tasks: dial,
// handshake, connect, createStream, then play or publish on a remote server.

package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"amsd/internal/core/bus"
	"amsd/internal/core/protocol/amf0"
	rtmpprotocol "amsd/internal/core/protocol/rtmp"
)

var (
	// ErrInvalidURL is returned for remote URLs that are not rtmp://host/app/name.
	ErrInvalidURL = errors.New("invalid rtmp url")
	// ErrRejected is returned when the remote answers a command with an error.
	ErrRejected = errors.New("rejected by remote")
	// ErrRemoteEnded is returned when the remote stops the played stream.
	ErrRemoteEnded = errors.New("remote stream ended")
)

const (
	defaultPort  = "1935"
	dialTimeout  = 5 * time.Second
	pollInterval = 10 * time.Millisecond
	writeTimeout = 10 * time.Second
	// replyTimeout bounds the wait for a command reply.
	replyTimeout = 10 * time.Second
)

// Target is a parsed remote stream URL.
type Target struct {
	Host   string // host:port
	App    string
	Stream string // stream name, query included
	TCURL  string // rtmp://host/app
}

// ParseURL parses rtmp://host[:port]/app/stream[?query].
func ParseURL(raw string) (Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "rtmp" || u.Hostname() == "" {
		return Target{}, fmt.Errorf("%w: %s", ErrInvalidURL, raw)
	}
	parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Target{}, fmt.Errorf("%w: %s needs /app/stream", ErrInvalidURL, raw)
	}
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), defaultPort)
	}
	stream := parts[1]
	if u.RawQuery != "" {
		stream += "?" + u.RawQuery
	}
	return Target{
		Host:   host,
		App:    parts[0],
		Stream: stream,
		TCURL:  "rtmp://" + u.Host + "/" + parts[0],
	}, nil
}

// client is one outgoing RTMP connection. Next must be called from a
// single goroutine; sends are safe from any goroutine.
type client struct {
	session *rtmpprotocol.Session
	logger  *slog.Logger
	txn     float64
	acked   uint64
}

// dial connects and completes the handshake.
func dial(ctx context.Context, host string, logger *slog.Logger) (*client, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", host, err)
	}
	c := &client{
		session: rtmpprotocol.NewSession(rtmpprotocol.NewConnTransport(conn, pollInterval, writeTimeout), rtmpprotocol.RoleClient),
		logger:  logger,
	}
	ctx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()
	for c.session.State() != rtmpprotocol.StateReady {
		if ctx.Err() != nil {
			c.Close()
			return nil, fmt.Errorf("handshake: %w", ctx.Err())
		}
		if res := c.session.PumpRead(); res.Status == rtmpprotocol.PumpError {
			c.Close()
			return nil, fmt.Errorf("handshake: %w", res.Err)
		}
	}
	return c, nil
}

func (c *client) call(streamID uint32, name string, args ...amf0.Value) (float64, error) {
	c.txn++
	cmd := rtmpprotocol.Command{Name: name, TransactionID: c.txn, Args: amf0.Array(args)}
	return c.txn, c.session.SendMessage(rtmpprotocol.ChunkStreamCommand, streamID, 0, cmd)
}

// next returns the next message, answering pings and acknowledging the
// peer's window along the way.
func (c *client) next(ctx context.Context) (rtmpprotocol.Header, rtmpprotocol.Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return rtmpprotocol.Header{}, nil, err
		}
		res := c.session.PumpRead()
		switch res.Status {
		case rtmpprotocol.PumpError:
			return rtmpprotocol.Header{}, nil, res.Err
		case rtmpprotocol.PumpPending:
			continue
		}
		if err := c.ack(); err != nil {
			return rtmpprotocol.Header{}, nil, err
		}
		if m, ok := res.Message.(rtmpprotocol.UserControl); ok && m.Event == rtmpprotocol.ControlPingRequest {
			pong := rtmpprotocol.UserControl{Event: rtmpprotocol.ControlPingResponse, Timestamp: m.Timestamp}
			if err := c.session.SendControl(pong); err != nil {
				return rtmpprotocol.Header{}, nil, err
			}
			continue
		}
		return res.Header, res.Message, nil
	}
}

func (c *client) ack() error {
	window := uint64(c.session.PeerWindowAckSize())
	in := c.session.BytesIn()
	if window == 0 || in-c.acked < window {
		return nil
	}
	c.acked = in
	return c.session.SendControl(rtmpprotocol.Ack{BytesRead: uint32(in)})
}

// await reads until a reply to txn arrives and returns it.
func (c *client) await(ctx context.Context, txn float64) (rtmpprotocol.Command, error) {
	ctx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()
	for {
		_, msg, err := c.next(ctx)
		if err != nil {
			return rtmpprotocol.Command{}, err
		}
		cmd, ok := msg.(rtmpprotocol.Command)
		if !ok || cmd.TransactionID != txn {
			continue
		}
		switch cmd.Name {
		case "_result":
			return cmd, nil
		case "_error":
			return cmd, fmt.Errorf("%w: %s", ErrRejected, statusCode(cmd))
		}
	}
}

// awaitStatus reads until onStatus reports want. An error-level status
// fails the wait.
func (c *client) awaitStatus(ctx context.Context, want string) error {
	ctx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()
	for {
		_, msg, err := c.next(ctx)
		if err != nil {
			return err
		}
		cmd, ok := msg.(rtmpprotocol.Command)
		if !ok || cmd.Name != "onStatus" {
			continue
		}
		info, _ := cmd.Param(1).(amf0.Object)
		code, _ := info["code"].(string)
		if code == want {
			return nil
		}
		if level, _ := info["level"].(string); level == "error" {
			return fmt.Errorf("%w: %s", ErrRejected, code)
		}
	}
}

func statusCode(cmd rtmpprotocol.Command) string {
	for _, a := range cmd.Args {
		if obj, ok := a.(amf0.Object); ok {
			if code, ok := obj["code"].(string); ok {
				return code
			}
		}
	}
	return cmd.Name
}

// connect runs connect and createStream and returns the stream id.
func (c *client) connect(ctx context.Context, target Target) (uint32, error) {
	txn, err := c.call(0, "connect", amf0.Object{
		"app":            target.App,
		"tcUrl":          target.TCURL,
		"flashVer":       "FMLE/3.0 (compatible; amsd)",
		"type":           "nonprivate",
		"objectEncoding": float64(0),
	})
	if err != nil {
		return 0, err
	}
	if _, err := c.await(ctx, txn); err != nil {
		return 0, fmt.Errorf("connect: %w", err)
	}
	if txn, err = c.call(0, "createStream", nil); err != nil {
		return 0, err
	}
	res, err := c.await(ctx, txn)
	if err != nil {
		return 0, fmt.Errorf("createStream: %w", err)
	}
	id, ok := amf0.Number(res.Param(1))
	if !ok {
		return 0, fmt.Errorf("createStream: %w: no stream id", ErrRejected)
	}
	return uint32(id), nil
}

// play asks the remote to play stream on streamID.
func (c *client) play(ctx context.Context, streamID uint32, stream string) error {
	if _, err := c.call(streamID, "play", nil, stream, float64(-2)); err != nil {
		return err
	}
	return c.awaitStatus(ctx, "NetStream.Play.Start")
}

// publish asks the remote to accept a live publish on streamID.
func (c *client) publish(ctx context.Context, streamID uint32, stream string) error {
	if _, err := c.call(streamID, "publish", nil, stream, "live"); err != nil {
		return err
	}
	return c.awaitStatus(ctx, "NetStream.Publish.Start")
}

// send forwards one media message on streamID.
func (c *client) send(streamID uint32, msg *bus.MediaMessage) error {
	switch msg.Type {
	case bus.MessageTypeAudio:
		return c.session.SendMessage(rtmpprotocol.ChunkStreamAudio, streamID, msg.Timestamp, rtmpprotocol.Audio{Payload: msg.Payload})
	case bus.MessageTypeVideo:
		return c.session.SendMessage(rtmpprotocol.ChunkStreamVideo, streamID, msg.Timestamp, rtmpprotocol.Video{Payload: msg.Payload})
	case bus.MessageTypeMetadata:
		return c.session.SendMessage(rtmpprotocol.ChunkStreamData, streamID, msg.Timestamp, rtmpprotocol.Data{Payload: msg.Payload})
	}
	return nil
}

// Close closes the connection. It is safe to call more than once.
func (c *client) Close() error {
	return c.session.Close()
}
