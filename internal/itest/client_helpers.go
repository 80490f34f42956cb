// This file implements a minimal RTMP client over TCP for loopback tests,
// built on a client-role session.

package itest

import (
	"net"
	"testing"
	"time"

	"amsd/internal/core/protocol/amf0"
	"amsd/internal/core/protocol/rtmp"
	"amsd/internal/core/protocol/rtmp/rtmptest"
)

const waitTimeout = 5 * time.Second

type rtmpClient struct {
	t       *testing.T
	conn    net.Conn
	session *rtmp.Session
	seen    []rtmptest.Received
	txn     float64
}

func dialRTMP(t *testing.T, addr string) *rtmpClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 3*time.Second)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	c := &rtmpClient{
		t:       t,
		conn:    conn,
		session: rtmp.NewSession(rtmp.NewConnTransport(conn, 5*time.Millisecond, time.Second), rtmp.RoleClient),
		txn:     1,
	}
	t.Cleanup(func() { c.session.Close() })

	deadline := time.Now().Add(waitTimeout)
	for c.session.State() != rtmp.StateReady {
		if time.Now().After(deadline) {
			t.Fatal("Handshake did not complete")
		}
		if res := c.session.PumpRead(); res.Status == rtmp.PumpError {
			t.Fatalf("Handshake failed: %v", res.Err)
		} else if res.Status == rtmp.PumpReady {
			c.seen = append(c.seen, rtmptest.Received{Header: res.Header, Message: res.Message})
		}
	}
	return c
}

func (c *rtmpClient) send(streamID, ts uint32, msg rtmp.Message) {
	c.t.Helper()
	csid := uint32(rtmp.ChunkStreamCommand)
	switch msg.(type) {
	case rtmp.Audio:
		csid = rtmp.ChunkStreamAudio
	case rtmp.Video:
		csid = rtmp.ChunkStreamVideo
	case rtmp.Data:
		csid = rtmp.ChunkStreamData
	}
	if err := c.session.SendMessage(csid, streamID, ts, msg); err != nil {
		c.t.Fatalf("Send failed: %v", err)
	}
}

func (c *rtmpClient) call(streamID uint32, name string, args ...amf0.Value) float64 {
	c.t.Helper()
	c.txn++
	c.send(streamID, 0, rtmp.Command{Name: name, TransactionID: c.txn, Args: amf0.Array(args)})
	return c.txn
}

// waitFor pumps the session until match accepts a message.
func (c *rtmpClient) waitFor(what string, match func(rtmptest.Received) bool) rtmptest.Received {
	c.t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		res := c.session.PumpRead()
		switch res.Status {
		case rtmp.PumpError:
			c.t.Fatalf("Waiting for %s: %v", what, res.Err)
		case rtmp.PumpReady:
			m := rtmptest.Received{Header: res.Header, Message: res.Message}
			c.seen = append(c.seen, m)
			if match(m) {
				return m
			}
		}
	}
	c.t.Fatalf("Timed out waiting for %s", what)
	return rtmptest.Received{}
}

func (c *rtmpClient) waitStatus(code string) {
	c.t.Helper()
	c.waitFor(code, func(m rtmptest.Received) bool {
		codes := rtmptest.StatusCodes([]rtmptest.Received{m})
		return len(codes) == 1 && codes[0] == code
	})
}

func (c *rtmpClient) waitResult(txn float64) rtmp.Command {
	c.t.Helper()
	m := c.waitFor("_result", func(m rtmptest.Received) bool {
		cmd, ok := m.Message.(rtmp.Command)
		return ok && cmd.Name == "_result" && cmd.TransactionID == txn
	})
	return m.Message.(rtmp.Command)
}

func (c *rtmpClient) connect(app string) {
	c.t.Helper()
	txn := c.call(0, "connect", amf0.Object{"app": app, "tcUrl": "rtmp://localhost/" + app})
	c.waitResult(txn)
}

func (c *rtmpClient) createStream() uint32 {
	c.t.Helper()
	res := c.waitResult(c.call(0, "createStream", nil))
	id, ok := amf0.Number(res.Param(1))
	if !ok {
		c.t.Fatal("createStream returned no stream id")
	}
	return uint32(id)
}

// publish sends publish on streamID. Stream commands carry a null
// command object before their arguments.
func (c *rtmpClient) publish(streamID uint32, name string, mode ...amf0.Value) {
	c.t.Helper()
	c.call(streamID, "publish", append(amf0.Array{nil, name}, mode...)...)
}

// play sends play on streamID with optional start, duration and reset.
func (c *rtmpClient) play(streamID uint32, name string, args ...amf0.Value) {
	c.t.Helper()
	c.call(streamID, "play", append(amf0.Array{nil, name}, args...)...)
}

// publishSample sends codec headers and one second of 25fps media.
func (c *rtmpClient) publishSample(streamID uint32) {
	c.t.Helper()
	c.send(streamID, 0, rtmp.Video{Payload: []byte{0x17, 0x00, 0x00, 0x00, 0x00, 0x01, 0x64}})
	c.send(streamID, 0, rtmp.Audio{Payload: []byte{0xAF, 0x00, 0x12, 0x10}})
	for ts := uint32(0); ts < 1000; ts += 40 {
		frame := byte(0x27)
		if ts == 0 {
			frame = 0x17
		}
		c.send(streamID, ts, rtmp.Video{Payload: []byte{frame, 0x01, 0x00, 0x00, 0x00, byte(ts / 40)}})
		c.send(streamID, ts, rtmp.Audio{Payload: []byte{0xAF, 0x01, byte(ts / 40)}})
	}
}

func isVideo(m rtmptest.Received) bool {
	_, ok := m.Message.(rtmp.Video)
	return ok
}

func isKeyframe(m rtmptest.Received) bool {
	v, ok := m.Message.(rtmp.Video)
	return ok && len(v.Payload) > 1 && v.Payload[0] == 0x17 && v.Payload[1] == 0x01
}
