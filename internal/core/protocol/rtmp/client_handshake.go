// This file implements the client side of the RTMP handshake.
// Used by test clients and tools dialing an RTMP server.

package rtmp

import (
	"encoding/binary"
	"fmt"
	"time"
)

// stepClient waits for S0+S1+S2 and answers with C2, an echo of S1.
func (h *Handshake) stepClient(in []byte) (int, []byte, error) {
	const need = HandshakeS0S1Size + HandshakeS2Size
	if len(in) < need {
		return 0, nil, nil
	}
	if in[0] != RTMPVersion {
		return 0, nil, fmt.Errorf("%w: %d", ErrInvalidVersion, in[0])
	}
	c2 := make([]byte, HandshakeC2Size)
	copy(c2, in[1:HandshakeS0S1Size])
	binary.BigEndian.PutUint32(c2[4:8], uint32(time.Now().Unix()))
	h.step = stepDone
	return need, c2, nil
}
