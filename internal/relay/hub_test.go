package relay

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ihnore-Ihor/PI-CMS/internal/protocol"
)

type failingConn struct {
	closed bool
}

func (c *failingConn) WriteMessage(int, []byte) error {
	return errors.New("broken pipe")
}

func (c *failingConn) Close() error {
	c.closed = true
	return nil
}

func TestBroadcastReachesRoomMembersOnly(t *testing.T) {
	d := newSessionDeps()
	member, memberConn := newRegisteredSession(d, "m")
	_, outsiderConn := newRegisteredSession(d, "o")
	d.hub.Join(member, ChatRoom(3))

	d.hub.Broadcast(ChatRoom(3), protocol.EventNewMessage, map[string]int{"id": 1})

	assert.Equal(t, 1, countEvents(t, memberConn, protocol.EventNewMessage))
	assert.Empty(t, outsiderConn.envelopes(t))
}

func TestJoinTwiceDeliversOnce(t *testing.T) {
	d := newSessionDeps()
	member, memberConn := newRegisteredSession(d, "m")
	d.hub.Join(member, ChatRoom(3))
	d.hub.Join(member, ChatRoom(3))

	d.hub.Broadcast(ChatRoom(3), protocol.EventNewMessage, map[string]int{"id": 1})

	assert.Equal(t, 1, countEvents(t, memberConn, protocol.EventNewMessage))
}

func TestWriteFailureEvictsSession(t *testing.T) {
	d := newSessionDeps()
	conn := &failingConn{}
	broken := NewSession("b", conn, d.deps())
	d.hub.Register(broken)
	d.hub.Join(broken, ChatRoom(3))

	_, healthyConn := func() (*Session, *captureConn) {
		s, c := newRegisteredSession(d, "h")
		d.hub.Join(s, ChatRoom(3))
		return s, c
	}()

	d.hub.Broadcast(ChatRoom(3), protocol.EventNewMessage, map[string]int{"id": 1})

	assert.True(t, conn.closed)
	assert.Equal(t, 1, countEvents(t, healthyConn, protocol.EventNewMessage))

	// The evicted session no longer receives anything.
	d.hub.Broadcast(ChatRoom(3), protocol.EventNewMessage, map[string]int{"id": 2})
	assert.Equal(t, 2, countEvents(t, healthyConn, protocol.EventNewMessage))
}

func TestUnregisterLeavesAllRooms(t *testing.T) {
	d := newSessionDeps()
	s, conn := newRegisteredSession(d, "s")
	d.hub.Join(s, ChatRoom(1))
	d.hub.Join(s, UserRoom("100"))

	d.hub.Unregister(s)
	d.hub.Broadcast(ChatRoom(1), protocol.EventNewMessage, nil)
	d.hub.Broadcast(UserRoom("100"), protocol.EventNewMessage, nil)

	assert.Empty(t, conn.envelopes(t))

	// Joining after unregister is ignored.
	d.hub.Join(s, ChatRoom(1))
	d.hub.Broadcast(ChatRoom(1), protocol.EventNewMessage, nil)
	require.Empty(t, conn.envelopes(t))
}
