package netutil

import (
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"
	"github.com/xiaonanln/mapshard/engine/consts"
	"github.com/xiaonanln/mapshard/engine/gwioutil"
	"github.com/xiaonanln/mapshard/engine/gwlog"
)

// PacketConnection is a connection that send and receive data packets upon a network stream connection
type PacketConnection struct {
	conn     Connection
	sendLock sync.Mutex
	Tag      interface{}
}

// NewPacketConnection creates a packet connection based on network connection
func NewPacketConnection(conn Connection, tag interface{}) *PacketConnection {
	return &PacketConnection{
		conn: conn,
		Tag:  tag,
	}
}

// NewPacket allocates a new packet (usually for sending)
func (pc *PacketConnection) NewPacket() *Packet {
	return allocPacket()
}

// SendPacket sends the packet to remote and flushes the connection
func (pc *PacketConnection) SendPacket(packet *Packet) error {
	if consts.DEBUG_PACKETS {
		gwlog.Debugf("%s SEND PACKET: %v", pc, packet.data())
	}
	pc.sendLock.Lock()
	defer pc.sendLock.Unlock()

	if err := gwioutil.WriteAll(pc.conn, packet.data()); err != nil {
		return err
	}
	return pc.conn.Flush()
}

// RecvPacket receives the next packet
func (pc *PacketConnection) RecvPacket() (*Packet, error) {
	packet := allocPacket()

	payloadLenBuf := packet.bytes[:_SIZE_FIELD_SIZE]
	if err := gwioutil.ReadAll(pc.conn, payloadLenBuf); err != nil {
		packet.Release()
		return nil, err
	}

	payloadLen := NETWORK_ENDIAN.Uint32(payloadLenBuf)
	if payloadLen > consts.MAX_PACKET_PAYLOAD_LEN {
		packet.Release()
		return nil, errors.Errorf("packet too large: %v", payloadLen)
	}

	packet.SetPayloadLen(0)
	packet.assureCapacity(payloadLen)
	packet.SetPayloadLen(payloadLen)
	if err := gwioutil.ReadAll(pc.conn, packet.bytes[_PREPAYLOAD_SIZE:_PREPAYLOAD_SIZE+payloadLen]); err != nil {
		packet.Release()
		return nil, err
	}

	if consts.DEBUG_PACKETS {
		gwlog.Debugf("%s RECV PACKET: %v", pc, packet.data())
	}
	return packet, nil
}

// Close the connection
func (pc *PacketConnection) Close() error {
	return pc.conn.Close()
}

// RemoteAddr return the remote address
func (pc *PacketConnection) RemoteAddr() net.Addr {
	return pc.conn.RemoteAddr()
}

// LocalAddr returns the local address
func (pc *PacketConnection) LocalAddr() net.Addr {
	return pc.conn.LocalAddr()
}

func (pc *PacketConnection) String() string {
	return fmt.Sprintf("[%s >>> %s]", pc.LocalAddr(), pc.RemoteAddr())
}

// IsConnectionError reports whether a recv or send failure, or a recovered panic
// value, means the peer is gone. Timeouts are not connection errors.
func IsConnectionError(v interface{}) bool {
	err, ok := v.(error)
	if !ok {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var neterr net.Error
	return errors.As(err, &neterr) && !neterr.Timeout()
}
