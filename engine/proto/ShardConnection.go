package proto

import (
	"net"

	"github.com/xiaonanln/go-xnsyncutil/xnsyncutil"
	"github.com/xiaonanln/mapshard/engine/consts"
	"github.com/xiaonanln/mapshard/engine/gwlog"
	"github.com/xiaonanln/mapshard/engine/netutil"
)

// ShardConnection is the message connection used between clients, map shards and the coordinator.
//
// Every message is one packet: a uint16 MsgType, then a uint32 request id if the
// type is a request or a response, then the msgpack encoded message.
type ShardConnection struct {
	packetConn *netutil.PacketConnection
	closed     xnsyncutil.AtomicBool
}

// NewShardConnection creates a ShardConnection using network connection
func NewShardConnection(conn netutil.Connection, tag interface{}) *ShardConnection {
	return &ShardConnection{
		packetConn: netutil.NewPacketConnection(conn, tag),
	}
}

// SendMessage sends a fire-and-forget message
func (sc *ShardConnection) SendMessage(msgtype MsgType, msg interface{}) error {
	packet := sc.packetConn.NewPacket()
	packet.AppendUint16(uint16(msgtype))
	packet.AppendData(msg)
	return sc.SendPacketRelease(packet)
}

// SendRequest sends a request which is answered by MT_RESPONSE with the same request id
func (sc *ShardConnection) SendRequest(msgtype MsgType, reqID uint32, msg interface{}) error {
	packet := sc.packetConn.NewPacket()
	packet.AppendUint16(uint16(msgtype))
	packet.AppendUint32(reqID)
	packet.AppendData(msg)
	return sc.SendPacketRelease(packet)
}

// SendResponse answers the request, errText is empty on success
func (sc *ShardConnection) SendResponse(reqID uint32, errText string, msg interface{}) error {
	packet := sc.packetConn.NewPacket()
	packet.AppendUint16(uint16(MT_RESPONSE))
	packet.AppendUint32(reqID)
	packet.AppendVarStr(errText)
	packet.AppendData(msg)
	return sc.SendPacketRelease(packet)
}

// SendPacketRelease send a packet to remote and then release the packet
func (sc *ShardConnection) SendPacketRelease(packet *netutil.Packet) error {
	err := sc.packetConn.SendPacket(packet)
	packet.Release()
	return err
}

// Recv receives the next packet and retrive the message type
func (sc *ShardConnection) Recv(msgtype *MsgType) (*netutil.Packet, error) {
	pkt, err := sc.packetConn.RecvPacket()
	if err != nil {
		return nil, err
	}

	*msgtype = MsgType(pkt.ReadUint16())
	if consts.DEBUG_PACKETS {
		gwlog.Infof("%s: Recv msgtype=%v, payload size=%d", sc, *msgtype, pkt.GetPayloadLen())
	}
	return pkt, nil
}

// ReadResponse reads request id and error text of a MT_RESPONSE packet, the payload is left for ReadData
func ReadResponse(pkt *netutil.Packet) (reqID uint32, errText string) {
	reqID = pkt.ReadUint32()
	errText = pkt.ReadVarStr()
	return
}

// Close this connection
func (sc *ShardConnection) Close() error {
	sc.closed.Store(true)
	return sc.packetConn.Close()
}

// IsClosed returns if the connection is closed
func (sc *ShardConnection) IsClosed() bool {
	return sc.closed.Load()
}

// RemoteAddr returns the remote address
func (sc *ShardConnection) RemoteAddr() net.Addr {
	return sc.packetConn.RemoteAddr()
}

// LocalAddr returns the local address
func (sc *ShardConnection) LocalAddr() net.Addr {
	return sc.packetConn.LocalAddr()
}

func (sc *ShardConnection) String() string {
	return sc.packetConn.String()
}
