package netutil

import (
	"net"

	"github.com/xiaonanln/netconnutil"
)

// Connection is a net.Conn that can be flushed
type Connection interface {
	netconnutil.FlushableConn
}

// NetConn wraps a net.Conn which writes directly, so Flush is a no-op
type NetConn struct {
	net.Conn
}

// Flush does nothing
func (n NetConn) Flush() error {
	return nil
}

// NewBufferedConnection wraps conn with read & write buffers and ignores temporary errors
func NewBufferedConnection(conn net.Conn, readBufferSize int, writeBufferSize int) Connection {
	return netconnutil.NewBufferedConn(netconnutil.NewNoTempErrorConn(conn), readBufferSize, writeBufferSize)
}
