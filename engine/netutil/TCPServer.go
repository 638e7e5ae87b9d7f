package netutil

import (
	"net"
	"time"

	"github.com/xiaonanln/mapshard/engine/gwioutil"
	"github.com/xiaonanln/mapshard/engine/gwlog"
)

const (
	_RESTART_TCP_SERVER_INTERVAL = 3 * time.Second
)

// TCPServerDelegate is the implementations that a TCP server should provide
type TCPServerDelegate interface {
	ServeTCPConnection(net.Conn)
}

// ServeTCPForever serves on specified address as TCP server, for ever ...
func ServeTCPForever(listenAddr string, delegate TCPServerDelegate) {
	for {
		err := serveTCPForeverOnce(listenAddr, delegate)
		gwlog.Errorf("server@%s failed with error: %v, will restart after %s", listenAddr, err, _RESTART_TCP_SERVER_INTERVAL)
		time.Sleep(_RESTART_TCP_SERVER_INTERVAL)
	}
}

func serveTCPForeverOnce(listenAddr string, delegate TCPServerDelegate) (err error) {
	defer func() {
		if perr := recover(); perr != nil {
			gwlog.TraceError("serveTCPForeverOnce: paniced with error %s", perr)
		}
	}()

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}
	return ServeTCP(ln, delegate)
}

// ServeTCP accepts connections on the listener until it fails
func ServeTCP(ln net.Listener, delegate TCPServerDelegate) error {
	gwlog.Infof("Listening on TCP: %s ...", ln.Addr())
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if gwioutil.IsTimeoutError(err) {
				continue
			} else {
				return err
			}
		}

		gwlog.Infof("Connection from: %s", conn.RemoteAddr())
		go delegate.ServeTCPConnection(conn)
	}
}
