package binutil

import (
	"net/http"
	_ "net/http/pprof"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xiaonanln/mapshard/engine/gwlog"
	"golang.org/x/net/websocket"
)

// SetupHTTPServer starts the HTTP server for go tool pprof, prometheus metrics and websockets
func SetupHTTPServer(listenAddr string, wsHandler func(ws *websocket.Conn)) {
	if listenAddr == "" {
		gwlog.Infof("http server not enabled")
		return
	}

	gwlog.Infof("http server listening on %s", listenAddr)
	gwlog.Infof("pprof http://%s/debug/pprof/ ... available commands: ", listenAddr)
	gwlog.Infof("    go tool pprof http://%s/debug/pprof/heap", listenAddr)
	gwlog.Infof("    go tool pprof http://%s/debug/pprof/profile", listenAddr)
	gwlog.Infof("metrics http://%s/metrics", listenAddr)

	http.Handle("/metrics", promhttp.Handler())
	if wsHandler != nil {
		http.Handle("/ws", websocket.Handler(wsHandler))
	}

	go func() {
		err := http.ListenAndServe(listenAddr, nil)
		if err != nil {
			gwlog.Errorf("http server stopped: %s", err)
		}
	}()
}

// SetupGWLog setup the log system
func SetupGWLog(component string, logLevel string, logFile string, logStderr bool) {
	gwlog.SetSource(component)
	gwlog.Infof("Set log level to %s", logLevel)
	gwlog.SetLevel(gwlog.ParseLevel(logLevel))

	outputs := make([]string, 0, 2)
	if logFile != "" {
		outputs = append(outputs, logFile)
	}
	if logStderr {
		outputs = append(outputs, "stderr")
	}
	if len(outputs) > 0 {
		gwlog.SetOutput(outputs)
	}
}
