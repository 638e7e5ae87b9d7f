// Package coordinator is the central process of a map shard cluster. It keeps
// the shard topology, relays chat and social updates between shards and
// activates idle shards for instances.
package coordinator

import (
	"context"
	"net"
	"time"

	"github.com/xiaonanln/mapshard/engine/binutil"
	"github.com/xiaonanln/mapshard/engine/config"
	"github.com/xiaonanln/mapshard/engine/gwlog"
	"github.com/xiaonanln/mapshard/engine/netutil"
)

const _DUMP_INTERVAL = time.Minute

// Start fires up the coordinator, serving until SIGINT/SIGTERM
func Start() {
	parseArgs()
	if args.runInDaemonMode {
		daemoncontext := binutil.Daemonize()
		defer daemoncontext.Release()
	}

	if args.configFile != "" {
		config.SetConfigFile(args.configFile)
	}

	cfg := config.GetCoordinator()
	logLevel := args.logLevel
	if logLevel == "" {
		logLevel = cfg.LogLevel
	}
	binutil.SetupGWLog("coordinator", logLevel, cfg.LogFile, cfg.LogStderr)
	binutil.SetupHTTPServer(cfg.HTTPAddr, nil)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		gwlog.Fatalf("coordinator listen failed: %s", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	setupSignals(cancel)
	Run(ctx, ln)
	gwlog.Infof("Coordinator terminated gracefully.")
}

// Run serves shards on the listener until ctx is done
func Run(ctx context.Context, ln net.Listener) {
	cs := NewCoordinatorService(ctx)
	go func() {
		if err := netutil.ServeTCP(ln, cs); err != nil && ctx.Err() == nil {
			gwlog.Errorf("%s: serve failed: %s", cs, err)
		}
	}()

	ticker := time.NewTicker(_DUMP_INTERVAL)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			gwlog.Infof("%s: %s", cs, cs.dump())
		case <-ctx.Done():
			ln.Close()
			cs.Terminate()
			return
		}
	}
}
