package shard

import (
	"context"
	"fmt"
	"os"

	"github.com/xiaonanln/mapshard/components/shard/shardlbc"
	"github.com/xiaonanln/mapshard/engine/binutil"
	"github.com/xiaonanln/mapshard/engine/config"
	"github.com/xiaonanln/mapshard/engine/coordinatorclient"
	"github.com/xiaonanln/mapshard/engine/gwlog"
	"github.com/xiaonanln/mapshard/engine/gwutils"
	"github.com/xiaonanln/mapshard/engine/kvdb"
	"github.com/xiaonanln/mapshard/engine/storage"
	"github.com/xiaonanln/mapshard/engine/world"
)

// Start fires up the map shard of -sid, serving until SIGINT/SIGTERM
func Start() {
	parseArgs()

	if args.runInDaemonMode {
		daemoncontext := binutil.Daemonize()
		defer daemoncontext.Release()
	}

	if args.configFile != "" {
		config.SetConfigFile(args.configFile)
	}

	if args.shardid <= 0 {
		gwlog.Errorf("shardid %d is not valid, should be positive", args.shardid)
		os.Exit(1)
	}

	cfg := config.GetShard(args.shardid)
	if cfg == nil {
		gwlog.Fatalf("shard %d is not configured", args.shardid)
	}
	logLevel := args.logLevel
	if logLevel == "" {
		logLevel = cfg.LogLevel
	}
	binutil.SetupGWLog(fmt.Sprintf("shard%d", args.shardid), logLevel, cfg.LogFile, cfg.LogStderr)
	gwlog.Infof("Read shard %d config: \n%s\n", args.shardid, config.DumpPretty(cfg))

	Run(context.Background(), args.shardid, cfg, world.NewMemoryWorld())
}

// Run serves the shard with the given world substrate until ctx is done or a
// termination signal arrives
func Run(ctx context.Context, shardid uint16, cfg *config.ShardConfig, w world.World) {
	kv, err := kvdb.Open(config.GetKVDB())
	if err != nil {
		gwlog.Fatalf("open kvdb failed: %s", err)
	}
	defer kv.Close()
	db, err := storage.Open(config.GetStorage(), kv)
	if err != nil {
		gwlog.Fatalf("open storage failed: %s", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shardService := NewShardService(shardid, cfg, db, w)
	clientService := NewClientService(shardService)
	coordinatorClient := coordinatorclient.New(cfg.CoordinatorAddr, shardService)
	shardService.SetClients(clientService)
	shardService.SetCluster(coordinatorClient)

	if !shardService.IsAllocateOnly() {
		go gwutils.RunPanicless(func() {
			if err := shardService.LoadWorld(ctx); err != nil {
				gwlog.Errorf("%s: load world failed: %s", shardService, err)
			}
		})
	}

	binutil.SetupHTTPServer(cfg.HTTPAddr, clientService.HandleWebSocketConn)
	go clientService.ServeTCP(cfg.ListenAddr)
	if cfg.KCPListenAddr != "" {
		if err := clientService.ServeKCP(cfg.KCPListenAddr); err != nil {
			gwlog.Fatalf("%s", err)
		}
	}
	coordinatorClient.Start(ctx)
	if cfg.LoadReportInterval > 0 {
		shardlbc.Initialize(ctx, cfg.LoadReportInterval, coordinatorClient, shardService.Sessions().Count)
	}

	setupSignals(shardService, cancel)
	shardService.Run(ctx)
	clientService.Terminate()
	coordinatorClient.Close()
}
