package shard

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/xiaonanln/mapshard/engine/gwlog"
)

var (
	args struct {
		shardid         uint16
		configFile      string
		logLevel        string
		runInDaemonMode bool
	}
	signalChan = make(chan os.Signal, 1)
)

func parseArgs() {
	var shardIDArg int
	flag.IntVar(&shardIDArg, "sid", 0, "set shardid")
	flag.StringVar(&args.configFile, "configfile", "", "set config file path")
	flag.StringVar(&args.logLevel, "log", "", "set log level, will override log level in config")
	flag.BoolVar(&args.runInDaemonMode, "d", false, "run in daemon mode")
	flag.Parse()
	args.shardid = uint16(shardIDArg)
}

func setupSignals(shardService *ShardService, terminate func()) {
	gwlog.Infof("Setup signals ...")
	signal.Ignore(syscall.Signal(10), syscall.Signal(12), syscall.SIGPIPE, syscall.SIGHUP)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		for {
			sig := <-signalChan
			if sig == syscall.SIGINT || sig == syscall.SIGTERM {
				gwlog.Infof("Terminating shard service ...")
				terminate()
				shardService.WaitTerminated()
				gwlog.Infof("Shard %d terminated gracefully.", args.shardid)
				os.Exit(0)
			} else {
				gwlog.Errorf("unexpected signal: %s", sig)
			}
		}
	}()
}
