package shardlbc

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
	"github.com/xiaonanln/mapshard/engine/gwlog"
	"github.com/xiaonanln/mapshard/engine/gwutils"
	"github.com/xiaonanln/mapshard/engine/proto"
)

// Sender sends the load report to the coordinator
type Sender interface {
	IsConnected() bool
	Send(msgtype proto.MsgType, msg interface{}) error
}

// Initialize reports cpu usage and session count of the shard process every
// collectInterval until ctx is done
func Initialize(ctx context.Context, collectInterval time.Duration, sender Sender, sessions func() int) {
	pid := os.Getpid()
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		gwlog.Fatalf("can not find shard process: pid = %v", pid)
	}
	gwlog.Infof("shardlbc: found shard process: %s", p)

	go gwutils.RepeatUntilPanicless(func() {
		ticker := time.NewTicker(collectInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			info, err := Collect(ctx, p, sessions)
			if err != nil {
				gwlog.Panicf("shardlbc: get process cpu percent failed: %s", err)
			}
			gwlog.Debugf("shardlbc: cpu percent is %.3f%%, %d sessions", info.CPUPercent, info.Sessions)
			if sender.IsConnected() {
				sender.Send(proto.MT_SHARD_LOAD_INFO, &info)
			}
		}
	})
}

// Collect measures the current load of the process
func Collect(ctx context.Context, p *process.Process, sessions func() int) (proto.ShardLoadInfo, error) {
	pcnt, err := p.CPUPercentWithContext(ctx)
	if err != nil {
		return proto.ShardLoadInfo{}, err
	}
	return proto.ShardLoadInfo{CPUPercent: pcnt, Sessions: sessions()}, nil
}
