package kvdb

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/xiaonanln/go-xnsyncutil/xnsyncutil"
	"github.com/xiaonanln/mapshard/engine/config"
	"github.com/xiaonanln/mapshard/engine/consts"
	"github.com/xiaonanln/mapshard/engine/gwlog"
	"github.com/xiaonanln/mapshard/engine/kvdb/backend/kvdbbolt"
	"github.com/xiaonanln/mapshard/engine/kvdb/backend/kvdbrediscluster"
	"github.com/xiaonanln/mapshard/engine/kvdb/backend/kvdbredis"
	"github.com/xiaonanln/mapshard/engine/kvdb/types"
	"github.com/xiaonanln/mapshard/engine/opmon"
)

// ErrClosed is returned for operations issued after Close
var ErrClosed = errors.New("kvdb closed")

// EngineOpener opens a KVDB engine, it is called again after the engine reports a connection error
type EngineOpener func() (kvdbtypes.KVDBEngine, error)

// KVDB serializes all operations on one engine through a single routine
type KVDB struct {
	opener     EngineOpener
	engine     kvdbtypes.KVDBEngine
	opQueue    *xnsyncutil.SyncQueue
	terminated *xnsyncutil.OneTimeCond
}

type kvdbResult struct {
	val string
	err error
}

type getReq struct {
	key  string
	done chan kvdbResult
}

type putReq struct {
	key  string
	val  string
	done chan kvdbResult
}

// Open opens the KVDB configured by [kvdb]
func Open(cfg *config.KVDBConfig) (*KVDB, error) {
	gwlog.Infof("KVDB initializing, config:\n%s", config.DumpPretty(cfg))
	var opener EngineOpener
	switch cfg.Type {
	case "redis":
		dbindex, err := strconv.Atoi(cfg.DB)
		if err != nil {
			return nil, errors.Wrap(err, "redis db must be integer")
		}
		opener = func() (kvdbtypes.KVDBEngine, error) {
			return kvdbredis.OpenRedisKVDB(cfg.Url, dbindex)
		}
	case "redis_cluster":
		startNodes := cfg.StartNodes.ToList()
		opener = func() (kvdbtypes.KVDBEngine, error) {
			return kvdbrediscluster.OpenRedisKVDB(startNodes)
		}
	case "bolt":
		opener = func() (kvdbtypes.KVDBEngine, error) {
			return kvdbbolt.OpenBoltKVDB(cfg.Directory)
		}
	default:
		return nil, errors.Errorf("KVDB type %s is not implemented", cfg.Type)
	}
	return NewKVDB(opener)
}

// NewKVDB opens the engine once and starts the KVDB routine
func NewKVDB(opener EngineOpener) (*KVDB, error) {
	engine, err := opener()
	if err != nil {
		return nil, err
	}
	db := &KVDB{
		opener:     opener,
		engine:     engine,
		opQueue:    xnsyncutil.NewSyncQueue(),
		terminated: xnsyncutil.NewOneTimeCond(),
	}
	go db.kvdbRoutine()
	return db, nil
}

// Get returns the value of the key, "" if not exists
func (db *KVDB) Get(ctx context.Context, key string) (string, error) {
	req := &getReq{key: key, done: make(chan kvdbResult, 1)}
	db.opQueue.Push(req)
	db.checkOperationQueueLen()
	return db.wait(ctx, req.done)
}

// Put sets the value of the key
func (db *KVDB) Put(ctx context.Context, key string, val string) error {
	req := &putReq{key: key, val: val, done: make(chan kvdbResult, 1)}
	db.opQueue.Push(req)
	db.checkOperationQueueLen()
	_, err := db.wait(ctx, req.done)
	return err
}

func (db *KVDB) wait(ctx context.Context, done chan kvdbResult) (string, error) {
	select {
	case res := <-done:
		return res.val, res.err
	case <-ctx.Done():
		return "", errors.Wrap(ctx.Err(), "kvdb")
	}
}

// Close stops the KVDB routine after pending operations are handled
func (db *KVDB) Close() {
	db.opQueue.Close()
	db.terminated.Wait()
}

var recentWarnedQueueLen = 0

func (db *KVDB) checkOperationQueueLen() {
	qlen := db.opQueue.Len()
	if qlen > 100 && qlen%100 == 0 && recentWarnedQueueLen != qlen {
		gwlog.Warnf("KVDB operation queue length = %d", qlen)
		recentWarnedQueueLen = qlen
	}
}

func (db *KVDB) assureEngineReady() (err error) {
	if db.engine != nil {
		return
	}
	db.engine, err = db.opener()
	return
}

func (db *KVDB) kvdbRoutine() {
	defer db.terminated.Signal()

	for {
		req := db.opQueue.Pop()
		if req == nil { // queue is closed, returning nil
			if db.engine != nil {
				db.engine.Close()
			}
			break
		}

		var err error
		for retry := 0; retry < 3; retry++ {
			if err = db.assureEngineReady(); err == nil {
				break
			}
			gwlog.Errorf("KVDB engine is not ready: %s", err)
			time.Sleep(time.Second)
		}

		switch r := req.(type) {
		case *getReq:
			if err != nil {
				r.done <- kvdbResult{err: err}
				continue
			}
			op := opmon.StartOperation("kvdb.get")
			val, err := db.engine.Get(r.key)
			op.Finish(consts.KVDB_OPERATION_WARN_THRESHOLD)
			db.checkEngineError(err)
			r.done <- kvdbResult{val: val, err: err}
		case *putReq:
			if err != nil {
				r.done <- kvdbResult{err: err}
				continue
			}
			op := opmon.StartOperation("kvdb.put")
			err := db.engine.Put(r.key, r.val)
			op.Finish(consts.KVDB_OPERATION_WARN_THRESHOLD)
			db.checkEngineError(err)
			r.done <- kvdbResult{err: err}
		default:
			gwlog.Panicf("kvdb: unknown operation: %v", req)
		}
	}
}

func (db *KVDB) checkEngineError(err error) {
	if err != nil && db.engine.IsConnectionError(err) {
		db.engine.Close()
		db.engine = nil
	}
}
