package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-ini/ini"
	"github.com/pkg/errors"
	"github.com/xiaonanln/mapshard/engine/common"
	"github.com/xiaonanln/mapshard/engine/consts"
	"github.com/xiaonanln/mapshard/engine/gwlog"
)

const (
	_DEFAULT_CONFIG_FILE              = "mapshard.ini"
	_DEFAULT_COORDINATOR_ADDR         = "127.0.0.1:6010"
	_DEFAULT_AUTO_SAVE_INTERVAL       = time.Second * 2
	_DEFAULT_DESPAWN_DELAY            = time.Millisecond * 5000
	_DEFAULT_TERMINATE_INSTANCE_DELAY = time.Second * 30
	_DEFAULT_LOAD_REPORT_INTERVAL     = time.Second * 5
	_DEFAULT_STORAGE_FLUSH_INTERVAL   = time.Second
	_DEFAULT_LOG_LEVEL                = "debug"
	_DEFAULT_STORAGE_DB               = "mapshard"
	_DEFAULT_GM_LEVEL                 = 1
)

var (
	configFilePath = _DEFAULT_CONFIG_FILE
	mapShardConfig *MapShardClusterConfig
	configLock     sync.Mutex
)

// ShardConfig defines fields of a map shard
type ShardConfig struct {
	CoordinatorAddr        string
	MachineAddr            string
	ListenAddr             string
	KCPListenAddr          string
	HTTPAddr               string
	MapName                string
	ChannelID              string
	InstanceID             string
	Allocate               bool
	AutoSaveInterval       time.Duration
	DespawnDelay           time.Duration
	TerminateInstanceDelay time.Duration
	LoadReportInterval     time.Duration
	StorageFlushInterval   time.Duration
	GMLevel                int
	LogFile                string
	LogStderr              bool
	LogLevel               string
}

// IsInstance returns if the shard serves a temporary instance
func (sc *ShardConfig) IsInstance() bool {
	return sc.InstanceID != ""
}

// CoordinatorConfig defines fields of coordinator
type CoordinatorConfig struct {
	ListenAddr string
	HTTPAddr   string
	LogFile    string
	LogStderr  bool
	LogLevel   string
}

// StorageConfig defines fields of storage config
type StorageConfig struct {
	Type      string // bolt, redis, mongodb
	Url       string
	DB        string
	Directory string
}

// KVDBConfig defines fields of KVDB config
type KVDBConfig struct {
	Type       string // bolt, redis, redis_cluster
	Url        string
	DB         string
	Directory  string
	StartNodes common.StringSet
}

// DebugConfig defines fields of debug config
type DebugConfig struct {
	Debug bool
}

// MapShardClusterConfig defines the total config of a deployment
type MapShardClusterConfig struct {
	Debug       DebugConfig
	Coordinator CoordinatorConfig
	ShardCommon ShardConfig
	Shards      map[int]*ShardConfig
	Storage     StorageConfig
	KVDB        KVDBConfig
}

// SetConfigFile sets the config file path (mapshard.ini by default)
func SetConfigFile(f string) {
	configFilePath = f
}

// Get returns the total config
func Get() *MapShardClusterConfig {
	configLock.Lock()
	defer configLock.Unlock()
	if mapShardConfig == nil {
		mapShardConfig = readMapShardConfig()
	}
	return mapShardConfig
}

// Reload forces reloading config from disk
func Reload() *MapShardClusterConfig {
	configLock.Lock()
	mapShardConfig = nil
	configLock.Unlock()

	return Get()
}

// GetShard gets the config of specified shard ID
func GetShard(shardid uint16) *ShardConfig {
	return Get().Shards[int(shardid)]
}

// GetShardIDs returns all shard IDs
func GetShardIDs() []uint16 {
	cfg := Get()
	shardIDs := make([]int, 0, len(cfg.Shards))
	for id := range cfg.Shards {
		shardIDs = append(shardIDs, id)
	}
	sort.Ints(shardIDs)

	res := make([]uint16, len(shardIDs))
	for i, id := range shardIDs {
		res[i] = uint16(id)
	}
	return res
}

// GetCoordinator returns the coordinator config
func GetCoordinator() *CoordinatorConfig {
	return &Get().Coordinator
}

// GetStorage returns the storage config
func GetStorage() *StorageConfig {
	return &Get().Storage
}

// GetKVDB returns the KVDB config
func GetKVDB() *KVDBConfig {
	return &Get().KVDB
}

// DumpPretty format config to string in pretty format
func DumpPretty(cfg interface{}) string {
	s, err := json.MarshalIndent(cfg, "", "    ")
	if err != nil {
		return err.Error()
	}
	return string(s)
}

func readMapShardConfig() *MapShardClusterConfig {
	config := MapShardClusterConfig{
		Shards: map[int]*ShardConfig{},
	}
	gwlog.Infof("Using config file: %s", configFilePath)
	iniFile, err := ini.Load(configFilePath)
	checkConfigError(err, "")
	readShardCommonConfig(iniFile.Section("shard_common"), &config.ShardCommon)
	readCoordinatorConfig(iniFile.Section("coordinator"), &config.Coordinator)
	readStorageConfig(iniFile.Section("storage"), &config.Storage)
	readKVDBConfig(iniFile.Section("kvdb"), &config.KVDB)

	for _, sec := range iniFile.Sections() {
		secName := strings.ToLower(sec.Name())
		if secName == "default" || secName == "shard_common" || secName == "coordinator" || secName == "storage" || secName == "kvdb" {
			continue
		}

		if secName == "debug" {
			readDebugConfig(sec, &config.Debug)
		} else if len(secName) > 5 && secName[:5] == "shard" {
			id, err := strconv.Atoi(secName[5:])
			checkConfigError(err, fmt.Sprintf("invalid shard name: %s", secName))
			config.Shards[id] = readShardConfig(sec, &config.ShardCommon)
		} else {
			gwlog.Errorf("unknown section: %s", secName)
		}
	}

	consts.DEBUG_MODE = config.Debug.Debug
	return &config
}

func readDebugConfig(sec *ini.Section, config *DebugConfig) {
	for _, key := range sec.Keys() {
		name := strings.ToLower(key.Name())
		if name == "debug" {
			config.Debug = key.MustBool(false)
		} else {
			gwlog.Panicf("section %s has unknown key: %s", sec.Name(), key.Name())
		}
	}
}

func readShardCommonConfig(section *ini.Section, scc *ShardConfig) {
	scc.CoordinatorAddr = _DEFAULT_COORDINATOR_ADDR
	scc.MachineAddr = "127.0.0.1"
	scc.AutoSaveInterval = _DEFAULT_AUTO_SAVE_INTERVAL
	scc.DespawnDelay = _DEFAULT_DESPAWN_DELAY
	scc.TerminateInstanceDelay = _DEFAULT_TERMINATE_INSTANCE_DELAY
	scc.LoadReportInterval = _DEFAULT_LOAD_REPORT_INTERVAL
	scc.StorageFlushInterval = _DEFAULT_STORAGE_FLUSH_INTERVAL
	scc.GMLevel = _DEFAULT_GM_LEVEL
	scc.LogFile = "mapshard.log"
	scc.LogStderr = true
	scc.LogLevel = _DEFAULT_LOG_LEVEL

	_readShardConfig(section, scc)
}

func readShardConfig(sec *ini.Section, shardCommonConfig *ShardConfig) *ShardConfig {
	var sc ShardConfig = *shardCommonConfig // copy from shard_common
	_readShardConfig(sec, &sc)
	// validate shard config
	if sc.ListenAddr == "" {
		gwlog.Panicf("%s: listen_addr is not set", sec.Name())
	}
	if sc.MapName == "" {
		gwlog.Panicf("%s: map_name is not set", sec.Name())
	}
	if sc.IsInstance() {
		// instance shards despawn on next tick
		sc.DespawnDelay = 0
	}
	return &sc
}

func _readShardConfig(sec *ini.Section, sc *ShardConfig) {
	for _, key := range sec.Keys() {
		name := strings.ToLower(key.Name())
		if name == "coordinator_addr" {
			sc.CoordinatorAddr = key.MustString(sc.CoordinatorAddr)
		} else if name == "machine_addr" {
			sc.MachineAddr = key.MustString(sc.MachineAddr)
		} else if name == "listen_addr" {
			sc.ListenAddr = key.MustString(sc.ListenAddr)
		} else if name == "kcp_listen_addr" {
			sc.KCPListenAddr = key.MustString(sc.KCPListenAddr)
		} else if name == "http_addr" {
			sc.HTTPAddr = key.MustString(sc.HTTPAddr)
		} else if name == "map_name" {
			sc.MapName = key.MustString(sc.MapName)
		} else if name == "channel_id" {
			sc.ChannelID = key.MustString(sc.ChannelID)
		} else if name == "instance_id" {
			sc.InstanceID = key.MustString(sc.InstanceID)
		} else if name == "allocate" {
			sc.Allocate = key.MustBool(sc.Allocate)
		} else if name == "auto_save_interval" {
			sc.AutoSaveInterval = key.MustDuration(sc.AutoSaveInterval)
		} else if name == "despawn_delay_ms" {
			sc.DespawnDelay = time.Millisecond * time.Duration(key.MustInt(int(sc.DespawnDelay/time.Millisecond)))
		} else if name == "terminate_instance_delay" {
			sc.TerminateInstanceDelay = key.MustDuration(sc.TerminateInstanceDelay)
		} else if name == "load_report_interval" {
			sc.LoadReportInterval = key.MustDuration(sc.LoadReportInterval)
		} else if name == "storage_flush_interval" {
			sc.StorageFlushInterval = key.MustDuration(sc.StorageFlushInterval)
		} else if name == "gm_level" {
			sc.GMLevel = key.MustInt(sc.GMLevel)
		} else if name == "log_file" {
			sc.LogFile = key.MustString(sc.LogFile)
		} else if name == "log_stderr" {
			sc.LogStderr = key.MustBool(sc.LogStderr)
		} else if name == "log_level" {
			sc.LogLevel = key.MustString(sc.LogLevel)
		} else {
			gwlog.Panicf("section %s has unknown key: %s", sec.Name(), key.Name())
		}
	}
}

func readCoordinatorConfig(sec *ini.Section, config *CoordinatorConfig) {
	config.ListenAddr = _DEFAULT_COORDINATOR_ADDR
	config.LogFile = "coordinator.log"
	config.LogStderr = true
	config.LogLevel = _DEFAULT_LOG_LEVEL

	for _, key := range sec.Keys() {
		name := strings.ToLower(key.Name())
		if name == "listen_addr" {
			config.ListenAddr = key.MustString(config.ListenAddr)
		} else if name == "http_addr" {
			config.HTTPAddr = key.MustString(config.HTTPAddr)
		} else if name == "log_file" {
			config.LogFile = key.MustString(config.LogFile)
		} else if name == "log_stderr" {
			config.LogStderr = key.MustBool(config.LogStderr)
		} else if name == "log_level" {
			config.LogLevel = key.MustString(config.LogLevel)
		} else {
			gwlog.Panicf("section %s has unknown key: %s", sec.Name(), key.Name())
		}
	}
}

func readStorageConfig(sec *ini.Section, config *StorageConfig) {
	// setup default values
	config.Type = "bolt"
	config.Directory = "_storage"
	config.DB = _DEFAULT_STORAGE_DB
	config.Url = ""

	for _, key := range sec.Keys() {
		name := strings.ToLower(key.Name())
		if name == "type" {
			config.Type = key.MustString(config.Type)
		} else if name == "directory" {
			config.Directory = key.MustString(config.Directory)
		} else if name == "url" {
			config.Url = key.MustString(config.Url)
		} else if name == "db" {
			config.DB = key.MustString(config.DB)
		} else {
			gwlog.Panicf("section %s has unknown key: %s", sec.Name(), key.Name())
		}
	}

	if config.Type == "redis" && config.DB == _DEFAULT_STORAGE_DB {
		config.DB = "0"
	}

	validateStorageConfig(config)
}

func readKVDBConfig(sec *ini.Section, config *KVDBConfig) {
	config.Type = "bolt"
	config.Directory = "_kvdb"
	config.StartNodes = common.StringSet{}
	for _, key := range sec.Keys() {
		name := strings.ToLower(key.Name())
		if name == "type" {
			config.Type = key.MustString(config.Type)
		} else if name == "url" {
			config.Url = key.MustString(config.Url)
		} else if name == "db" {
			config.DB = key.MustString(config.DB)
		} else if name == "directory" {
			config.Directory = key.MustString(config.Directory)
		} else if strings.HasPrefix(name, "start_nodes_") {
			config.StartNodes.Add(key.MustString(""))
		} else {
			gwlog.Panicf("section %s has unknown key: %s", sec.Name(), key.Name())
		}
	}

	if config.Type == "redis" && config.DB == "" {
		config.DB = "0"
	}

	validateKVDBConfig(config)
}

func validateKVDBConfig(config *KVDBConfig) {
	if config.Type == "bolt" {
		if config.Directory == "" {
			gwlog.Panicf("directory is not set in %s KVDB config", config.Type)
		}
	} else if config.Type == "redis" {
		if config.Url == "" {
			gwlog.Panicf("invalid %s KVDB config: %s", config.Type, DumpPretty(config))
		}
		if _, err := strconv.Atoi(config.DB); err != nil {
			gwlog.Panic(errors.Wrap(err, "redis db must be integer"))
		}
	} else if config.Type == "redis_cluster" {
		if len(config.StartNodes) == 0 {
			gwlog.Panicf("must have at least 1 start_nodes for [kvdb].redis_cluster")
		}
		for s := range config.StartNodes {
			if s == "" {
				gwlog.Panicf("start_nodes must not be empty")
			}
		}
	} else {
		gwlog.Panicf("unknown kvdb type: %s", config.Type)
	}
}

func validateStorageConfig(config *StorageConfig) {
	if config.Type == "bolt" {
		if config.Directory == "" {
			gwlog.Panicf("directory is not set in %s storage config", config.Type)
		}
	} else if config.Type == "mongodb" {
		if config.Url == "" {
			gwlog.Panicf("url is not set in %s storage config", config.Type)
		}
		if config.DB == "" {
			gwlog.Panicf("db is not set in %s storage config", config.Type)
		}
	} else if config.Type == "redis" {
		if config.Url == "" {
			gwlog.Panicf("url is not set in %s storage config", config.Type)
		}
		if _, err := strconv.Atoi(config.DB); err != nil {
			gwlog.Panic(errors.Wrap(err, "redis db must be integer"))
		}
	} else {
		gwlog.Panicf("unknown storage type: %s", config.Type)
	}
}

func checkConfigError(err error, msg string) {
	if err != nil {
		if msg == "" {
			msg = err.Error()
		}
		gwlog.Panicf("read config error: %s", msg)
	}
}
