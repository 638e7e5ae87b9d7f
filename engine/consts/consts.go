package consts

import "time"

// Tunable Options
const (
	// BUFFERED_READ_BUFFSIZE is the read buffer size for buffered connections
	BUFFERED_READ_BUFFSIZE = 16384
	// BUFFERED_WRITE_BUFFSIZE is the write buffer size for buffered connections
	BUFFERED_WRITE_BUFFSIZE = 16384

	// MAX_PACKET_PAYLOAD_LEN is the max payload length of one packet
	MAX_PACKET_PAYLOAD_LEN = 25 * 1024 * 1024

	// For Coordinator
	// COORDINATOR_CLIENT_PROXY_WRITE_BUFFER_SIZE is coordinator client proxies' write buffer size
	COORDINATOR_CLIENT_PROXY_WRITE_BUFFER_SIZE = 1024 * 1024
	// COORDINATOR_CLIENT_PROXY_READ_BUFFER_SIZE is coordinator client proxies' read buffer size
	COORDINATOR_CLIENT_PROXY_READ_BUFFER_SIZE = 1024 * 1024
	// COORDINATOR_CLIENT_WRITE_BUFFER_SIZE is the write buffer size for shards' connections to coordinator
	COORDINATOR_CLIENT_WRITE_BUFFER_SIZE = 1024 * 1024
	// COORDINATOR_CLIENT_READ_BUFFER_SIZE is the read buffer size for shards' connections to coordinator
	COORDINATOR_CLIENT_READ_BUFFER_SIZE = 1024 * 1024
	// CLUSTER_REQUEST_TIMEOUT bounds every request/response round-trip with the coordinator
	CLUSTER_REQUEST_TIMEOUT = time.Second * 10
	// COORDINATOR_RECONNECT_MAX_INTERVAL caps the reconnect backoff to the coordinator
	COORDINATOR_RECONNECT_MAX_INTERVAL = time.Second * 5

	// For Shard Service
	// SHARD_SERVICE_TICK_INTERVAL is the tick interval to tick timers in shard service
	SHARD_SERVICE_TICK_INTERVAL = time.Millisecond * 10
	// CLIENT_PROXY_WRITE_BUFFER_SIZE is the write buffer size for shards' client proxies
	CLIENT_PROXY_WRITE_BUFFER_SIZE = 64 * 1024
	// CLIENT_PROXY_READ_BUFFER_SIZE is the read buffer size for shards' client proxies
	CLIENT_PROXY_READ_BUFFER_SIZE = 64 * 1024
	// CLIENT_PROXY_SET_TCP_NO_DELAY = true sets client proxies to TcpNoDelay
	CLIENT_PROXY_SET_TCP_NO_DELAY = true
	// ADMISSION_TIMEOUT bounds the whole enter-game pipeline of one connection
	ADMISSION_TIMEOUT = time.Second * 30
	// DESPAWN_SAVE_TIMEOUT bounds each save issued by the despawn scheduler
	DESPAWN_SAVE_TIMEOUT = time.Second * 10
	// SHUTDOWN_SAVE_TIMEOUT bounds the final save of everything before the shard quits
	SHUTDOWN_SAVE_TIMEOUT = time.Minute
	// WORLD_LOAD_RETRY_MAX_INTERVAL caps the interval between ReadBuildings retries during world load
	WORLD_LOAD_RETRY_MAX_INTERVAL = time.Second * 3

	// For Storage
	// SAVE_RETRY_INTERVAL is the interval between retries of a failed storage write
	SAVE_RETRY_INTERVAL = time.Second
	// STORAGE_QUEUE_LEN_WARN_THRESHOLD logs a warning when the storage queue grows beyond it
	STORAGE_QUEUE_LEN_WARN_THRESHOLD = 1000
	// KVDB_OPERATION_WARN_THRESHOLD warns slow kvdb operations
	KVDB_OPERATION_WARN_THRESHOLD = time.Millisecond * 100
	// STORAGE_OPERATION_WARN_THRESHOLD warns slow storage operations
	STORAGE_OPERATION_WARN_THRESHOLD = time.Millisecond * 100

	// For Operation Monitor
	// OPMON_DUMP_INTERVAL is the interval to print opmon infos to output
	OPMON_DUMP_INTERVAL = 0
)

// Debug Options
const (
	// DEBUG_PACKETS prints packet send/recv debug logs
	DEBUG_PACKETS = false
	// DEBUG_SAVE_LOAD prints save & load debug logs
	DEBUG_SAVE_LOAD = false
	// DEBUG_CLIENTS prints client connect/disconnect debug logs
	DEBUG_CLIENTS = true
)

// DEBUG_MODE is set by config [debug] debug = 1
var DEBUG_MODE = false
