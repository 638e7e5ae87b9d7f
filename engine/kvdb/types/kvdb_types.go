package kvdbtypes

// KVDBEngine defines the interface of a KVDB engine implementation
type KVDBEngine interface {
	// Get returns "" without error if the key does not exist
	Get(key string) (val string, err error)
	Put(key string, val string) (err error)
	Close()
	IsConnectionError(err error) bool
}
