package storageredis

import (
	"io"

	"github.com/garyburd/redigo/redis"
	"github.com/pkg/errors"
	"github.com/xiaonanln/mapshard/engine/storage/storage_common"
)

type redisDocumentStorage struct {
	c redis.Conn
}

// OpenRedis opens redis as document storage
func OpenRedis(url string, dbindex int) (storagecommon.DocumentStorage, error) {
	c, err := redis.DialURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "redis dail failed")
	}

	if _, err := c.Do("SELECT", dbindex); err != nil {
		c.Close()
		return nil, errors.Wrap(err, "redis select db failed")
	}

	return &redisDocumentStorage{c: c}, nil
}

func documentKey(typeName string, id string) string {
	return typeName + "$" + id
}

func (es *redisDocumentStorage) List(typeName string) ([]string, error) {
	keyMatch := typeName + "$*"
	r, err := redis.Values(es.c.Do("SCAN", "0", "MATCH", keyMatch, "COUNT", 10000))
	if err != nil {
		return nil, err
	}
	var ids []string
	prefixLen := len(typeName) + 1
	for {
		nextCursor := r[0]
		keys, err := redis.Strings(r[1], nil)
		if err != nil {
			return nil, err
		}

		for _, key := range keys {
			ids = append(ids, key[prefixLen:])
		}

		if isZeroCursor(nextCursor) {
			break
		}
		r, err = redis.Values(es.c.Do("SCAN", nextCursor, "MATCH", keyMatch, "COUNT", 10000))
		if err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func isZeroCursor(c interface{}) bool {
	return string(c.([]byte)) == "0"
}

func (es *redisDocumentStorage) Write(typeName string, id string, data []byte) error {
	_, err := es.c.Do("SET", documentKey(typeName, id), data)
	return err
}

func (es *redisDocumentStorage) Read(typeName string, id string) ([]byte, error) {
	b, err := redis.Bytes(es.c.Do("GET", documentKey(typeName, id)))
	if err == redis.ErrNil {
		return nil, nil
	}
	return b, err
}

func (es *redisDocumentStorage) Exists(typeName string, id string) (bool, error) {
	return redis.Bool(es.c.Do("EXISTS", documentKey(typeName, id)))
}

func (es *redisDocumentStorage) Close() {
	es.c.Close()
}

func (es *redisDocumentStorage) IsEOF(err error) bool {
	err = errors.Cause(err)
	return err == io.EOF || err == io.ErrUnexpectedEOF
}
