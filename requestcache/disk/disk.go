// Package disk is a requestcache.Cache backed by a bbolt database file.
package disk

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/pardot/oidcop/requestcache"
)

var bucket = []byte("requests")

var _ requestcache.Cache = (*Cache)(nil)

type record struct {
	Request string
	Hash    string
	Expires *time.Time
}

func (r *record) encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	err := gob.NewEncoder(buf).Encode(r)
	return buf.Bytes(), err
}

func decodeRecord(data []byte) (*record, error) {
	var r *record
	buf := bytes.NewBuffer(data)
	err := gob.NewDecoder(buf).Decode(&r)
	return r, err
}

type errNotFound struct {
	error
}

func (*errNotFound) NotFoundErr() {}

type Cache struct {
	db *bolt.DB
	// Now is used to drop expired entries in Reap
	Now func() time.Time
}

// New opens, creating if needed, the bbolt database at path.
func New(path string, mode os.FileMode) (*Cache, error) {
	db, err := bolt.Open(path, mode, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Cache{db: db, Now: time.Now}, nil
}

// Close releases the database file.
func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) Write(_ context.Context, req *requestcache.CachedRequest) error {
	r := &record{
		Request: req.Request,
		Hash:    req.Hash,
		Expires: req.Expiry,
	}
	rb, err := r.encode()
	if err != nil {
		return err
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(req.RequestURI), rb)
	})
}

func (c *Cache) Find(_ context.Context, requestURI string) (*requestcache.CachedRequest, error) {
	var cr *requestcache.CachedRequest

	err := c.db.View(func(tx *bolt.Tx) error {
		o := tx.Bucket(bucket).Get([]byte(requestURI))
		if o == nil {
			return &errNotFound{fmt.Errorf("%s was not found", requestURI)}
		}
		// o is only valid for the life of the transaction, decoding copies it
		r, err := decodeRecord(o)
		if err != nil {
			return err
		}
		cr = &requestcache.CachedRequest{
			RequestURI: requestURI,
			Request:    r.Request,
			Hash:       r.Hash,
			Expiry:     r.Expires,
		}
		return nil
	})

	return cr, err
}

func (c *Cache) Evict(_ context.Context, requestURI string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(requestURI))
	})
}

// Reap deletes every entry that has expired, returning how many were removed.
func (c *Cache) Reap(_ context.Context) (int64, error) {
	var n int64
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		var expired [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			r, err := decodeRecord(v)
			if err != nil {
				return err
			}
			if r.Expires != nil && r.Expires.Before(c.Now()) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		n = int64(len(expired))
		return nil
	})
	return n, err
}
