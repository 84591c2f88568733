package registry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var boltRoot = []byte("registry")

// BoltRegistry maps each key path segment to a nested bbolt bucket. Values
// live in the bucket of their key as kind-prefixed entries. Subkeys are
// listed in byte order.
type BoltRegistry struct {
	db *bolt.DB
}

var _ Registry = (*BoltRegistry)(nil)

// NewBoltRegistry opens (creating if needed) a bbolt file at path.
func NewBoltRegistry(path string) (*BoltRegistry, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt registry %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltRoot)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating root bucket: %w", err)
	}
	return &BoltRegistry{db: db}, nil
}

func (r *BoltRegistry) CreateKey(key string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		_, err := createBucketPath(tx, key)
		return err
	})
}

func (r *BoltRegistry) KeyExists(key string) (bool, error) {
	found := false
	err := r.db.View(func(tx *bolt.Tx) error {
		found = bucketPath(tx, key) != nil
		return nil
	})
	return found, err
}

func (r *BoltRegistry) SubKeys(key string) ([]string, error) {
	var names []string
	err := r.db.View(func(tx *bolt.Tx) error {
		b := bucketPath(tx, key)
		if b == nil {
			return fmt.Errorf("listing %s: %w", key, ErrKeyNotFound)
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if v == nil {
				names = append(names, string(k))
			}
		}
		return nil
	})
	return names, err
}

func (r *BoltRegistry) DeleteKey(key string) error {
	key = CleanKey(key)
	if key == "" {
		return fmt.Errorf("refusing to delete the root key")
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		parentPath, name := splitKey(key)
		parent := bucketPath(tx, parentPath)
		if parent == nil {
			return nil
		}
		err := parent.DeleteBucket([]byte(name))
		if err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return fmt.Errorf("deleting key %s: %w", key, err)
		}
		return nil
	})
}

func (r *BoltRegistry) GetValue(key, name string) (Value, error) {
	var v Value
	err := r.db.View(func(tx *bolt.Tx) error {
		b := bucketPath(tx, key)
		if b == nil {
			return fmt.Errorf("reading %s: %w", key, ErrKeyNotFound)
		}
		raw := b.Get([]byte(name))
		if raw == nil || b.Bucket([]byte(name)) != nil {
			return fmt.Errorf("reading %s/%s: %w", key, name, ErrValueNotFound)
		}
		var err error
		v, err = decodeValue(raw)
		return err
	})
	return v, err
}

func (r *BoltRegistry) SetValue(key, name string, v Value) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b, err := createBucketPath(tx, key)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(name), v.encode()); err != nil {
			return fmt.Errorf("writing %s/%s: %w", key, name, err)
		}
		return nil
	})
}

func (r *BoltRegistry) DeleteValue(key, name string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := bucketPath(tx, key)
		if b == nil || b.Bucket([]byte(name)) != nil {
			return nil
		}
		return b.Delete([]byte(name))
	})
}

func (r *BoltRegistry) Close() error {
	return r.db.Close()
}

func bucketPath(tx *bolt.Tx, key string) *bolt.Bucket {
	b := tx.Bucket(boltRoot)
	key = CleanKey(key)
	if key == "" {
		return b
	}
	for _, seg := range strings.Split(key, "/") {
		if b == nil {
			return nil
		}
		b = b.Bucket([]byte(seg))
	}
	return b
}

func createBucketPath(tx *bolt.Tx, key string) (*bolt.Bucket, error) {
	b := tx.Bucket(boltRoot)
	key = CleanKey(key)
	if key == "" {
		return b, nil
	}
	for _, seg := range strings.Split(key, "/") {
		next, err := b.CreateBucketIfNotExists([]byte(seg))
		if err != nil {
			return nil, fmt.Errorf("creating key %s: %w", key, err)
		}
		b = next
	}
	return b, nil
}

// splitKey splits a clean key into its parent path and last segment.
func splitKey(key string) (string, string) {
	i := strings.LastIndex(key, "/")
	if i < 0 {
		return "", key
	}
	return key[:i], key[i+1:]
}
