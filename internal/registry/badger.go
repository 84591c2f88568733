package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
)

// Key markers and values share one flat badger keyspace:
//
//	k:<path>                 key marker, value is its creation sequence
//	v:<path>\x00<name>       value record
const (
	badgerKeyPrefix   = "k:"
	badgerValuePrefix = "v:"
)

// BadgerRegistry stores the registry in a badger LSM directory. Subkeys are
// listed in creation order.
type BadgerRegistry struct {
	db  *badger.DB
	seq *badger.Sequence
}

var _ Registry = (*BadgerRegistry)(nil)

// NewBadgerRegistry opens (creating if needed) a badger directory at dir.
// An empty dir opens an in-memory instance.
func NewBadgerRegistry(dir string) (*BadgerRegistry, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger registry %s: %w", dir, err)
	}
	seq, err := db.GetSequence([]byte("seq:keys"), 64)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("allocating key sequence: %w", err)
	}
	return &BadgerRegistry{db: db, seq: seq}, nil
}

func (r *BadgerRegistry) CreateKey(key string) error {
	return r.db.Update(func(txn *badger.Txn) error {
		return r.createKeyTxn(txn, key)
	})
}

func (r *BadgerRegistry) KeyExists(key string) (bool, error) {
	key = CleanKey(key)
	if key == "" {
		return true, nil
	}
	found := false
	err := r.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(markerKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("checking key %s: %w", key, err)
	}
	return found, nil
}

func (r *BadgerRegistry) SubKeys(key string) ([]string, error) {
	key = CleanKey(key)
	ok, err := r.KeyExists(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("listing %s: %w", key, ErrKeyNotFound)
	}

	type child struct {
		name string
		seq  uint64
	}
	var children []child
	err = r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(badgerKeyPrefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			path := strings.TrimPrefix(string(item.Key()), badgerKeyPrefix)
			name, ok := childName(key, path)
			if !ok {
				continue
			}
			var seq uint64
			err := item.Value(func(val []byte) error {
				seq = decodeSeq(val)
				return nil
			})
			if err != nil {
				return err
			}
			children = append(children, child{name: name, seq: seq})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", key, err)
	}

	sort.Slice(children, func(i, j int) bool { return children[i].seq < children[j].seq })
	names := make([]string, len(children))
	for i, c := range children {
		names[i] = c.name
	}
	return names, nil
}

func (r *BadgerRegistry) DeleteKey(key string) error {
	key = CleanKey(key)
	if key == "" {
		return fmt.Errorf("refusing to delete the root key")
	}
	return r.db.Update(func(txn *badger.Txn) error {
		var doomed [][]byte
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().KeyCopy(nil)
			if ownedBy(k, key) {
				doomed = append(doomed, k)
			}
		}
		it.Close()
		for _, k := range doomed {
			if err := txn.Delete(k); err != nil {
				return fmt.Errorf("deleting key %s: %w", key, err)
			}
		}
		return nil
	})
}

func (r *BadgerRegistry) GetValue(key, name string) (Value, error) {
	key = CleanKey(key)
	var v Value
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(valueKey(key, name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			if key != "" {
				if _, kerr := txn.Get(markerKey(key)); errors.Is(kerr, badger.ErrKeyNotFound) {
					return fmt.Errorf("reading %s: %w", key, ErrKeyNotFound)
				}
			}
			return fmt.Errorf("reading %s/%s: %w", key, name, ErrValueNotFound)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			v, err = decodeValue(val)
			return err
		})
	})
	return v, err
}

func (r *BadgerRegistry) SetValue(key, name string, v Value) error {
	key = CleanKey(key)
	return r.db.Update(func(txn *badger.Txn) error {
		if err := r.createKeyTxn(txn, key); err != nil {
			return err
		}
		if err := txn.Set(valueKey(key, name), v.encode()); err != nil {
			return fmt.Errorf("writing %s/%s: %w", key, name, err)
		}
		return nil
	})
}

func (r *BadgerRegistry) DeleteValue(key, name string) error {
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(valueKey(CleanKey(key), name))
	})
}

func (r *BadgerRegistry) Close() error {
	if err := r.seq.Release(); err != nil {
		r.db.Close()
		return fmt.Errorf("releasing key sequence: %w", err)
	}
	return r.db.Close()
}

func (r *BadgerRegistry) createKeyTxn(txn *badger.Txn, key string) error {
	for _, p := range parentKeys(key) {
		_, err := txn.Get(markerKey(p))
		if err == nil {
			continue
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("creating key %s: %w", p, err)
		}
		n, err := r.seq.Next()
		if err != nil {
			return fmt.Errorf("creating key %s: %w", p, err)
		}
		if err := txn.Set(markerKey(p), encodeSeq(n)); err != nil {
			return fmt.Errorf("creating key %s: %w", p, err)
		}
	}
	return nil
}

func markerKey(path string) []byte {
	return []byte(badgerKeyPrefix + path)
}

func valueKey(path, name string) []byte {
	return []byte(badgerValuePrefix + path + "\x00" + name)
}

// ownedBy reports whether a raw badger key belongs to key or a descendant.
func ownedBy(raw []byte, key string) bool {
	s := string(raw)
	switch {
	case strings.HasPrefix(s, badgerKeyPrefix):
		p := s[len(badgerKeyPrefix):]
		return p == key || strings.HasPrefix(p, key+"/")
	case strings.HasPrefix(s, badgerValuePrefix):
		p, _, ok := strings.Cut(s[len(badgerValuePrefix):], "\x00")
		return ok && (p == key || strings.HasPrefix(p, key+"/"))
	}
	return false
}

func encodeSeq(n uint64) []byte {
	return DWordValue(uint32(n)).Data
}

func decodeSeq(b []byte) uint64 {
	n, _ := Value{Kind: KindDWord, Data: b}.DWord()
	return uint64(n)
}
