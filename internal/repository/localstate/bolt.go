package localstate

import (
	"context"
	"time"

	"bodyshop-storefront/internal/domain"
	bolt "go.etcd.io/bbolt"
)

type boltRepo struct {
	db *bolt.DB
}

// OpenBolt opens (creating if needed) a bbolt file holding one bucket per session.
func OpenBolt(path string) (Repository, func() error, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, nil, err
	}
	return &boltRepo{db: db}, db.Close, nil
}

func (r *boltRepo) Get(_ context.Context, sessionID, key string) ([]byte, error) {
	var out []byte
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(sessionID))
		if b == nil {
			return domain.ErrNotFound
		}
		v := b.Get([]byte(key))
		if v == nil {
			return domain.ErrNotFound
		}
		// bolt values are only valid inside the transaction.
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

func (r *boltRepo) Set(_ context.Context, sessionID, key string, value []byte) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(sessionID))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), value)
	})
}

func (r *boltRepo) Delete(_ context.Context, sessionID string, keys ...string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(sessionID))
		if b == nil {
			return nil
		}
		for _, k := range keys {
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *boltRepo) Keys(_ context.Context, sessionID string) ([]string, error) {
	var keys []string
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(sessionID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}
