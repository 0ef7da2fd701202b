// Package store persists extraction state in a key-value database. Three
// slots are kept: the run progress, the accumulated data, and the error
// log. Values are gob-encoded; a missing slot loads as its zero value.
package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"os"

	"github.com/bvkgo/kv"
	"github.com/bvkgo/kvbadger"
	badger "github.com/dgraph-io/badger/v4"

	"lotcli/internal/extract"
)

// Slot keys. Stable across releases; changing one orphans persisted runs.
const (
	progressKey = "extractionState"
	dataKey     = "extractedData"
	errorsKey   = "errors"
)

// KV implements extract.Store over any kv.Database.
type KV struct {
	db kv.Database
}

// New returns a store over db.
func New(db kv.Database) *KV {
	return &KV{db: db}
}

// OpenBadger opens (or creates) a badger database at dir and wraps it as a
// kv.Database. The caller owns closing the returned badger handle.
func OpenBadger(dir string) (*badger.DB, kv.Database, error) {
	bdb, err := badger.Open(badger.DefaultOptions(dir))
	if err != nil {
		return nil, nil, fmt.Errorf("could not open the database at %q: %w", dir, err)
	}
	isGoodKey := func(k string) bool { return len(k) != 0 }
	return bdb, kvbadger.New(bdb, isGoodKey), nil
}

func getGob[T any](ctx context.Context, db kv.Database, key string) (*T, bool, error) {
	var value *T
	err := kv.WithReader(ctx, db, func(ctx context.Context, r kv.Reader) error {
		v, err := r.Get(ctx, key)
		if err != nil {
			return err
		}
		gv := new(T)
		if err := gob.NewDecoder(v).Decode(gv); err != nil {
			return fmt.Errorf("could not gob-decode value at key %q: %w", key, err)
		}
		value = gv
		return nil
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

func setGob[T any](ctx context.Context, db kv.Database, key string, value *T) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(value); err != nil {
		return fmt.Errorf("could not gob-encode value for key %q: %w", key, err)
	}
	return kv.WithReadWriter(ctx, db, func(ctx context.Context, rw kv.ReadWriter) error {
		return rw.Set(ctx, key, &buf)
	})
}

// LoadProgress returns the persisted progress, or the zero Progress when no
// run has ever been recorded.
func (s *KV) LoadProgress(ctx context.Context) (extract.Progress, error) {
	p, ok, err := getGob[extract.Progress](ctx, s.db, progressKey)
	if err != nil || !ok {
		return extract.Progress{}, err
	}
	return *p, nil
}

// SaveProgress persists the progress slot.
func (s *KV) SaveProgress(ctx context.Context, p extract.Progress) error {
	return setGob(ctx, s.db, progressKey, &p)
}

// LoadData returns the accumulated data, empty when nothing was saved.
func (s *KV) LoadData(ctx context.Context) (*extract.AccumulatedData, error) {
	d, ok, err := getGob[extract.AccumulatedData](ctx, s.db, dataKey)
	if err != nil || !ok {
		return &extract.AccumulatedData{}, err
	}
	return d, nil
}

// SaveData persists the data slot.
func (s *KV) SaveData(ctx context.Context, d *extract.AccumulatedData) error {
	return setGob(ctx, s.db, dataKey, d)
}

// LoadErrors returns the persisted error log, nil when none was saved.
func (s *KV) LoadErrors(ctx context.Context) ([]extract.ErrorEntry, error) {
	e, ok, err := getGob[[]extract.ErrorEntry](ctx, s.db, errorsKey)
	if err != nil || !ok {
		return nil, err
	}
	return *e, nil
}

// SaveErrors persists the error log slot.
func (s *KV) SaveErrors(ctx context.Context, errs []extract.ErrorEntry) error {
	return setGob(ctx, s.db, errorsKey, &errs)
}

// ClearAll deletes all three slots in one transaction. Missing slots are
// not an error.
func (s *KV) ClearAll(ctx context.Context) error {
	return kv.WithReadWriter(ctx, s.db, func(ctx context.Context, rw kv.ReadWriter) error {
		for _, key := range []string{progressKey, dataKey, errorsKey} {
			if err := rw.Delete(ctx, key); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("could not delete key %q: %w", key, err)
			}
		}
		return nil
	})
}
