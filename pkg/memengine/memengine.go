package memengine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/sqliteai/sqlite-sync/pkg/codec"
	"github.com/sqliteai/sqlite-sync/pkg/dbengine"
)

// Engine is a bbolt-backed dbengine.Host. Every tracked table gets its own
// bucket, keyed by the table's encoded primary key (codec.EncodePK); rows
// are stored using a small column-name/value encoding built on top of
// codec.EncodeValue so a Row round-trips without reflection or JSON.
type Engine struct {
	db *bolt.DB

	mu      sync.RWMutex
	columns map[string]dbengine.Columns
	hooks   map[string]dbengine.CaptureHook
}

// Open creates or opens a bbolt database file at path and returns an
// Engine backed by it. Callers that only need a throwaway engine for
// tests should point path at a file inside t.TempDir().
func Open(path string) (*Engine, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("memengine: open %s: %w", path, err)
	}
	return &Engine{
		db:      db,
		columns: make(map[string]dbengine.Columns),
		hooks:   make(map[string]dbengine.CaptureHook),
	}, nil
}

// Close releases the underlying bbolt file.
func (e *Engine) Close() error {
	return e.db.Close()
}

// EnsureTable implements dbengine.Host. memengine has no SQL layer of its
// own, so table shape must be declared explicitly rather than
// introspected; calling EnsureTable again for an existing table is a
// no-op against storage but refreshes the recorded column shape.
func (e *Engine) EnsureTable(ctx context.Context, table string, columns []dbengine.ColumnInfo) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(table))
		return err
	}); err != nil {
		return fmt.Errorf("memengine: ensure table %s: %w", table, err)
	}

	e.columns[table] = dbengine.Columns{Table: table, All: columns}
	return nil
}

// TableInfo implements dbengine.Host.
func (e *Engine) TableInfo(ctx context.Context, table string) (dbengine.Columns, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cols, ok := e.columns[table]
	if !ok {
		return dbengine.Columns{}, dbengine.ErrTableNotFound
	}
	return cols, nil
}

// Tables implements dbengine.Host.
func (e *Engine) Tables(ctx context.Context) ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]string, 0, len(e.columns))
	for t := range e.columns {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

// Begin implements dbengine.Host. Every transaction is a bbolt write
// transaction: memengine has one writer at a time, mirroring SQLite's own
// single-writer model rather than layering optimistic concurrency on top
// of bbolt's MVCC.
func (e *Engine) Begin(ctx context.Context) (dbengine.Tx, error) {
	btx, err := e.db.Begin(true)
	if err != nil {
		return nil, fmt.Errorf("memengine: begin: %w", err)
	}
	return &memTx{btx: btx, eng: e, ctx: ctx}, nil
}

// RegisterCaptureHook implements dbengine.Host.
func (e *Engine) RegisterCaptureHook(table string, hook dbengine.CaptureHook) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.columns[table]; !ok {
		return dbengine.ErrTableNotFound
	}
	e.hooks[table] = hook
	return nil
}

// UnregisterCaptureHook implements dbengine.Host.
func (e *Engine) UnregisterCaptureHook(table string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.hooks, table)
	return nil
}

func (e *Engine) hookFor(table string) dbengine.CaptureHook {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.hooks[table]
}

// memTx adapts a *bolt.Tx to dbengine.Tx, firing the table's registered
// capture hook synchronously after every Put/Delete, inside the same
// bbolt transaction, the way a real host fires AFTER triggers.
type memTx struct {
	btx *bolt.Tx
	eng *Engine
	ctx context.Context
}

func (t *memTx) bucket(table string) (*bolt.Bucket, error) {
	b := t.btx.Bucket([]byte(table))
	if b == nil {
		return nil, dbengine.ErrTableNotFound
	}
	return b, nil
}

// GetRow implements dbengine.Tx.
func (t *memTx) GetRow(ctx context.Context, table string, pk []codec.Value) (dbengine.Row, error) {
	b, err := t.bucket(table)
	if err != nil {
		return nil, err
	}
	key, err := codec.EncodePK(pk)
	if err != nil {
		return nil, err
	}
	data := b.Get(key)
	if data == nil {
		return nil, dbengine.ErrRowNotFound
	}
	return decodeRow(data)
}

// PutRow implements dbengine.Tx.
func (t *memTx) PutRow(ctx context.Context, table string, pk []codec.Value, row dbengine.Row) error {
	b, err := t.bucket(table)
	if err != nil {
		return err
	}
	key, err := codec.EncodePK(pk)
	if err != nil {
		return err
	}

	existing := b.Get(key)
	var old dbengine.Row
	hadOld := existing != nil
	if hadOld {
		old, err = decodeRow(existing)
		if err != nil {
			return err
		}
	}

	if err := b.Put(key, encodeRow(row)); err != nil {
		return err
	}

	hook := t.eng.hookFor(table)
	if hook == nil {
		return nil
	}
	event := dbengine.CaptureEvent{Table: table, PK: pk, NewRow: row}
	if hadOld {
		event.Op = dbengine.OpUpdate
		event.OldRow = old
	} else {
		event.Op = dbengine.OpInsert
	}
	return hook(ctx, t, event)
}

// DeleteRow implements dbengine.Tx.
func (t *memTx) DeleteRow(ctx context.Context, table string, pk []codec.Value) error {
	b, err := t.bucket(table)
	if err != nil {
		return err
	}
	key, err := codec.EncodePK(pk)
	if err != nil {
		return err
	}

	existing := b.Get(key)
	if existing == nil {
		return nil
	}
	old, err := decodeRow(existing)
	if err != nil {
		return err
	}
	if err := b.Delete(key); err != nil {
		return err
	}

	hook := t.eng.hookFor(table)
	if hook == nil {
		return nil
	}
	return hook(ctx, t, dbengine.CaptureEvent{
		Table:  table,
		Op:     dbengine.OpDelete,
		PK:     pk,
		OldRow: old,
	})
}

// ScanTable implements dbengine.Tx.
func (t *memTx) ScanTable(ctx context.Context, table string, fn func(pk []codec.Value, row dbengine.Row) (bool, error)) error {
	b, err := t.bucket(table)
	if err != nil {
		return err
	}
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		pk, err := codec.DecodePK(k)
		if err != nil {
			return err
		}
		row, err := decodeRow(v)
		if err != nil {
			return err
		}
		cont, err := fn(pk, row)
		if err != nil {
			return err
		}
		if !cont {
			break
		}
	}
	return nil
}

func (t *memTx) Commit() error   { return t.btx.Commit() }
func (t *memTx) Rollback() error { return t.btx.Rollback() }

// encodeRow serializes a Row as a count byte followed by, for each column
// in sorted name order, a one-byte name length, the name bytes, and the
// tag-byte encoding of its value.
func encodeRow(row dbengine.Row) []byte {
	names := make([]string, 0, len(row))
	for name := range row {
		names = append(names, name)
	}
	sort.Strings(names)

	buf := make([]byte, 0, 16*len(names)+1)
	buf = append(buf, byte(len(names)))
	for _, name := range names {
		buf = append(buf, byte(len(name)))
		buf = append(buf, name...)
		buf = codec.EncodeValue(buf, row[name])
	}
	return buf
}

func decodeRow(src []byte) (dbengine.Row, error) {
	if len(src) < 1 {
		return nil, codec.ErrTruncated
	}
	count := int(src[0])
	pos := 1
	row := make(dbengine.Row, count)
	for i := 0; i < count; i++ {
		if pos >= len(src) {
			return nil, codec.ErrTruncated
		}
		nlen := int(src[pos])
		pos++
		if pos+nlen > len(src) {
			return nil, codec.ErrTruncated
		}
		name := string(src[pos : pos+nlen])
		pos += nlen

		v, used, err := codec.DecodeValue(src[pos:])
		if err != nil {
			return nil, err
		}
		pos += used
		row[name] = v
	}
	return row, nil
}
