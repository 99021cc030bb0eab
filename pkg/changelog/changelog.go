package changelog

import (
	"context"
	"errors"
	"fmt"

	"github.com/sqliteai/sqlite-sync/pkg/codec"
	"github.com/sqliteai/sqlite-sync/pkg/dbengine"
	"github.com/sqliteai/sqlite-sync/pkg/idgen"
)

// Table is the meta object name of the change log.
const Table = "cloudsync_changes"

// RowLevelColumn is the sentinel column name denoting a row-level change
// (a causal-length bump, not a per-column value), matching the sentinel
// meaning of the "column_name" field described in spec.md §3.
const RowLevelColumn = ""

// SeqBits is the width of the sequence component packed into a change
// log row id.
const SeqBits = 30

// SeqMask is the maximum sequence number a single database version can
// carry before the row id packing must roll to the next database
// version.
const SeqMask = 1<<SeqBits - 1

// ErrSeqOverflow is returned by Append/PackRowID when the sequence number
// does not fit in the 30 bits the row id format allows.
var ErrSeqOverflow = errors.New("changelog: sequence number exceeds 30 bits")

// PackRowID combines a database version and a sequence number into the
// change log's row identifier, per spec.md §3: `(db_version << 30) | seq`.
func PackRowID(dbVersion uint64, seq uint32) (int64, error) {
	if seq > SeqMask {
		return 0, ErrSeqOverflow
	}
	return int64(dbVersion<<SeqBits | uint64(seq)), nil
}

// UnpackRowID reverses PackRowID.
func UnpackRowID(rowID int64) (dbVersion uint64, seq uint32) {
	u := uint64(rowID)
	return u >> SeqBits, uint32(u & SeqMask)
}

// Entry is one change log row: the atom exchanged between peers, per
// spec.md §3.
type Entry struct {
	Table      string
	PK         []codec.Value
	Column     string // RowLevelColumn for a row-level CL change
	Value      codec.Value
	ColVersion uint64
	DBVersion  uint64
	Seq        uint32
	SiteID     idgen.ID
	CL         uint64
}

// RowID returns e's packed change-log row identifier.
func (e Entry) RowID() (int64, error) {
	return PackRowID(e.DBVersion, e.Seq)
}

// Store is the cloudsync_changes meta object.
type Store struct {
	host dbengine.Host
}

// Open ensures the change log's backing table exists and returns a Store
// over it.
func Open(ctx context.Context, host dbengine.Host) (*Store, error) {
	if err := host.EnsureTable(ctx, Table, []dbengine.ColumnInfo{
		{Name: "rowid", PrimaryKey: true},
		{Name: "table"},
		{Name: "pk"},
		{Name: "column"},
		{Name: "value"},
		{Name: "col_version"},
		{Name: "db_version"},
		{Name: "site_id"},
		{Name: "cl"},
		{Name: "seq"},
	}); err != nil {
		return nil, fmt.Errorf("changelog: ensure %s: %w", Table, err)
	}
	return &Store{host: host}, nil
}

// Append writes entry within tx, the same transaction as the user
// mutation or merge apply that produced it, so capture is atomic with
// the write it describes.
func (s *Store) Append(ctx context.Context, tx dbengine.Tx, e Entry) error {
	rowID, err := e.RowID()
	if err != nil {
		return err
	}
	pkBytes, err := codec.EncodePK(e.PK)
	if err != nil {
		return fmt.Errorf("changelog: encode pk: %w", err)
	}
	valBytes := codec.EncodeValue(nil, e.Value)

	row := dbengine.Row{
		"rowid":       codec.Int64(rowID),
		"table":       codec.Text(e.Table),
		"pk":          codec.Blob(pkBytes),
		"column":      codec.Text(e.Column),
		"value":       codec.Blob(valBytes),
		"col_version": codec.Int64(int64(e.ColVersion)),
		"db_version":  codec.Int64(int64(e.DBVersion)),
		"site_id":     codec.Blob(e.SiteID.Bytes()),
		"cl":          codec.Int64(int64(e.CL)),
		"seq":         codec.Int64(int64(e.Seq)),
	}
	return tx.PutRow(ctx, Table, []codec.Value{codec.Int64(rowID)}, row)
}

// rowToEntry decodes a change log row back into an Entry.
func rowToEntry(row dbengine.Row) (Entry, error) {
	tbl, _ := row["table"].Text()
	column, _ := row["column"].Text()
	pkBlob, _ := row["pk"].Blob()
	pk, err := codec.DecodePK(pkBlob)
	if err != nil {
		return Entry{}, fmt.Errorf("changelog: decode pk: %w", err)
	}
	valBlob, _ := row["value"].Blob()
	val, _, err := codec.DecodeValue(valBlob)
	if err != nil {
		return Entry{}, fmt.Errorf("changelog: decode value: %w", err)
	}
	colVersion, _ := row["col_version"].Int64()
	dbVersion, _ := row["db_version"].Int64()
	cl, _ := row["cl"].Int64()
	seq, _ := row["seq"].Int64()
	siteBytes, _ := row["site_id"].Blob()
	siteID, err := idgen.FromBytes(siteBytes)
	if err != nil {
		return Entry{}, fmt.Errorf("changelog: decode site id: %w", err)
	}

	return Entry{
		Table:      tbl,
		PK:         pk,
		Column:     column,
		Value:      val,
		ColVersion: uint64(colVersion),
		DBVersion:  uint64(dbVersion),
		Seq:        uint32(seq),
		SiteID:     siteID,
		CL:         uint64(cl),
	}, nil
}

// Cursor identifies a position in the change log's (db_version, seq)
// order; entries at or before the cursor have already been processed.
type Cursor struct {
	DBVersion uint64
	Seq       uint32
}

// After reports whether e sorts strictly after c in (db_version, seq)
// order.
func (c Cursor) After(e Entry) bool {
	if e.DBVersion != c.DBVersion {
		return e.DBVersion > c.DBVersion
	}
	return e.Seq > c.Seq
}

// ScanSince calls fn with every change log entry strictly after cursor,
// in ascending (db_version, seq) order (which the row id packing makes
// equivalent to ascending row id order), optionally filtered to rows
// whose site id equals filterSite when filterSite is non-nil. Iteration
// stops early if fn returns false.
func (s *Store) ScanSince(ctx context.Context, tx dbengine.Tx, cursor Cursor, filterSite *idgen.ID, fn func(Entry) (bool, error)) error {
	return tx.ScanTable(ctx, Table, func(pk []codec.Value, row dbengine.Row) (bool, error) {
		e, err := rowToEntry(row)
		if err != nil {
			return false, err
		}
		if !cursor.After(e) {
			return true, nil
		}
		if filterSite != nil && e.SiteID != *filterSite {
			return true, nil
		}
		return fn(e)
	})
}
