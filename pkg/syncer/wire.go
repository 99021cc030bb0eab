package syncer

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"

	"github.com/sqliteai/sqlite-sync/pkg/changelog"
	"github.com/sqliteai/sqlite-sync/pkg/codec"
	"github.com/sqliteai/sqlite-sync/pkg/idgen"
)

// tupleArity is the fixed number of columns in one wire change tuple:
// (tbl, pk, col_name, col_value, col_version, db_version, site_id, cl,
// seq), per spec.md §6's "Wire batch format".
const tupleArity = 9

// acceptPlain is the accept-header value spec.md §6 reserves to mean
// "the batch is uncompressed".
const acceptPlain = "sqlc/plain"

// EncodeBatch concatenates entries' wire-tuple encodings in the fixed
// column order spec.md §6 names.
func EncodeBatch(entries []changelog.Entry) ([]byte, error) {
	var buf []byte
	for _, e := range entries {
		pkBlob, err := codec.EncodePK(e.PK)
		if err != nil {
			return nil, fmt.Errorf("syncer: encode pk for %s: %w", e.Table, err)
		}
		tuple := []codec.Value{
			codec.Text(e.Table),
			codec.Blob(pkBlob),
			codec.Text(e.Column),
			e.Value,
			codec.Int64(int64(e.ColVersion)),
			codec.Int64(int64(e.DBVersion)),
			codec.Blob(e.SiteID.Bytes()),
			codec.Int64(int64(e.CL)),
			codec.Int64(int64(e.Seq)),
		}
		buf = codec.EncodeValues(buf, tuple)
	}
	return buf, nil
}

// DecodeBatch reverses EncodeBatch, decoding every wire tuple in src.
func DecodeBatch(src []byte) ([]changelog.Entry, error) {
	var entries []changelog.Entry
	for len(src) > 0 {
		vals, used, err := codec.DecodeValues(src, tupleArity)
		if err != nil {
			return nil, fmt.Errorf("syncer: decode batch: %w", err)
		}
		e, err := tupleToEntry(vals)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
		src = src[used:]
	}
	return entries, nil
}

func tupleToEntry(vals []codec.Value) (changelog.Entry, error) {
	table, _ := vals[0].Text()
	pkBlob, _ := vals[1].Blob()
	column, _ := vals[2].Text()
	colVersion, _ := vals[4].Int64()
	dbVersion, _ := vals[5].Int64()
	siteBytes, _ := vals[6].Blob()
	cl, _ := vals[7].Int64()
	seq, _ := vals[8].Int64()

	pk, err := codec.DecodePK(pkBlob)
	if err != nil {
		return changelog.Entry{}, fmt.Errorf("syncer: decode pk: %w", err)
	}
	site, err := idgen.FromBytes(siteBytes)
	if err != nil {
		return changelog.Entry{}, fmt.Errorf("syncer: decode site id: %w", err)
	}

	return changelog.Entry{
		Table:      table,
		PK:         pk,
		Column:     column,
		Value:      vals[3],
		ColVersion: uint64(colVersion),
		DBVersion:  uint64(dbVersion),
		Seq:        uint32(seq),
		SiteID:     site,
		CL:         uint64(cl),
	}, nil
}

// CompressBatch lz4-compresses a wire batch, allowed per spec.md §6.
func CompressBatch(plain []byte) ([]byte, error) {
	var out bytes.Buffer
	w := lz4.NewWriter(&out)
	if _, err := w.Write(plain); err != nil {
		return nil, fmt.Errorf("syncer: lz4 compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("syncer: lz4 compress: %w", err)
	}
	return out.Bytes(), nil
}

// DecompressBatch reverses CompressBatch.
func DecompressBatch(compressed []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(compressed))
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("syncer: lz4 decompress: %w", err)
	}
	return plain, nil
}
