package schema

import (
	"context"
	"errors"
	"strings"

	"github.com/sqliteai/sqlite-sync/pkg/dbengine"
)

// ReservedPrefix is the namespace cloudsync reserves for its own meta
// objects (cloudsync_site_id, cloudsync_settings, cloudsync_changes,
// cloudsync_<table>_meta, ...). A user table name starting with this
// prefix always fails inspection.
const ReservedPrefix = "cloudsync_"

// AllTablesWildcard is the special table argument meaning "every
// tracked-candidate user table", accepted by cloudsync_init/cleanup.
const AllTablesWildcard = "*"

var (
	// ErrNoPrimaryKey is returned when a table declares no primary key.
	ErrNoPrimaryKey = errors.New("schema: table has no primary key")

	// ErrRowIDOnly is returned when a table's sole primary key column is
	// a rowid alias and Options.AllowRowIDOnly is false.
	ErrRowIDOnly = errors.New("schema: primary key is a rowid-alias INTEGER column")

	// ErrReservedName is returned when a table name collides with
	// cloudsync's own meta object namespace.
	ErrReservedName = errors.New("schema: table name is reserved for cloudsync meta objects")

	// ErrWildcardName is returned when a table name contains "*" without
	// being exactly the all-tables wildcard.
	ErrWildcardName = errors.New("schema: table name contains the reserved \"*\" character")
)

// Options tunes the inspector's rejection rules.
type Options struct {
	// AllowRowIDOnly permits tables whose only primary key column is a
	// rowid alias, corresponding to the reference implementation's
	// DISABLE_ROWIDONLY_TABLES=0 configuration. The default (false)
	// matches the reference implementation's own default of rejecting
	// such tables.
	AllowRowIDOnly bool
}

// IsReservedName reports whether table falls in cloudsync's own meta
// object namespace.
func IsReservedName(table string) bool {
	return strings.HasPrefix(table, ReservedPrefix)
}

// ValidateName checks table's name in isolation, without touching the
// host engine: wildcard and reserved-name rules.
func ValidateName(table string) error {
	if table == AllTablesWildcard {
		return nil
	}
	if strings.Contains(table, AllTablesWildcard) {
		return ErrWildcardName
	}
	if IsReservedName(table) {
		return ErrReservedName
	}
	return nil
}

// Inspect introspects table through host and returns its column shape
// plus a non-nil error describing why the table fails tracking, if any.
// A nil error means table is a valid tracking candidate.
func Inspect(ctx context.Context, host dbengine.Host, table string, opts Options) (dbengine.Columns, error) {
	if err := ValidateName(table); err != nil {
		return dbengine.Columns{}, err
	}

	cols, err := host.TableInfo(ctx, table)
	if err != nil {
		return dbengine.Columns{}, err
	}

	pk := cols.PKColumns()
	if len(pk) == 0 {
		return dbengine.Columns{}, ErrNoPrimaryKey
	}
	if len(pk) == 1 && pk[0].RowIDAlias && !opts.AllowRowIDOnly {
		return dbengine.Columns{}, ErrRowIDOnly
	}
	return cols, nil
}

// ExpandTables resolves a cloudsync_init/cleanup table argument to the
// concrete list of tables it denotes: either the single named table, or
// (for the "*" wildcard) every table known to host that is not itself a
// reserved cloudsync meta object.
func ExpandTables(ctx context.Context, host dbengine.Host, table string) ([]string, error) {
	if table != AllTablesWildcard {
		return []string{table}, nil
	}

	all, err := host.Tables(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(all))
	for _, t := range all {
		if !IsReservedName(t) {
			out = append(out, t)
		}
	}
	return out, nil
}
