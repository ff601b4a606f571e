// Package db provides a uniform query interface over the embedded SQLite
// engine and a remote libSQL server, so callers never branch on backend.
package db

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/ethpandaops/pressroom/pkg/config"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
)

// TimeLayout is the fixed-width UTC layout used for every stored timestamp.
// Lexicographic order of formatted values equals chronological order.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// legacyTimeLayout matches SQLite's CURRENT_TIMESTAMP output.
const legacyTimeLayout = "2006-01-02 15:04:05"

// Adapter executes SQL against a database backend.
//
// QueryOne decodes the first row into dest (a pointer to a struct with `db`
// tags) and reports whether a row was found. QueryAll decodes every row
// into dest, which must point to a slice of such structs.
type Adapter interface {
	Execute(ctx context.Context, script string) error
	QueryOne(ctx context.Context, dest any, query string, args ...any) (bool, error)
	QueryAll(ctx context.Context, dest any, query string, args ...any) error
	Run(ctx context.Context, query string, args ...any) (Result, error)
	Close() error
}

// Result describes the outcome of a write statement.
type Result struct {
	LastInsertID int64
	RowsChanged  int64
}

// Row is a single result row keyed by column name.
type Row map[string]any

// Open creates the adapter selected by cfg.Driver.
func Open(
	ctx context.Context,
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) (Adapter, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return OpenSQLite(ctx, log, cfg.SQLite.Path)
	case config.DriverLibSQL:
		return OpenLibSQL(ctx, log, &cfg.LibSQL)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a stored timestamp.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range []string{TimeLayout, time.RFC3339Nano, legacyTimeLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

var timeType = reflect.TypeOf(time.Time{})

// normalizeArgs prepares arguments so both backends store identical values.
func normalizeArgs(args []any) []any {
	out := make([]any, len(args))

	for i, arg := range args {
		out[i] = normalizeArg(arg)
	}

	return out
}

// normalizeArg dereferences pointers and reduces values to the types every
// driver accepts. Timestamps become TimeLayout text and booleans 0 or 1.
func normalizeArg(arg any) any {
	if v := reflect.ValueOf(arg); v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}

		arg = v.Elem().Interface()
	}

	switch v := arg.(type) {
	case time.Time:
		return FormatTime(v)
	case int:
		return int64(v)
	case bool:
		if v {
			return int64(1)
		}

		return int64(0)
	default:
		return arg
	}
}

func decodeTimeHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != timeType {
		return data, nil
	}

	switch v := data.(type) {
	case string:
		return ParseTime(v)
	case []byte:
		return ParseTime(string(v))
	case int64:
		return time.Unix(v, 0).UTC(), nil
	default:
		return data, nil
	}
}

// decodeRows maps query rows onto dest.
func decodeRows(rows []Row, dest any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       decodeTimeHook,
		WeaklyTypedInput: true,
		TagName:          "db",
		Result:           dest,
	})
	if err != nil {
		return fmt.Errorf("creating row decoder: %w", err)
	}

	var input any = rows
	if reflect.Indirect(reflect.ValueOf(dest)).Kind() != reflect.Slice {
		if len(rows) == 0 {
			return nil
		}

		input = rows[0]
	}

	if err := dec.Decode(input); err != nil {
		return fmt.Errorf("decoding rows: %w", err)
	}

	return nil
}

// summarize trims a statement for log output.
func summarize(query string) string {
	query = strings.Join(strings.Fields(query), " ")
	if len(query) > 120 {
		return query[:117] + "..."
	}

	return query
}
