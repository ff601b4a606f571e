// Package dbtest provides database fixtures for tests built on db.Adapter.
package dbtest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/ethpandaops/pressroom/pkg/config"
	"github.com/ethpandaops/pressroom/pkg/db"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// Logger returns a logger that only reports errors.
func Logger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

// NewSQLite opens a private in-memory SQLite adapter closed on cleanup.
func NewSQLite(t testing.TB) db.Adapter {
	t.Helper()

	a, err := db.OpenSQLite(context.Background(), Logger(), ":memory:")
	require.NoError(t, err)

	t.Cleanup(func() { _ = a.Close() })

	return a
}

// NewLibSQL returns a libSQL adapter talking to a LibSQLServer that is
// backed by a private in-memory SQLite database.
func NewLibSQL(t testing.TB) (db.Adapter, *LibSQLServer) {
	t.Helper()

	srv := NewLibSQLServer(t, NewSQLite(t))

	a, err := db.OpenLibSQL(context.Background(), Logger(), &config.LibSQLDatabaseConfig{
		URL:       srv.URL,
		AuthToken: srv.AuthToken,
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = a.Close() })

	return a, srv
}

// Backends returns one adapter per supported driver, keyed by driver name.
func Backends(t testing.TB) map[string]db.Adapter {
	t.Helper()

	remote, _ := NewLibSQL(t)

	return map[string]db.Adapter{
		config.DriverSQLite: NewSQLite(t),
		config.DriverLibSQL: remote,
	}
}

// LibSQLServer emulates the Hrana-over-HTTP pipeline API of a libSQL server
// on top of another adapter. It records every statement it receives.
type LibSQLServer struct {
	*httptest.Server

	AuthToken string

	backend    db.Adapter
	mu         sync.Mutex
	statements []string
}

// NewLibSQLServer starts a fake pipeline server closed on cleanup.
func NewLibSQLServer(t testing.TB, backend db.Adapter) *LibSQLServer {
	t.Helper()

	s := &LibSQLServer{AuthToken: "test-token", backend: backend}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))

	t.Cleanup(s.Close)

	return s
}

// Statements returns the SQL text of every execute request received.
func (s *LibSQLServer) Statements() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.statements...)
}

type wireValue struct {
	Type   string          `json:"type"`
	Value  json.RawMessage `json:"value,omitempty"`
	Base64 string          `json:"base64,omitempty"`
}

type wireRequest struct {
	Requests []struct {
		Type string `json:"type"`
		Stmt *struct {
			SQL      string      `json:"sql"`
			Args     []wireValue `json:"args"`
			WantRows bool        `json:"want_rows"`
		} `json:"stmt"`
	} `json:"requests"`
}

func (s *LibSQLServer) handle(w http.ResponseWriter, r *http.Request) {
	// Only protocol version 2 is advertised.
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/v2":
		w.WriteHeader(http.StatusOK)

		return
	case r.Method == http.MethodPost && (r.URL.Path == "/v2/pipeline" || r.URL.Path == "/v3/pipeline"):
	default:
		http.NotFound(w, r)

		return
	}

	if r.Header.Get("Authorization") != "Bearer "+s.AuthToken {
		http.Error(w, "unauthorized", http.StatusUnauthorized)

		return
	}

	var req wireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	results := make([]any, 0, len(req.Requests))

	for _, sr := range req.Requests {
		switch {
		case sr.Type == "get_autocommit":
			results = append(results, map[string]any{
				"type":     "ok",
				"response": map[string]any{"type": sr.Type, "is_autocommit": true},
			})

			continue
		case sr.Type != "execute" || sr.Stmt == nil:
			results = append(results, map[string]any{
				"type":     "ok",
				"response": map[string]any{"type": sr.Type},
			})

			continue
		}

		s.mu.Lock()
		s.statements = append(s.statements, sr.Stmt.SQL)
		s.mu.Unlock()

		result, err := s.execute(r.Context(), sr.Stmt.SQL, sr.Stmt.Args, sr.Stmt.WantRows)
		if err != nil {
			results = append(results, map[string]any{
				"type":  "error",
				"error": map[string]any{"message": err.Error(), "code": "SQLITE_ERROR"},
			})

			continue
		}

		results = append(results, map[string]any{
			"type":     "ok",
			"response": map[string]any{"type": "execute", "result": result},
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"baton": nil, "results": results})
}

func (s *LibSQLServer) execute(
	ctx context.Context, sql string, rawArgs []wireValue, wantRows bool,
) (map[string]any, error) {
	args := make([]any, 0, len(rawArgs))
	for _, a := range rawArgs {
		args = append(args, fromWire(a))
	}

	if !wantRows {
		res, err := s.backend.Run(ctx, sql, args...)
		if err != nil {
			return nil, err
		}

		return map[string]any{
			"cols":               []any{},
			"rows":               []any{},
			"affected_row_count": res.RowsChanged,
			"last_insert_rowid":  strconv.FormatInt(res.LastInsertID, 10),
		}, nil
	}

	var rows []db.Row
	if err := s.backend.QueryAll(ctx, &rows, sql, args...); err != nil {
		return nil, err
	}

	var names []string
	if len(rows) > 0 {
		for name := range rows[0] {
			names = append(names, name)
		}

		sort.Strings(names)
	}

	cols := make([]map[string]any, 0, len(names))
	for _, name := range names {
		cols = append(cols, map[string]any{"name": name})
	}

	outRows := make([][]wireValue, 0, len(rows))

	for _, row := range rows {
		out := make([]wireValue, 0, len(names))
		for _, name := range names {
			out = append(out, toWire(row[name]))
		}

		outRows = append(outRows, out)
	}

	return map[string]any{
		"cols":               cols,
		"rows":               outRows,
		"affected_row_count": len(rows),
		"last_insert_rowid":  nil,
	}, nil
}

func fromWire(v wireValue) any {
	switch v.Type {
	case "integer":
		var s string
		_ = json.Unmarshal(v.Value, &s)
		n, _ := strconv.ParseInt(s, 10, 64)

		return n
	case "float":
		var f float64
		_ = json.Unmarshal(v.Value, &f)

		return f
	case "text":
		var s string
		_ = json.Unmarshal(v.Value, &s)

		return s
	case "blob":
		b, _ := base64.StdEncoding.DecodeString(v.Base64)

		return b
	default:
		return nil
	}
}

func toWire(v any) wireValue {
	raw := func(x any) json.RawMessage {
		b, _ := json.Marshal(x)

		return b
	}

	switch x := v.(type) {
	case nil:
		return wireValue{Type: "null"}
	case int64:
		return wireValue{Type: "integer", Value: raw(strconv.FormatInt(x, 10))}
	case float64:
		return wireValue{Type: "float", Value: raw(x)}
	case []byte:
		return wireValue{Type: "blob", Base64: base64.StdEncoding.EncodeToString(x)}
	case string:
		return wireValue{Type: "text", Value: raw(x)}
	default:
		return wireValue{Type: "text", Value: raw(x)}
	}
}
