package postgres

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/ossgate/internal/errs"
	"github.com/koustreak/ossgate/internal/ledger"
)

type execCall struct {
	sql  string
	args []any
}

type mockPool struct {
	execs    []execCall
	execErr  error
	queryErr error
	rows     *fakeRows
	pingErr  error
	closed   bool

	querySQL  string
	queryArgs []any
}

func (m *mockPool) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.execs = append(m.execs, execCall{sql: sql, args: args})
	return pgconn.CommandTag{}, m.execErr
}

func (m *mockPool) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	m.querySQL, m.queryArgs = sql, args
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	return m.rows, nil
}

func (m *mockPool) Ping(context.Context) error { return m.pingErr }
func (m *mockPool) Close()                     { m.closed = true }

// fakeRows serves fixed rows, assigning each column to the matching Scan
// destination by reflection.
type fakeRows struct {
	data [][]any
	i    int
	err  error
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return r.data[r.i-1], nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.i >= len(r.data) {
		return false
	}
	r.i++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.i-1]
	if len(dest) != len(row) {
		return errors.New("column count mismatch")
	}
	for i, d := range dest {
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(row[i]))
	}
	return nil
}

func TestMigrate(t *testing.T) {
	p := &mockPool{}
	l := newLedger(p, nil)

	require.NoError(t, l.Migrate(context.Background()))
	require.Len(t, p.execs, 2)
	assert.Contains(t, p.execs[0].sql, "CREATE TABLE IF NOT EXISTS oss_uploads")
	assert.Contains(t, p.execs[1].sql, "CREATE INDEX IF NOT EXISTS")
}

func TestRecord(t *testing.T) {
	p := &mockPool{}
	l := newLedger(p, nil)
	at := time.Date(2024, 6, 1, 8, 0, 0, 0, time.FixedZone("CST", 8*3600))

	u := &ledger.Upload{
		Bucket: "media", Object: "uploads/a.png", ETag: "E1", Size: 10,
		MimeType: "image/png", Width: 4, Height: 3, Format: "png",
		Vars: map[string]string{"x:uid": "42"}, ReceivedAt: at,
	}
	require.NoError(t, l.Record(context.Background(), u))

	require.Len(t, p.execs, 1)
	args := p.execs[0].args
	assert.Equal(t, u.ID(), args[0])
	assert.Equal(t, "uploads/a.png", args[2])
	assert.Equal(t, `{"x:uid":"42"}`, args[9])
	assert.Equal(t, at.UTC(), args[10])
}

func TestRecord_NilVars(t *testing.T) {
	p := &mockPool{}
	require.NoError(t, newLedger(p, nil).Record(context.Background(), &ledger.Upload{Bucket: "b", Object: "o"}))
	assert.Equal(t, "{}", p.execs[0].args[9])
}

func TestRecord_Invalid(t *testing.T) {
	p := &mockPool{}
	err := newLedger(p, nil).Record(context.Background(), &ledger.Upload{Bucket: "b"})
	assert.True(t, errs.IsInvalidArgument(err))
	assert.Empty(t, p.execs)
}

func TestRecord_Duplicate(t *testing.T) {
	p := &mockPool{execErr: &pgconn.PgError{Code: "23505", Message: "duplicate key"}}
	err := newLedger(p, nil).Record(context.Background(), &ledger.Upload{Bucket: "b", Object: "o"})
	assert.True(t, ledger.IsDuplicate(err))
}

func TestListByDir(t *testing.T) {
	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	p := &mockPool{rows: &fakeRows{data: [][]any{
		{"media", "up_1/a.png", "E1", int64(10), "image/png", 4, 3, "png", `{"x:uid":"42"}`, at},
		{"media", "up_1/b.txt", "E2", int64(2), "", 0, 0, "", `{}`, at},
	}}}
	l := newLedger(p, nil)

	got, err := l.ListByDir(context.Background(), "up_1/", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, `up\_1/%`, p.queryArgs[0])
	assert.Equal(t, ledger.DefaultListLimit, p.queryArgs[1])
	assert.Equal(t, "up_1/a.png", got[0].Object)
	assert.Equal(t, map[string]string{"x:uid": "42"}, got[0].Vars)
	assert.Equal(t, 4, got[0].Width)
	assert.Equal(t, at, got[1].ReceivedAt)
}

func TestListByDir_QueryError(t *testing.T) {
	p := &mockPool{queryErr: errors.New("conn closed")}
	_, err := newLedger(p, nil).ListByDir(context.Background(), "", 5)
	assert.True(t, errs.IsTransport(err))
}

func TestListByDir_RowsError(t *testing.T) {
	p := &mockPool{rows: &fakeRows{err: errors.New("unexpected EOF")}}
	_, err := newLedger(p, nil).ListByDir(context.Background(), "", 5)
	assert.True(t, errs.IsTransport(err))
}

func TestPingAndClose(t *testing.T) {
	p := &mockPool{pingErr: errors.New("refused")}
	l := newLedger(p, nil)

	assert.True(t, errs.IsTransport(l.Ping(context.Background())))
	require.NoError(t, l.Close())
	assert.True(t, p.closed)
}

func TestBuildDSN(t *testing.T) {
	dsn := buildDSN(&ledger.Config{Host: "db", User: "app", Password: "p@ss:w/rd", Database: "ossgate"})
	assert.Equal(t, "postgres://app:p%40ss%3Aw%2Frd@db:5432/ossgate?sslmode=disable", dsn)

	dsn = buildDSN(&ledger.Config{Host: "db", Port: 6543, Database: "x", SSLMode: "require"})
	assert.True(t, strings.HasPrefix(dsn, "postgres://db:6543/x"))
	assert.Contains(t, dsn, "sslmode=require")
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"unique", &pgconn.PgError{Code: "23505"}, ledger.IsDuplicate},
		{"auth", &pgconn.PgError{Code: "28P01"}, errs.IsConfiguration},
		{"no table", &pgconn.PgError{Code: "42P01"}, errs.IsConfiguration},
		{"other sqlstate", &pgconn.PgError{Code: "53300"}, errs.IsTransport},
		{"deadline", context.DeadlineExceeded, errs.IsTimeout},
		{"plain", errors.New("broken pipe"), errs.IsTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(mapError(tt.err, "op")))
		})
	}
	assert.Nil(t, mapError(nil, "op"))
}
