package lease

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newPostgresManager(t *testing.T) (*PostgresManager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	m := NewPostgresManager(db, 30*time.Second)
	m.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return m, mock
}

func TestPostgresAcquire_Success(t *testing.T) {
	m, mock := newPostgresManager(t)
	ctx := context.Background()

	mock.ExpectQuery("INSERT INTO sponsor_leases").
		WillReturnRows(sqlmock.NewRows([]string{"next_nonce"}).AddRow(7))

	ls, err := m.Acquire(ctx, testChainID, testSponsor)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if ls.NextNonceHint != 7 {
		t.Errorf("NextNonceHint: got %d want 7", ls.NextNonceHint)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresAcquire_LiveLeaseIsBusy(t *testing.T) {
	m, mock := newPostgresManager(t)
	ctx := context.Background()

	// The conditional UPDATE arm was suppressed: no row comes back.
	mock.ExpectQuery("INSERT INTO sponsor_leases").
		WillReturnError(sql.ErrNoRows)

	_, err := m.Acquire(ctx, testChainID, testSponsor)
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestPostgresRecordBroadcast(t *testing.T) {
	m, mock := newPostgresManager(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE sponsor_leases").
		WithArgs(int64(5), "0xabc", int64(6), testChainID, pgSponsor(testSponsor), "lease-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := m.RecordBroadcast(ctx, testChainID, testSponsor, "lease-1", 5, "0xabc", 6); err != nil {
		t.Fatalf("RecordBroadcast: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresRecordBroadcast_GuardMissIsSilent(t *testing.T) {
	m, mock := newPostgresManager(t)
	ctx := context.Background()

	// Zero rows affected: lease ID no longer matches. Not an error.
	mock.ExpectExec("UPDATE sponsor_leases").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := m.RecordBroadcast(ctx, testChainID, testSponsor, "stale", 5, "0xabc", 6); err != nil {
		t.Fatalf("guard miss should be silent: %v", err)
	}
}

func TestPostgresRelease(t *testing.T) {
	m, mock := newPostgresManager(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE sponsor_leases").
		WithArgs(m.now().Add(-time.Second), testChainID, pgSponsor(testSponsor), "lease-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := m.Release(ctx, testChainID, testSponsor, "lease-1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
