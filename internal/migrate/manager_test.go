package migrate

import (
	"context"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestSplitStatementsRespectsStrings(t *testing.T) {
	stmts := splitStatements(`insert into t values ('a;b'); select 1;`)
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(stmts), stmts)
	}
	if !strings.Contains(stmts[0], "'a;b'") {
		t.Fatalf("semicolon inside string split: %q", stmts[0])
	}
}

func TestVerifyReportsMissingRelation(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("select to_regclass").WithArgs("companies").
		WillReturnRows(sqlmock.NewRows([]string{"oid"}).AddRow(nil))

	err = Verify(context.Background(), db)
	if err == nil || !strings.Contains(err.Error(), "companies") {
		t.Fatalf("expected missing-relation error for companies, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
