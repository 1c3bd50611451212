package migrate

import (
	"context"
	"slices"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestSplitStatements(t *testing.T) {
	src := `
-- header; with a semicolon
create table a (id int);
insert into a values (1); -- trailing; comment
insert into notes values ('semi;colon');
`
	stmts := splitStatements(src)
	var trimmed []string
	for _, s := range stmts {
		if s = strings.TrimSpace(s); s != "" {
			trimmed = append(trimmed, s)
		}
	}
	want := []string{
		"create table a (id int);",
		"insert into a values (1);",
		"insert into notes values ('semi;colon');",
	}
	if !slices.Equal(trimmed, want) {
		t.Fatalf("statements = %q\nwant %q", trimmed, want)
	}
}

func TestCollectSQLSortsAndFilters(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_b.up.sql":   {Data: []byte("select 2;")},
		"0001_a.up.sql":   {Data: []byte("select 1;")},
		"0001_a.down.sql": {Data: []byte("select 0;")},
		"README.md":       {Data: []byte("docs")},
	}
	files, err := collectSQL(fsys, ".up.sql")
	if err != nil {
		t.Fatalf("collectSQL: %v", err)
	}
	if !slices.Equal(files, []string{"0001_a.up.sql", "0002_b.up.sql"}) {
		t.Fatalf("unexpected files %v", files)
	}
}

func TestEmbeddedMigrationsPaired(t *testing.T) {
	ups, err := collectSQL(Embedded(), ".up.sql")
	if err != nil {
		t.Fatalf("collect up: %v", err)
	}
	if len(ups) == 0 {
		t.Fatal("no embedded migrations")
	}
	downs, _ := collectSQL(Embedded(), ".down.sql")
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		if !slices.Contains(downs, down) {
			t.Fatalf("missing %s", down)
		}
	}
}

func TestUpAppliesPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	fsys := fstest.MapFS{
		"0001_a.up.sql": {Data: []byte("create table a (id int);")},
		"0002_b.up.sql": {Data: []byte("create table b (id int); create index b_idx on b (id);")},
	}

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("create table b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create index b_idx").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_migrations").WithArgs("0002_b.up.sql", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(1, 1))

	applied, err := NewManager(db, fsys).Up(context.Background())
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if !slices.Equal(applied, []string{"0002_b.up.sql"}) {
		t.Fatalf("applied = %v", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownRequiresDownFile(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))

	_, err = NewManager(db, fstest.MapFS{"0001_a.up.sql": {Data: []byte("select 1;")}}).Down(context.Background())
	if err == nil || !strings.Contains(err.Error(), "missing down migration") {
		t.Fatalf("expected missing down error, got %v", err)
	}
}
