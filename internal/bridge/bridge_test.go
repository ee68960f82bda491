package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/godatacenter/internal/domain/cdm"
)

func testConfig() Config {
	return Config{
		Database:         "datacenter",
		RegistryHost:     "atlas-db",
		RegistryPort:     5432,
		RegistryDatabase: "webapi",
		RegistryUser:     "reader",
		RegistryPassword: "reader-secret",
		CDMSchema:        "demo_cdm",
		ResultsSchema:    "demo_cdm_results",
		StatementTimeout: 10 * time.Minute,
	}
}

// newMock создаёт pgxmock-пул с точным сравнением SQL:
// DDL собирается форматированием строк, и тест обязан
// проверять итоговый текст дословно.
func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherEqual))
	require.NoError(t, err, "создание pgxmock")
	t.Cleanup(mock.Close)
	return mock
}

func TestSetStatementTimeout(t *testing.T) {
	mock := newMock(t)
	b := New(mock, testConfig())

	mock.ExpectExec("SET LOCAL statement_timeout = 600000").
		WillReturnResult(pgxmock.NewResult("SET", 0))

	err := b.SetStatementTimeout(context.Background())
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureRoleCreate(t *testing.T) {
	mock := newMock(t)
	b := New(mock, testConfig())

	mock.ExpectQuery("SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1)").
		WithArgs("u7").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(`CREATE ROLE "u7" WITH LOGIN PASSWORD 'secret'`).
		WillReturnResult(pgxmock.NewResult("CREATE ROLE", 0))

	err := b.EnsureRole(context.Background(), "u7", "secret")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureRoleExisting(t *testing.T) {
	mock := newMock(t)
	b := New(mock, testConfig())

	// Существующая роль получает новый пароль, а не ошибку
	mock.ExpectQuery("SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1)").
		WithArgs("u7").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(`ALTER ROLE "u7" WITH LOGIN PASSWORD 'new-secret'`).
		WillReturnResult(pgxmock.NewResult("ALTER ROLE", 0))

	err := b.EnsureRole(context.Background(), "u7", "new-secret")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureRolePasswordQuoting(t *testing.T) {
	mock := newMock(t)
	b := New(mock, testConfig())

	mock.ExpectQuery("SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1)").
		WithArgs("u7").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(`CREATE ROLE "u7" WITH LOGIN PASSWORD 'pa''ss'`).
		WillReturnResult(pgxmock.NewResult("CREATE ROLE", 0))

	err := b.EnsureRole(context.Background(), "u7", "pa'ss")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	mock := newMock(t)
	b := New(mock, testConfig())

	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS "schema_7_13"`).
		WillReturnResult(pgxmock.NewResult("CREATE SCHEMA", 0))

	err := b.EnsureSchema(context.Background(), "schema_7_13")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrant(t *testing.T) {
	mock := newMock(t)
	b := New(mock, testConfig())

	mock.ExpectExec(`GRANT CONNECT ON DATABASE "datacenter" TO "u7"`).
		WillReturnResult(pgxmock.NewResult("GRANT", 0))
	mock.ExpectExec(`GRANT USAGE ON SCHEMA "schema_7_13" TO "u7"`).
		WillReturnResult(pgxmock.NewResult("GRANT", 0))
	mock.ExpectExec(`GRANT SELECT, INSERT, UPDATE, DELETE ON ALL TABLES IN SCHEMA "schema_7_13" TO "u7"`).
		WillReturnResult(pgxmock.NewResult("GRANT", 0))
	mock.ExpectExec(`ALTER DEFAULT PRIVILEGES IN SCHEMA "schema_7_13" GRANT SELECT, INSERT, UPDATE, DELETE ON TABLES TO "u7"`).
		WillReturnResult(pgxmock.NewResult("ALTER DEFAULT PRIVILEGES", 0))

	err := b.Grant(context.Background(), "schema_7_13", "u7")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureForeignServer(t *testing.T) {
	mock := newMock(t)
	b := New(mock, testConfig())

	mock.ExpectExec("CREATE EXTENSION IF NOT EXISTS postgres_fdw").
		WillReturnResult(pgxmock.NewResult("CREATE EXTENSION", 0))
	mock.ExpectExec(`CREATE SERVER IF NOT EXISTS registry_bridge FOREIGN DATA WRAPPER postgres_fdw OPTIONS (host 'atlas-db', port '5432', dbname 'webapi')`).
		WillReturnResult(pgxmock.NewResult("CREATE SERVER", 0))
	mock.ExpectExec(`CREATE USER MAPPING IF NOT EXISTS FOR CURRENT_USER SERVER registry_bridge OPTIONS (user 'reader', password 'reader-secret')`).
		WillReturnResult(pgxmock.NewResult("CREATE USER MAPPING", 0))

	err := b.EnsureForeignServer(context.Background())
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImportCohortTables(t *testing.T) {
	mock := newMock(t)
	b := New(mock, testConfig())

	exec := func(query, tag string) {
		mock.ExpectExec(query).WillReturnResult(pgxmock.NewResult(tag, 0))
	}

	exec(`DROP SCHEMA IF EXISTS "schema_7_13_import" CASCADE`, "DROP SCHEMA")
	exec(`CREATE SCHEMA "schema_7_13_import"`, "CREATE SCHEMA")
	exec(`IMPORT FOREIGN SCHEMA "demo_cdm" LIMIT TO ("person", "condition_occurrence", "concept") FROM SERVER registry_bridge INTO "schema_7_13_import"`, "IMPORT FOREIGN SCHEMA")
	exec(`IMPORT FOREIGN SCHEMA "demo_cdm_results" LIMIT TO (cohort) FROM SERVER registry_bridge INTO "schema_7_13_import"`, "IMPORT FOREIGN SCHEMA")

	// person и condition_occurrence содержат person_id — копия фильтруется
	// по субъектам когорты; concept — справочник, копируется целиком.
	exec(`DROP TABLE IF EXISTS "schema_7_13"."person"`, "DROP TABLE")
	exec(`CREATE TABLE "schema_7_13"."person" AS SELECT * FROM "schema_7_13_import"."person" WHERE person_id IN (SELECT subject_id FROM "schema_7_13_import".cohort WHERE cohort_definition_id = 99)`, "SELECT 120")
	exec(`DROP TABLE IF EXISTS "schema_7_13"."condition_occurrence"`, "DROP TABLE")
	exec(`CREATE TABLE "schema_7_13"."condition_occurrence" AS SELECT * FROM "schema_7_13_import"."condition_occurrence" WHERE person_id IN (SELECT subject_id FROM "schema_7_13_import".cohort WHERE cohort_definition_id = 99)`, "SELECT 3000")
	exec(`DROP TABLE IF EXISTS "schema_7_13"."concept"`, "DROP TABLE")
	exec(`CREATE TABLE "schema_7_13"."concept" AS SELECT * FROM "schema_7_13_import"."concept"`, "SELECT 500000")

	exec(`DROP SCHEMA "schema_7_13_import" CASCADE`, "DROP SCHEMA")

	tables := []cdm.TableName{cdm.Person, cdm.ConditionOccurrence, cdm.Concept}
	err := b.ImportCohortTables(context.Background(), "schema_7_13", tables, 99)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImportCohortTablesEmpty(t *testing.T) {
	mock := newMock(t)
	b := New(mock, testConfig())

	// Пустой набор таблиц — ни одного обращения к БД
	err := b.ImportCohortTables(context.Background(), "schema_7_13", nil, 99)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDropSchema(t *testing.T) {
	mock := newMock(t)
	b := New(mock, testConfig())

	mock.ExpectExec(`DROP SCHEMA IF EXISTS "schema_7_13" CASCADE`).
		WillReturnResult(pgxmock.NewResult("DROP SCHEMA", 0))

	err := b.DropSchema(context.Background(), "schema_7_13")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
