// Пакет bridge — DDL-операции provisioning в PostgreSQL дата-центра:
// роли исследователей, изолированные схемы, гранты и копирование
// таблиц CDM из реестра через postgres_fdw.
//
// Параметры в DDL не поддерживаются, поэтому идентификаторы
// экранируются через pgx.Identifier, строковые литералы — удвоением
// кавычек, а целочисленные значения подставляются напрямую.
// Все операции выполняются на одном соединении (внутри транзакции),
// чтобы SET LOCAL statement_timeout действовал на долгие копии таблиц.
package bridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/godatacenter/internal/domain/cdm"
	"github.com/bigkaa/godatacenter/internal/repository"
)

// Имя foreign server, через который читается реестр.
const serverName = "registry_bridge"

// Config — параметры моста между БД дата-центра и реестром.
type Config struct {
	// Database — имя БД дата-центра (для GRANT CONNECT)
	Database string
	// RegistryHost — хост PostgreSQL реестра
	RegistryHost string
	// RegistryPort — порт PostgreSQL реестра
	RegistryPort int
	// RegistryDatabase — имя БД реестра
	RegistryDatabase string
	// RegistryUser — пользователь реестра для user mapping
	RegistryUser string
	// RegistryPassword — пароль пользователя реестра
	RegistryPassword string
	// CDMSchema — схема CDM-данных в реестре
	CDMSchema string
	// ResultsSchema — схема результатов когорт в реестре
	ResultsSchema string
	// StatementTimeout — таймаут DDL-операций
	StatementTimeout time.Duration
}

// Bridge выполняет DDL provisioning на переданном соединении.
type Bridge struct {
	db  repository.DBTX
	cfg Config
}

// New создаёт Bridge поверх соединения db.
// Для provisioning db должен быть транзакцией: SET LOCAL и откат
// частично созданных объектов требуют одного соединения.
func New(db repository.DBTX, cfg Config) *Bridge {
	return &Bridge{db: db, cfg: cfg}
}

// SetStatementTimeout выставляет таймаут DDL на текущую транзакцию.
func (b *Bridge) SetStatementTimeout(ctx context.Context) error {
	query := fmt.Sprintf("SET LOCAL statement_timeout = %d", b.cfg.StatementTimeout.Milliseconds())
	if _, err := b.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("ошибка установки statement_timeout: %w", err)
	}
	return nil
}

// EnsureRole создаёт роль исследователя с паролем или, если роль уже
// существует, перевыпускает её пароль. Идемпотентна.
func (b *Bridge) EnsureRole(ctx context.Context, username, password string) error {
	var exists bool
	err := b.db.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1)", username,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("ошибка проверки роли %s: %w", username, err)
	}

	var query string
	if exists {
		query = fmt.Sprintf("ALTER ROLE %s WITH LOGIN PASSWORD %s",
			quoteIdent(username), quoteLiteral(password))
	} else {
		query = fmt.Sprintf("CREATE ROLE %s WITH LOGIN PASSWORD %s",
			quoteIdent(username), quoteLiteral(password))
	}

	if _, err := b.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("ошибка создания роли %s: %w", username, err)
	}
	return nil
}

// EnsureSchema создаёт схему, если её ещё нет.
func (b *Bridge) EnsureSchema(ctx context.Context, schema string) error {
	query := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quoteIdent(schema))
	if _, err := b.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("ошибка создания схемы %s: %w", schema, err)
	}
	return nil
}

// Grant выдаёт роли права на работу со схемой: подключение к БД,
// использование схемы, SELECT/INSERT/UPDATE/DELETE на существующие и
// будущие таблицы. Копии таблиц принадлежат исследователю, поэтому
// права полные, а не только на чтение.
func (b *Bridge) Grant(ctx context.Context, schema, username string) error {
	user := quoteIdent(username)
	sch := quoteIdent(schema)

	statements := []string{
		fmt.Sprintf("GRANT CONNECT ON DATABASE %s TO %s", quoteIdent(b.cfg.Database), user),
		fmt.Sprintf("GRANT USAGE ON SCHEMA %s TO %s", sch, user),
		fmt.Sprintf("GRANT SELECT, INSERT, UPDATE, DELETE ON ALL TABLES IN SCHEMA %s TO %s", sch, user),
		fmt.Sprintf("ALTER DEFAULT PRIVILEGES IN SCHEMA %s GRANT SELECT, INSERT, UPDATE, DELETE ON TABLES TO %s", sch, user),
	}

	for _, query := range statements {
		if _, err := b.db.Exec(ctx, query); err != nil {
			return fmt.Errorf("ошибка выдачи прав роли %s: %w", username, err)
		}
	}
	return nil
}

// EnsureForeignServer создаёт расширение postgres_fdw, foreign server
// реестра и user mapping для текущего пользователя. Идемпотентна.
func (b *Bridge) EnsureForeignServer(ctx context.Context) error {
	statements := []string{
		"CREATE EXTENSION IF NOT EXISTS postgres_fdw",
		fmt.Sprintf(
			"CREATE SERVER IF NOT EXISTS %s FOREIGN DATA WRAPPER postgres_fdw OPTIONS (host %s, port '%d', dbname %s)",
			serverName,
			quoteLiteral(b.cfg.RegistryHost),
			b.cfg.RegistryPort,
			quoteLiteral(b.cfg.RegistryDatabase),
		),
		fmt.Sprintf(
			"CREATE USER MAPPING IF NOT EXISTS FOR CURRENT_USER SERVER %s OPTIONS (user %s, password %s)",
			serverName,
			quoteLiteral(b.cfg.RegistryUser),
			quoteLiteral(b.cfg.RegistryPassword),
		),
	}

	for _, query := range statements {
		if _, err := b.db.Exec(ctx, query); err != nil {
			return fmt.Errorf("ошибка настройки foreign server: %w", err)
		}
	}
	return nil
}

// ImportCohortTables копирует таблицы CDM из реестра в схему targetSchema,
// ограничивая содержимое субъектами когорты cohortExtID.
//
// Порядок: создаётся временная схема, в неё через postgres_fdw
// импортируются запрошенные таблицы CDM и таблица членства когорты,
// затем таблицы материализуются CREATE TABLE AS SELECT: таблицы
// с person_id фильтруются по субъектам когорты, справочные таблицы
// копируются целиком. Временная схема удаляется в конце.
func (b *Bridge) ImportCohortTables(ctx context.Context, targetSchema string, tables []cdm.TableName, cohortExtID int64) error {
	if len(tables) == 0 {
		return nil
	}

	tmpSchema := targetSchema + "_import"
	tmp := quoteIdent(tmpSchema)
	target := quoteIdent(targetSchema)

	setup := []string{
		fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", tmp),
		fmt.Sprintf("CREATE SCHEMA %s", tmp),
		fmt.Sprintf(
			"IMPORT FOREIGN SCHEMA %s LIMIT TO (%s) FROM SERVER %s INTO %s",
			quoteIdent(b.cfg.CDMSchema), tableList(tables), serverName, tmp,
		),
		fmt.Sprintf(
			"IMPORT FOREIGN SCHEMA %s LIMIT TO (cohort) FROM SERVER %s INTO %s",
			quoteIdent(b.cfg.ResultsSchema), serverName, tmp,
		),
	}
	for _, query := range setup {
		if _, err := b.db.Exec(ctx, query); err != nil {
			return fmt.Errorf("ошибка подготовки импорта: %w", err)
		}
	}

	for _, t := range tables {
		name := quoteIdent(t.SQLName())

		drop := fmt.Sprintf("DROP TABLE IF EXISTS %s.%s", target, name)
		if _, err := b.db.Exec(ctx, drop); err != nil {
			return fmt.Errorf("ошибка удаления старой копии %s: %w", t.SQLName(), err)
		}

		var create string
		if cdm.HasPersonID(t) {
			create = fmt.Sprintf(
				"CREATE TABLE %s.%s AS SELECT * FROM %s.%s WHERE person_id IN (SELECT subject_id FROM %s.cohort WHERE cohort_definition_id = %d)",
				target, name, tmp, name, tmp, cohortExtID,
			)
		} else {
			// Справочные таблицы без person_id копируются целиком
			create = fmt.Sprintf(
				"CREATE TABLE %s.%s AS SELECT * FROM %s.%s",
				target, name, tmp, name,
			)
		}
		if _, err := b.db.Exec(ctx, create); err != nil {
			return fmt.Errorf("ошибка копирования таблицы %s: %w", t.SQLName(), err)
		}
	}

	drop := fmt.Sprintf("DROP SCHEMA %s CASCADE", tmp)
	if _, err := b.db.Exec(ctx, drop); err != nil {
		return fmt.Errorf("ошибка удаления временной схемы: %w", err)
	}

	return nil
}

// DropSchema удаляет схему заявки со всем содержимым.
func (b *Bridge) DropSchema(ctx context.Context, schema string) error {
	query := fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", quoteIdent(schema))
	if _, err := b.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("ошибка удаления схемы %s: %w", schema, err)
	}
	return nil
}

// quoteIdent экранирует идентификатор PostgreSQL.
func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// quoteLiteral экранирует строковый литерал PostgreSQL.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// tableList формирует список таблиц для IMPORT FOREIGN SCHEMA ... LIMIT TO.
func tableList(tables []cdm.TableName) string {
	names := make([]string, 0, len(tables))
	for _, t := range tables {
		names = append(names, quoteIdent(t.SQLName()))
	}
	return strings.Join(names, ", ")
}
