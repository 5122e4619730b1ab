package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrMigrationDrift: файл уже применённой миграции изменился после применения.
var ErrMigrationDrift = errors.New("applied migration was modified")

const (
	migrationsDir    = "sql/migrations"
	migrationLockKey = int64(52700125)
	migrationTimeout = 5 * time.Second
)

// Колонка checksum добавлена позже: у старых записей она пустая и заполняется при следующем up.
var migrationTableDDL = []string{
	`CREATE TABLE IF NOT EXISTS schema_migrations (
		version BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`ALTER TABLE schema_migrations ADD COLUMN IF NOT EXISTS checksum TEXT NOT NULL DEFAULT ''`,
}

var (
	//go:embed sql/migrations/*.sql
	migrationsFS embed.FS

	migrationFileRe = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)
)

type migrationDirection string

const (
	migrationUp   migrationDirection = "up"
	migrationDown migrationDirection = "down"
)

type migration struct {
	Version  int64
	Name     string
	UpSQL    string
	DownSQL  string
	Checksum string
}

func (m migration) String() string {
	return fmt.Sprintf("%04d_%s", m.Version, m.Name)
}

// appliedMigration — строка schema_migrations.
type appliedMigration struct {
	Version  int64
	Checksum string
}

// MigrationState описывает схему относительно встроенных миграций.
type MigrationState struct {
	Version int64
	Applied int
	Pending []string
	// Drifted — применённые миграции, чей файл с тех пор изменился.
	Drifted []string
}

// MigrateUp применяет up-миграции по возрастанию версии; steps=0 применяет все.
// Если уже применённая миграция изменилась, ничего не применяется и возвращается ErrMigrationDrift.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.migrate(ctx, migrationUp, steps)
}

// MigrateDown откатывает последние steps миграций; steps<=0 означает один шаг.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.migrate(ctx, migrationDown, steps)
}

// MigrationStatus сверяет schema_migrations со встроенными файлами.
func (s *Store) MigrationStatus(ctx context.Context) (MigrationState, error) {
	if s == nil || s.db == nil {
		return MigrationState{}, errStoreNotInitialized
	}
	migrations, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		return MigrationState{}, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, migrationTimeout)
	defer cancel()

	conn, err := s.db.Conn(queryCtx)
	if err != nil {
		return MigrationState{}, fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	if err := ensureMigrationTable(queryCtx, conn); err != nil {
		return MigrationState{}, err
	}
	applied, err := loadApplied(queryCtx, conn)
	if err != nil {
		return MigrationState{}, err
	}
	return compareMigrations(migrations, applied), nil
}

// compareMigrations не обращается к базе, поэтому покрыт обычными тестами.
func compareMigrations(migrations []migration, applied []appliedMigration) MigrationState {
	byVersion := make(map[int64]appliedMigration, len(applied))
	for _, a := range applied {
		byVersion[a.Version] = a
	}

	state := MigrationState{Applied: len(applied), Pending: []string{}}
	for _, a := range applied {
		state.Version = max(state.Version, a.Version)
	}
	for _, m := range migrations {
		a, ok := byVersion[m.Version]
		switch {
		case !ok:
			state.Pending = append(state.Pending, m.String())
		case a.Checksum != "" && a.Checksum != m.Checksum:
			state.Drifted = append(state.Drifted, m.String())
		}
	}
	return state
}

func (s *Store) migrate(ctx context.Context, direction migrationDirection, steps int) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	if direction != migrationUp && direction != migrationDown {
		return fmt.Errorf("unsupported migration direction: %s", direction)
	}
	migrations, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	// Advisory lock держится на соединении: параллельные экземпляры ждут друг друга.
	lockCtx, cancel := context.WithTimeout(ctx, migrationTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLockKey)
	}()

	if err := ensureMigrationTable(ctx, conn); err != nil {
		return err
	}
	applied, err := loadApplied(ctx, conn)
	if err != nil {
		return err
	}

	if direction == migrationDown {
		return rollback(ctx, conn, migrations, applied, steps)
	}
	if state := compareMigrations(migrations, applied); len(state.Drifted) > 0 {
		return fmt.Errorf("%w: %s", ErrMigrationDrift, strings.Join(state.Drifted, ", "))
	}
	return apply(ctx, conn, migrations, applied, steps)
}

func apply(ctx context.Context, conn *sql.Conn, migrations []migration, applied []appliedMigration, steps int) error {
	done := make(map[int64]string, len(applied))
	for _, a := range applied {
		done[a.Version] = a.Checksum
	}

	count := 0
	for _, m := range migrations {
		checksum, ok := done[m.Version]
		if ok {
			if checksum == "" {
				if _, err := conn.ExecContext(ctx,
					`UPDATE schema_migrations SET checksum = $2 WHERE version = $1`, m.Version, m.Checksum); err != nil {
					return fmt.Errorf("backfill checksum %s: %w", m, err)
				}
			}
			continue
		}
		if steps > 0 && count >= steps {
			continue
		}
		err := inTx(ctx, conn, m.UpSQL, `
			INSERT INTO schema_migrations (version, name, checksum, applied_at)
			VALUES ($1, $2, $3, NOW())
		`, m.Version, m.Name, m.Checksum)
		if err != nil {
			return fmt.Errorf("up %s: %w", m, err)
		}
		count++
	}
	return nil
}

func rollback(ctx context.Context, conn *sql.Conn, migrations []migration, applied []appliedMigration, steps int) error {
	known := make(map[int64]migration, len(migrations))
	for _, m := range migrations {
		known[m.Version] = m
	}

	// loadApplied отдаёт версии по возрастанию.
	for i := len(applied) - 1; i >= 0 && steps > 0; i, steps = i-1, steps-1 {
		m, ok := known[applied[i].Version]
		if !ok {
			return fmt.Errorf("cannot rollback unknown migration version %d", applied[i].Version)
		}
		if err := inTx(ctx, conn, m.DownSQL, `DELETE FROM schema_migrations WHERE version = $1`, m.Version); err != nil {
			return fmt.Errorf("down %s: %w", m, err)
		}
	}
	return nil
}

// inTx выполняет тело миграции и запись в schema_migrations одной транзакцией.
func inTx(ctx context.Context, conn *sql.Conn, body, record string, args ...any) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, body); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("execute: %w", err)
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func ensureMigrationTable(ctx context.Context, conn *sql.Conn) error {
	for _, ddl := range migrationTableDDL {
		if _, err := conn.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure migration table: %w", err)
		}
	}
	return nil
}

func loadApplied(ctx context.Context, conn *sql.Conn) ([]appliedMigration, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version, checksum FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	var applied []appliedMigration
	for rows.Next() {
		var a appliedMigration
		if err := rows.Scan(&a.Version, &a.Checksum); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied = append(applied, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}

// loadMigrationsFromFS собирает пары up/down из migrationsDir и сортирует их по версии.
func loadMigrationsFromFS(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := make(map[int64]*migration)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		if err := addMigrationFile(fsys, byVersion, entry.Name()); err != nil {
			return nil, err
		}
	}
	if len(byVersion) == 0 {
		return nil, errors.New("no migration files found")
	}

	migrations := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" || m.DownSQL == "" {
			return nil, fmt.Errorf("migration %s must have both up and down files", m)
		}
		sum := sha256.Sum256([]byte(m.UpSQL))
		m.Checksum = hex.EncodeToString(sum[:])
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

func addMigrationFile(fsys fs.FS, byVersion map[int64]*migration, name string) error {
	parts := migrationFileRe.FindStringSubmatch(name)
	if parts == nil {
		return fmt.Errorf("invalid migration file name: %s", name)
	}
	version, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return fmt.Errorf("parse migration version from %s: %w", name, err)
	}

	raw, err := fs.ReadFile(fsys, path.Join(migrationsDir, name))
	if err != nil {
		return fmt.Errorf("read migration file %s: %w", name, err)
	}
	body := strings.TrimSpace(string(raw))
	if body == "" {
		return fmt.Errorf("migration file is empty: %s", name)
	}

	m, ok := byVersion[version]
	if !ok {
		m = &migration{Version: version, Name: parts[2]}
		byVersion[version] = m
	}
	if m.Name != parts[2] {
		return fmt.Errorf("migration name mismatch for version %d: %s vs %s", version, m.Name, parts[2])
	}

	target := &m.UpSQL
	if migrationDirection(parts[3]) == migrationDown {
		target = &m.DownSQL
	}
	if *target != "" {
		return fmt.Errorf("duplicate %s migration for version %d", parts[3], version)
	}
	*target = body
	return nil
}
