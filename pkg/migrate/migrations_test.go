package migrate_test

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/welfare-engine/pkg/migrate"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	fsys := migrate.Migrations()
	matches, err := fs.Glob(fsys, "*_"+suffix+".sql")
	require.NoError(t, err)
	require.Len(t, matches, 1, "expected exactly one %s migration", suffix)

	data, err := fs.ReadFile(fsys, matches[0])
	require.NoError(t, err)
	return string(data)
}

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	require.NoError(t, migrate.Validate(migrate.Migrations()))
	require.NoError(t, migrate.Validate(os.DirFS("migrations")))
}

func TestLedgerMigrationsEnforceNonNegativeAmounts(t *testing.T) {
	checks := map[string][]string{
		"create_residents": {
			"CREATE TABLE IF NOT EXISTS residents",
			"CHECK (balance >= 0)",
			"DROP TABLE IF EXISTS residents",
		},
		"create_store_items": {
			"CREATE TABLE IF NOT EXISTS store_items",
			"CHECK (stock >= 0)",
			"CHECK (price >= 0)",
		},
		"create_wallet_applications": {
			"UNIQUE (idempotency_key, reason)",
		},
		"create_checkouts": {
			"UNIQUE (idempotency_key)",
		},
	}

	for suffix, subs := range checks {
		content := readMigration(t, suffix)
		for _, sub := range subs {
			if !strings.Contains(content, sub) {
				t.Errorf("%s: missing expected statement %q", suffix, sub)
			}
		}
	}
}

func TestAuditMigrationIsAppendOnly(t *testing.T) {
	content := readMigration(t, "create_audit_log_entries")
	require.Contains(t, content, "BEFORE UPDATE OR DELETE ON audit_log_entries")
	require.Contains(t, content, "id bigserial PRIMARY KEY")
}

func TestCreateWritesSluggedMigration(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 4, 1, 12, 30, 0, 0, time.UTC)
	path, err := migrate.Create(dir, "Add Resident Notes!", at)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "20260401123000_add_resident_notes.sql"), path)
	require.NoError(t, migrate.Validate(os.DirFS(dir)))

	_, err = migrate.Create(dir, "add resident notes", at)
	require.Error(t, err, "same version and name must not overwrite")

	_, err = migrate.Create(dir, "!!!", at)
	require.Error(t, err)
}

func TestValidateRejectsBadFiles(t *testing.T) {
	cases := map[string]map[string]string{
		"short version": {"1_bad.sql": "-- +goose Up\n-- +goose Down\n"},
		"missing down":  {"20260101000000_only_up.sql": "-- +goose Up\n"},
		"duplicate version": {
			"20260101000000_first.sql":  "-- +goose Up\n-- +goose Down\n",
			"20260101000000_second.sql": "-- +goose Up\n-- +goose Down\n",
		},
	}
	for name, files := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			for file, body := range files {
				require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(body), 0o644))
			}
			require.Error(t, migrate.Validate(os.DirFS(dir)))
		})
	}
}

func TestRunnerListsEmbeddedVersionsInOrder(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:runner_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	runner, err := migrate.NewRunner(sqlDB, "")
	require.NoError(t, err)
	versions := runner.Versions()
	require.Len(t, versions, 9)
	require.Equal(t, int64(20260105090000), versions[0])
	require.Equal(t, int64(20260112090000), versions[len(versions)-1])

	_, err = migrate.NewRunner(nil, "")
	require.Error(t, err)
}

func TestAutoMigrateModelsOnSQLite(t *testing.T) {
	dsn := "file:migrate_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, migrate.AutoMigrateModels(conn))
	for _, table := range []string{"residents", "store_items", "tasks", "product_requests", "audit_log_entries", "wallet_applications", "checkouts", "outbox_events", "outbox_dlq"} {
		require.True(t, conn.Migrator().HasTable(table), "missing table %s", table)
	}
}
