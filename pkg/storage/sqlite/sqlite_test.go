package sqlite_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/inkwell-hq/inkwell/pkg/storage/migrate"
	"github.com/inkwell-hq/inkwell/pkg/storage/sqlcommon"
	"github.com/inkwell-hq/inkwell/pkg/storage/sqlite"
	"github.com/inkwell-hq/inkwell/pkg/storage/test"
)

func TestSqliteDatastore(t *testing.T) {
	uri := filepath.Join(t.TempDir(), "inkwell.db")

	err := migrate.RunMigrations(migrate.MigrationConfig{
		Engine: "sqlite",
		URI:    uri,
	})
	require.NoError(t, err)

	ds, err := sqlite.New(uri, sqlcommon.NewConfig())
	require.NoError(t, err)
	defer ds.Close()

	test.RunAllTests(t, ds)
}

func TestPrepareDSN(t *testing.T) {
	tests := []struct {
		name string
		uri  string
		want string
	}{
		{
			name: "defaults_added",
			uri:  "test.db",
			want: "test.db?_pragma=journal_mode%28WAL%29&_pragma=busy_timeout%28100%29&_txlock=immediate",
		},
		{
			name: "existing_pragmas_kept",
			uri:  "test.db?_pragma=journal_mode(DELETE)",
			want: "test.db?_pragma=journal_mode%28DELETE%29&_pragma=busy_timeout%28100%29&_txlock=immediate",
		},
		{
			name: "existing_txlock_kept",
			uri:  "test.db?_txlock=deferred",
			want: "test.db?_pragma=journal_mode%28WAL%29&_pragma=busy_timeout%28100%29&_txlock=deferred",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := sqlite.PrepareDSN(tc.uri)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}
