package cache

import (
	"context"
	"database/sql"

	"github.com/bpt-pm/bpt/internal/dbutil"
)

var migrations = []dbutil.Migration{
	{
		ID:   1,
		Name: "create bpt_crs_remotes and bpt_crs_packages",
		Up: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `
				CREATE TABLE bpt_crs_remotes (
					remote_id INTEGER PRIMARY KEY,
					url TEXT NOT NULL,
					unique_name TEXT NOT NULL UNIQUE,
					revno INTEGER NOT NULL,
					etag TEXT,
					last_modified TEXT,
					resource_time INTEGER,
					cache_control TEXT
				);

				CREATE TABLE bpt_crs_packages (
					pkg_id INTEGER PRIMARY KEY,
					json TEXT NOT NULL,
					remote_id INTEGER NOT NULL REFERENCES bpt_crs_remotes ON DELETE CASCADE,
					remote_revno INTEGER NOT NULL,
					name TEXT NOT NULL GENERATED ALWAYS AS (json_extract(json, '$.name')) STORED,
					version TEXT NOT NULL GENERATED ALWAYS AS (json_extract(json, '$.version')) STORED,
					revision INTEGER NOT NULL GENERATED ALWAYS AS (json_extract(json, '$.revision')) STORED,
					UNIQUE (name, version, revision, remote_id)
				);
			`)
			return err
		},
	},
}

func ensureSessionViews(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TEMPORARY TABLE IF NOT EXISTS bpt_crs_enabled_remotes (
			enablement_id INTEGER PRIMARY KEY,
			remote_id INTEGER NOT NULL UNIQUE ON CONFLICT IGNORE
		);
		CREATE TEMPORARY VIEW IF NOT EXISTS enabled_packages AS
			SELECT * FROM bpt_crs_packages
			JOIN bpt_crs_enabled_remotes USING (remote_id)
			ORDER BY enablement_id ASC;
	`)
	return err
}
