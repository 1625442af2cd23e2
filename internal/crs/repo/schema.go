package repo

import (
	"context"
	"database/sql"

	"github.com/bpt-pm/bpt/internal/dbutil"
)

var migrations = []dbutil.Migration{
	{
		ID:   1,
		Name: "create crs_repo_self and crs_repo_packages",
		Up: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `
				CREATE TABLE crs_repo_self (
					rowid INTEGER PRIMARY KEY,
					name TEXT NOT NULL
				);

				CREATE TABLE crs_repo_packages (
					package_id INTEGER PRIMARY KEY,
					meta_json TEXT NOT NULL,
					name TEXT NOT NULL
						GENERATED ALWAYS AS (json_extract(meta_json, '$.name')) VIRTUAL,
					version TEXT NOT NULL
						GENERATED ALWAYS AS (json_extract(meta_json, '$.version')) VIRTUAL,
					revision INTEGER NOT NULL
						GENERATED ALWAYS AS (json_extract(meta_json, '$.revision')) VIRTUAL,
					UNIQUE (name, version, revision)
				);
			`)
			return err
		},
	},
}

// selfRowID is the fixed rowid of the repository's single identity row,
// carried over from the original implementation's magic constant.
const selfRowID = 1729
