package main

import (
	"context"
	"database/sql"
	"github.com/andygello555/try-playwright/db/models"
	"github.com/andygello555/try-playwright/workertypes"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"io"
)

// shareImporter is implemented by models.GormStore.
type shareImporter interface {
	ImportShare(ctx context.Context, share *models.Share) (bool, error)
}

// readLegacyShares reads all the shares from the SQLite database at the given path. Legacy shares are all JavaScript.
func readLegacyShares(path string) (shares []*models.Share, err error) {
	var legacy *sql.DB
	if legacy, err = sql.Open("sqlite3", path); err != nil {
		return nil, errors.Wrapf(err, "could not open %s", path)
	}
	defer func() {
		if closeErr := legacy.Close(); closeErr != nil && err == nil {
			err = errors.Wrapf(closeErr, "could not close %s", path)
		}
	}()

	var rows *sql.Rows
	if rows, err = legacy.Query("SELECT id, code FROM shares"); err != nil {
		return nil, errors.Wrap(err, "could not query shares")
	}
	defer rows.Close()

	shares = make([]*models.Share, 0)
	for rows.Next() {
		share := &models.Share{Language: workertypes.JavaScript}
		if err = rows.Scan(&share.ID, &share.Code); err != nil {
			return nil, errors.Wrapf(err, "could not scan share no. %d", len(shares)+1)
		}
		shares = append(shares, share)
	}
	return shares, errors.Wrap(rows.Err(), "could not iterate over shares")
}

// migrateShares imports each share using the importer, drawing a progress bar to out. Shares whose IDs already exist
// are skipped. The number of shares that were imported is returned.
func migrateShares(ctx context.Context, shares []*models.Share, importer shareImporter, out io.Writer) (migrated int, err error) {
	bar := progressbar.NewOptions(
		len(shares),
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription("migrating shares"),
		progressbar.OptionShowCount(),
	)
	for _, share := range shares {
		var imported bool
		if imported, err = importer.ImportShare(ctx, share); err != nil {
			return migrated, err
		}
		if imported {
			migrated++
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	return migrated, nil
}
