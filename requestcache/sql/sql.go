// Package sql is a requestcache.Cache backed by PostgreSQL.
package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pardot/oidcop/requestcache"
)

var _ requestcache.Cache = (*Cache)(nil)

type Cache struct {
	db *sql.DB
}

// New returns a Cache using db, bringing the schema up to date first.
func New(ctx context.Context, db *sql.DB) (*Cache, error) {
	c := &Cache{
		db: db,
	}

	if err := c.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrating request cache schema: %w", err)
	}

	return c, nil
}

func (c *Cache) migrate(ctx context.Context) error {
	if _, err := c.db.ExecContext(
		ctx,
		`create table if not exists request_cache_migrations (
		idx int primary key not null,
		at timestamptz not null
		);`,
	); err != nil {
		return err
	}

	return c.execTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		// serialize concurrent migrators
		if _, err := tx.ExecContext(ctx, `lock table request_cache_migrations in exclusive mode`); err != nil {
			return err
		}

		var maxIdx sql.NullInt64
		if err := tx.QueryRowContext(ctx, `select max(idx) from request_cache_migrations;`).Scan(&maxIdx); err != nil {
			return err
		}

		i := 0
		if maxIdx.Valid {
			i = int(maxIdx.Int64) + 1
		}

		for ; i < len(migrations); i++ {
			if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
				return err
			}

			if _, err := tx.ExecContext(ctx, `insert into request_cache_migrations (idx, at) values ($1, now());`, i); err != nil {
				return err
			}
		}

		return nil
	})
}

func (c *Cache) Write(ctx context.Context, req *requestcache.CachedRequest) error {
	_, err := c.db.ExecContext(
		ctx,
		`insert into request_cache
		(request_uri, request, hash, expiry)
		values ($1, $2, $3, $4)
		on conflict (request_uri)
		do update set request=excluded.request, hash=excluded.hash, expiry=excluded.expiry`,
		req.RequestURI, req.Request, req.Hash, req.Expiry,
	)
	return err
}

func (c *Cache) Find(ctx context.Context, requestURI string) (*requestcache.CachedRequest, error) {
	cr := &requestcache.CachedRequest{RequestURI: requestURI}
	var expiry sql.NullTime

	if err := c.db.QueryRowContext(
		ctx,
		`select request, hash, expiry from request_cache where request_uri=$1`,
		requestURI,
	).Scan(&cr.Request, &cr.Hash, &expiry); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &errNotFound{err}
		}

		return nil, err
	}

	if expiry.Valid {
		cr.Expiry = &expiry.Time
	}

	return cr, nil
}

func (c *Cache) Evict(ctx context.Context, requestURI string) error {
	_, err := c.db.ExecContext(
		ctx,
		`delete from request_cache where request_uri=$1`,
		requestURI,
	)
	return err
}

// Reap deletes every entry that has expired, returning how many were removed.
func (c *Cache) Reap(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, `delete from request_cache where expiry < now()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (c *Cache) execTx(ctx context.Context, f func(ctx context.Context, tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := f(ctx, tx); err != nil {
		// Not much we can do about an error here, but at least the database will
		// eventually cancel it on its own if it fails
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

var migrations = []string{
	`create table request_cache(
		request_uri text primary key not null,
		request text not null,
		hash text not null,
		expiry timestamptz
	);

	create index request_cache_expiry on request_cache (expiry);
	`,
}
