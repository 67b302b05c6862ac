// Package postgres stores the message log in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/ssbc/ssb-viewer/ssb"
)

// Postgres provides storage in PostgreSQL.
type Postgres struct {
	bun *bun.DB
}

// Connect connects to the database and ping the DB to ensure the connection is
// working.
func Connect(ctx context.Context, connStr string) (*Postgres, error) {
	sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	db := bun.NewDB(sqlDB, pgdialect.New())
	return &Postgres{
		bun: db,
	}, nil
}

// Close closes the connection pool.
func (pg *Postgres) Close() error {
	return pg.bun.Close()
}

// CreateSchema creates the tables and indexes if they do not exist.
func (pg *Postgres) CreateSchema(ctx context.Context) error {
	for _, model := range []any{(*message)(nil), (*link)(nil)} {
		if _, err := pg.bun.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	indexes := []struct {
		model   any
		name    string
		columns []string
	}{
		{(*message)(nil), "messages_author_sequence_idx", []string{"author", "sequence"}},
		{(*link)(nil), "links_dest_rel_idx", []string{"dest", "rel"}},
	}
	for _, idx := range indexes {
		_, err := pg.bun.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			Column(idx.columns...).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}

// InsertMessage appends a message and its outgoing links. Messages already
// stored are left untouched.
func (pg *Postgres) InsertMessage(ctx context.Context, msg ssb.Message) error {
	if !ssb.IsMsg(msg.Key) {
		return fmt.Errorf("insert %q: %w", msg.Key, ssb.ErrInvalidID)
	}
	m := fromMessage(msg)
	links := ssb.ExtractLinks(msg.Value.RawContent)

	err := pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewInsert().Model(m).On("CONFLICT (key) DO NOTHING").Exec(ctx)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 || len(links) == 0 {
			return err
		}
		rows := make([]link, len(links))
		for i, l := range links {
			rows[i] = link{Source: msg.Key, Rel: l.Rel, Dest: l.Dest}
		}
		if _, err := tx.NewInsert().Model(&rows).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
			return fmt.Errorf("insert links: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert %s: %w", msg.Key, err)
	}
	return nil
}

// Get returns the message with the given key.
func (pg *Postgres) Get(ctx context.Context, id string) (ssb.Message, error) {
	if !ssb.IsMsg(id) {
		return ssb.Message{}, fmt.Errorf("get %q: %w", id, ssb.ErrInvalidID)
	}
	var m message
	err := pg.bun.NewSelect().Model(&m).Where("m.key = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return ssb.Message{}, fmt.Errorf("get %s: %w", id, ssb.ErrNotFound)
	}
	if err != nil {
		return ssb.Message{}, fmt.Errorf("get %s: %w", id, err)
	}
	return m.SSBMessage(), nil
}

// Links streams the links pointing at q.Dest in receive order of their
// sources.
func (pg *Postgres) Links(ctx context.Context, q ssb.LinkQuery, fn func(ssb.Link) error) error {
	sel := pg.bun.NewSelect().
		Model((*message)(nil)).
		ColumnExpr("l.source AS link_source, l.rel AS link_rel, l.dest AS link_dest").
		ColumnExpr("m.*").
		Join("JOIN links AS l ON l.source = m.key").
		Where("l.dest = ?", q.Dest).
		Order("m.rx ASC")
	if q.Rel != "" {
		sel = sel.Where("l.rel = ?", q.Rel)
	}

	rows, err := sel.Rows(ctx)
	if err != nil {
		return fmt.Errorf("links %s: %w", q.Dest, err)
	}
	defer rows.Close()
	for rows.Next() {
		var row linkRow
		if err := pg.bun.ScanRow(ctx, rows, &row); err != nil {
			return fmt.Errorf("scan link: %w", err)
		}
		l := ssb.Link{Source: row.LinkSource, Rel: row.LinkRel, Dest: row.LinkDest}
		if q.Values {
			msg := row.message.SSBMessage()
			l.Message = &msg
		}
		if err := fn(l); err != nil {
			return err
		}
	}
	return rows.Err()
}

// UserStream streams the messages of one feed in sequence order.
func (pg *Postgres) UserStream(ctx context.Context, feed string, q ssb.StreamQuery, fn func(ssb.Message) error) error {
	if !ssb.IsFeed(feed) {
		return fmt.Errorf("stream %q: %w", feed, ssb.ErrInvalidID)
	}
	sel := pg.bun.NewSelect().
		Model((*message)(nil)).
		Where("m.author = ?", feed).
		Order(order("m.sequence", q.Reverse))
	return pg.stream(ctx, sel, q.Limit, fn)
}

// LogStream streams every message in receive order.
func (pg *Postgres) LogStream(ctx context.Context, q ssb.StreamQuery, fn func(ssb.Message) error) error {
	sel := pg.bun.NewSelect().
		Model((*message)(nil)).
		Order(order("m.rx", q.Reverse))
	return pg.stream(ctx, sel, q.Limit, fn)
}

func order(column string, reverse bool) string {
	if reverse {
		return column + " DESC"
	}
	return column + " ASC"
}

func (pg *Postgres) stream(ctx context.Context, sel *bun.SelectQuery, limit int, fn func(ssb.Message) error) error {
	if limit > 0 {
		sel = sel.Limit(limit)
	}
	rows, err := sel.Rows(ctx)
	if err != nil {
		return fmt.Errorf("stream: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m message
		if err := pg.bun.ScanRow(ctx, rows, &m); err != nil {
			return fmt.Errorf("scan message: %w", err)
		}
		if err := fn(m.SSBMessage()); err != nil {
			return err
		}
	}
	return rows.Err()
}
