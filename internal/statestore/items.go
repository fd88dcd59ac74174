package statestore

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"stockwatch/internal/catalog"
)

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const itemColumns = "code, title, price, in_stock, url, first_seen, last_seen"

// upsertItemSQL keeps first_seen from the stored row and never lets
// last_seen move backwards.
const upsertItemSQL = `INSERT INTO items (` + itemColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (code) DO UPDATE SET
    title = excluded.title,
    price = excluded.price,
    in_stock = excluded.in_stock,
    url = excluded.url,
    last_seen = CASE WHEN excluded.last_seen > items.last_seen THEN excluded.last_seen ELSE items.last_seen END`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(scanner rowScanner) (catalog.Item, error) {
	var (
		item      catalog.Item
		firstSeen dbTime
		lastSeen  dbTime
	)
	if err := scanner.Scan(&item.Code, &item.Title, &item.Price, &item.InStock, &item.URL, &firstSeen, &lastSeen); err != nil {
		return catalog.Item{}, err
	}
	item.FirstSeen = firstSeen.Time
	item.LastSeen = lastSeen.Time
	return item, nil
}

// GetAll returns the full persisted state keyed by item code.
func (s *Store) GetAll(ctx context.Context) (map[string]catalog.Item, error) {
	ctx = ensureContext(ctx)
	items := make(map[string]catalog.Item)
	err := s.retry(ctx, func() error {
		clear(items)
		rows, err := s.db.QueryContext(ctx, "SELECT "+itemColumns+" FROM items")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			item, err := scanItem(rows)
			if err != nil {
				return err
			}
			items[item.Code] = item
		}
		return rows.Err()
	})
	if err != nil {
		return nil, dbError("get all items", err)
	}
	return items, nil
}

// Get returns the stored item for code, or nil when the code is unknown.
func (s *Store) Get(ctx context.Context, code string) (*catalog.Item, error) {
	ctx = ensureContext(ctx)
	query := s.dialect.rebind("SELECT " + itemColumns + " FROM items WHERE code = ?")
	item, err := scanItem(s.db.QueryRowContext(ctx, query, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("get item", err)
	}
	return &item, nil
}

// CountItems returns the number of tracked items.
func (s *Store) CountItems(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ensureContext(ctx), "SELECT COUNT(1) FROM items").Scan(&count); err != nil {
		return 0, dbError("count items", err)
	}
	return count, nil
}

// ItemFilter narrows ListItems. A nil InStock lists every item; Limit
// defaults to 50.
type ItemFilter struct {
	InStock *bool
	Limit   int
	Offset  int
}

// ListItems returns one page of tracked items ordered by code, plus the
// number of items matching the filter.
func (s *Store) ListItems(ctx context.Context, filter ItemFilter) ([]catalog.Item, int, error) {
	ctx = ensureContext(ctx)
	var (
		where string
		args  []any
	)
	if filter.InStock != nil {
		where = " WHERE in_stock = ?"
		args = append(args, *filter.InStock)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := max(filter.Offset, 0)

	var total int
	countQuery := s.dialect.rebind("SELECT COUNT(1) FROM items" + where)
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, dbError("count items", err)
	}

	var query strings.Builder
	query.WriteString("SELECT " + itemColumns + " FROM items")
	query.WriteString(where)
	query.WriteString(" ORDER BY code LIMIT ? OFFSET ?")
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query.String()), append(args, limit, offset)...)
	if err != nil {
		return nil, 0, dbError("list items", err)
	}
	defer rows.Close()

	items := make([]catalog.Item, 0, limit)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, 0, dbError("scan item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, dbError("list items", err)
	}
	return items, total, nil
}

// Upsert writes items in a single transaction.
func (s *Store) Upsert(ctx context.Context, items []catalog.Item) error {
	_, err := s.Persist(ctx, items, nil)
	return err
}

func (s *Store) upsertItems(ctx context.Context, q queryer, items []catalog.Item) error {
	query := s.dialect.rebind(upsertItemSQL)
	for _, item := range items {
		lastSeen := item.LastSeen
		if lastSeen.Before(item.FirstSeen) {
			lastSeen = item.FirstSeen
		}
		if _, err := q.ExecContext(ctx, query,
			item.Code,
			item.Title,
			item.Price,
			item.InStock,
			item.URL,
			s.dialect.timeArg(item.FirstSeen),
			s.dialect.timeArg(lastSeen),
		); err != nil {
			return err
		}
	}
	return nil
}
