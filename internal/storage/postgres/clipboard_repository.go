package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clipdeck/server/internal/domain/clipboard"
	"github.com/clipdeck/server/internal/retention"
	"github.com/jackc/pgx/v5"
)

const itemColumns = `id, kind, content, file_path, file_name, file_size, mime_type, owner_id, created_at`

func scanItem(row pgx.Row) (clipboard.Item, error) {
	var (
		item     clipboard.Item
		kind     string
		content  *string
		filePath *string
		fileName *string
		fileSize *int64
		mimeType *string
	)
	if err := row.Scan(&item.ID, &kind, &content, &filePath, &fileName, &fileSize, &mimeType, &item.OwnerID, &item.CreatedAt); err != nil {
		return clipboard.Item{}, err
	}
	item.Kind = clipboard.Kind(kind)
	item.Content = derefString(content)
	item.FilePath = derefString(filePath)
	item.FileName = derefString(fileName)
	item.MimeType = derefString(mimeType)
	if fileSize != nil {
		item.FileSize = *fileSize
	}
	return item, nil
}

func (r *Repository) CreateItem(ctx context.Context, item clipboard.Item) error {
	_, err := r.queryer().Exec(ctx, `
INSERT INTO clipboard_items (id, kind, content, file_path, file_name, file_size, mime_type, owner_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`,
		item.ID,
		string(item.Kind),
		nullString(item.Content),
		nullString(item.FilePath),
		nullString(item.FileName),
		nullInt64(item.FileSize, item.Kind == clipboard.KindFile),
		nullString(item.MimeType),
		item.OwnerID,
		item.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert clipboard item: %w", err)
	}
	return nil
}

func (r *Repository) GetItem(ctx context.Context, id string) (clipboard.Item, error) {
	item, err := scanItem(r.queryer().QueryRow(ctx, `SELECT `+itemColumns+` FROM clipboard_items WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return clipboard.Item{}, clipboard.ErrItemNotFound
	}
	if err != nil {
		return clipboard.Item{}, fmt.Errorf("get clipboard item: %w", err)
	}
	return item, nil
}

func (r *Repository) ListItems(ctx context.Context, filter clipboard.Filter) ([]clipboard.Item, int, error) {
	var (
		where []string
		args  []any
	)
	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		where = append(where, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+escapeLike(filter.Search)+"%")
		n := len(args)
		where = append(where, fmt.Sprintf("(content ILIKE $%d OR file_name ILIKE $%d)", n, n))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	q := r.queryer()
	var total int
	if err := q.QueryRow(ctx, `SELECT count(*) FROM clipboard_items`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count clipboard items: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = clipboard.DefaultPageSize
	}
	pageArgs := append(append([]any{}, args...), limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM clipboard_items%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		itemColumns, clause, len(args)+1, len(args)+2)

	rows, err := q.Query(ctx, query, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list clipboard items: %w", err)
	}
	defer rows.Close()

	items := make([]clipboard.Item, 0, limit)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan clipboard item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate clipboard items: %w", err)
	}
	return items, total, nil
}

func (r *Repository) DeleteOwnedItem(ctx context.Context, id, ownerID string) (clipboard.Item, error) {
	item, err := scanItem(r.queryer().QueryRow(ctx, `
DELETE FROM clipboard_items
 WHERE id = $1 AND owner_id = $2
RETURNING `+itemColumns, id, ownerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return clipboard.Item{}, clipboard.ErrItemNotFound
	}
	if err != nil {
		return clipboard.Item{}, fmt.Errorf("delete clipboard item: %w", err)
	}
	return item, nil
}

func (r *Repository) ListCreatedBefore(ctx context.Context, cutoff time.Time) ([]retention.Expired, error) {
	rows, err := r.queryer().Query(ctx, `
SELECT id, owner_id, COALESCE(file_path, '')
  FROM clipboard_items
 WHERE created_at < $1
 ORDER BY id
`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list expired items: %w", err)
	}
	defer rows.Close()

	var out []retention.Expired
	for rows.Next() {
		var e retention.Expired
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.FilePath); err != nil {
			return nil, fmt.Errorf("scan expired item: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired items: %w", err)
	}
	return out, nil
}

func (r *Repository) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.queryer().Exec(ctx, `DELETE FROM clipboard_items WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("delete expired items: %w", err)
	}
	return tag.RowsAffected(), nil
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func nullString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func nullInt64(value int64, valid bool) *int64 {
	if !valid {
		return nil
	}
	return &value
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
