package db

import (
	"context"
)

const createCheckEntry = `
insert into check_entry (
    run_id, user_id, status, link, filename, size, delivered, error, checked_at
) values (?, ?, ?, ?, ?, ?, ?, ?, ?)
`

type CreateCheckEntryParams struct {
	RunID     string
	UserID    string
	Status    string
	Link      string
	Filename  string
	Size      int64
	Delivered bool
	Error     string
	CheckedAt int64
}

func (q *Queries) CreateCheckEntry(ctx context.Context, arg CreateCheckEntryParams) error {
	_, err := q.db.ExecContext(ctx, createCheckEntry,
		arg.RunID,
		arg.UserID,
		arg.Status,
		arg.Link,
		arg.Filename,
		arg.Size,
		arg.Delivered,
		arg.Error,
		arg.CheckedAt,
	)
	return err
}

const getRecentCheckEntries = `
select id, run_id, user_id, status, link, filename, size, delivered, error, checked_at
from check_entry
order by checked_at desc, id desc
limit ?
`

func (q *Queries) GetRecentCheckEntries(ctx context.Context, limit int64) ([]CheckEntry, error) {
	rows, err := q.db.QueryContext(ctx, getRecentCheckEntries, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CheckEntry
	for rows.Next() {
		var i CheckEntry
		if err := rows.Scan(
			&i.ID,
			&i.RunID,
			&i.UserID,
			&i.Status,
			&i.Link,
			&i.Filename,
			&i.Size,
			&i.Delivered,
			&i.Error,
			&i.CheckedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getUserCheckEntries = `
select id, run_id, user_id, status, link, filename, size, delivered, error, checked_at
from check_entry
where user_id = ?
order by checked_at desc, id desc
limit ?
`

type GetUserCheckEntriesParams struct {
	UserID string
	Limit  int64
}

func (q *Queries) GetUserCheckEntries(ctx context.Context, arg GetUserCheckEntriesParams) ([]CheckEntry, error) {
	rows, err := q.db.QueryContext(ctx, getUserCheckEntries, arg.UserID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CheckEntry
	for rows.Next() {
		var i CheckEntry
		if err := rows.Scan(
			&i.ID,
			&i.RunID,
			&i.UserID,
			&i.Status,
			&i.Link,
			&i.Filename,
			&i.Size,
			&i.Delivered,
			&i.Error,
			&i.CheckedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
