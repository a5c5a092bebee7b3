package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/0gfoundation/oracle-settler/internal/feed"
	"github.com/0gfoundation/oracle-settler/internal/store"
)

var _ store.Store = (*FeedStore)(nil)

// FeedStore implements store.Store over the feeds table.
type FeedStore struct {
	pool *Pool
}

func NewFeedStore(pool *Pool) *FeedStore {
	return &FeedStore{pool: pool}
}

const feedColumns = `id, wallet_address, feed_pubkey, feed_hash, title, module, config,
	resolution_date, status, settled_at, settled_value, settlement_tx, created_at, updated_at`

// Insert adds a feed row. Feed creation lives outside this service; Insert
// exists for seeding and tests.
func (s *FeedStore) Insert(ctx context.Context, f feed.Feed) error {
	cfg := f.Config
	if len(cfg) == 0 {
		cfg = json.RawMessage(`{}`)
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO feeds (id, wallet_address, feed_pubkey, feed_hash, title, module, config,
		resolution_date, status, settled_at, settled_value, settlement_tx)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		f.ID, f.Owner, f.Address, f.JobHash, f.Title, string(f.Module), []byte(cfg),
		f.ResolutionDate, string(f.Status), f.SettledAt, f.SettledValue, f.SettlementTx,
	)
	if err != nil {
		return fmt.Errorf("insert feed %s: %w", f.ID, err)
	}
	return nil
}

func (s *FeedStore) Get(ctx context.Context, id string) (feed.Feed, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+feedColumns+` FROM feeds WHERE id = $1`, id)
	f, err := scanFeed(row)
	if err != nil {
		if isNotFoundError(err) {
			return feed.Feed{}, store.ErrNotFound
		}
		return feed.Feed{}, fmt.Errorf("get feed %s: %w", id, err)
	}
	return f, nil
}

func (s *FeedStore) ListPending(ctx context.Context) ([]feed.Feed, error) {
	return s.list(ctx, `SELECT `+feedColumns+` FROM feeds
		WHERE status = 'pending' AND settled_value IS NULL
		ORDER BY created_at, id`)
}

func (s *FeedStore) ListByModule(ctx context.Context, m feed.Module, statuses ...feed.Status) ([]feed.Feed, error) {
	if len(statuses) == 0 {
		return s.list(ctx, `SELECT `+feedColumns+` FROM feeds
			WHERE module = $1 ORDER BY created_at, id`, string(m))
	}
	ss := make([]string, len(statuses))
	for i, st := range statuses {
		ss[i] = string(st)
	}
	return s.list(ctx, `SELECT `+feedColumns+` FROM feeds
		WHERE module = $1 AND status = ANY($2)
		ORDER BY created_at, id`, string(m), ss)
}

func (s *FeedStore) MarkSettled(ctx context.Context, id string, from feed.Status, st feed.Settlement) error {
	tag, err := s.pool.Exec(ctx, `UPDATE feeds
		SET status = 'settled', settled_value = $3, settlement_tx = $4, settled_at = $5, updated_at = now()
		WHERE id = $1 AND status = $2 AND settled_value IS NULL`,
		id, string(from), st.Value, st.Tx, st.At,
	)
	if err != nil {
		return fmt.Errorf("mark feed %s settled: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrConflict(ctx, id)
	}
	return nil
}

func (s *FeedStore) MarkFailed(ctx context.Context, id string, from feed.Status) error {
	tag, err := s.pool.Exec(ctx, `UPDATE feeds
		SET status = 'failed', updated_at = now()
		WHERE id = $1 AND status = $2 AND settled_value IS NULL`,
		id, string(from),
	)
	if err != nil {
		return fmt.Errorf("mark feed %s failed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrConflict(ctx, id)
	}
	return nil
}

func (s *FeedStore) UpdateConfig(ctx context.Context, id string, cfg json.RawMessage) error {
	tag, err := s.pool.Exec(ctx, `UPDATE feeds
		SET config = $2, updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'manual')`,
		id, []byte(cfg),
	)
	if err != nil {
		return fmt.Errorf("update feed %s config: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrConflict(ctx, id)
	}
	return nil
}

func (s *FeedStore) missOrConflict(ctx context.Context, id string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM feeds WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check feed %s: %w", id, err)
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrConflict
}

func (s *FeedStore) list(ctx context.Context, query string, args ...any) ([]feed.Feed, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query feeds: %w", err)
	}
	defer rows.Close()

	var out []feed.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("scan feed: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feeds: %w", err)
	}
	return out, nil
}

func scanFeed(row pgx.Row) (feed.Feed, error) {
	var (
		f      feed.Feed
		module string
		status string
		cfg    []byte
	)
	err := row.Scan(
		&f.ID, &f.Owner, &f.Address, &f.JobHash, &f.Title, &module, &cfg,
		&f.ResolutionDate, &status, &f.SettledAt, &f.SettledValue, &f.SettlementTx,
		&f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return feed.Feed{}, err
	}
	f.Module = feed.Module(module)
	f.Status = feed.Status(status)
	f.Config = json.RawMessage(cfg)
	return f, nil
}
