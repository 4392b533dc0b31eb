package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/cloudx-io/openbid/core"
	"github.com/cloudx-io/openbid/outbox"
)

// pgUniqueViolation is the Postgres error code for unique-key violations.
const pgUniqueViolation = "23505"

// Schema is the DDL for the engine's tables. The unique primary key on
// results.listing_id is what enforces exactly-once settlement; everything
// else is ordinary relational layout.
const Schema = `
CREATE TABLE IF NOT EXISTS listings (
	id             UUID PRIMARY KEY,
	seller_id      UUID        NOT NULL,
	auction_type   TEXT        NOT NULL,
	starting_price BIGINT      NOT NULL,
	reserve_price  BIGINT      NOT NULL DEFAULT 0,
	buy_now_price  BIGINT      NOT NULL DEFAULT 0,
	bid_increment  BIGINT      NOT NULL,
	currency       TEXT        NOT NULL,
	starts_at      TIMESTAMPTZ NOT NULL,
	ends_at        TIMESTAMPTZ NOT NULL,
	status         TEXT        NOT NULL,
	version        BIGINT      NOT NULL DEFAULT 0,
	highest_bid_id UUID        NULL
);

CREATE INDEX IF NOT EXISTS idx_listings_expiry
	ON listings (ends_at) WHERE status IN ('scheduled', 'active');

CREATE TABLE IF NOT EXISTS bids (
	id          UUID PRIMARY KEY,
	listing_id  UUID        NOT NULL REFERENCES listings (id),
	bidder_id   UUID        NOT NULL,
	amount      BIGINT      NOT NULL,
	is_auto_bid BOOLEAN     NOT NULL,
	status      TEXT        NOT NULL,
	placed_at   TIMESTAMPTZ NOT NULL,
	seq         BIGSERIAL
);

CREATE INDEX IF NOT EXISTS idx_bids_listing ON bids (listing_id, seq);

CREATE TABLE IF NOT EXISTS auto_bid_rules (
	id         UUID PRIMARY KEY,
	listing_id UUID        NOT NULL REFERENCES listings (id),
	bidder_id  UUID        NOT NULL,
	max_amount BIGINT      NOT NULL,
	active     BOOLEAN     NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_rules_one_active
	ON auto_bid_rules (listing_id, bidder_id) WHERE active;

CREATE TABLE IF NOT EXISTS results (
	id             UUID NOT NULL,
	listing_id     UUID PRIMARY KEY REFERENCES listings (id),
	winning_bid_id UUID NULL,
	winner_id      UUID NULL,
	final_price    BIGINT NULL,
	status         TEXT        NOT NULL,
	closed_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS escrow_outbox (
	id         UUID PRIMARY KEY,
	payload    BYTEA       NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	sent_at    TIMESTAMPTZ NULL
);
`

// Postgres is the production Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// ConnectPostgres creates a pool, verifies connectivity and wraps it.
func ConnectPostgres(ctx context.Context, connString string, minConns, maxConns int32) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, "failed on parse connection string")
	}
	poolCfg.MinConns = minConns
	poolCfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed on create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "failed on ping database")
	}
	return &Postgres{pool: pool}, nil
}

// Migrate applies the schema. Safe to run repeatedly.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, Schema)
	return errors.Wrap(err, "failed on apply schema")
}

// Close releases the pool.
func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) CreateListing(ctx context.Context, l *core.Listing) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO listings (id, seller_id, auction_type, starting_price, reserve_price,
			buy_now_price, bid_increment, currency, starts_at, ends_at, status, version, highest_bid_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		l.ID, l.SellerID, l.Type, l.StartingPrice, l.ReservePrice,
		l.BuyNowPrice, l.BidIncrement, l.Currency, l.StartsAt, l.EndsAt,
		l.Status, l.Version, nullableUUID(l.HighestBidID),
	)
	return errors.Wrap(err, "failed on insert listing")
}

func (p *Postgres) GetListing(ctx context.Context, id uuid.UUID) (*core.Listing, error) {
	return scanListing(p.pool.QueryRow(ctx, `
		SELECT id, seller_id, auction_type, starting_price, reserve_price, buy_now_price,
			bid_increment, currency, starts_at, ends_at, status, version, highest_bid_id
		FROM listings WHERE id = $1`, id))
}

func (p *Postgres) UpdateListingCAS(ctx context.Context, l *core.Listing, expectedVersion int64) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE listings
		SET status = $1, ends_at = $2, highest_bid_id = $3, version = $4
		WHERE id = $5 AND version = $6`,
		l.Status, l.EndsAt, nullableUUID(l.HighestBidID), l.Version, l.ID, expectedVersion,
	)
	if err != nil {
		return errors.Wrap(err, "failed on conditional listing update")
	}
	if tag.RowsAffected() == 0 {
		return p.casFailure(ctx, l.ID)
	}
	return nil
}

func (p *Postgres) AppendBid(ctx context.Context, l *core.Listing, bid *core.Bid, expectedVersion int64) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed on begin append bid")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE listings
		SET status = $1, highest_bid_id = $2, version = $3
		WHERE id = $4 AND version = $5`,
		l.Status, nullableUUID(l.HighestBidID), l.Version, l.ID, expectedVersion,
	)
	if err != nil {
		return errors.Wrap(err, "failed on conditional listing update")
	}
	if tag.RowsAffected() == 0 {
		return p.casFailure(ctx, l.ID)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE bids SET status = $1
		WHERE listing_id = $2 AND status = $3 AND id <> $4`,
		core.BidOutbid, l.ID, core.BidWinning, bid.ID,
	); err != nil {
		return errors.Wrap(err, "failed on outbid previous winner")
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO bids (id, listing_id, bidder_id, amount, is_auto_bid, status, placed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		bid.ID, bid.ListingID, bid.BidderID, bid.Amount, bid.IsAutoBid, bid.Status, bid.PlacedAt,
	); err != nil {
		return errors.Wrap(err, "failed on insert bid")
	}

	return errors.Wrap(tx.Commit(ctx), "failed on commit append bid")
}

// casFailure distinguishes a missing row from a lost race.
func (p *Postgres) casFailure(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM listings WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return errors.Wrap(err, "failed on existence check")
	}
	if !exists {
		return ErrNotFound
	}
	return ErrVersionConflict
}

func (p *Postgres) GetBid(ctx context.Context, id uuid.UUID) (*core.Bid, error) {
	var b core.Bid
	err := p.pool.QueryRow(ctx, `
		SELECT id, listing_id, bidder_id, amount, is_auto_bid, status, placed_at
		FROM bids WHERE id = $1`, id,
	).Scan(&b.ID, &b.ListingID, &b.BidderID, &b.Amount, &b.IsAutoBid, &b.Status, &b.PlacedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed on get bid")
	}
	return &b, nil
}

func (p *Postgres) ListBids(ctx context.Context, listingID uuid.UUID) ([]core.Bid, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, listing_id, bidder_id, amount, is_auto_bid, status, placed_at
		FROM bids WHERE listing_id = $1 ORDER BY seq`, listingID)
	if err != nil {
		return nil, errors.Wrap(err, "failed on list bids")
	}
	defer rows.Close()

	var bids []core.Bid
	for rows.Next() {
		var b core.Bid
		if err := rows.Scan(&b.ID, &b.ListingID, &b.BidderID, &b.Amount, &b.IsAutoBid, &b.Status, &b.PlacedAt); err != nil {
			return nil, errors.Wrap(err, "failed on scan bid")
		}
		bids = append(bids, b)
	}
	return bids, errors.Wrap(rows.Err(), "failed on iterate bids")
}

func (p *Postgres) ActiveAutoBidRules(ctx context.Context, listingID uuid.UUID) ([]core.AutoBidRule, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, listing_id, bidder_id, max_amount, active, created_at
		FROM auto_bid_rules WHERE listing_id = $1 AND active ORDER BY created_at`, listingID)
	if err != nil {
		return nil, errors.Wrap(err, "failed on list rules")
	}
	defer rows.Close()

	var rules []core.AutoBidRule
	for rows.Next() {
		var r core.AutoBidRule
		if err := rows.Scan(&r.ID, &r.ListingID, &r.BidderID, &r.MaxAmount, &r.Active, &r.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed on scan rule")
		}
		rules = append(rules, r)
	}
	return rules, errors.Wrap(rows.Err(), "failed on iterate rules")
}

func (p *Postgres) UpsertAutoBidRule(ctx context.Context, rule *core.AutoBidRule) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed on begin upsert rule")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE auto_bid_rules SET active = FALSE
		WHERE listing_id = $1 AND bidder_id = $2 AND active`,
		rule.ListingID, rule.BidderID,
	); err != nil {
		return errors.Wrap(err, "failed on deactivate previous rule")
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO auto_bid_rules (id, listing_id, bidder_id, max_amount, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rule.ID, rule.ListingID, rule.BidderID, rule.MaxAmount, rule.Active, rule.CreatedAt,
	); err != nil {
		return errors.Wrap(err, "failed on insert rule")
	}

	return errors.Wrap(tx.Commit(ctx), "failed on commit upsert rule")
}

func (p *Postgres) DeactivateAutoBidRules(ctx context.Context, listingID uuid.UUID) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE auto_bid_rules SET active = FALSE WHERE listing_id = $1 AND active`, listingID)
	return errors.Wrap(err, "failed on deactivate rules")
}

func (p *Postgres) InsertResult(ctx context.Context, result *core.Result, event *outbox.EscrowHoldRequest) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed on begin insert result")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO results (id, listing_id, winning_bid_id, winner_id, final_price, status, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		result.ID, result.ListingID, nullableUUID(result.WinningBidID),
		nullableUUID(result.WinnerID), result.FinalPrice, result.Status, result.ClosedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateResult
		}
		return errors.Wrap(err, "failed on insert result")
	}

	if event != nil {
		payload, err := outbox.Encode(event)
		if err != nil {
			return errors.Wrap(err, "failed on encode escrow event")
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO escrow_outbox (id, payload, created_at) VALUES ($1, $2, $3)`,
			result.ID, payload, event.CreatedAt,
		); err != nil {
			return errors.Wrap(err, "failed on insert escrow event")
		}
	}

	return errors.Wrap(tx.Commit(ctx), "failed on commit insert result")
}

func (p *Postgres) GetResult(ctx context.Context, listingID uuid.UUID) (*core.Result, error) {
	var (
		r            core.Result
		winningBidID *uuid.UUID
		winnerID     *uuid.UUID
		finalPrice   *int64
	)
	err := p.pool.QueryRow(ctx, `
		SELECT id, listing_id, winning_bid_id, winner_id, final_price, status, closed_at
		FROM results WHERE listing_id = $1`, listingID,
	).Scan(&r.ID, &r.ListingID, &winningBidID, &winnerID, &finalPrice, &r.Status, &r.ClosedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed on get result")
	}
	if winningBidID != nil {
		r.WinningBidID = *winningBidID
	}
	if winnerID != nil {
		r.WinnerID = *winnerID
	}
	if finalPrice != nil {
		r.FinalPrice = *finalPrice
	}
	return &r, nil
}

func (p *Postgres) ListExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id FROM listings
		WHERE status IN ($1, $2) AND ends_at <= $3
		ORDER BY ends_at LIMIT $4`,
		core.ListingScheduled, core.ListingActive, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed on list expired")
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed on scan expired id")
		}
		ids = append(ids, id)
	}
	return ids, errors.Wrap(rows.Err(), "failed on iterate expired")
}

func (p *Postgres) PendingEscrowEvents(ctx context.Context, limit int) ([]outbox.Record, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, payload, created_at FROM escrow_outbox
		WHERE sent_at IS NULL ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed on list pending escrow events")
	}
	defer rows.Close()

	var records []outbox.Record
	for rows.Next() {
		var rec outbox.Record
		if err := rows.Scan(&rec.ID, &rec.Payload, &rec.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed on scan escrow event")
		}
		records = append(records, rec)
	}
	return records, errors.Wrap(rows.Err(), "failed on iterate escrow events")
}

func (p *Postgres) MarkEscrowEventSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE escrow_outbox SET sent_at = $1 WHERE id = $2 AND sent_at IS NULL`, sentAt, id)
	return errors.Wrap(err, "failed on mark escrow event sent")
}

// nullableUUID maps uuid.Nil to SQL NULL.
func nullableUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

type listingRow interface {
	Scan(dest ...any) error
}

func scanListing(row listingRow) (*core.Listing, error) {
	var (
		l            core.Listing
		highestBidID *uuid.UUID
	)
	err := row.Scan(&l.ID, &l.SellerID, &l.Type, &l.StartingPrice, &l.ReservePrice,
		&l.BuyNowPrice, &l.BidIncrement, &l.Currency, &l.StartsAt, &l.EndsAt,
		&l.Status, &l.Version, &highestBidID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed on scan listing")
	}
	if highestBidID != nil {
		l.HighestBidID = *highestBidID
	}
	return &l, nil
}
