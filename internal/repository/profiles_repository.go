package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	trmpgx "github.com/avito-tech/go-transaction-manager/drivers/pgxv5/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/turri/tastehub/internal/huberrors"
	"github.com/turri/tastehub/internal/models"
)

const profileColumns = `customer_id, description, embedding, taste_embedding,
	last_chatbot_update, last_purchase_update, last_analytics_update,
	is_onboarded, version, created_at, updated_at`

// ProfilesRepository handles data access for the customer_profiles table.
// Calls join the transaction carried by ctx, if any.
type ProfilesRepository struct {
	db     *pgxpool.Pool
	getter *trmpgx.CtxGetter
	now    func() time.Time
}

// NewProfilesRepository creates a new profiles repository.
func NewProfilesRepository(db *pgxpool.Pool) *ProfilesRepository {
	return &ProfilesRepository{db: db, getter: trmpgx.DefaultCtxGetter, now: time.Now}
}

func (r *ProfilesRepository) conn(ctx context.Context) trmpgx.Tr {
	return r.getter.DefaultTrOrDB(ctx, r.db)
}

// GetProfile returns the profile of customerID or a *huberrors.NotFoundError.
func (r *ProfilesRepository) GetProfile(ctx context.Context, customerID int64) (*models.CustomerProfile, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+profileColumns+` FROM customer_profiles WHERE customer_id = $1`, customerID)

	profile, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, huberrors.NewNotFoundError("customer profile", fmt.Sprintf("no profile for customer %d", customerID))
		}

		return nil, fmt.Errorf("get profile: %w", err)
	}

	return profile, nil
}

// ReplaceProfile writes p unconditionally, creating the row or overwriting every field but created_at.
// The stored version is bumped on overwrite.
func (r *ProfilesRepository) ReplaceProfile(ctx context.Context, p *models.CustomerProfile) (*models.CustomerProfile, error) {
	now := r.now()

	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO customer_profiles (
			customer_id, description, embedding, taste_embedding,
			last_chatbot_update, last_purchase_update, last_analytics_update,
			is_onboarded, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $9)
		ON CONFLICT (customer_id) DO UPDATE SET
			description = EXCLUDED.description,
			embedding = EXCLUDED.embedding,
			taste_embedding = EXCLUDED.taste_embedding,
			last_chatbot_update = EXCLUDED.last_chatbot_update,
			last_purchase_update = EXCLUDED.last_purchase_update,
			last_analytics_update = EXCLUDED.last_analytics_update,
			is_onboarded = EXCLUDED.is_onboarded,
			version = customer_profiles.version + 1,
			updated_at = EXCLUDED.updated_at
		RETURNING `+profileColumns,
		p.CustomerID, p.Description, pgvector.NewVector(p.Embedding), pgvector.NewVector(p.Taste.Float32()),
		p.LastChatbotUpdate, p.LastPurchaseUpdate, p.LastAnalyticsUpdate, p.IsOnboarded, now,
	)

	saved, err := scanProfile(row)
	if err != nil {
		return nil, fmt.Errorf("replace profile: %w", err)
	}

	return saved, nil
}

// SaveProfile writes p only if the stored version still equals expectedVersion.
// expectedVersion 0 means the profile must not exist yet.
// A lost race returns a *huberrors.ConflictError and leaves the stored row unchanged.
func (r *ProfilesRepository) SaveProfile(
	ctx context.Context, p *models.CustomerProfile, expectedVersion int64,
) (*models.CustomerProfile, error) {
	now := r.now()
	embedding := pgvector.NewVector(p.Embedding)
	taste := pgvector.NewVector(p.Taste.Float32())

	var row pgx.Row

	if expectedVersion == 0 {
		row = r.conn(ctx).QueryRow(ctx, `
			INSERT INTO customer_profiles (
				customer_id, description, embedding, taste_embedding,
				last_chatbot_update, last_purchase_update, last_analytics_update,
				is_onboarded, version, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $9)
			ON CONFLICT (customer_id) DO NOTHING
			RETURNING `+profileColumns,
			p.CustomerID, p.Description, embedding, taste,
			p.LastChatbotUpdate, p.LastPurchaseUpdate, p.LastAnalyticsUpdate, p.IsOnboarded, now,
		)
	} else {
		row = r.conn(ctx).QueryRow(ctx, `
			UPDATE customer_profiles SET
				description = $2,
				embedding = $3,
				taste_embedding = $4,
				last_chatbot_update = $5,
				last_purchase_update = $6,
				last_analytics_update = $7,
				is_onboarded = $8,
				version = version + 1,
				updated_at = $9
			WHERE customer_id = $1 AND version = $10
			RETURNING `+profileColumns,
			p.CustomerID, p.Description, embedding, taste,
			p.LastChatbotUpdate, p.LastPurchaseUpdate, p.LastAnalyticsUpdate, p.IsOnboarded, now,
			expectedVersion,
		)
	}

	saved, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, huberrors.NewConflictError(
				fmt.Sprintf("profile of customer %d changed since version %d", p.CustomerID, expectedVersion))
		}

		return nil, fmt.Errorf("save profile: %w", err)
	}

	return saved, nil
}

// ProfilesByCustomerIDs returns the existing profiles among ids, ordered by customer id.
func (r *ProfilesRepository) ProfilesByCustomerIDs(ctx context.Context, ids []int64) ([]models.CustomerProfile, error) {
	if len(ids) == 0 {
		return []models.CustomerProfile{}, nil
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+profileColumns+` FROM customer_profiles WHERE customer_id = ANY($1) ORDER BY customer_id`, ids)
	if err != nil {
		return nil, fmt.Errorf("profiles by customer ids: %w", err)
	}
	defer rows.Close()

	profiles := []models.CustomerProfile{}

	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}

		profiles = append(profiles, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating profiles: %w", err)
	}

	return profiles, nil
}

func scanProfile(row pgx.Row) (*models.CustomerProfile, error) {
	var (
		p         models.CustomerProfile
		embedding pgvector.Vector
		taste     pgvector.Vector
	)

	err := row.Scan(
		&p.CustomerID, &p.Description, &embedding, &taste,
		&p.LastChatbotUpdate, &p.LastPurchaseUpdate, &p.LastAnalyticsUpdate,
		&p.IsOnboarded, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Embedding = embedding.Slice()
	p.Taste = models.TasteFromFloat32(taste.Slice())

	return &p, nil
}
