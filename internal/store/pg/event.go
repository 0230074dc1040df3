package pg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/agentlink/internal/domain/repository"
)

type eventRepo struct {
	pool *pgxpool.Pool
}

// Insert usa ON CONFLICT DO NOTHING: un reintento del provider nunca
// sobreescribe el evento original.
func (r *eventRepo) Insert(ctx context.Context, e *repository.InboundEvent) (bool, error) {
	if e.ProviderEventID == "" {
		return false, repository.ErrInvalidInput
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO inbound_event (id, provider, provider_event_id, organization_id, connection_id,
			resolved_user_id, event_type, raw_payload, received_at, processed,
			should_react, reaction_reason, reaction_result, error_message)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (provider_event_id) DO NOTHING`,
		e.ID, e.Provider, e.ProviderEventID, e.OrganizationID, e.ConnectionID,
		e.ResolvedUserID, e.EventType, []byte(e.RawPayload), e.ReceivedAt, e.Processed,
		e.ShouldReact, e.ReactionReason, e.ReactionResult, e.ErrorMessage)
	if err != nil {
		return false, fmt.Errorf("pg: insert event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *eventRepo) ExistsByProviderEventID(ctx context.Context, providerEventID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM inbound_event WHERE provider_event_id = $1)`, providerEventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("pg: event exists: %w", err)
	}
	return exists, nil
}

func (r *eventRepo) GetByProviderEventID(ctx context.Context, providerEventID string) (*repository.InboundEvent, error) {
	var (
		e       repository.InboundEvent
		payload []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, provider, provider_event_id, organization_id, connection_id::text,
			resolved_user_id, event_type, raw_payload, received_at, processed,
			should_react, reaction_reason, reaction_result, error_message
		FROM inbound_event WHERE provider_event_id = $1`, providerEventID).Scan(
		&e.ID, &e.Provider, &e.ProviderEventID, &e.OrganizationID, &e.ConnectionID,
		&e.ResolvedUserID, &e.EventType, &payload, &e.ReceivedAt, &e.Processed,
		&e.ShouldReact, &e.ReactionReason, &e.ReactionResult, &e.ErrorMessage)
	if err != nil {
		if err = notFound(err); err == repository.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("pg: get event: %w", err)
	}
	e.RawPayload = payload
	return &e, nil
}

func (r *eventRepo) MarkProcessed(ctx context.Context, id string, result, errMsg *string) error {
	id, ok := rowID(id)
	if !ok {
		return repository.ErrNotFound
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE inbound_event SET processed = TRUE, reaction_result = $2, error_message = $3
		WHERE id = $1::uuid`, id, result, errMsg)
	if err != nil {
		return fmt.Errorf("pg: mark processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
