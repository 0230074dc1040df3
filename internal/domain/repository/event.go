package repository

import (
	"context"
	"encoding/json"
	"time"
)

// InboundEvent is a webhook delivery that passed signature verification.
type InboundEvent struct {
	ID              string
	Provider        string
	ProviderEventID string
	OrganizationID  string
	ConnectionID    *string
	ResolvedUserID  *string
	EventType       string
	RawPayload      json.RawMessage
	ReceivedAt      time.Time
	Processed       bool
	ShouldReact     bool
	ReactionReason  string
	ReactionResult  *string
	ErrorMessage    *string
}

// EventRepository define la persistencia de eventos entrantes.
type EventRepository interface {
	// Insert guarda el evento. Si provider_event_id ya existe no sobreescribe
	// y retorna inserted=false, err=nil.
	Insert(ctx context.Context, e *InboundEvent) (inserted bool, err error)

	// ExistsByProviderEventID verifica si el evento ya fue ingerido.
	ExistsByProviderEventID(ctx context.Context, providerEventID string) (bool, error)

	// GetByProviderEventID retorna ErrNotFound si no existe.
	GetByProviderEventID(ctx context.Context, providerEventID string) (*InboundEvent, error)

	// MarkProcessed registra el resultado de la reacción asíncrona.
	MarkProcessed(ctx context.Context, id string, result, errMsg *string) error
}
