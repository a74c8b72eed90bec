package rabbit

import (
	"context"
	"encoding/json"
	"fmt"

	"gameRoster/internal/model"
)

type publisher interface {
	Publish(ctx context.Context, message []byte) error
}

// RosterPublisher sends roster changes to the fanout exchange.
type RosterPublisher struct {
	client publisher
}

func NewRosterPublisher(client publisher) *RosterPublisher {
	return &RosterPublisher{client: client}
}

func (p *RosterPublisher) Publish(ctx context.Context, ev model.RosterChanged) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal roster change: %w", err)
	}
	return p.client.Publish(ctx, body)
}
