// Package bus carries compliance lifecycle events (reservation audits,
// materialized reports, emitted PDFs) between the engine and its workers.
package bus

import (
	"fmt"

	"github.com/siamfx/naga/internal/domain"
)

// New selects the bus backend. A single counter runs the in-process channel
// bus; multi-branch deployments use NATS so the PDF worker can live on
// another node.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}
