package sheets

import (
	"context"

	"collectbook/internal/core"
)

// Ports for outbound adapters.
type (
	// CollectionExporter mirrors collection records into an external sheet.
	CollectionExporter interface {
		AppendCollection(ctx context.Context, r core.CollectionRecord) (rowRef string, err error)
	}
)
