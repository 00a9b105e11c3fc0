package app

import (
	"github.com/stacklok/ociref-server/internal/kv"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Store is the key-value backend behind every route. The app owns it
	// and closes it on Stop.
	Store kv.Client
}
