package resolver

import (
	"context"

	"github.com/PercentBoat4164/GiteaOAuth/internal/auth"
)

// Resolver maps a provider identity to a local user id, creating the local
// user on first sight.
type Resolver interface {
	Resolve(ctx context.Context, identity *auth.Identity) (userID string, err error)
}
