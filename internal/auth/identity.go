package auth

import "encoding/json"

// Identity represents the visitor as reported by the provider's current-user
// resource. Raw holds the payload exactly as the provider returned it.
type Identity struct {
	Provider       string // e.g. "gitea"
	ProviderUserID string // provider-scoped unique user identifier
	Login          string
	FullName       string
	Email          string
	AvatarURL      string
	IsAdmin        bool

	Raw json.RawMessage
}
