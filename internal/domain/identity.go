package domain

import "strings"

// Identity is the canonical signed-in user, derived from whichever identity
// provider currently reports a principal.
type Identity struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Provider    string `json:"provider"`
}

// Same reports whether two identities refer to the same principal of the
// same provider.
func (i *Identity) Same(other *Identity) bool {
	if i == nil || other == nil {
		return i == other
	}
	return i.ID == other.ID && i.Provider == other.Provider && strings.EqualFold(i.Email, other.Email)
}
