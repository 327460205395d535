// Package identity carries the caller identity resolved by the external
// identity provider. The engine never reads ambient request state; every
// operation that needs a caller takes an explicit Identity value.
package identity

import "net/http"

// Request headers set by the upstream identity provider. Credential checks
// happen there; this service only consumes the outcome.
const (
	HeaderUserID   = "X-User-ID"
	HeaderVerified = "X-User-Verified"
	HeaderAdmin    = "X-User-Admin"
)

// Identity is the resolved caller: a stable user id plus two capabilities.
type Identity struct {
	UserID   string
	Verified bool
	Admin    bool
}

// Anonymous reports whether no identity was supplied at all.
func (i Identity) Anonymous() bool {
	return i.UserID == ""
}

// FromRequest builds an Identity from the trusted upstream headers.
func FromRequest(r *http.Request) Identity {
	return Identity{
		UserID:   r.Header.Get(HeaderUserID),
		Verified: r.Header.Get(HeaderVerified) == "1",
		Admin:    r.Header.Get(HeaderAdmin) == "1",
	}
}
