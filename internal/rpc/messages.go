package rpc

import "time"

// ValidateTokenRequest carries the token to validate.
type ValidateTokenRequest struct {
	Authentication string `json:"authentication"`
}

// GetAuthentication returns the carried token.
func (r *ValidateTokenRequest) GetAuthentication() string { return r.Authentication }

// ValidateTokenResponse is the resolved identity.
type ValidateTokenResponse struct {
	UserID       string   `json:"userId"`
	Entitlements []string `json:"entitlements"`
}

// IssueTokenRequest asks for a new token for UserID. Authentication must be
// a token of the same user.
type IssueTokenRequest struct {
	Authentication string `json:"authentication,omitempty"`
	UserID         string `json:"userId"`
}

// GetAuthentication returns the carried token.
func (r *IssueTokenRequest) GetAuthentication() string { return r.Authentication }

// RefreshTokenRequest carries the token to supersede.
type RefreshTokenRequest struct {
	Authentication string `json:"authentication"`
}

// GetAuthentication returns the carried token.
func (r *RefreshTokenRequest) GetAuthentication() string { return r.Authentication }

// TokenResponse is an issued token.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// AccessRequest asks whether the caller may read or write a dataset.
type AccessRequest struct {
	Authentication string `json:"authentication,omitempty"`
	DatasetID      string `json:"datasetId"`
}

// GetAuthentication returns the carried token.
func (r *AccessRequest) GetAuthentication() string { return r.Authentication }

// AccessResponse is the access decision.
type AccessResponse struct {
	Allowed bool `json:"allowed"`
}

// ExistsResponse reports whether a dataset exists.
type ExistsResponse struct {
	Exists bool `json:"exists"`
}
