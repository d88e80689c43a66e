package platform

import "time"

// Platform is a registered LMS (Moodle, Canvas, etc.) allowed to launch us.
type Platform struct {
	ID           string    `json:"id"`
	Issuer       string    `json:"issuer"`
	ClientID     string    `json:"client_id"`
	Name         string    `json:"name,omitempty"`
	AuthLoginURL string    `json:"auth_login_url"`
	AuthTokenURL string    `json:"auth_token_url"`
	KeySetURL    string    `json:"key_set_url"`
	DeploymentID string    `json:"deployment_id,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
