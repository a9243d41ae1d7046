// Package identity assembles the user identity context exposed to access-token customizer scripts.
package identity

import (
	"encoding/json"
	"fmt"
)

// Context is the document handed to a script as payload.context.
type Context struct {
	User UserContext `json:"user"`
}

// UserContext is the public subset of a user record plus everything attached to it.
type UserContext struct {
	ID                     string         `json:"id"`
	Username               string         `json:"username,omitempty"`
	PrimaryEmail           string         `json:"primaryEmail,omitempty"`
	PrimaryPhone           string         `json:"primaryPhone,omitempty"`
	Name                   string         `json:"name,omitempty"`
	Avatar                 string         `json:"avatar,omitempty"`
	CustomData             map[string]any `json:"customData"`
	Identities             map[string]any `json:"identities"`
	Profile                map[string]any `json:"profile"`
	ApplicationID          string         `json:"applicationId,omitempty"`
	IsSuspended            bool           `json:"isSuspended"`
	HasPassword            bool           `json:"hasPassword"`
	LastSignInAt           *int64         `json:"lastSignInAt"`
	CreatedAt              int64          `json:"createdAt"`
	UpdatedAt              int64          `json:"updatedAt"`
	SsoIdentities          []SsoIdentity  `json:"ssoIdentities"`
	MfaVerificationFactors []string       `json:"mfaVerificationFactors"`
	Roles                  []Role         `json:"roles"`
	Organizations          []Organization `json:"organizations"`
}

// SsoIdentity is an enterprise SSO identity reduced to what scripts need.
type SsoIdentity struct {
	Issuer     string         `json:"issuer"`
	IdentityID string         `json:"identityId"`
	Detail     map[string]any `json:"detail"`
}

// Role is a user role with its granted scopes.
type Role struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Scopes      []Scope `json:"scopes"`
}

// Scope is a granted permission, annotated with its owning resource when one exists.
type Scope struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ResourceID  string    `json:"resourceId"`
	Resource    *Resource `json:"resource,omitempty"`
}

type Resource struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Indicator string `json:"indicator"`
}

// Organization is a membership. Organization role scopes are not included.
type Organization struct {
	ID                string             `json:"id"`
	Name              string             `json:"name"`
	Description       string             `json:"description"`
	OrganizationRoles []OrganizationRole `json:"organizationRoles"`
}

type OrganizationRole struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AsMap converts the context into plain JSON values.
func (c *Context) AsMap() (map[string]any, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode identity context: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode identity context: %w", err)
	}
	return out, nil
}
