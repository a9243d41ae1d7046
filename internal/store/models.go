package store

// User is a stored user record. Timestamps are Unix milliseconds.
type User struct {
	ID               string            `json:"id"                   yaml:"id"`
	Username         string            `json:"username,omitempty"   yaml:"username,omitempty"`
	PrimaryEmail     string            `json:"primaryEmail,omitempty" yaml:"primaryEmail,omitempty"`
	PrimaryPhone     string            `json:"primaryPhone,omitempty" yaml:"primaryPhone,omitempty"`
	Name             string            `json:"name,omitempty"       yaml:"name,omitempty"`
	Avatar           string            `json:"avatar,omitempty"     yaml:"avatar,omitempty"`
	CustomData       map[string]any    `json:"customData,omitempty" yaml:"customData,omitempty"`
	Identities       map[string]any    `json:"identities,omitempty" yaml:"identities,omitempty"`
	Profile          map[string]any    `json:"profile,omitempty"    yaml:"profile,omitempty"`
	ApplicationID    string            `json:"applicationId,omitempty" yaml:"applicationId,omitempty"`
	IsSuspended      bool              `json:"isSuspended"          yaml:"isSuspended"`
	HasPassword      bool              `json:"hasPassword"          yaml:"hasPassword"`
	MfaVerifications []MfaVerification `json:"mfaVerifications,omitempty" yaml:"mfaVerifications,omitempty"`
	LastSignInAt     *int64            `json:"lastSignInAt,omitempty" yaml:"lastSignInAt,omitempty"`
	CreatedAt        int64             `json:"createdAt"            yaml:"createdAt"`
	UpdatedAt        int64             `json:"updatedAt"            yaml:"updatedAt"`
}

// MfaVerification is one enrolled MFA factor of a user.
type MfaVerification struct {
	ID        string `json:"id"        yaml:"id"`
	Type      string `json:"type"      yaml:"type"`
	CreatedAt int64  `json:"createdAt" yaml:"createdAt"`
}

// Role is a tenant role assigned to users.
type Role struct {
	ID          string `json:"id"          yaml:"id"`
	Name        string `json:"name"        yaml:"name"`
	Description string `json:"description" yaml:"description"`
}

// RoleScope links a role to a granted scope.
type RoleScope struct {
	RoleID  string `json:"roleId"  yaml:"roleId"`
	ScopeID string `json:"scopeId" yaml:"scopeId"`
}

// Scope is a permission defined on an API resource.
type Scope struct {
	ID          string `json:"id"          yaml:"id"`
	ResourceID  string `json:"resourceId"  yaml:"resourceId"`
	Name        string `json:"name"        yaml:"name"`
	Description string `json:"description" yaml:"description"`
}

// Resource is an API resource owning scopes.
type Resource struct {
	ID        string `json:"id"        yaml:"id"`
	Name      string `json:"name"      yaml:"name"`
	Indicator string `json:"indicator" yaml:"indicator"`
}

// ScopeWithResource is a scope annotated with its owning resource, when one exists.
type ScopeWithResource struct {
	Scope
	Resource *Resource `json:"resource,omitempty"`
}

// SsoIdentity is an identity linked to the user through an enterprise SSO connector.
type SsoIdentity struct {
	ID             string         `json:"id"             yaml:"id"`
	UserID         string         `json:"userId"         yaml:"userId"`
	SsoConnectorID string         `json:"ssoConnectorId" yaml:"ssoConnectorId"`
	Issuer         string         `json:"issuer"         yaml:"issuer"`
	IdentityID     string         `json:"identityId"     yaml:"identityId"`
	Detail         map[string]any `json:"detail"         yaml:"detail"`
}

// Organization is an organization a user may belong to.
type Organization struct {
	ID          string `json:"id"          yaml:"id"`
	Name        string `json:"name"        yaml:"name"`
	Description string `json:"description" yaml:"description"`
}

// OrganizationRole is a role held inside an organization.
type OrganizationRole struct {
	ID   string `json:"id"   yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// OrganizationMembership is an organization together with the roles the user holds in it.
type OrganizationMembership struct {
	Organization `yaml:",inline"`
	Roles        []OrganizationRole `json:"organizationRoles" yaml:"organizationRoles"`
}
