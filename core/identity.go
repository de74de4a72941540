package core

// DefaultNamespace is the global role namespace consulted as a fallback by
// every role check: a role granted in DefaultNamespace satisfies a
// requirement for any other namespace.
const DefaultNamespace = ""

// Identity is an immutable identity record: { id, optional public key bytes,
// type tag, optional crypto-scheme name, free-form metadata }.
type Identity struct {
	ID       string
	PubKey   []byte
	Type     string
	Scheme   string
	Metadata map[string]string
}

// RoleRegistry resolves namespace-scoped role grants for any identity id. It
// backs both the executing identity's own roles and the roles of identities
// in its delegation chain.
type RoleRegistry interface {
	HasRole(identityID, namespace, role string) bool
	GrantRole(identityID, namespace, role string) error
	RevokeRole(identityID, namespace, role string) error
	ListRoles(identityID, namespace string) ([]string, error)
}

// AuthContext bundles the caller identity, its namespace-scoped roles (via a
// RoleRegistry), its delegation chain and the identity/delegation/credential
// registries used for lookups. It is constructed once per VM invocation and
// is never globally mutable, enabling deterministic replay under
// impersonation and permission tests.
type AuthContext struct {
	Identity        Identity
	Roles           RoleRegistry
	DelegationChain []string // ordered list of delegator identity ids
	Identities      map[string]Identity
	Delegations     map[string][]string // identity -> its delegates
	Credentials     map[string][]byte
	CoopID          string
}

// NewAuthContext constructs an AuthContext for identity, backed by reg for
// role lookups.
func NewAuthContext(identity Identity, reg RoleRegistry) *AuthContext {
	return &AuthContext{
		Identity:    identity,
		Roles:       reg,
		Identities:  map[string]Identity{identity.ID: identity},
		Delegations: map[string][]string{},
		Credentials: map[string][]byte{},
	}
}

// CallerID implements caller_id().
func (a *AuthContext) CallerID() string {
	if a == nil {
		return ""
	}
	return a.Identity.ID
}

// HasRole implements has_role(namespace, role): true if the current identity
// holds role in namespace or in DefaultNamespace.
func (a *AuthContext) HasRole(namespace, role string) bool {
	if a == nil || a.Roles == nil {
		return false
	}
	return a.hasRoleFor(a.Identity.ID, namespace, role)
}

func (a *AuthContext) hasRoleFor(identityID, namespace, role string) bool {
	if a.Roles.HasRole(identityID, namespace, role) {
		return true
	}
	if namespace != DefaultNamespace && a.Roles.HasRole(identityID, DefaultNamespace, role) {
		return true
	}
	return false
}

// RequireRole implements require_role(namespace, role): satisfied by the
// current identity OR any identity in the delegation chain, within the same
// namespace-or-default rule. Returns PermissionDenied on failure.
func (a *AuthContext) RequireRole(namespace, role string) *VMError {
	if a == nil {
		return errPermissionDenied(role, "")
	}
	if a.hasRoleFor(a.Identity.ID, namespace, role) {
		return nil
	}
	for _, delegator := range a.DelegationChain {
		if a.hasRoleFor(delegator, namespace, role) {
			return nil
		}
	}
	return withCaller(errPermissionDenied(role, a.Identity.ID), a.Identity.ID)
}

// RequireIdentity implements require_identity(id).
func (a *AuthContext) RequireIdentity(id string) *VMError {
	if a != nil && a.Identity.ID == id {
		return nil
	}
	current := ""
	if a != nil {
		current = a.Identity.ID
	}
	return withCaller(errPermissionDenied("identity:"+id, current), current)
}

// AddRole implements add_role(namespace, role), documented as test/setup
// only: it grants the role to the current identity directly.
func (a *AuthContext) AddRole(namespace, role string) error {
	if a == nil || a.Roles == nil {
		return errIoError("no role registry attached")
	}
	return a.Roles.GrantRole(a.Identity.ID, namespace, role)
}
