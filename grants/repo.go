package grants

// GrantedRepo persists consent records. Lookup is by (tenant, client,
// subject) since consent is scoped to that pair.
type GrantedRepo interface {
	FindByClientAndSubject(tenantID, clientID, subject string) (AuthorizationGranted, error)
	Put(granted AuthorizationGranted) error
}

// CodeGrantRepo persists authorization-code grants between issuance and
// redemption.
//
// Consume must be atomic: it returns the grant and removes it in one step,
// so two racing redemptions of the same code cannot both succeed
// (compare-and-mark, not read-then-write).
type CodeGrantRepo interface {
	Register(grant AuthorizationCodeGrant) error
	Consume(tenantID, code string) (AuthorizationCodeGrant, bool, error)
}
