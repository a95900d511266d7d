// Package identity persists roles and users in DynamoDB with emulated
// unique constraints.
//
// DynamoDB has no secondary unique indexes, so uniqueness (role names, user
// names, emails, external logins) is enforced with reservation documents
// whose id is a deterministic function of the constrained value. The
// reservation is written in the same transaction as the owning entity,
// guarded by attribute_not_exists on its own id: two writers claiming the
// same value collide on the same document, and the transaction's
// cancellation reasons identify which staged document failed. That lets the
// stores tell "value already taken" apart from an unrelated concurrent write
// without any locking beyond DynamoDB's per-item conditions.
//
// # Stores
//
// [RoleStore] and [UserStore] expose create, update, delete, and the find
// operations. Claims, logins, tokens, and role memberships live inside the
// owning document; mutating them is an in-memory operation persisted by the
// next save. With AutoSaveChanges (the default) every mutating operation
// commits immediately; with it off, operations stage into the store's
// [Session] until SaveChanges.
//
//	store := identity.NewRoleStore(client, identity.DefaultConfig())
//	err := store.Create(ctx, &identity.Role{Name: "Admin"})
//	var dup *identity.DuplicateValueError
//	if errors.As(err, &dup) {
//	    // dup.Value names the role that was already taken
//	}
//
// # Errors
//
//   - [ErrNotFound] - entity or reservation doesn't exist
//   - [*DuplicateValueError] - unique value already taken (unwraps to
//     [ErrDuplicateValue])
//   - [ErrConcurrentModification] - optimistic concurrency failed
//   - [ErrStoreClosed] - store used after Close
//   - [ErrNilEntity], [ErrEmptyValue] - invalid arguments, raised before any
//     store call
//
// Duplicate values and concurrency conflicts are returned as values for the
// caller to inspect; they are never retried by this package.
//
// # Tables
//
// Three tables are required (names configurable via [Config]): the role and
// user tables, keyed by id, each with a GSI on the normalized name (users
// also on normalized email), and the reservations table keyed by pk/sk.
package identity
