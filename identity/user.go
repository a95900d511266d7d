package identity

// User is a user document. Claims, logins, tokens, and role memberships are
// held by value inside the document and persisted only when the user is next
// saved.
//
// Version and the reservation key list are managed by the store.
type User struct {
	ID                 string `dynamodbav:"id"`
	UserName           string `dynamodbav:"user_name"`
	NormalizedUserName string `dynamodbav:"normalized_name"`
	Email              string `dynamodbav:"email,omitempty"`
	NormalizedEmail    string `dynamodbav:"normalized_email,omitempty"`
	EmailConfirmed     bool   `dynamodbav:"email_confirmed"`
	PasswordHash       string `dynamodbav:"password_hash,omitempty"`
	SecurityStamp      string `dynamodbav:"security_stamp,omitempty"`
	ConcurrencyStamp   string `dynamodbav:"concurrency_stamp"`

	Claims []Claim  `dynamodbav:"claims,omitempty"`
	Logins []Login  `dynamodbav:"logins,omitempty"`
	Tokens []Token  `dynamodbav:"tokens,omitempty"`
	Roles  []string `dynamodbav:"roles,omitempty"`

	Version   int64  `dynamodbav:"version"`
	CreatedAt string `dynamodbav:"created_at,omitempty"`
	UpdatedAt string `dynamodbav:"updated_at,omitempty"`

	// ReservationKeys lists the reservation documents this user owns, so
	// out-of-band deletes can be swept (see the stream package).
	ReservationKeys []string `dynamodbav:"_reservations,omitempty"`
}
