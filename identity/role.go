package identity

// Role is a role document. The claim list is part of the document itself and
// is persisted as a whole on the next save; mutating it has no effect until
// then.
//
// Version and the reservation key list are managed by the store.
type Role struct {
	ID               string  `dynamodbav:"id"`
	Name             string  `dynamodbav:"name"`
	NormalizedName   string  `dynamodbav:"normalized_name"`
	ConcurrencyStamp string  `dynamodbav:"concurrency_stamp"`
	Claims           []Claim `dynamodbav:"claims,omitempty"`

	Version   int64  `dynamodbav:"version"`
	CreatedAt string `dynamodbav:"created_at,omitempty"`
	UpdatedAt string `dynamodbav:"updated_at,omitempty"`

	// ReservationKeys lists the reservation documents this role owns, so
	// out-of-band deletes can be swept (see the stream package).
	ReservationKeys []string `dynamodbav:"_reservations,omitempty"`
}
