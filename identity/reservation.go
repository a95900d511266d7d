package identity

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/lattice/internal/constraintkey"
)

// Reservation kinds. The kind namespaces the reservation key, so a role
// named "admin" and a user named "admin" never collide.
const (
	KindRoleName  = "role/name"
	KindUserName  = "user/name"
	KindUserEmail = "user/email"
	KindUserLogin = "user/login"
)

const reservationSK = "RESERVATION"

// Reservation is a uniqueness marker document. Its id (Key) is a
// deterministic function of kind and normalized value, so two attempts to
// claim the same value collide on the id itself. RelationID points back at
// the owning entity.
type Reservation struct {
	Key        string
	Kind       string
	Value      string // normalized value the key was derived from
	RelationID string
}

// newReservation builds a reservation for a normalized value. RelationID may
// be filled in later, once the owning entity's id is known.
func newReservation(kind, normalizedValue string) (*Reservation, error) {
	key, err := constraintkey.Build(kind, normalizedValue)
	if err != nil {
		return nil, ErrEmptyValue
	}
	return &Reservation{Key: key, Kind: kind, Value: normalizedValue}, nil
}

// item returns the reservation's DynamoDB document.
func (r *Reservation) item() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk":          &types.AttributeValueMemberS{Value: r.Key},
		"sk":          &types.AttributeValueMemberS{Value: reservationSK},
		"kind":        &types.AttributeValueMemberS{Value: r.Kind},
		"value":       &types.AttributeValueMemberS{Value: r.Value},
		"relation_id": &types.AttributeValueMemberS{Value: r.RelationID},
	}
}

// ReservationKey returns the primary key for a reservation document. Used
// by the stores and by the stream sweeper.
func ReservationKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: key},
		"sk": &types.AttributeValueMemberS{Value: reservationSK},
	}
}

// loginValue is the reservation value for an external login identity.
func loginValue(provider, providerKey string) string {
	return provider + "#" + providerKey
}
