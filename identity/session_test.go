package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func item(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	}
}

// --- Staging Tests ---

func TestSession_StageCreate_StrictAddsCondition(t *testing.T) {
	s := NewSession(&fakeClient{})
	s.StrictConcurrency(true)
	s.StageCreate("roles", "r1", item("r1"))

	put := s.pending[0].item.Put
	if put.ConditionExpression == nil || *put.ConditionExpression != "attribute_not_exists(id)" {
		t.Errorf("expected attribute_not_exists(id) condition, got %v", put.ConditionExpression)
	}
}

func TestSession_StageCreate_NonStrictUnconditioned(t *testing.T) {
	s := NewSession(&fakeClient{})
	s.StageCreate("roles", "r1", item("r1"))

	if cond := s.pending[0].item.Put.ConditionExpression; cond != nil {
		t.Errorf("expected no condition in non-strict mode, got %q", *cond)
	}
}

func TestSession_StageUpdate_StrictGuardsVersion(t *testing.T) {
	s := NewSession(&fakeClient{})
	s.StrictConcurrency(true)
	s.StageUpdate("roles", "r1", item("r1"), 3)

	put := s.pending[0].item.Put
	if put.ConditionExpression == nil || *put.ConditionExpression != "#version = :expected_version" {
		t.Fatalf("expected version condition, got %v", put.ConditionExpression)
	}
	expected := put.ExpressionAttributeValues[":expected_version"].(*types.AttributeValueMemberN)
	if expected.Value != "3" {
		t.Errorf("expected version 3, got %q", expected.Value)
	}
}

func TestSession_StageReservation_AlwaysConditioned(t *testing.T) {
	s := NewSession(&fakeClient{}) // non-strict
	s.StageReservation("reservations", &Reservation{
		Key: "abc", Kind: KindRoleName, Value: "admin", RelationID: "r1",
	})

	put := s.pending[0].item.Put
	if put.ConditionExpression == nil || *put.ConditionExpression != "attribute_not_exists(pk)" {
		t.Errorf("expected attribute_not_exists(pk) regardless of mode, got %v", put.ConditionExpression)
	}
}

func TestSession_StageReservationDelete_OwnerGuarded(t *testing.T) {
	s := NewSession(&fakeClient{})
	s.StageReservationDelete("reservations", "abc", "r1")

	del := s.pending[0].item.Delete
	if del.ConditionExpression == nil || *del.ConditionExpression != "relation_id = :owner" {
		t.Fatalf("expected owner guard on reservation delete, got %v", del.ConditionExpression)
	}
	owner := del.ExpressionAttributeValues[":owner"].(*types.AttributeValueMemberS)
	if owner.Value != "r1" {
		t.Errorf("expected owner r1, got %q", owner.Value)
	}
}

func TestSession_StrictConcurrency_ReturnsPrevious(t *testing.T) {
	s := NewSession(&fakeClient{})

	if prev := s.StrictConcurrency(true); prev {
		t.Error("expected initial mode to be non-strict")
	}
	if prev := s.StrictConcurrency(false); !prev {
		t.Error("expected previous mode to be strict")
	}
}

func TestSession_Evict(t *testing.T) {
	s := NewSession(&fakeClient{})
	s.StageCreate("roles", "r1", item("r1"))
	s.StageCreate("roles", "r2", item("r2"))
	s.StageReservationDelete("reservations", "r1", "e1")

	s.Evict("r1")

	if s.Pending() != 1 {
		t.Fatalf("expected 1 pending write after evict, got %d", s.Pending())
	}
	if s.pending[0].docID != "r2" {
		t.Errorf("expected r2 to survive, got %q", s.pending[0].docID)
	}
}

// --- SaveChanges Tests ---

func TestSession_SaveChanges_Empty(t *testing.T) {
	client := &fakeClient{}
	s := NewSession(client)

	if err := s.SaveChanges(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.transactInputs) != 0 || len(client.putInputs) != 0 {
		t.Error("expected no store calls for an empty save")
	}
}

func TestSession_SaveChanges_SingleWriteUsesPutItem(t *testing.T) {
	client := &fakeClient{}
	s := NewSession(client)
	s.StrictConcurrency(true)
	s.StageCreate("roles", "r1", item("r1"))

	if err := s.SaveChanges(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.transactInputs) != 0 {
		t.Error("expected no transaction for a single write")
	}
	if len(client.putInputs) != 1 {
		t.Fatalf("expected 1 PutItem call, got %d", len(client.putInputs))
	}
	put := client.putInputs[0]
	if put.ConditionExpression == nil || *put.ConditionExpression != "attribute_not_exists(id)" {
		t.Errorf("expected the staged condition on the fast path, got %v", put.ConditionExpression)
	}
	if s.Pending() != 0 {
		t.Errorf("expected pending cleared after save, got %d", s.Pending())
	}
}

func TestSession_SaveChanges_SingleConflict(t *testing.T) {
	client := &fakeClient{putErr: &types.ConditionalCheckFailedException{Message: aws.String("conditional failed")}}
	s := NewSession(client)
	s.StrictConcurrency(true)
	s.StageCreate("roles", "r1", item("r1"))

	err := s.SaveChanges(context.Background())

	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected *ConflictError, got %v", err)
	}
	if conflict.DocumentID != "r1" {
		t.Errorf("expected conflict on r1, got %q", conflict.DocumentID)
	}
	if !errors.Is(err, ErrConcurrentModification) {
		t.Error("expected ConflictError to unwrap to ErrConcurrentModification")
	}
	if s.Pending() != 1 {
		t.Errorf("expected pending kept on conflict, got %d", s.Pending())
	}
}

func TestSession_SaveChanges_MultipleUseTransaction(t *testing.T) {
	client := &fakeClient{}
	s := NewSession(client)
	s.StrictConcurrency(true)
	s.StageCreate("roles", "r1", item("r1"))
	s.StageReservation("reservations", &Reservation{Key: "k1", Kind: KindRoleName, Value: "admin", RelationID: "r1"})

	if err := s.SaveChanges(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tx := client.lastTransact()
	if tx == nil || len(tx.TransactItems) != 2 {
		t.Fatalf("expected one transaction with 2 items, got %+v", tx)
	}
}

func TestSession_SaveChanges_ConflictAttributedByIndex(t *testing.T) {
	client := &fakeClient{
		transactErr: &types.TransactionCanceledException{
			Message: aws.String("transaction canceled"),
			CancellationReasons: []types.CancellationReason{
				{Code: aws.String("None")},
				{Code: aws.String("ConditionalCheckFailed")},
			},
		},
	}
	s := NewSession(client)
	s.StrictConcurrency(true)
	s.StageCreate("roles", "r1", item("r1"))
	s.StageReservation("reservations", &Reservation{Key: "k1", Kind: KindRoleName, Value: "admin", RelationID: "r1"})

	err := s.SaveChanges(context.Background())

	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected *ConflictError, got %v", err)
	}
	if conflict.DocumentID != "k1" {
		t.Errorf("expected conflict attributed to reservation k1, got %q", conflict.DocumentID)
	}
}

func TestSession_SaveChanges_CancelWithoutReasonIsGeneric(t *testing.T) {
	client := &fakeClient{
		transactErr: &types.TransactionCanceledException{
			Message: aws.String("transaction canceled"),
			CancellationReasons: []types.CancellationReason{
				{Code: aws.String("TransactionConflict")},
				{Code: aws.String("None")},
			},
		},
	}
	s := NewSession(client)
	s.StageCreate("roles", "r1", item("r1"))
	s.StageCreate("roles", "r2", item("r2"))

	err := s.SaveChanges(context.Background())
	if !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		t.Errorf("expected no document attribution, got %q", conflict.DocumentID)
	}
}

func TestSession_SaveChanges_UnrelatedErrorPassesThrough(t *testing.T) {
	boom := errors.New("throttled")
	client := &fakeClient{transactErr: boom}
	s := NewSession(client)
	s.StageCreate("roles", "r1", item("r1"))
	s.StageCreate("roles", "r2", item("r2"))

	if err := s.SaveChanges(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected underlying error, got %v", err)
	}
}
