package identity

import (
	"context"
	"errors"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client the stores use.
// *dynamodb.Client satisfies it.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// stagedWrite is one pending write, tagged with the id of the document it
// touches so a failed save can be attributed to a specific document.
type stagedWrite struct {
	docID string
	item  types.TransactWriteItem
}

// Session is a unit of work: writes are staged and committed together by
// SaveChanges, which either applies all of them or none. A Session owns its
// client for the duration of one logical operation sequence and is not safe
// for concurrent use.
//
// Sessions stage writes unconditioned by default. StrictConcurrency enables
// version guards on entity writes; the stores flip it on for the scope of
// each guarded operation and restore the prior mode on every exit path.
// Reservation puts are always guarded by their own id, strict or not, since
// the id collision is the uniqueness signal itself.
type Session struct {
	client  DynamoAPI
	strict  bool
	pending []stagedWrite
}

// NewSession creates a session over the given client.
func NewSession(client DynamoAPI) *Session {
	return &Session{client: client}
}

// StrictConcurrency sets the concurrency mode for subsequently staged writes
// and returns the previous mode so callers can restore it.
func (s *Session) StrictConcurrency(on bool) (prev bool) {
	prev = s.strict
	s.strict = on
	return prev
}

// Pending returns the number of staged writes.
func (s *Session) Pending() int {
	return len(s.pending)
}

// StageCreate stages a put that, in strict mode, fails if a document with
// the same id already exists.
func (s *Session) StageCreate(table, docID string, item map[string]types.AttributeValue) {
	put := &types.Put{
		TableName: aws.String(table),
		Item:      item,
	}
	if s.strict {
		put.ConditionExpression = aws.String("attribute_not_exists(id)")
	}
	s.pending = append(s.pending, stagedWrite{
		docID: docID,
		item:  types.TransactWriteItem{Put: put},
	})
}

// StageUpdate stages a full-document replace that, in strict mode, fails
// unless the stored version still equals expectedVersion.
func (s *Session) StageUpdate(table, docID string, item map[string]types.AttributeValue, expectedVersion int64) {
	put := &types.Put{
		TableName: aws.String(table),
		Item:      item,
	}
	if s.strict {
		put.ConditionExpression = aws.String("#version = :expected_version")
		put.ExpressionAttributeNames = map[string]string{"#version": "version"}
		put.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected_version": &types.AttributeValueMemberN{
				Value: strconv.FormatInt(expectedVersion, 10),
			},
		}
	}
	s.pending = append(s.pending, stagedWrite{
		docID: docID,
		item:  types.TransactWriteItem{Put: put},
	})
}

// StageDelete stages a document delete that, in strict mode, fails unless
// the stored version still equals expectedVersion.
func (s *Session) StageDelete(table, docID string, key map[string]types.AttributeValue, expectedVersion int64) {
	del := &types.Delete{
		TableName: aws.String(table),
		Key:       key,
	}
	if s.strict {
		del.ConditionExpression = aws.String("#version = :expected_version")
		del.ExpressionAttributeNames = map[string]string{"#version": "version"}
		del.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected_version": &types.AttributeValueMemberN{
				Value: strconv.FormatInt(expectedVersion, 10),
			},
		}
	}
	s.pending = append(s.pending, stagedWrite{
		docID: docID,
		item:  types.TransactWriteItem{Delete: del},
	})
}

// StageReservation stages a reservation put. The attribute_not_exists guard
// is attached regardless of concurrency mode.
func (s *Session) StageReservation(table string, res *Reservation) {
	s.pending = append(s.pending, stagedWrite{
		docID: res.Key,
		item: types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(table),
				Item:                res.item(),
				ConditionExpression: aws.String("attribute_not_exists(pk)"),
			},
		},
	})
}

// StageReservationDelete stages a reservation delete conditioned on the
// reservation still pointing at ownerID. A reservation held by another entity
// fails the condition instead of being destroyed.
func (s *Session) StageReservationDelete(table, key, ownerID string) {
	s.pending = append(s.pending, stagedWrite{
		docID: key,
		item: types.TransactWriteItem{
			Delete: &types.Delete{
				TableName:           aws.String(table),
				Key:                 ReservationKey(key),
				ConditionExpression: aws.String("relation_id = :owner"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":owner": &types.AttributeValueMemberS{Value: ownerID},
				},
			},
		},
	})
}

// Evict removes every staged write touching docID so a later, unrelated save
// cannot flush it.
func (s *Session) Evict(docID string) {
	kept := s.pending[:0]
	for _, w := range s.pending {
		if w.docID != docID {
			kept = append(kept, w)
		}
	}
	s.pending = kept
}

// Reset discards all staged writes.
func (s *Session) Reset() {
	s.pending = nil
}

// SaveChanges commits all staged writes as one unit. On success the pending
// set is cleared. On a conditional failure it returns a *ConflictError
// naming the document whose condition failed and leaves the pending set
// intact for the caller to evict.
func (s *Session) SaveChanges(ctx context.Context) error {
	switch len(s.pending) {
	case 0:
		return nil
	case 1:
		// Single staged write: a transaction would only add cost.
		if err := s.saveSingle(ctx, s.pending[0]); err != nil {
			return err
		}
		s.pending = nil
		return nil
	}

	items := make([]types.TransactWriteItem, len(s.pending))
	for i, w := range s.pending {
		items[i] = w.item
	}

	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		return s.mapTransactionError(err)
	}

	s.pending = nil
	return nil
}

// saveSingle commits one staged write with PutItem or DeleteItem, keeping
// the same conditions the transaction path would use.
func (s *Session) saveSingle(ctx context.Context, w stagedWrite) error {
	var err error
	switch {
	case w.item.Put != nil:
		put := w.item.Put
		_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                 put.TableName,
			Item:                      put.Item,
			ConditionExpression:       put.ConditionExpression,
			ExpressionAttributeNames:  put.ExpressionAttributeNames,
			ExpressionAttributeValues: put.ExpressionAttributeValues,
		})
	case w.item.Delete != nil:
		del := w.item.Delete
		_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:                 del.TableName,
			Key:                       del.Key,
			ConditionExpression:       del.ConditionExpression,
			ExpressionAttributeNames:  del.ExpressionAttributeNames,
			ExpressionAttributeValues: del.ExpressionAttributeValues,
		})
	}

	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return &ConflictError{DocumentID: w.docID}
	}
	return err
}

// mapTransactionError attributes a cancelled transaction to the staged
// document whose condition failed. DynamoDB reports cancellation reasons
// positionally, one per staged item.
func (s *Session) mapTransactionError(err error) error {
	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for i, reason := range txErr.CancellationReasons {
			if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" && i < len(s.pending) {
				return &ConflictError{DocumentID: s.pending[i].docID}
			}
		}
		return ErrConcurrentModification
	}
	return err
}
