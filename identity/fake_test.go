package identity

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// fakeClient implements DynamoAPI for tests, recording inputs and returning
// canned outputs or errors.
type fakeClient struct {
	getFn   func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error)
	queryFn func(*dynamodb.QueryInput) (*dynamodb.QueryOutput, error)

	putInputs      []*dynamodb.PutItemInput
	deleteInputs   []*dynamodb.DeleteItemInput
	transactInputs []*dynamodb.TransactWriteItemsInput

	putErr      error
	deleteErr   error
	transactErr error
}

func (f *fakeClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.getFn != nil {
		return f.getFn(params)
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (f *fakeClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.putInputs = append(f.putInputs, params)
	if f.putErr != nil {
		return nil, f.putErr
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeClient) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.deleteInputs = append(f.deleteInputs, params)
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeClient) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if f.queryFn != nil {
		return f.queryFn(params)
	}
	return &dynamodb.QueryOutput{}, nil
}

func (f *fakeClient) TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.transactInputs = append(f.transactInputs, params)
	if f.transactErr != nil {
		return nil, f.transactErr
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

// lastTransact returns the most recent transaction input, or nil.
func (f *fakeClient) lastTransact() *dynamodb.TransactWriteItemsInput {
	if len(f.transactInputs) == 0 {
		return nil
	}
	return f.transactInputs[len(f.transactInputs)-1]
}
