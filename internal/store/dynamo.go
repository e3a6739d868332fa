// Package store provides the read-side adapters enrichment pulls lease
// context from. Two production backends exist (DynamoDB tables shared with
// the lease service, or its HTTP read API) plus an in-memory stub for local
// runs. All adapters share one contract: a missing record is (nil, nil),
// never an error.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"sandboxnotify/internal/types"
)

// dynamoAPI is the subset of the DynamoDB client the store uses.
// An interface so tests can substitute a mock.
type dynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoStore reads lease context from the platform's shared DynamoDB
// tables. It implements LeaseStore, AccountStore and ProfileStore.
type DynamoStore struct {
	client       dynamoAPI
	leaseTable   string
	accountTable string
	profileTable string
}

// NewDynamoStore builds a DynamoStore against the given tables using the
// default AWS credential chain.
func NewDynamoStore(ctx context.Context, region, leaseTable, accountTable, profileTable string) (*DynamoStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config for DynamoDB (region=%s): %w", region, err)
	}

	return &DynamoStore{
		client:       dynamodb.NewFromConfig(cfg),
		leaseTable:   leaseTable,
		accountTable: accountTable,
		profileTable: profileTable,
	}, nil
}

// newDynamoStoreWithClient is the test constructor.
func newDynamoStoreWithClient(client dynamoAPI, leaseTable, accountTable, profileTable string) *DynamoStore {
	return &DynamoStore{
		client:       client,
		leaseTable:   leaseTable,
		accountTable: accountTable,
		profileTable: profileTable,
	}
}

// GetLease fetches a lease record by its composite key.
func (s *DynamoStore) GetLease(ctx context.Context, key types.LeaseKey) (*types.LeaseRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.leaseTable),
		Key: map[string]ddbtypes.AttributeValue{
			"userEmail": &ddbtypes.AttributeValueMemberS{Value: key.UserEmail},
			"uuid":      &ddbtypes.AttributeValueMemberS{Value: key.UUID},
		},
	})
	if err != nil {
		return nil, mapDynamoError("lease", err)
	}
	if out.Item == nil {
		return nil, nil
	}

	var record types.LeaseRecord
	if err := attributevalue.UnmarshalMap(out.Item, &record); err != nil {
		return nil, fmt.Errorf("unmarshaling lease record: %w", err)
	}
	return &record, nil
}

// GetAccount fetches a sandbox account record by AWS account id.
func (s *DynamoStore) GetAccount(ctx context.Context, accountID string) (*types.AccountRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.accountTable),
		Key: map[string]ddbtypes.AttributeValue{
			"accountId": &ddbtypes.AttributeValueMemberS{Value: accountID},
		},
	})
	if err != nil {
		return nil, mapDynamoError("account", err)
	}
	if out.Item == nil {
		return nil, nil
	}

	var record types.AccountRecord
	if err := attributevalue.UnmarshalMap(out.Item, &record); err != nil {
		return nil, fmt.Errorf("unmarshaling account record: %w", err)
	}
	return &record, nil
}

// GetProfile fetches a user profile by email.
func (s *DynamoStore) GetProfile(ctx context.Context, email string) (*types.UserProfile, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.profileTable),
		Key: map[string]ddbtypes.AttributeValue{
			"email": &ddbtypes.AttributeValueMemberS{Value: email},
		},
	})
	if err != nil {
		return nil, mapDynamoError("profile", err)
	}
	if out.Item == nil {
		return nil, nil
	}

	var profile types.UserProfile
	if err := attributevalue.UnmarshalMap(out.Item, &profile); err != nil {
		return nil, fmt.Errorf("unmarshaling user profile: %w", err)
	}
	return &profile, nil
}

// mapDynamoError classifies a DynamoDB failure. Throttling is distinguished
// so operators can tell capacity exhaustion from outage; both are retriable
// from the pipeline's point of view.
func mapDynamoError(entity string, err error) error {
	var throughput *ddbtypes.ProvisionedThroughputExceededException
	if errors.As(err, &throughput) {
		return types.NewError(
			types.KindRetriable,
			types.ErrCodeStoreThrottled,
			fmt.Sprintf("%s table throttled", entity),
			err,
		)
	}

	return types.NewError(
		types.KindRetriable,
		types.ErrCodeStoreUnavailable,
		fmt.Sprintf("%s lookup failed", entity),
		err,
	)
}
