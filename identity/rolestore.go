package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// RoleStore persists roles with a unique normalized name. It owns one
// session for its lifetime and is not safe for concurrent use.
type RoleStore struct {
	guardedSaver
	client     DynamoAPI
	config     Config
	normalizer Normalizer
	closed     bool

	// AutoSaveChanges commits every mutating operation immediately. When
	// false, operations stage into the session until SaveChanges is called;
	// the constraint protocol applies identically, just deferred.
	AutoSaveChanges bool
}

// NewRoleStore creates a role store with the default name normalizer.
func NewRoleStore(client DynamoAPI, config Config) *RoleStore {
	return NewRoleStoreWithNormalizer(client, config, FoldNormalizer{})
}

// NewRoleStoreWithNormalizer creates a role store with a custom normalizer.
func NewRoleStoreWithNormalizer(client DynamoAPI, config Config, normalizer Normalizer) *RoleStore {
	config.validate()
	return &RoleStore{
		guardedSaver:    newGuardedSaver(client),
		client:          client,
		config:          config,
		normalizer:      normalizer,
		AutoSaveChanges: true,
	}
}

// begin rejects use of a closed store and observes cancellation before any
// store call.
func (s *RoleStore) begin(ctx context.Context) error {
	if s.closed {
		return ErrStoreClosed
	}
	return ctx.Err()
}

// Create persists a new role together with a reservation of its normalized
// name. A concurrent create of the same name fails with a
// *DuplicateValueError carrying the attempted name.
func (s *RoleStore) Create(ctx context.Context, role *Role) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	if role == nil {
		return ErrNilEntity
	}
	if role.NormalizedName == "" {
		role.NormalizedName = s.normalizer.Normalize(role.Name)
	}

	// RelationID is filled in below, once the role's id is known.
	res, err := newReservation(KindRoleName, role.NormalizedName)
	if err != nil {
		return err
	}

	if role.ID == "" {
		role.ID = uuid.NewString()
	}
	role.ConcurrencyStamp = uuid.NewString()
	role.Version = 1
	now := time.Now().UTC().Format(time.RFC3339)
	role.CreatedAt = now
	role.UpdatedAt = now
	role.ReservationKeys = []string{res.Key}
	res.RelationID = role.ID

	item, err := attributevalue.MarshalMap(role)
	if err != nil {
		return fmt.Errorf("marshal role: %w", err)
	}

	prev := s.session.StrictConcurrency(true)
	defer s.session.StrictConcurrency(prev)

	s.session.StageCreate(s.config.RolesTable, role.ID, item)
	s.session.StageReservation(s.config.ReservationsTable, res)
	s.trackAttempt(res.Key, KindRoleName, displayValue(role.Name, role.NormalizedName))

	if !s.AutoSaveChanges {
		return nil
	}
	return s.commitOp(ctx, role.ID, res.Key)
}

// Update saves a role under its version guard, regenerating the concurrency
// stamp so every successful update bumps the version even when no visible
// field changed. If the normalized name changed, the old reservation is
// deleted and a new one created in the same save; a collision on the new
// reservation is reported as a duplicate of the new name. A failed save
// leaves the role as it was before the call.
func (s *RoleStore) Update(ctx context.Context, role *Role) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	if role == nil {
		return ErrNilEntity
	}
	if role.ID == "" {
		return ErrEmptyValue
	}
	if role.NormalizedName == "" {
		role.NormalizedName = s.normalizer.Normalize(role.Name)
	}

	res, err := newReservation(KindRoleName, role.NormalizedName)
	if err != nil {
		return err
	}
	res.RelationID = role.ID

	renamed := true
	var stale []string
	for _, key := range role.ReservationKeys {
		if key == res.Key {
			renamed = false
		} else {
			stale = append(stale, key)
		}
	}

	expected := role.Version
	prevStamp := role.ConcurrencyStamp
	prevUpdated := role.UpdatedAt
	prevKeys := role.ReservationKeys
	restore := func() {
		role.Version = expected
		role.ConcurrencyStamp = prevStamp
		role.UpdatedAt = prevUpdated
		role.ReservationKeys = prevKeys
	}

	role.Version = expected + 1
	role.ConcurrencyStamp = uuid.NewString()
	role.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	role.ReservationKeys = []string{res.Key}

	item, err := attributevalue.MarshalMap(role)
	if err != nil {
		restore()
		return fmt.Errorf("marshal role: %w", err)
	}

	prev := s.session.StrictConcurrency(true)
	defer s.session.StrictConcurrency(prev)

	s.session.StageUpdate(s.config.RolesTable, role.ID, item, expected)
	staged := []string{role.ID}
	if renamed {
		s.session.StageReservation(s.config.ReservationsTable, res)
		s.trackAttempt(res.Key, KindRoleName, displayValue(role.Name, role.NormalizedName))
		staged = append(staged, res.Key)
	}
	for _, key := range stale {
		s.session.StageReservationDelete(s.config.ReservationsTable, key, role.ID)
		staged = append(staged, key)
	}

	if !s.AutoSaveChanges {
		return nil
	}
	if err := s.commitOp(ctx, staged...); err != nil {
		restore()
		return err
	}
	return nil
}

// Delete removes the role and every reservation it holds in one save. A
// conflict (concurrent modify or delete) is reported as
// ErrConcurrentModification and is not retried.
func (s *RoleStore) Delete(ctx context.Context, role *Role) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	if role == nil {
		return ErrNilEntity
	}
	if role.ID == "" {
		return ErrEmptyValue
	}

	prev := s.session.StrictConcurrency(true)
	defer s.session.StrictConcurrency(prev)

	s.session.StageDelete(s.config.RolesTable, role.ID, idKey(role.ID), role.Version)
	for _, key := range role.ReservationKeys {
		s.session.StageReservationDelete(s.config.ReservationsTable, key, role.ID)
	}

	if !s.AutoSaveChanges {
		return nil
	}
	return s.commitOp(ctx, append([]string{role.ID}, role.ReservationKeys...)...)
}

// FindByID loads a role by id.
func (s *RoleStore) FindByID(ctx context.Context, id string) (*Role, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrEmptyValue
	}

	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.config.RolesTable),
		Key:       idKey(id),
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}

	var role Role
	if err := attributevalue.UnmarshalMap(result.Item, &role); err != nil {
		return nil, fmt.Errorf("unmarshal role: %w", err)
	}
	return &role, nil
}

// FindByName loads a role by normalized name via the name index. Uniqueness
// is enforced at write time, so reads bypass reservations entirely.
func (s *RoleStore) FindByName(ctx context.Context, normalizedName string) (*Role, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	if normalizedName == "" {
		return nil, ErrEmptyValue
	}

	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                aws.String(s.config.RolesTable),
		IndexName:                aws.String(s.config.RoleNameIndex),
		KeyConditionExpression:   aws.String("#nn = :name"),
		ExpressionAttributeNames: map[string]string{"#nn": "normalized_name"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":name": &types.AttributeValueMemberS{Value: normalizedName},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(result.Items) == 0 {
		return nil, ErrNotFound
	}

	var role Role
	if err := attributevalue.UnmarshalMap(result.Items[0], &role); err != nil {
		return nil, fmt.Errorf("unmarshal role: %w", err)
	}
	return &role, nil
}

// GetRoleName returns the role's display name.
func (s *RoleStore) GetRoleName(role *Role) (string, error) {
	if s.closed {
		return "", ErrStoreClosed
	}
	if role == nil {
		return "", ErrNilEntity
	}
	return role.Name, nil
}

// SetRoleName sets the role's display name. Persisted on the next save.
func (s *RoleStore) SetRoleName(role *Role, name string) error {
	if s.closed {
		return ErrStoreClosed
	}
	if role == nil {
		return ErrNilEntity
	}
	role.Name = name
	return nil
}

// GetNormalizedRoleName returns the role's normalized name.
func (s *RoleStore) GetNormalizedRoleName(role *Role) (string, error) {
	if s.closed {
		return "", ErrStoreClosed
	}
	if role == nil {
		return "", ErrNilEntity
	}
	return role.NormalizedName, nil
}

// SetNormalizedRoleName sets the role's normalized name. The reservation
// moves to the new name on the next save.
func (s *RoleStore) SetNormalizedRoleName(role *Role, normalizedName string) error {
	if s.closed {
		return ErrStoreClosed
	}
	if role == nil {
		return ErrNilEntity
	}
	role.NormalizedName = normalizedName
	return nil
}

// GetClaims returns a copy of the role's claims.
func (s *RoleStore) GetClaims(role *Role) ([]Claim, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}
	if role == nil {
		return nil, ErrNilEntity
	}
	claims := make([]Claim, len(role.Claims))
	copy(claims, role.Claims)
	return claims, nil
}

// AddClaim appends a claim to the role in memory. Persisted on the next save.
func (s *RoleStore) AddClaim(role *Role, claim Claim) error {
	if s.closed {
		return ErrStoreClosed
	}
	if role == nil {
		return ErrNilEntity
	}
	role.Claims = append(role.Claims, claim)
	return nil
}

// RemoveClaim removes every structural match of claim from the role in
// memory. Persisted on the next save.
func (s *RoleStore) RemoveClaim(role *Role, claim Claim) error {
	if s.closed {
		return ErrStoreClosed
	}
	if role == nil {
		return ErrNilEntity
	}
	role.Claims = removeClaim(role.Claims, claim)
	return nil
}

// SaveChanges commits writes staged while AutoSaveChanges was off.
func (s *RoleStore) SaveChanges(ctx context.Context) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	return s.commit(ctx)
}

// Close releases the store's session. Operations after Close fail with
// ErrStoreClosed. Close is idempotent.
func (s *RoleStore) Close() error {
	s.closed = true
	s.session.Reset()
	return nil
}

// idKey returns the primary key for an entity document.
func idKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	}
}

// displayValue picks the value reported in duplicate errors: the display
// form when the caller supplied one, otherwise the normalized form.
func displayValue(display, normalized string) string {
	if display != "" {
		return display
	}
	return normalized
}
