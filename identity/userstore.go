package identity

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/lattice/internal/constraintkey"
)

// UserStore persists users with a unique normalized user name, unique
// external logins, and optionally unique emails. It owns one session for its
// lifetime and is not safe for concurrent use.
type UserStore struct {
	guardedSaver
	client     DynamoAPI
	config     Config
	normalizer Normalizer
	closed     bool

	// AutoSaveChanges commits every mutating operation immediately. When
	// false, operations stage into the session until SaveChanges is called.
	AutoSaveChanges bool
}

// NewUserStore creates a user store with the default name normalizer.
func NewUserStore(client DynamoAPI, config Config) *UserStore {
	return NewUserStoreWithNormalizer(client, config, FoldNormalizer{})
}

// NewUserStoreWithNormalizer creates a user store with a custom normalizer.
func NewUserStoreWithNormalizer(client DynamoAPI, config Config, normalizer Normalizer) *UserStore {
	config.validate()
	return &UserStore{
		guardedSaver:    newGuardedSaver(client),
		client:          client,
		config:          config,
		normalizer:      normalizer,
		AutoSaveChanges: true,
	}
}

func (s *UserStore) begin(ctx context.Context) error {
	if s.closed {
		return ErrStoreClosed
	}
	return ctx.Err()
}

// reservations returns every reservation the user should hold given its
// current state: the user name, the email when unique emails are required,
// and one per external login.
func (s *UserStore) reservations(user *User) (map[string]*Reservation, error) {
	out := make(map[string]*Reservation)

	nameRes, err := newReservation(KindUserName, user.NormalizedUserName)
	if err != nil {
		return nil, err
	}
	nameRes.RelationID = user.ID
	out[nameRes.Key] = nameRes

	if s.config.RequireUniqueEmail && user.NormalizedEmail != "" {
		emailRes, err := newReservation(KindUserEmail, user.NormalizedEmail)
		if err != nil {
			return nil, err
		}
		emailRes.RelationID = user.ID
		out[emailRes.Key] = emailRes
	}

	for _, login := range user.Logins {
		loginRes, err := newReservation(KindUserLogin, loginValue(login.Provider, login.ProviderKey))
		if err != nil {
			return nil, err
		}
		loginRes.RelationID = user.ID
		out[loginRes.Key] = loginRes
	}

	return out, nil
}

// trackReservation records the caller-facing value for duplicate reporting.
func (s *UserStore) trackReservation(res *Reservation, user *User) {
	switch res.Kind {
	case KindUserName:
		s.trackAttempt(res.Key, res.Kind, displayValue(user.UserName, user.NormalizedUserName))
	case KindUserEmail:
		s.trackAttempt(res.Key, res.Kind, displayValue(user.Email, user.NormalizedEmail))
	default:
		s.trackAttempt(res.Key, res.Kind, res.Value)
	}
}

// Create persists a new user together with reservations of its user name,
// email (when required unique), and logins. A collision on any reservation
// id fails with a *DuplicateValueError carrying the attempted value.
func (s *UserStore) Create(ctx context.Context, user *User) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	if user == nil {
		return ErrNilEntity
	}
	if user.NormalizedUserName == "" {
		user.NormalizedUserName = s.normalizer.Normalize(user.UserName)
	}
	if user.NormalizedEmail == "" && user.Email != "" {
		user.NormalizedEmail = s.normalizer.Normalize(user.Email)
	}

	// An invalid user name must fail before any field is assigned.
	desired, err := s.reservations(user)
	if err != nil {
		return err
	}

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.ConcurrencyStamp = uuid.NewString()
	if user.SecurityStamp == "" {
		user.SecurityStamp = uuid.NewString()
	}
	user.Version = 1
	now := time.Now().UTC().Format(time.RFC3339)
	user.CreatedAt = now
	user.UpdatedAt = now

	for _, res := range desired {
		res.RelationID = user.ID
	}
	user.ReservationKeys = sortedKeys(desired)

	item, err := attributevalue.MarshalMap(user)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}

	prev := s.session.StrictConcurrency(true)
	defer s.session.StrictConcurrency(prev)

	s.session.StageCreate(s.config.UsersTable, user.ID, item)
	for _, key := range user.ReservationKeys {
		res := desired[key]
		s.session.StageReservation(s.config.ReservationsTable, res)
		s.trackReservation(res, user)
	}

	if !s.AutoSaveChanges {
		return nil
	}
	return s.commitOp(ctx, append([]string{user.ID}, user.ReservationKeys...)...)
}

// Update saves a user under its version guard, regenerating the concurrency
// stamp. Reservations are diffed against the ones the document holds:
// renamed values and newly added logins create reservations, dropped values
// delete theirs, all in the same save. A failed save leaves the user's
// version, stamp, and reservation list as they were before the call.
func (s *UserStore) Update(ctx context.Context, user *User) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	if user == nil {
		return ErrNilEntity
	}
	if user.ID == "" {
		return ErrEmptyValue
	}
	if user.NormalizedUserName == "" {
		user.NormalizedUserName = s.normalizer.Normalize(user.UserName)
	}
	if user.NormalizedEmail == "" && user.Email != "" {
		user.NormalizedEmail = s.normalizer.Normalize(user.Email)
	}

	desired, err := s.reservations(user)
	if err != nil {
		return err
	}

	held := make(map[string]bool, len(user.ReservationKeys))
	for _, key := range user.ReservationKeys {
		held[key] = true
	}

	expected := user.Version
	prevStamp := user.ConcurrencyStamp
	prevUpdated := user.UpdatedAt
	prevKeys := user.ReservationKeys
	restore := func() {
		user.Version = expected
		user.ConcurrencyStamp = prevStamp
		user.UpdatedAt = prevUpdated
		user.ReservationKeys = prevKeys
	}

	user.Version = expected + 1
	user.ConcurrencyStamp = uuid.NewString()
	user.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	user.ReservationKeys = sortedKeys(desired)

	item, err := attributevalue.MarshalMap(user)
	if err != nil {
		restore()
		return fmt.Errorf("marshal user: %w", err)
	}

	prev := s.session.StrictConcurrency(true)
	defer s.session.StrictConcurrency(prev)

	s.session.StageUpdate(s.config.UsersTable, user.ID, item, expected)
	staged := []string{user.ID}
	for _, key := range user.ReservationKeys {
		if !held[key] {
			res := desired[key]
			s.session.StageReservation(s.config.ReservationsTable, res)
			s.trackReservation(res, user)
			staged = append(staged, key)
		}
	}
	for key := range held {
		if _, keep := desired[key]; !keep {
			s.session.StageReservationDelete(s.config.ReservationsTable, key, user.ID)
			staged = append(staged, key)
		}
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

// Delete removes the user and every reservation it holds in one save.
func (s *UserStore) Delete(ctx context.Context, user *User) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	if user == nil {
		return ErrNilEntity
	}
	if user.ID == "" {
		return ErrEmptyValue
	}

	prev := s.session.StrictConcurrency(true)
	defer s.session.StrictConcurrency(prev)

	s.session.StageDelete(s.config.UsersTable, user.ID, idKey(user.ID), user.Version)
	for _, key := range user.ReservationKeys {
		s.session.StageReservationDelete(s.config.ReservationsTable, key, user.ID)
	}

	if !s.AutoSaveChanges {
		return nil
	}
	return s.commitOp(ctx, append([]string{user.ID}, user.ReservationKeys...)...)
}

// FindByID loads a user by id.
func (s *UserStore) FindByID(ctx context.Context, id string) (*User, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrEmptyValue
	}

	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.config.UsersTable),
		Key:       idKey(id),
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}
	return unmarshalUser(result.Item)
}

// FindByName loads a user by normalized user name via the name index.
func (s *UserStore) FindByName(ctx context.Context, normalizedUserName string) (*User, error) {
	return s.findByIndex(ctx, s.config.UserNameIndex, "normalized_name", normalizedUserName)
}

// FindByEmail loads a user by normalized email via the email index.
func (s *UserStore) FindByEmail(ctx context.Context, normalizedEmail string) (*User, error) {
	return s.findByIndex(ctx, s.config.UserEmailIndex, "normalized_email", normalizedEmail)
}

func (s *UserStore) findByIndex(ctx context.Context, index, attr, value string) (*User, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	if value == "" {
		return nil, ErrEmptyValue
	}

	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                aws.String(s.config.UsersTable),
		IndexName:                aws.String(index),
		KeyConditionExpression:   aws.String("#attr = :value"),
		ExpressionAttributeNames: map[string]string{"#attr": attr},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":value": &types.AttributeValueMemberS{Value: value},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(result.Items) == 0 {
		return nil, ErrNotFound
	}
	return unmarshalUser(result.Items[0])
}

// FindByLogin resolves an external login to its user: the login's
// reservation document is loaded by its deterministic key and its
// relation_id followed to the user document.
func (s *UserStore) FindByLogin(ctx context.Context, provider, providerKey string) (*User, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	if provider == "" || providerKey == "" {
		return nil, ErrEmptyValue
	}

	key, err := constraintkey.Build(KindUserLogin, loginValue(provider, providerKey))
	if err != nil {
		return nil, ErrEmptyValue
	}

	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.config.ReservationsTable),
		Key:       ReservationKey(key),
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}

	relation, ok := result.Item["relation_id"].(*types.AttributeValueMemberS)
	if !ok || relation.Value == "" {
		return nil, ErrNotFound
	}
	return s.FindByID(ctx, relation.Value)
}

// AddLogin attaches an external login to the user in memory. The login's
// reservation is created by the next save; a concurrent claim of the same
// provider+key fails that save with a *DuplicateValueError.
func (s *UserStore) AddLogin(user *User, login Login) error {
	if s.closed {
		return ErrStoreClosed
	}
	if user == nil {
		return ErrNilEntity
	}
	if login.Provider == "" || login.ProviderKey == "" {
		return ErrEmptyValue
	}
	user.Logins = append(user.Logins, login)
	return nil
}

// RemoveLogin detaches an external login in memory. The reservation is
// deleted by the next save.
func (s *UserStore) RemoveLogin(user *User, provider, providerKey string) error {
	if s.closed {
		return ErrStoreClosed
	}
	if user == nil {
		return ErrNilEntity
	}
	kept := user.Logins[:0]
	for _, login := range user.Logins {
		if login.Provider != provider || login.ProviderKey != providerKey {
			kept = append(kept, login)
		}
	}
	user.Logins = kept
	return nil
}

// GetLogins returns a copy of the user's logins.
func (s *UserStore) GetLogins(user *User) ([]Login, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}
	if user == nil {
		return nil, ErrNilEntity
	}
	logins := make([]Login, len(user.Logins))
	copy(logins, user.Logins)
	return logins, nil
}

// SetToken stores a token value in memory, replacing any token with the same
// provider and name. Persisted on the next save.
func (s *UserStore) SetToken(user *User, provider, name, value string) error {
	if s.closed {
		return ErrStoreClosed
	}
	if user == nil {
		return ErrNilEntity
	}
	if provider == "" || name == "" {
		return ErrEmptyValue
	}
	for i, token := range user.Tokens {
		if token.Provider == provider && token.Name == name {
			user.Tokens[i].Value = value
			return nil
		}
	}
	user.Tokens = append(user.Tokens, Token{Provider: provider, Name: name, Value: value})
	return nil
}

// GetToken returns a stored token value, or ErrNotFound.
func (s *UserStore) GetToken(user *User, provider, name string) (string, error) {
	if s.closed {
		return "", ErrStoreClosed
	}
	if user == nil {
		return "", ErrNilEntity
	}
	for _, token := range user.Tokens {
		if token.Provider == provider && token.Name == name {
			return token.Value, nil
		}
	}
	return "", ErrNotFound
}

// RemoveToken removes a token in memory. Persisted on the next save.
func (s *UserStore) RemoveToken(user *User, provider, name string) error {
	if s.closed {
		return ErrStoreClosed
	}
	if user == nil {
		return ErrNilEntity
	}
	kept := user.Tokens[:0]
	for _, token := range user.Tokens {
		if token.Provider != provider || token.Name != name {
			kept = append(kept, token)
		}
	}
	user.Tokens = kept
	return nil
}

// GetClaims returns a copy of the user's claims.
func (s *UserStore) GetClaims(user *User) ([]Claim, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}
	if user == nil {
		return nil, ErrNilEntity
	}
	claims := make([]Claim, len(user.Claims))
	copy(claims, user.Claims)
	return claims, nil
}

// AddClaim appends a claim to the user in memory. Persisted on the next save.
func (s *UserStore) AddClaim(user *User, claim Claim) error {
	if s.closed {
		return ErrStoreClosed
	}
	if user == nil {
		return ErrNilEntity
	}
	user.Claims = append(user.Claims, claim)
	return nil
}

// RemoveClaim removes every structural match of claim in memory.
func (s *UserStore) RemoveClaim(user *User, claim Claim) error {
	if s.closed {
		return ErrStoreClosed
	}
	if user == nil {
		return ErrNilEntity
	}
	user.Claims = removeClaim(user.Claims, claim)
	return nil
}

// AddToRole adds a role membership by normalized role name in memory.
func (s *UserStore) AddToRole(user *User, normalizedRoleName string) error {
	if s.closed {
		return ErrStoreClosed
	}
	if user == nil {
		return ErrNilEntity
	}
	if normalizedRoleName == "" {
		return ErrEmptyValue
	}
	for _, role := range user.Roles {
		if role == normalizedRoleName {
			return nil
		}
	}
	user.Roles = append(user.Roles, normalizedRoleName)
	return nil
}

// RemoveFromRole removes a role membership in memory.
func (s *UserStore) RemoveFromRole(user *User, normalizedRoleName string) error {
	if s.closed {
		return ErrStoreClosed
	}
	if user == nil {
		return ErrNilEntity
	}
	kept := user.Roles[:0]
	for _, role := range user.Roles {
		if role != normalizedRoleName {
			kept = append(kept, role)
		}
	}
	user.Roles = kept
	return nil
}

// IsInRole reports whether the user holds a role membership.
func (s *UserStore) IsInRole(user *User, normalizedRoleName string) (bool, error) {
	if s.closed {
		return false, ErrStoreClosed
	}
	if user == nil {
		return false, ErrNilEntity
	}
	for _, role := range user.Roles {
		if role == normalizedRoleName {
			return true, nil
		}
	}
	return false, nil
}

// GetRoles returns a copy of the user's role memberships.
func (s *UserStore) GetRoles(user *User) ([]string, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}
	if user == nil {
		return nil, ErrNilEntity
	}
	roles := make([]string, len(user.Roles))
	copy(roles, user.Roles)
	return roles, nil
}

// SaveChanges commits writes staged while AutoSaveChanges was off.
func (s *UserStore) SaveChanges(ctx context.Context) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	return s.commit(ctx)
}

// Close releases the store's session. Operations after Close fail with
// ErrStoreClosed. Close is idempotent.
func (s *UserStore) Close() error {
	s.closed = true
	s.session.Reset()
	return nil
}

func unmarshalUser(item map[string]types.AttributeValue) (*User, error) {
	var user User
	if err := attributevalue.UnmarshalMap(item, &user); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	return &user, nil
}

// sortedKeys returns map keys in a stable order, so the reservation list on
// a document doesn't churn between saves.
func sortedKeys(m map[string]*Reservation) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
