package core

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rethoric/rethoric/internal/apperr"
	"github.com/rethoric/rethoric/internal/store"
	"github.com/rs/zerolog"
)

// IdentityUser is the subset of an identity-provider user record needed to
// provision a local account.
type IdentityUser struct {
	ExternalID string
	Email      string
	FirstName  string
	LastName   string
}

// DisplayName joins first and last name, or returns whichever is present.
func (u IdentityUser) DisplayName() *string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name == "" {
		return nil
	}
	return &name
}

type ProfileUpdate struct {
	Name string `json:"name" validate:"required,max=200"`
}

type UserService struct {
	dbStore  *store.SQLiteStore
	isAdmin  func(externalID string) bool
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewUserService takes isAdmin to decide the initial role of provisioned
// users; nil provisions everyone as a regular user.
func NewUserService(db *store.SQLiteStore, isAdmin func(externalID string) bool, logger zerolog.Logger) *UserService {
	if isAdmin == nil {
		isAdmin = func(string) bool { return false }
	}
	return &UserService{
		dbStore:  db,
		isAdmin:  isAdmin,
		validate: validator.New(),
		logger:   logger.With().Str("component", "user_service").Logger(),
	}
}

// ProvisionUser creates the local user for an identity-provider subject.
// Repeated deliveries for the same subject return the existing user.
func (s *UserService) ProvisionUser(ctx context.Context, in IdentityUser) (*store.User, bool, error) {
	if strings.TrimSpace(in.ExternalID) == "" {
		return nil, false, apperr.InvalidArgument("external id is required")
	}
	role := store.UserRoleUser
	if s.isAdmin(in.ExternalID) {
		role = store.UserRoleAdmin
	}

	user, created, err := s.dbStore.CreateUserIfNotExists(ctx, in.ExternalID, in.Email, in.DisplayName(), role)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.logger.Info().Str("user_id", user.ID).Str("external_id", in.ExternalID).Str("role", string(role)).Msg("user provisioned")
	}
	return user, created, nil
}

// ResolveUser maps a token subject to the local user. Subjects that were
// never provisioned are rejected.
func (s *UserService) ResolveUser(ctx context.Context, externalID string) (*store.User, error) {
	user, err := s.dbStore.GetUserByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.Unauthenticated("user %s is not provisioned", externalID)
	}
	return user, nil
}

func (s *UserService) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (*store.User, error) {
	update.Name = strings.TrimSpace(update.Name)
	if err := s.validate.Struct(update); err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidArgument, "invalid profile update", err)
	}
	if err := s.dbStore.UpdateUserName(ctx, userID, &update.Name); err != nil {
		return nil, err
	}
	return s.dbStore.GetUserByID(ctx, userID)
}
