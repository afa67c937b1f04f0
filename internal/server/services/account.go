package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/dmitrijs2005/gophgate/internal/common"
	"github.com/dmitrijs2005/gophgate/internal/logging"
	"github.com/dmitrijs2005/gophgate/internal/server/auth"
	"github.com/dmitrijs2005/gophgate/internal/server/models"
	"github.com/dmitrijs2005/gophgate/internal/server/repositories/repomanager"
)

// NewAccount describes a user to provision.
type NewAccount struct {
	Username string `validate:"required,min=3,max=50"`
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=6"`
	Role     string `validate:"oneof=admin user"`
}

// DemoAccounts are seeded into fresh development databases.
var DemoAccounts = []NewAccount{
	{Username: "admin", Email: "admin@example.com", Password: "admin123", Role: common.RoleAdmin},
	{Username: "demo", Email: "demo@example.com", Password: "demo123", Role: common.RoleUser},
}

// AccountService provisions users. It backs the admin CLI; the HTTP API has
// no registration endpoint.
type AccountService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	validate    *validator.Validate
	logger      logging.Logger
}

func NewAccountService(db *sql.DB, m repomanager.RepositoryManager, l logging.Logger) *AccountService {
	return &AccountService{
		db:          db,
		repomanager: m,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      l.With("module", "account_service"),
	}
}

func (s *AccountService) newUser(a NewAccount) (*models.User, error) {
	if a.Role == "" {
		a.Role = common.RoleUser
	}
	if err := s.validate.Struct(a); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, &common.ValidationError{Field: verrs[0].Field(), Message: fmt.Sprintf("failed on %q", verrs[0].Tag())}
		}
		return nil, &common.ValidationError{Message: err.Error()}
	}

	hash, err := auth.HashPassword(a.Password)
	if err != nil {
		return nil, common.Internal(err)
	}

	return &models.User{
		Username:     a.Username,
		Email:        a.Email,
		PasswordHash: hash,
		Role:         a.Role,
		Active:       true,
	}, nil
}

// Create registers a new active user. A taken username yields
// common.ErrorAlreadyExists.
func (s *AccountService) Create(ctx context.Context, a NewAccount) (*models.User, error) {
	user, err := s.newUser(a)
	if err != nil {
		return nil, err
	}

	user, err = s.repomanager.Users(s.db).Create(ctx, user)
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, err
		}
		return nil, common.Internal(err)
	}

	s.logger.Info(ctx, "user created", "username", user.Username, "role", user.Role)
	return user, nil
}

// Seed creates each account whose username is free and returns how many
// were written. Existing users are left untouched.
func (s *AccountService) Seed(ctx context.Context, accounts ...NewAccount) (int, error) {
	repo := s.repomanager.Users(s.db)

	created := 0
	for _, a := range accounts {
		user, err := s.newUser(a)
		if err != nil {
			return created, err
		}

		ok, err := repo.CreateIfNotExists(ctx, user)
		if err != nil {
			return created, common.Internal(err)
		}
		if ok {
			created++
			s.logger.Info(ctx, "user seeded", "username", a.Username)
		}
	}
	return created, nil
}
