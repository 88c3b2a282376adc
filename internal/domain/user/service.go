package user

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/labcore/labcore/internal/platform/apperror"
	"github.com/labcore/labcore/internal/platform/auth"
)

const minPasswordLength = 6

var emailRe = regexp.MustCompile(`^\S+@\S+\.\S+$`)

type Service struct {
	repo   Repository
	issuer *auth.TokenIssuer
}

func NewService(repo Repository, issuer *auth.TokenIssuer) *Service {
	return &Service{repo: repo, issuer: issuer}
}

// RegisterInput is everything account creation takes.
type RegisterInput struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Role      string `json:"role,omitempty"`
	LicenseID string `json:"license_id,omitempty"`
	Specialty string `json:"specialty,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// Register creates a staff account. Only admins may register accounts, with
// one bootstrap exception: the very first account is created without
// credentials and becomes an admin.
func (s *Service) Register(ctx context.Context, in RegisterInput, actorRole string) (*User, error) {
	total, err := s.repo.Count(ctx)
	if err != nil {
		return nil, err
	}
	bootstrap := total == 0
	if !bootstrap && actorRole != auth.RoleAdmin {
		return nil, apperror.New(apperror.CodeForbidden, "only admins can register accounts")
	}

	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.Name == "" {
		return nil, apperror.ValidationFailed("name is required")
	}
	if !emailRe.MatchString(in.Email) {
		return nil, apperror.ValidationFailed("invalid email %q", in.Email)
	}
	if len(in.Password) < minPasswordLength {
		return nil, apperror.ValidationFailed("password must be at least %d characters", minPasswordLength)
	}

	role := in.Role
	switch {
	case bootstrap:
		role = auth.RoleAdmin
	case role == "":
		role = auth.RoleLabTech
	case !auth.ValidRole(role):
		return nil, apperror.ValidationFailed("invalid role %q", role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeInternal, err, "hash password")
	}

	u := &User{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: string(hash),
		Role:         role,
		LicenseID:    in.LicenseID,
		Specialty:    in.Specialty,
		Phone:        in.Phone,
		Active:       true,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Login checks credentials and issues a token for an active account.
// Unknown emails and wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (string, *User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return "", nil, apperror.ValidationFailed("email and password are required")
	}

	u, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if apperror.Is(err, apperror.CodeNotFound) {
			return "", nil, apperror.New(apperror.CodeUnauthorized, "invalid credentials")
		}
		return "", nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", nil, apperror.New(apperror.CodeUnauthorized, "invalid credentials")
	}
	if !u.Active {
		return "", nil, apperror.New(apperror.CodeUnauthorized, "account is deactivated")
	}

	token, err := s.issuer.Issue(u.ID.String(), u.Name, u.Role)
	if err != nil {
		return "", nil, apperror.Wrap(apperror.CodeInternal, err, "issue token")
	}
	return token, u, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

// ProfilePatch carries the fields an account holder may edit themselves.
type ProfilePatch struct {
	Name      *string `json:"name,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	LicenseID *string `json:"license_id,omitempty"`
	Specialty *string `json:"specialty,omitempty"`
}

func (s *Service) UpdateProfile(ctx context.Context, id uuid.UUID, patch ProfilePatch) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, apperror.ValidationFailed("name cannot be empty")
		}
		u.Name = name
	}
	if patch.Phone != nil {
		u.Phone = *patch.Phone
	}
	if patch.LicenseID != nil {
		u.LicenseID = *patch.LicenseID
	}
	if patch.Specialty != nil {
		u.Specialty = *patch.Specialty
	}
	if err := s.repo.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// ChangePassword swaps credentials after verifying the current ones.
func (s *Service) ChangePassword(ctx context.Context, id uuid.UUID, current, next string) error {
	if len(next) < minPasswordLength {
		return apperror.ValidationFailed("password must be at least %d characters", minPasswordLength)
	}
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(current)) != nil {
		return apperror.New(apperror.CodeUnauthorized, "current password is incorrect")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return apperror.Wrap(apperror.CodeInternal, err, "hash password")
	}
	u.PasswordHash = string(hash)
	return s.repo.Update(ctx, u)
}

func (s *Service) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*User, int, error) {
	return s.repo.List(ctx, filter, limit, offset)
}

// Deactivate locks an account out without deleting it; reports it performed
// or authorized keep referencing it.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	u.Active = false
	if err := s.repo.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}
