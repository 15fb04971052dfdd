package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"equiptrack.org/internal/access"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("resource conflict")
	ErrInvalidInput = errors.New("invalid input")
)

// Company is the tenant boundary. Everything except super-admin profiles is
// owned by exactly one company.
type Company struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	ContactEmail       string    `json:"contact_email,omitempty"`
	ContactPhone       string    `json:"contact_phone,omitempty"`
	Address            string    `json:"address,omitempty"`
	SubscriptionLevel  int       `json:"subscription_level"`
	SubscriptionActive bool      `json:"subscription_active"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Site is a physical location under a company.
type Site struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Department is an organizational unit under a site.
type Department struct {
	ID        string    `json:"id"`
	SiteID    string    `json:"site_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Profile is a user identity record. Subject links it to the external
// identity provider; rows are created on first authenticated login.
// CompanyID is empty only for super admins.
type Profile struct {
	ID          string      `json:"id"`
	Subject     string      `json:"-"`
	CompanyID   string      `json:"company_id,omitempty"`
	DisplayName string      `json:"display_name,omitempty"`
	Email       string      `json:"email"`
	Phone       string      `json:"phone,omitempty"`
	Role        access.Role `json:"role"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// NewCompany is the input for CreateCompany.
type NewCompany struct {
	Name               string `json:"name"`
	ContactEmail       string `json:"contact_email"`
	ContactPhone       string `json:"contact_phone"`
	Address            string `json:"address"`
	SubscriptionLevel  int    `json:"subscription_level"`
	SubscriptionActive bool   `json:"subscription_active"`
}

func (in *NewCompany) Validate() error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if in.SubscriptionLevel < 1 || in.SubscriptionLevel > 4 {
		return fmt.Errorf("%w: subscription_level must be between 1 and 4", ErrInvalidInput)
	}
	return nil
}

// CompanyPatch applies a partial update. nil fields are left unchanged.
type CompanyPatch struct {
	Name               *string `json:"name"`
	ContactEmail       *string `json:"contact_email"`
	ContactPhone       *string `json:"contact_phone"`
	Address            *string `json:"address"`
	SubscriptionLevel  *int    `json:"subscription_level"`
	SubscriptionActive *bool   `json:"subscription_active"`
}

func (p CompanyPatch) Validate() error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidInput)
	}
	if p.SubscriptionLevel != nil && (*p.SubscriptionLevel < 1 || *p.SubscriptionLevel > 4) {
		return fmt.Errorf("%w: subscription_level must be between 1 and 4", ErrInvalidInput)
	}
	return nil
}

// ProfilePatch applies a partial update. Role changes are privilege-checked by
// the caller before reaching the store.
type ProfilePatch struct {
	DisplayName  *string      `json:"display_name"`
	Email        *string      `json:"email"`
	Phone        *string      `json:"phone"`
	Role         *access.Role `json:"role"`
	CompanyID    *string      `json:"company_id"`
	ClearCompany bool         `json:"clear_company"`
}

func (p ProfilePatch) Validate() error {
	if p.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*p.Email))
		if email == "" || !strings.Contains(email, "@") {
			return fmt.Errorf("%w: valid email is required", ErrInvalidInput)
		}
	}
	if p.Role != nil && !p.Role.Valid() {
		return fmt.Errorf("%w: unknown role %s", ErrInvalidInput, *p.Role)
	}
	if p.CompanyID != nil && p.ClearCompany {
		return fmt.Errorf("%w: company_id and clear_company are mutually exclusive", ErrInvalidInput)
	}
	return nil
}

// Store defines tenant and identity operations.
type Store interface {
	CreateCompany(ctx context.Context, in NewCompany) (Company, error)
	ListCompanies(ctx context.Context) ([]Company, error)
	GetCompany(ctx context.Context, id string) (Company, error)
	UpdateCompany(ctx context.Context, id string, patch CompanyPatch) (Company, error)
	// CloseCompany removes the tenant and everything under it in dependency
	// order: sites, departments, grants, profiles.
	CloseCompany(ctx context.Context, id string) error

	CreateSite(ctx context.Context, companyID, name string) (Site, error)
	ListSites(ctx context.Context, companyID string) ([]Site, error)
	GetSite(ctx context.Context, id string) (Site, error)
	RenameSite(ctx context.Context, id, name string) (Site, error)
	DeleteSite(ctx context.Context, id string) error

	CreateDepartment(ctx context.Context, siteID, name string) (Department, error)
	ListDepartments(ctx context.Context, siteID string) ([]Department, error)
	GetDepartment(ctx context.Context, id string) (Department, error)
	RenameDepartment(ctx context.Context, id, name string) (Department, error)
	DeleteDepartment(ctx context.Context, id string) error

	// UpsertProfile creates the profile on first authenticated login and
	// refreshes the email on subsequent ones.
	UpsertProfile(ctx context.Context, subject, email string) (Profile, error)
	GetProfile(ctx context.Context, id string) (Profile, error)
	ListProfiles(ctx context.Context, companyID string) ([]Profile, error)
	UpdateProfile(ctx context.Context, id string, patch ProfilePatch) (Profile, error)
	DeleteProfile(ctx context.Context, id string) error

	// ReplaceAccessGrants swaps the full grant set for a profile. Grant
	// mutation is never incremental; callers pass the desired end state.
	ReplaceAccessGrants(ctx context.Context, profileID string, grants []access.Grant) error
	ListAccessGrants(ctx context.Context, profileID string) ([]access.Grant, error)
}
