package directory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"equiptrack.org/internal/access"
	"equiptrack.org/internal/ids"
)

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu          sync.Mutex
	companies   map[string]*Company
	sites       map[string]*Site
	departments map[string]*Department
	profiles    map[string]*Profile
	grants      map[string][]access.Grant // profile id -> rows
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty directory.
func NewInMemory() *InMemory {
	return &InMemory{
		companies:   make(map[string]*Company),
		sites:       make(map[string]*Site),
		departments: make(map[string]*Department),
		profiles:    make(map[string]*Profile),
		grants:      make(map[string][]access.Grant),
	}
}

func (s *InMemory) CreateCompany(ctx context.Context, in NewCompany) (Company, error) {
	if err := in.Validate(); err != nil {
		return Company{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	c := &Company{
		ID:                 ids.New(),
		Name:               in.Name,
		ContactEmail:       in.ContactEmail,
		ContactPhone:       in.ContactPhone,
		Address:            in.Address,
		SubscriptionLevel:  in.SubscriptionLevel,
		SubscriptionActive: in.SubscriptionActive,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	s.companies[c.ID] = c
	return *c, nil
}

func (s *InMemory) ListCompanies(ctx context.Context) ([]Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Company
	for _, c := range s.companies {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *InMemory) GetCompany(ctx context.Context, id string) (Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.companies[id]
	if !ok {
		return Company{}, ErrNotFound
	}
	return *c, nil
}

func (s *InMemory) UpdateCompany(ctx context.Context, id string, patch CompanyPatch) (Company, error) {
	if err := patch.Validate(); err != nil {
		return Company{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.companies[id]
	if !ok {
		return Company{}, ErrNotFound
	}
	if patch.Name != nil {
		c.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.ContactEmail != nil {
		c.ContactEmail = *patch.ContactEmail
	}
	if patch.ContactPhone != nil {
		c.ContactPhone = *patch.ContactPhone
	}
	if patch.Address != nil {
		c.Address = *patch.Address
	}
	if patch.SubscriptionLevel != nil {
		c.SubscriptionLevel = *patch.SubscriptionLevel
	}
	if patch.SubscriptionActive != nil {
		c.SubscriptionActive = *patch.SubscriptionActive
	}
	c.UpdatedAt = time.Now().UTC()
	return *c, nil
}

func (s *InMemory) CloseCompany(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.companies[id]; !ok {
		return ErrNotFound
	}
	for siteID, site := range s.sites {
		if site.CompanyID != id {
			continue
		}
		for depID, dep := range s.departments {
			if dep.SiteID == siteID {
				delete(s.departments, depID)
			}
		}
		delete(s.sites, siteID)
	}
	for profID, prof := range s.profiles {
		if prof.CompanyID == id {
			delete(s.grants, profID)
			delete(s.profiles, profID)
		}
	}
	delete(s.companies, id)
	return nil
}

func (s *InMemory) CreateSite(ctx context.Context, companyID, name string) (Site, error) {
	name = strings.TrimSpace(name)
	if companyID == "" || name == "" {
		return Site{}, fmt.Errorf("%w: company_id and name are required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.companies[companyID]; !ok {
		return Site{}, fmt.Errorf("%w: company %s", ErrNotFound, companyID)
	}
	now := time.Now().UTC()
	site := &Site{ID: ids.New(), CompanyID: companyID, Name: name, CreatedAt: now, UpdatedAt: now}
	s.sites[site.ID] = site
	return *site, nil
}

func (s *InMemory) ListSites(ctx context.Context, companyID string) ([]Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Site
	for _, site := range s.sites {
		if companyID != "" && site.CompanyID != companyID {
			continue
		}
		out = append(out, *site)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *InMemory) GetSite(ctx context.Context, id string) (Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	site, ok := s.sites[id]
	if !ok {
		return Site{}, ErrNotFound
	}
	return *site, nil
}

func (s *InMemory) RenameSite(ctx context.Context, id, name string) (Site, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Site{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	site, ok := s.sites[id]
	if !ok {
		return Site{}, ErrNotFound
	}
	site.Name = name
	site.UpdatedAt = time.Now().UTC()
	return *site, nil
}

func (s *InMemory) DeleteSite(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sites[id]; !ok {
		return ErrNotFound
	}
	for _, dep := range s.departments {
		if dep.SiteID == id {
			return fmt.Errorf("%w: site has departments", ErrConflict)
		}
	}
	delete(s.sites, id)
	return nil
}

func (s *InMemory) CreateDepartment(ctx context.Context, siteID, name string) (Department, error) {
	name = strings.TrimSpace(name)
	if siteID == "" || name == "" {
		return Department{}, fmt.Errorf("%w: site_id and name are required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sites[siteID]; !ok {
		return Department{}, fmt.Errorf("%w: site %s", ErrNotFound, siteID)
	}
	now := time.Now().UTC()
	dep := &Department{ID: ids.New(), SiteID: siteID, Name: name, CreatedAt: now, UpdatedAt: now}
	s.departments[dep.ID] = dep
	return *dep, nil
}

func (s *InMemory) ListDepartments(ctx context.Context, siteID string) ([]Department, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Department
	for _, dep := range s.departments {
		if siteID != "" && dep.SiteID != siteID {
			continue
		}
		out = append(out, *dep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *InMemory) GetDepartment(ctx context.Context, id string) (Department, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dep, ok := s.departments[id]
	if !ok {
		return Department{}, ErrNotFound
	}
	return *dep, nil
}

func (s *InMemory) RenameDepartment(ctx context.Context, id, name string) (Department, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Department{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	dep, ok := s.departments[id]
	if !ok {
		return Department{}, ErrNotFound
	}
	dep.Name = name
	dep.UpdatedAt = time.Now().UTC()
	return *dep, nil
}

func (s *InMemory) DeleteDepartment(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.departments[id]; !ok {
		return ErrNotFound
	}
	delete(s.departments, id)
	return nil
}

func (s *InMemory) UpsertProfile(ctx context.Context, subject, email string) (Profile, error) {
	subject = strings.TrimSpace(subject)
	email = strings.TrimSpace(strings.ToLower(email))
	if subject == "" {
		return Profile{}, fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}
	if email == "" || !strings.Contains(email, "@") {
		return Profile{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, p := range s.profiles {
		if p.Subject == subject {
			p.Email = email
			p.UpdatedAt = now
			return *p, nil
		}
	}
	p := &Profile{
		ID:        ids.New(),
		Subject:   subject,
		Email:     email,
		Role:      access.RoleUser,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.profiles[p.ID] = p
	return *p, nil
}

func (s *InMemory) GetProfile(ctx context.Context, id string) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return *p, nil
}

func (s *InMemory) ListProfiles(ctx context.Context, companyID string) ([]Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Profile
	for _, p := range s.profiles {
		if companyID != "" && p.CompanyID != companyID {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (s *InMemory) UpdateProfile(ctx context.Context, id string, patch ProfilePatch) (Profile, error) {
	if err := patch.Validate(); err != nil {
		return Profile{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return Profile{}, ErrNotFound
	}
	if patch.DisplayName != nil {
		p.DisplayName = strings.TrimSpace(*patch.DisplayName)
	}
	if patch.Email != nil {
		p.Email = strings.TrimSpace(strings.ToLower(*patch.Email))
	}
	if patch.Phone != nil {
		p.Phone = *patch.Phone
	}
	if patch.Role != nil {
		p.Role = *patch.Role
	}
	if patch.ClearCompany {
		p.CompanyID = ""
	} else if patch.CompanyID != nil {
		if _, ok := s.companies[*patch.CompanyID]; !ok {
			return Profile{}, fmt.Errorf("%w: company %s", ErrNotFound, *patch.CompanyID)
		}
		p.CompanyID = *patch.CompanyID
	}
	p.UpdatedAt = time.Now().UTC()
	return *p, nil
}

func (s *InMemory) DeleteProfile(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[id]; !ok {
		return ErrNotFound
	}
	delete(s.grants, id)
	delete(s.profiles, id)
	return nil
}

func (s *InMemory) ReplaceAccessGrants(ctx context.Context, profileID string, grants []access.Grant) error {
	for _, g := range grants {
		if err := g.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[profileID]; !ok {
		return ErrNotFound
	}
	replacement := make([]access.Grant, len(grants))
	copy(replacement, grants)
	s.grants[profileID] = replacement
	return nil
}

func (s *InMemory) ListAccessGrants(ctx context.Context, profileID string) ([]access.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[profileID]; !ok {
		return nil, ErrNotFound
	}
	out := make([]access.Grant, len(s.grants[profileID]))
	copy(out, s.grants[profileID])
	return out, nil
}
