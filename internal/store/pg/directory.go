package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"equiptrack.org/internal/access"
	"equiptrack.org/internal/directory"
	"equiptrack.org/internal/ids"
)

var _ directory.Store = (*Store)(nil)

const companyCols = `id, name, contact_email, contact_phone, address,
	subscription_level, subscription_active, created_at, updated_at`

const profileCols = `id, subject, company_id, display_name, email, phone, role,
	created_at, updated_at`

func (s *Store) CreateCompany(ctx context.Context, in directory.NewCompany) (directory.Company, error) {
	if err := in.Validate(); err != nil {
		return directory.Company{}, err
	}
	now := time.Now().UTC()
	c := directory.Company{
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
	_, err := s.db.ExecContext(ctx, `insert into companies
		(id, name, contact_email, contact_phone, address, subscription_level,
		 subscription_active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.Name, c.ContactEmail, c.ContactPhone, c.Address,
		c.SubscriptionLevel, c.SubscriptionActive, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return directory.Company{}, mapDirectoryErr(err)
	}
	return c, nil
}

func (s *Store) ListCompanies(ctx context.Context) ([]directory.Company, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+companyCols+` from companies order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []directory.Company
	for rows.Next() {
		var c directory.Company
		if err := rows.Scan(&c.ID, &c.Name, &c.ContactEmail, &c.ContactPhone, &c.Address,
			&c.SubscriptionLevel, &c.SubscriptionActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetCompany(ctx context.Context, id string) (directory.Company, error) {
	var c directory.Company
	err := s.db.QueryRowContext(ctx,
		`select `+companyCols+` from companies where id = $1`, id).
		Scan(&c.ID, &c.Name, &c.ContactEmail, &c.ContactPhone, &c.Address,
			&c.SubscriptionLevel, &c.SubscriptionActive, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.Company{}, fmt.Errorf("%w: company", directory.ErrNotFound)
	}
	if err != nil {
		return directory.Company{}, err
	}
	return c, nil
}

func (s *Store) UpdateCompany(ctx context.Context, id string, patch directory.CompanyPatch) (directory.Company, error) {
	if err := patch.Validate(); err != nil {
		return directory.Company{}, err
	}
	set := []string{"updated_at = now()"}
	args := []any{id}
	add := func(col string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.Name != nil {
		add("name", strings.TrimSpace(*patch.Name))
	}
	if patch.ContactEmail != nil {
		add("contact_email", *patch.ContactEmail)
	}
	if patch.ContactPhone != nil {
		add("contact_phone", *patch.ContactPhone)
	}
	if patch.Address != nil {
		add("address", *patch.Address)
	}
	if patch.SubscriptionLevel != nil {
		add("subscription_level", *patch.SubscriptionLevel)
	}
	if patch.SubscriptionActive != nil {
		add("subscription_active", *patch.SubscriptionActive)
	}
	var c directory.Company
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`update companies set %s where id = $1
		returning `+companyCols, strings.Join(set, ", ")), args...).
		Scan(&c.ID, &c.Name, &c.ContactEmail, &c.ContactPhone, &c.Address,
			&c.SubscriptionLevel, &c.SubscriptionActive, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.Company{}, fmt.Errorf("%w: company", directory.ErrNotFound)
	}
	if err != nil {
		return directory.Company{}, mapDirectoryErr(err)
	}
	return c, nil
}

func (s *Store) CloseCompany(ctx context.Context, id string) error {
	// sites, departments, profiles and grants go with it via FK cascade
	res, err := s.db.ExecContext(ctx, `delete from companies where id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, directory.ErrNotFound)
}

func (s *Store) CreateSite(ctx context.Context, companyID, name string) (directory.Site, error) {
	name = strings.TrimSpace(name)
	if companyID == "" || name == "" {
		return directory.Site{}, fmt.Errorf("%w: company_id and name are required", directory.ErrInvalidInput)
	}
	now := time.Now().UTC()
	site := directory.Site{ID: ids.New(), CompanyID: companyID, Name: name, CreatedAt: now, UpdatedAt: now}
	_, err := s.db.ExecContext(ctx, `insert into sites (id, company_id, name, created_at, updated_at)
		values ($1, $2, $3, $4, $5)`, site.ID, site.CompanyID, site.Name, site.CreatedAt, site.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return directory.Site{}, fmt.Errorf("%w: company %s", directory.ErrNotFound, companyID)
		}
		return directory.Site{}, mapDirectoryErr(err)
	}
	return site, nil
}

func (s *Store) ListSites(ctx context.Context, companyID string) ([]directory.Site, error) {
	rows, err := s.db.QueryContext(ctx, `select id, company_id, name, created_at, updated_at
		from sites where company_id = $1 order by name`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []directory.Site
	for rows.Next() {
		var site directory.Site
		if err := rows.Scan(&site.ID, &site.CompanyID, &site.Name, &site.CreatedAt, &site.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, site)
	}
	return out, rows.Err()
}

func (s *Store) GetSite(ctx context.Context, id string) (directory.Site, error) {
	var site directory.Site
	err := s.db.QueryRowContext(ctx, `select id, company_id, name, created_at, updated_at
		from sites where id = $1`, id).
		Scan(&site.ID, &site.CompanyID, &site.Name, &site.CreatedAt, &site.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.Site{}, fmt.Errorf("%w: site", directory.ErrNotFound)
	}
	if err != nil {
		return directory.Site{}, err
	}
	return site, nil
}

func (s *Store) RenameSite(ctx context.Context, id, name string) (directory.Site, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return directory.Site{}, fmt.Errorf("%w: name is required", directory.ErrInvalidInput)
	}
	var site directory.Site
	err := s.db.QueryRowContext(ctx, `update sites set name = $2, updated_at = now()
		where id = $1 returning id, company_id, name, created_at, updated_at`, id, name).
		Scan(&site.ID, &site.CompanyID, &site.Name, &site.CreatedAt, &site.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.Site{}, fmt.Errorf("%w: site", directory.ErrNotFound)
	}
	if err != nil {
		return directory.Site{}, err
	}
	return site, nil
}

func (s *Store) DeleteSite(ctx context.Context, id string) error {
	var departments int
	err := s.db.QueryRowContext(ctx,
		`select count(*) from departments where site_id = $1`, id).Scan(&departments)
	if err != nil {
		return err
	}
	if departments > 0 {
		return fmt.Errorf("%w: site has departments", directory.ErrConflict)
	}
	res, err := s.db.ExecContext(ctx, `delete from sites where id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, directory.ErrNotFound)
}

func (s *Store) CreateDepartment(ctx context.Context, siteID, name string) (directory.Department, error) {
	name = strings.TrimSpace(name)
	if siteID == "" || name == "" {
		return directory.Department{}, fmt.Errorf("%w: site_id and name are required", directory.ErrInvalidInput)
	}
	now := time.Now().UTC()
	dep := directory.Department{ID: ids.New(), SiteID: siteID, Name: name, CreatedAt: now, UpdatedAt: now}
	_, err := s.db.ExecContext(ctx, `insert into departments (id, site_id, name, created_at, updated_at)
		values ($1, $2, $3, $4, $5)`, dep.ID, dep.SiteID, dep.Name, dep.CreatedAt, dep.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return directory.Department{}, fmt.Errorf("%w: site %s", directory.ErrNotFound, siteID)
		}
		return directory.Department{}, mapDirectoryErr(err)
	}
	return dep, nil
}

func (s *Store) ListDepartments(ctx context.Context, siteID string) ([]directory.Department, error) {
	rows, err := s.db.QueryContext(ctx, `select id, site_id, name, created_at, updated_at
		from departments where site_id = $1 order by name`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []directory.Department
	for rows.Next() {
		var dep directory.Department
		if err := rows.Scan(&dep.ID, &dep.SiteID, &dep.Name, &dep.CreatedAt, &dep.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, dep)
	}
	return out, rows.Err()
}

func (s *Store) GetDepartment(ctx context.Context, id string) (directory.Department, error) {
	var dep directory.Department
	err := s.db.QueryRowContext(ctx, `select id, site_id, name, created_at, updated_at
		from departments where id = $1`, id).
		Scan(&dep.ID, &dep.SiteID, &dep.Name, &dep.CreatedAt, &dep.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.Department{}, fmt.Errorf("%w: department", directory.ErrNotFound)
	}
	if err != nil {
		return directory.Department{}, err
	}
	return dep, nil
}

func (s *Store) RenameDepartment(ctx context.Context, id, name string) (directory.Department, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return directory.Department{}, fmt.Errorf("%w: name is required", directory.ErrInvalidInput)
	}
	var dep directory.Department
	err := s.db.QueryRowContext(ctx, `update departments set name = $2, updated_at = now()
		where id = $1 returning id, site_id, name, created_at, updated_at`, id, name).
		Scan(&dep.ID, &dep.SiteID, &dep.Name, &dep.CreatedAt, &dep.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.Department{}, fmt.Errorf("%w: department", directory.ErrNotFound)
	}
	if err != nil {
		return directory.Department{}, err
	}
	return dep, nil
}

func (s *Store) DeleteDepartment(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from departments where id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, directory.ErrNotFound)
}

func (s *Store) UpsertProfile(ctx context.Context, subject, email string) (directory.Profile, error) {
	subject = strings.TrimSpace(subject)
	email = strings.TrimSpace(strings.ToLower(email))
	if subject == "" || email == "" {
		return directory.Profile{}, fmt.Errorf("%w: subject and email are required", directory.ErrInvalidInput)
	}
	// New logins land with the lowest role and no company until an admin
	// assigns them
	id := ids.New()
	now := time.Now().UTC()
	return scanProfile(s.db.QueryRowContext(ctx, `insert into profiles
		(id, subject, email, role, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $5)
		on conflict (subject) do update set email = excluded.email, updated_at = excluded.updated_at
		returning `+profileCols, id, subject, email, access.RoleUser, now))
}

func (s *Store) GetProfile(ctx context.Context, id string) (directory.Profile, error) {
	return scanProfile(s.db.QueryRowContext(ctx,
		`select `+profileCols+` from profiles where id = $1`, id))
}

func (s *Store) ListProfiles(ctx context.Context, companyID string) ([]directory.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `select `+profileCols+`
		from profiles where company_id = $1 order by email`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []directory.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpdateProfile(ctx context.Context, id string, patch directory.ProfilePatch) (directory.Profile, error) {
	if err := patch.Validate(); err != nil {
		return directory.Profile{}, err
	}
	set := []string{"updated_at = now()"}
	args := []any{id}
	add := func(col string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.DisplayName != nil {
		add("display_name", *patch.DisplayName)
	}
	if patch.Email != nil {
		add("email", strings.TrimSpace(strings.ToLower(*patch.Email)))
	}
	if patch.Phone != nil {
		add("phone", *patch.Phone)
	}
	if patch.Role != nil {
		add("role", *patch.Role)
	}
	if patch.CompanyID != nil {
		add("company_id", *patch.CompanyID)
	}
	if patch.ClearCompany {
		set = append(set, "company_id = null")
	}
	p, err := scanProfile(s.db.QueryRowContext(ctx, fmt.Sprintf(`update profiles set %s
		where id = $1 returning `+profileCols, strings.Join(set, ", ")), args...))
	if err != nil {
		return directory.Profile{}, mapDirectoryErr(err)
	}
	return p, nil
}

func (s *Store) DeleteProfile(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from profiles where id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, directory.ErrNotFound)
}

func (s *Store) ReplaceAccessGrants(ctx context.Context, profileID string, grants []access.Grant) error {
	for _, g := range grants {
		if err := g.Validate(); err != nil {
			return fmt.Errorf("%w: %v", directory.ErrInvalidInput, err)
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `select count(*) from profiles where id = $1`, profileID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("%w: profile %s", directory.ErrNotFound, profileID)
	}
	if _, err := tx.ExecContext(ctx, `delete from access_grants where profile_id = $1`, profileID); err != nil {
		return err
	}
	for _, g := range grants {
		_, err := tx.ExecContext(ctx, `insert into access_grants
			(id, profile_id, site_id, department_id, equipment_id, created_at)
			values ($1, $2, $3, $4, $5, $6)`,
			ids.New(), profileID, g.SiteID, nullIfEmpty(g.DepartmentID),
			nullIfEmpty(g.EquipmentID), time.Now().UTC())
		if err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return fmt.Errorf("%w: grant target does not exist", directory.ErrInvalidInput)
			}
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ListAccessGrants(ctx context.Context, profileID string) ([]access.Grant, error) {
	rows, err := s.db.QueryContext(ctx, `select site_id, department_id, equipment_id
		from access_grants where profile_id = $1 order by created_at`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []access.Grant
	for rows.Next() {
		var (
			g     access.Grant
			dept  sql.NullString
			equip sql.NullString
		)
		if err := rows.Scan(&g.SiteID, &dept, &equip); err != nil {
			return nil, err
		}
		g.DepartmentID = dept.String
		g.EquipmentID = equip.String
		out = append(out, g)
	}
	return out, rows.Err()
}

func scanProfile(row rowScanner) (directory.Profile, error) {
	var (
		p       directory.Profile
		company sql.NullString
		name    sql.NullString
		phone   sql.NullString
	)
	err := row.Scan(&p.ID, &p.Subject, &company, &name, &p.Email, &phone, &p.Role,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.Profile{}, fmt.Errorf("%w: profile", directory.ErrNotFound)
	}
	if err != nil {
		return directory.Profile{}, err
	}
	p.CompanyID = company.String
	p.DisplayName = name.String
	p.Phone = phone.String
	return p, nil
}
