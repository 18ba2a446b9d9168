package sqlite

import (
	"context"
	"strings"

	"github.com/campusgrid/schoolauth/internal/auth/domain"
	"github.com/campusgrid/schoolauth/internal/auth/store"
)

type policiesRepo struct {
	db dbtx
}

const policyColumns = `id, name, min_length, max_length,
	require_uppercase, require_lowercase, require_digit, require_special,
	max_repeated_chars, history_depth, expiry_days, applicable_roles,
	created_at, updated_at`

func scanPolicy(scan func(dest ...any) error) (domain.PasswordPolicy, error) {
	var p domain.PasswordPolicy
	var roles string

	err := scan(
		&p.ID, &p.Name, &p.MinLength, &p.MaxLength,
		&p.RequireUppercase, &p.RequireLowercase, &p.RequireDigit, &p.RequireSpecial,
		&p.MaxRepeatedChars, &p.HistoryDepth, &p.ExpiryDays, &roles,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.PasswordPolicy{}, mapNotFound(err)
	}

	p.ApplicableRoles = splitRoles(roles)
	return p, nil
}

func splitRoles(s string) []domain.Role {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil
	}
	roles := make([]domain.Role, 0, len(fields))
	for _, f := range fields {
		roles = append(roles, domain.Role(f))
	}
	return roles
}

func joinRoles(roles []domain.Role) string {
	parts := make([]string, 0, len(roles))
	for _, r := range roles {
		parts = append(parts, string(r))
	}
	return strings.Join(parts, " ")
}

func (r *policiesRepo) CreatePolicy(ctx context.Context, p domain.PasswordPolicy) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO password_policies (
			id, name, min_length, max_length,
			require_uppercase, require_lowercase, require_digit, require_special,
			max_repeated_chars, history_depth, expiry_days, applicable_roles,
			created_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.MinLength, p.MaxLength,
		p.RequireUppercase, p.RequireLowercase, p.RequireDigit, p.RequireSpecial,
		p.MaxRepeatedChars, p.HistoryDepth, p.ExpiryDays, joinRoles(p.ApplicableRoles),
		p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (r *policiesRepo) GetPolicyByID(ctx context.Context, id string) (domain.PasswordPolicy, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+policyColumns+` FROM password_policies WHERE id = ?`, id)
	return scanPolicy(row.Scan)
}

func (r *policiesRepo) ListPolicies(ctx context.Context) ([]domain.PasswordPolicy, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+policyColumns+` FROM password_policies ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []domain.PasswordPolicy
	for rows.Next() {
		p, err := scanPolicy(rows.Scan)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

func (r *policiesRepo) UpdatePolicy(ctx context.Context, p domain.PasswordPolicy) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE password_policies SET
			name = ?, min_length = ?, max_length = ?,
			require_uppercase = ?, require_lowercase = ?, require_digit = ?, require_special = ?,
			max_repeated_chars = ?, history_depth = ?, expiry_days = ?, applicable_roles = ?,
			updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		p.Name, p.MinLength, p.MaxLength,
		p.RequireUppercase, p.RequireLowercase, p.RequireDigit, p.RequireSpecial,
		p.MaxRepeatedChars, p.HistoryDepth, p.ExpiryDays, joinRoles(p.ApplicableRoles),
		p.ID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *policiesRepo) DeletePolicy(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM password_policies WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetApplicablePolicy picks the newest policy that is global or includes the
// role. Role scoping is a space-joined list so the match happens here rather
// than in SQL.
func (r *policiesRepo) GetApplicablePolicy(ctx context.Context, role domain.Role) (domain.PasswordPolicy, error) {
	policies, err := r.ListPolicies(ctx)
	if err != nil {
		return domain.PasswordPolicy{}, err
	}

	for _, p := range policies {
		if p.AppliesTo(role) {
			return p, nil
		}
	}
	return domain.PasswordPolicy{}, store.ErrNotFound
}
