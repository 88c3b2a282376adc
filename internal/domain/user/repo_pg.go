package user

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labcore/labcore/internal/platform/apperror"
	"github.com/labcore/labcore/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const userCols = `id, name, email, password_hash, role, license_id, specialty,
	phone, active, created_at, updated_at`

func (r *repoPG) scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role,
		&u.LicenseID, &u.Specialty, &u.Phone, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperror.NotFound("user not found")
		}
		return nil, apperror.Wrap(apperror.CodeInternal, err, "load user")
	}
	return &u, nil
}

func (r *repoPG) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, name, email, password_hash, role, license_id,
			specialty, phone, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		u.ID, u.Name, u.Email, u.PasswordHash, u.Role, u.LicenseID,
		u.Specialty, u.Phone, u.Active)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return apperror.DuplicateKey("an account with email %q already exists", u.Email)
		}
		return apperror.Wrap(apperror.CodeInternal, err, "insert user")
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.scanUser(r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
}

func (r *repoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.scanUser(r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE email = $1`, email))
}

func (r *repoPG) Update(ctx context.Context, u *User) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET name=$2, email=$3, password_hash=$4, role=$5,
			license_id=$6, specialty=$7, phone=$8, active=$9, updated_at=NOW()
		WHERE id = $1`,
		u.ID, u.Name, u.Email, u.PasswordHash, u.Role, u.LicenseID,
		u.Specialty, u.Phone, u.Active)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return apperror.DuplicateKey("an account with email %q already exists", u.Email)
		}
		return apperror.Wrap(apperror.CodeInternal, err, "update user")
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("user not found")
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*User, int, error) {
	query := `SELECT ` + userCols + ` FROM users WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM users WHERE 1=1`
	var args []interface{}
	idx := 1

	if filter.Search != "" {
		cond := fmt.Sprintf(` AND (name ILIKE $%d OR email ILIKE $%d)`, idx, idx)
		query += cond
		countQuery += cond
		args = append(args, "%"+filter.Search+"%")
		idx++
	}
	if filter.Role != "" {
		cond := fmt.Sprintf(` AND role = $%d`, idx)
		query += cond
		countQuery += cond
		args = append(args, filter.Role)
		idx++
	}
	if filter.Active != nil {
		cond := fmt.Sprintf(` AND active = $%d`, idx)
		query += cond
		countQuery += cond
		args = append(args, *filter.Active)
		idx++
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, apperror.Wrap(apperror.CodeInternal, err, "count users")
	}

	query += fmt.Sprintf(` ORDER BY name LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperror.Wrap(apperror.CodeInternal, err, "list users")
	}
	defer rows.Close()

	var items []*User
	for rows.Next() {
		u, err := r.scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, u)
	}
	return items, total, nil
}

func (r *repoPG) Count(ctx context.Context) (int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return 0, apperror.Wrap(apperror.CodeInternal, err, "count users")
	}
	return total, nil
}
