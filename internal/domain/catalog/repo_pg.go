package catalog

import (
	"context"
	"encoding/json"
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

const tdCols = `id, name, code, description, category, sub_tests, additional_fields,
	method, technique, turnaround, price, active, created_at, updated_at`

func (r *repoPG) scanTD(row pgx.Row) (*TestDefinition, error) {
	var td TestDefinition
	var subTests, fields, turnaround []byte
	err := row.Scan(&td.ID, &td.Name, &td.Code, &td.Description, &td.Category,
		&subTests, &fields, &td.Method, &td.Technique, &turnaround,
		&td.Price, &td.Active, &td.CreatedAt, &td.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperror.NotFound("test definition not found")
		}
		return nil, apperror.Wrap(apperror.CodeInternal, err, "load test definition")
	}
	if err := json.Unmarshal(subTests, &td.SubTests); err != nil {
		return nil, apperror.Wrap(apperror.CodeInternal, err, "decode sub-tests")
	}
	if err := json.Unmarshal(fields, &td.AdditionalFields); err != nil {
		return nil, apperror.Wrap(apperror.CodeInternal, err, "decode additional fields")
	}
	if len(turnaround) > 0 && string(turnaround) != "null" {
		td.Turnaround = &Turnaround{}
		if err := json.Unmarshal(turnaround, td.Turnaround); err != nil {
			return nil, apperror.Wrap(apperror.CodeInternal, err, "decode turnaround")
		}
	}
	return &td, nil
}

func marshalDoc(td *TestDefinition) (subTests, fields, turnaround []byte, err error) {
	if td.SubTests == nil {
		td.SubTests = []SubTestSpec{}
	}
	if td.AdditionalFields == nil {
		td.AdditionalFields = []AdditionalFieldSpec{}
	}
	if subTests, err = json.Marshal(td.SubTests); err != nil {
		return nil, nil, nil, err
	}
	if fields, err = json.Marshal(td.AdditionalFields); err != nil {
		return nil, nil, nil, err
	}
	if td.Turnaround != nil {
		if turnaround, err = json.Marshal(td.Turnaround); err != nil {
			return nil, nil, nil, err
		}
	}
	return subTests, fields, turnaround, nil
}

func (r *repoPG) Create(ctx context.Context, td *TestDefinition) error {
	td.ID = uuid.New()
	subTests, fields, turnaround, err := marshalDoc(td)
	if err != nil {
		return apperror.Wrap(apperror.CodeInternal, err, "encode test definition")
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO test_definitions (id, name, code, description, category,
			sub_tests, additional_fields, method, technique, turnaround, price, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		td.ID, td.Name, td.Code, td.Description, td.Category,
		subTests, fields, td.Method, td.Technique, turnaround, td.Price, td.Active)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return apperror.DuplicateKey("a test named %q or coded %q already exists", td.Name, td.Code)
		}
		return apperror.Wrap(apperror.CodeInternal, err, "insert test definition")
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*TestDefinition, error) {
	return r.scanTD(r.pool.QueryRow(ctx, `SELECT `+tdCols+` FROM test_definitions WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, td *TestDefinition) error {
	subTests, fields, turnaround, err := marshalDoc(td)
	if err != nil {
		return apperror.Wrap(apperror.CodeInternal, err, "encode test definition")
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE test_definitions SET name=$2, code=$3, description=$4, category=$5,
			sub_tests=$6, additional_fields=$7, method=$8, technique=$9,
			turnaround=$10, price=$11, active=$12, updated_at=NOW()
		WHERE id = $1`,
		td.ID, td.Name, td.Code, td.Description, td.Category,
		subTests, fields, td.Method, td.Technique, turnaround, td.Price, td.Active)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return apperror.DuplicateKey("a test named %q or coded %q already exists", td.Name, td.Code)
		}
		return apperror.Wrap(apperror.CodeInternal, err, "update test definition")
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("test definition not found")
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*TestDefinition, int, error) {
	query := `SELECT ` + tdCols + ` FROM test_definitions WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM test_definitions WHERE 1=1`
	var args []interface{}
	idx := 1

	if filter.Search != "" {
		cond := fmt.Sprintf(` AND (name ILIKE $%d OR code ILIKE $%d OR description ILIKE $%d)`, idx, idx, idx)
		query += cond
		countQuery += cond
		args = append(args, "%"+filter.Search+"%")
		idx++
	}
	if filter.Category != nil {
		query += fmt.Sprintf(` AND category = $%d`, idx)
		countQuery += fmt.Sprintf(` AND category = $%d`, idx)
		args = append(args, *filter.Category)
		idx++
	}
	if filter.Active != nil {
		query += fmt.Sprintf(` AND active = $%d`, idx)
		countQuery += fmt.Sprintf(` AND active = $%d`, idx)
		args = append(args, *filter.Active)
		idx++
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, apperror.Wrap(apperror.CodeInternal, err, "count test definitions")
	}

	query += fmt.Sprintf(` ORDER BY name LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperror.Wrap(apperror.CodeInternal, err, "list test definitions")
	}
	defer rows.Close()

	var items []*TestDefinition
	for rows.Next() {
		td, err := r.scanTD(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, td)
	}
	return items, total, nil
}
