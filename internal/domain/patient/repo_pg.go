package patient

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

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

const patientCols = `id, name, birth_date, gender, phone, email, address,
	emergency_contact, allergies, conditions, medications, notes, active,
	created_at, updated_at`

func (r *repoPG) scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var address, contact, allergies, conditions, medications []byte
	err := row.Scan(&p.ID, &p.Name, &p.BirthDate, &p.Gender, &p.Phone, &p.Email,
		&address, &contact, &allergies, &conditions, &medications,
		&p.Notes, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperror.NotFound("patient not found")
		}
		return nil, apperror.Wrap(apperror.CodeInternal, err, "load patient")
	}
	for _, part := range []struct {
		raw []byte
		dst interface{}
	}{
		{address, &p.Address},
		{contact, &p.EmergencyContact},
		{allergies, &p.Allergies},
		{conditions, &p.Conditions},
		{medications, &p.Medications},
	} {
		if len(part.raw) == 0 || string(part.raw) == "null" {
			continue
		}
		if err := json.Unmarshal(part.raw, part.dst); err != nil {
			return nil, apperror.Wrap(apperror.CodeInternal, err, "decode patient")
		}
	}
	return &p, nil
}

func marshalPatient(p *Patient) (address, contact, allergies, conditions, medications []byte, err error) {
	if p.Address != nil {
		if address, err = json.Marshal(p.Address); err != nil {
			return
		}
	}
	if p.EmergencyContact != nil {
		if contact, err = json.Marshal(p.EmergencyContact); err != nil {
			return
		}
	}
	if p.Allergies != nil {
		if allergies, err = json.Marshal(p.Allergies); err != nil {
			return
		}
	}
	if p.Conditions != nil {
		if conditions, err = json.Marshal(p.Conditions); err != nil {
			return
		}
	}
	if p.Medications != nil {
		if medications, err = json.Marshal(p.Medications); err != nil {
			return
		}
	}
	return
}

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	address, contact, allergies, conditions, medications, err := marshalPatient(p)
	if err != nil {
		return apperror.Wrap(apperror.CodeInternal, err, "encode patient")
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO patients (id, name, birth_date, gender, phone, email, address,
			emergency_contact, allergies, conditions, medications, notes, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		p.ID, p.Name, p.BirthDate, p.Gender, p.Phone, p.Email, address,
		contact, allergies, conditions, medications, p.Notes, p.Active)
	if err != nil {
		return apperror.Wrap(apperror.CodeInternal, err, "insert patient")
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.scanPatient(r.pool.QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	address, contact, allergies, conditions, medications, err := marshalPatient(p)
	if err != nil {
		return apperror.Wrap(apperror.CodeInternal, err, "encode patient")
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE patients SET name=$2, birth_date=$3, gender=$4, phone=$5, email=$6,
			address=$7, emergency_contact=$8, allergies=$9, conditions=$10,
			medications=$11, notes=$12, active=$13, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.Name, p.BirthDate, p.Gender, p.Phone, p.Email, address,
		contact, allergies, conditions, medications, p.Notes, p.Active)
	if err != nil {
		return apperror.Wrap(apperror.CodeInternal, err, "update patient")
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("patient not found")
	}
	return nil
}

var digitsRe = regexp.MustCompile(`^\d+$`)

func (r *repoPG) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Patient, int, error) {
	query := `SELECT ` + patientCols + ` FROM patients WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM patients WHERE 1=1`
	var args []interface{}
	idx := 1

	if filter.Search != "" {
		// Name always matches; email and phone only when the term looks
		// like one, so digit-only and address-like searches stay precise.
		fields := []string{fmt.Sprintf(`name ILIKE $%d`, idx)}
		if strings.Contains(filter.Search, "@") {
			fields = append(fields, fmt.Sprintf(`email ILIKE $%d`, idx))
		}
		if digitsRe.MatchString(filter.Search) {
			fields = append(fields, fmt.Sprintf(`phone ILIKE $%d`, idx))
		}
		cond := ` AND (` + strings.Join(fields, " OR ") + `)`
		query += cond
		countQuery += cond
		args = append(args, "%"+filter.Search+"%")
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
		return nil, 0, apperror.Wrap(apperror.CodeInternal, err, "count patients")
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperror.Wrap(apperror.CodeInternal, err, "list patients")
	}
	defer rows.Close()

	var items []*Patient
	for rows.Next() {
		p, err := r.scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, nil
}
