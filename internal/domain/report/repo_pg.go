package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

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

const reportCols = `id, folio, patient_id, patient_snapshot, test_id, test_snapshot,
	scheduled_date, delivery_date, results, additional_values, observations,
	interpretation, state, requested_by, performed_by, authorized_by, tags,
	urgent, created_at, updated_at`

func (r *repoPG) scanReport(row pgx.Row) (*Report, error) {
	var rep Report
	var patientSnap, testSnap, results, values, tags []byte
	err := row.Scan(&rep.ID, &rep.Folio, &rep.PatientID, &patientSnap, &rep.TestID,
		&testSnap, &rep.ScheduledDate, &rep.DeliveryDate, &results, &values,
		&rep.Observations, &rep.Interpretation, &rep.State, &rep.RequestedBy,
		&rep.PerformedBy, &rep.AuthorizedBy, &tags, &rep.Urgent,
		&rep.CreatedAt, &rep.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperror.NotFound("report not found")
		}
		return nil, apperror.Wrap(apperror.CodeInternal, err, "load report")
	}
	if err := json.Unmarshal(patientSnap, &rep.PatientSnapshot); err != nil {
		return nil, apperror.Wrap(apperror.CodeInternal, err, "decode patient snapshot")
	}
	if err := json.Unmarshal(testSnap, &rep.TestSnapshot); err != nil {
		return nil, apperror.Wrap(apperror.CodeInternal, err, "decode test snapshot")
	}
	if err := json.Unmarshal(results, &rep.Results); err != nil {
		return nil, apperror.Wrap(apperror.CodeInternal, err, "decode results")
	}
	if err := json.Unmarshal(values, &rep.AdditionalValues); err != nil {
		return nil, apperror.Wrap(apperror.CodeInternal, err, "decode additional values")
	}
	if len(tags) > 0 && string(tags) != "null" {
		if err := json.Unmarshal(tags, &rep.Tags); err != nil {
			return nil, apperror.Wrap(apperror.CodeInternal, err, "decode tags")
		}
	}
	return &rep, nil
}

func marshalReport(rep *Report) (patientSnap, testSnap, results, values, tags []byte, err error) {
	if rep.Results == nil {
		rep.Results = []ResultEntry{}
	}
	if rep.AdditionalValues == nil {
		rep.AdditionalValues = []FieldValue{}
	}
	if patientSnap, err = json.Marshal(rep.PatientSnapshot); err != nil {
		return
	}
	if testSnap, err = json.Marshal(rep.TestSnapshot); err != nil {
		return
	}
	if results, err = json.Marshal(rep.Results); err != nil {
		return
	}
	if values, err = json.Marshal(rep.AdditionalValues); err != nil {
		return
	}
	if rep.Tags != nil {
		if tags, err = json.Marshal(rep.Tags); err != nil {
			return
		}
	}
	return
}

func (r *repoPG) Create(ctx context.Context, rep *Report) error {
	rep.ID = uuid.New()
	patientSnap, testSnap, results, values, tags, err := marshalReport(rep)
	if err != nil {
		return apperror.Wrap(apperror.CodeInternal, err, "encode report")
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO reports (id, folio, patient_id, patient_snapshot, test_id,
			test_snapshot, scheduled_date, delivery_date, results, additional_values,
			observations, interpretation, state, requested_by, performed_by,
			authorized_by, tags, urgent)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		rep.ID, rep.Folio, rep.PatientID, patientSnap, rep.TestID, testSnap,
		rep.ScheduledDate, rep.DeliveryDate, results, values, rep.Observations,
		rep.Interpretation, rep.State, rep.RequestedBy, rep.PerformedBy,
		rep.AuthorizedBy, tags, rep.Urgent)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return apperror.DuplicateKey("folio %s already taken", rep.Folio)
		}
		return apperror.Wrap(apperror.CodeInternal, err, "insert report")
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Report, error) {
	return r.scanReport(r.pool.QueryRow(ctx, `SELECT `+reportCols+` FROM reports WHERE id = $1`, id))
}

func (r *repoPG) GetByFolio(ctx context.Context, folio string) (*Report, error) {
	return r.scanReport(r.pool.QueryRow(ctx, `SELECT `+reportCols+` FROM reports WHERE folio = $1`, folio))
}

func (r *repoPG) ExistsByFolio(ctx context.Context, folio string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM reports WHERE folio = $1)`, folio).Scan(&exists)
	if err != nil {
		return false, apperror.Wrap(apperror.CodeInternal, err, "check folio")
	}
	return exists, nil
}

func (r *repoPG) Update(ctx context.Context, rep *Report) error {
	_, _, results, values, tags, err := marshalReport(rep)
	if err != nil {
		return apperror.Wrap(apperror.CodeInternal, err, "encode report")
	}
	// Folio, references and snapshots are immutable and stay out of the
	// update statement entirely.
	tag, err := r.pool.Exec(ctx, `
		UPDATE reports SET delivery_date=$2, results=$3, additional_values=$4,
			observations=$5, interpretation=$6, state=$7, authorized_by=$8,
			tags=$9, urgent=$10, updated_at=NOW()
		WHERE id = $1`,
		rep.ID, rep.DeliveryDate, results, values, rep.Observations,
		rep.Interpretation, rep.State, rep.AuthorizedBy, tags, rep.Urgent)
	if err != nil {
		return apperror.Wrap(apperror.CodeInternal, err, "update report")
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("report not found")
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Report, int, error) {
	query := `SELECT ` + reportCols + ` FROM reports WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM reports WHERE 1=1`
	var args []interface{}
	idx := 1

	if filter.FolioSearch != "" {
		cond := fmt.Sprintf(` AND folio ILIKE $%d`, idx)
		query += cond
		countQuery += cond
		args = append(args, "%"+filter.FolioSearch+"%")
		idx++
	}
	if filter.State != nil {
		cond := fmt.Sprintf(` AND state = $%d`, idx)
		query += cond
		countQuery += cond
		args = append(args, *filter.State)
		idx++
	}
	if filter.From != nil {
		cond := fmt.Sprintf(` AND scheduled_date >= $%d`, idx)
		query += cond
		countQuery += cond
		args = append(args, *filter.From)
		idx++
	}
	if filter.To != nil {
		cond := fmt.Sprintf(` AND scheduled_date <= $%d`, idx)
		query += cond
		countQuery += cond
		args = append(args, *filter.To)
		idx++
	}
	if filter.PatientID != nil {
		cond := fmt.Sprintf(` AND patient_id = $%d`, idx)
		query += cond
		countQuery += cond
		args = append(args, *filter.PatientID)
		idx++
	}
	if filter.TestID != nil {
		cond := fmt.Sprintf(` AND test_id = $%d`, idx)
		query += cond
		countQuery += cond
		args = append(args, *filter.TestID)
		idx++
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, apperror.Wrap(apperror.CodeInternal, err, "count reports")
	}

	query += fmt.Sprintf(` ORDER BY scheduled_date DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperror.Wrap(apperror.CodeInternal, err, "list reports")
	}
	defer rows.Close()

	var items []*Report
	for rows.Next() {
		rep, err := r.scanReport(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rep)
	}
	return items, total, nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, includeCancelled bool, limit int) ([]*Report, error) {
	query := `SELECT ` + reportCols + ` FROM reports WHERE patient_id = $1`
	args := []interface{}{patientID}
	if !includeCancelled {
		query += ` AND state <> $2`
		args = append(args, StateCancelled)
	}
	query += fmt.Sprintf(` ORDER BY scheduled_date DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeInternal, err, "list patient reports")
	}
	defer rows.Close()

	var items []*Report
	for rows.Next() {
		rep, err := r.scanReport(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rep)
	}
	return items, nil
}

func (r *repoPG) CountByState(ctx context.Context, from, to *time.Time) ([]StateCount, error) {
	query := `SELECT state, COUNT(*) FROM reports WHERE 1=1`
	var args []interface{}
	idx := 1
	if from != nil {
		query += fmt.Sprintf(` AND scheduled_date >= $%d`, idx)
		args = append(args, *from)
		idx++
	}
	if to != nil {
		query += fmt.Sprintf(` AND scheduled_date <= $%d`, idx)
		args = append(args, *to)
		idx++
	}
	query += ` GROUP BY state ORDER BY state`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeInternal, err, "count reports by state")
	}
	defer rows.Close()

	var counts []StateCount
	for rows.Next() {
		var sc StateCount
		if err := rows.Scan(&sc.State, &sc.Count); err != nil {
			return nil, apperror.Wrap(apperror.CodeInternal, err, "count reports by state")
		}
		counts = append(counts, sc)
	}
	return counts, nil
}

func (r *repoPG) TopTestsByVolume(ctx context.Context, from, to *time.Time, limit int) ([]TestVolume, error) {
	query := `SELECT test_snapshot->>'name', COUNT(*) FROM reports WHERE 1=1`
	var args []interface{}
	idx := 1
	if from != nil {
		query += fmt.Sprintf(` AND scheduled_date >= $%d`, idx)
		args = append(args, *from)
		idx++
	}
	if to != nil {
		query += fmt.Sprintf(` AND scheduled_date <= $%d`, idx)
		args = append(args, *to)
		idx++
	}
	query += fmt.Sprintf(` GROUP BY 1 ORDER BY COUNT(*) DESC LIMIT $%d`, idx)
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeInternal, err, "aggregate test volume")
	}
	defer rows.Close()

	var volumes []TestVolume
	for rows.Next() {
		var tv TestVolume
		if err := rows.Scan(&tv.Name, &tv.Count); err != nil {
			return nil, apperror.Wrap(apperror.CodeInternal, err, "aggregate test volume")
		}
		volumes = append(volumes, tv)
	}
	return volumes, nil
}
