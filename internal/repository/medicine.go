package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/hray3182/MedLine/internal/models"
)

const medicineColumns = `id, name, dosage, form, instructions, color, icon, active, created_at, updated_at`

func scanMedicine(row pgx.Row) (*models.Medicine, error) {
	m := &models.Medicine{}
	if err := row.Scan(&m.ID, &m.Name, &m.Dosage, &m.Form, &m.Instructions, &m.Color, &m.Icon,
		&m.Active, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *PostgresStore) CreateMedicine(ctx context.Context, m *models.Medicine) error {
	return r.db.Pool.QueryRow(ctx,
		`INSERT INTO medicines (name, dosage, form, instructions, color, icon, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at, updated_at`,
		m.Name, m.Dosage, string(m.Form), m.Instructions, m.Color, m.Icon, m.Active,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
}

func (r *PostgresStore) GetMedicine(ctx context.Context, id int64) (*models.Medicine, error) {
	m, err := scanMedicine(r.db.Pool.QueryRow(ctx,
		`SELECT `+medicineColumns+` FROM medicines WHERE id = $1`, id))
	if err != nil {
		return nil, pgError(err)
	}
	return m, nil
}

func (r *PostgresStore) ListMedicines(ctx context.Context, activeOnly bool) ([]*models.Medicine, error) {
	query := `SELECT ` + medicineColumns + ` FROM medicines`
	if activeOnly {
		query += ` WHERE active`
	}
	rows, err := r.db.Pool.Query(ctx, query+` ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var medicines []*models.Medicine
	for rows.Next() {
		m, err := scanMedicine(rows)
		if err != nil {
			return nil, err
		}
		medicines = append(medicines, m)
	}
	return medicines, rows.Err()
}

func (r *PostgresStore) UpdateMedicine(ctx context.Context, id int64, p models.MedicinePatch) (*models.Medicine, error) {
	set := medicineSet(p, dollar)
	set.raw("updated_at = now()")
	query := `UPDATE medicines SET ` + set.set() + ` WHERE id = ` + set.bind(id) + ` RETURNING ` + medicineColumns
	m, err := scanMedicine(r.db.Pool.QueryRow(ctx, query, set.args...))
	if err != nil {
		return nil, pgError(err)
	}
	return m, nil
}

func (r *PostgresStore) DeleteMedicine(ctx context.Context, id int64) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM medicines WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// medicineSet lists the columns a patch touches. Both SQL drivers share it.
func medicineSet(p models.MedicinePatch, placeholder func(int) string) *clauses {
	set := &clauses{placeholder: placeholder}
	if p.Name != nil {
		set.add("name = ?", *p.Name)
	}
	if p.Dosage != nil {
		set.add("dosage = ?", *p.Dosage)
	}
	if p.Form != nil {
		set.add("form = ?", string(*p.Form))
	}
	if p.Instructions != nil {
		set.add("instructions = ?", *p.Instructions)
	}
	if p.Color != nil {
		set.add("color = ?", *p.Color)
	}
	if p.Icon != nil {
		set.add("icon = ?", *p.Icon)
	}
	if p.Active != nil {
		set.add("active = ?", *p.Active)
	}
	return set
}
