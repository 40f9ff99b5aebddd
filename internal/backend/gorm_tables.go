package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"brokerage-client/internal/apperr"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormTables reaches the same tables directly through the backend's Postgres.
// Used for local development and seeding against a self-hosted backend; row
// level security does not apply, so filters are always required on writes.
type GormTables struct {
	db *gorm.DB
}

func NewGormTables(db *gorm.DB) *GormTables {
	return &GormTables{db: db}
}

func (t *GormTables) scoped(ctx context.Context, table string, filters []Filter) *gorm.DB {
	db := t.db.WithContext(ctx).Table(table)
	for _, f := range filters {
		col := clause.Column{Name: f.Column}
		switch f.op() {
		case OpLt:
			db = db.Where(clause.Lt{Column: col, Value: f.Value})
		default:
			db = db.Where(clause.Eq{Column: col, Value: f.Value})
		}
	}
	return db
}

func (t *GormTables) Select(ctx context.Context, table string, q Query, out interface{}) error {
	db := t.scoped(ctx, table, q.Filters)
	if q.OrderBy != "" {
		db = db.Order(clause.OrderByColumn{Column: clause.Column{Name: q.OrderBy}, Desc: q.OrderDesc})
	}
	if q.Limit > 0 {
		db = db.Limit(q.Limit)
	}
	if err := db.Find(out).Error; err != nil {
		return gormError("select "+table, err)
	}
	return nil
}

func (t *GormTables) Insert(ctx context.Context, table string, row interface{}, out interface{}) error {
	if err := t.db.WithContext(ctx).Table(table).Create(row).Error; err != nil {
		return gormError("insert "+table, err)
	}
	return copyRow(row, out)
}

func (t *GormTables) Upsert(ctx context.Context, table string, row interface{}, out interface{}) error {
	err := t.db.WithContext(ctx).Table(table).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(row).Error
	if err != nil {
		return gormError("upsert "+table, err)
	}
	return copyRow(row, out)
}

func (t *GormTables) Update(ctx context.Context, table string, filters []Filter, patch map[string]interface{}) error {
	op := "update " + table
	if len(filters) == 0 {
		return apperr.New(apperr.KindValidation, op, "refusing to update without a filter")
	}
	if err := t.scoped(ctx, table, filters).Updates(patch).Error; err != nil {
		return gormError(op, err)
	}
	return nil
}

func (t *GormTables) Delete(ctx context.Context, table string, filters []Filter) error {
	op := "delete " + table
	if len(filters) == 0 {
		return apperr.New(apperr.KindValidation, op, "refusing to delete without a filter")
	}
	where := make([]string, 0, len(filters))
	args := make([]interface{}, 0, len(filters))
	for _, f := range filters {
		where = append(where, t.db.Statement.Quote(f.Column)+" = ?")
		args = append(args, f.Value)
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s", t.db.Statement.Quote(table), strings.Join(where, " AND "))
	if err := t.db.WithContext(ctx).Exec(stmt, args...).Error; err != nil {
		return gormError(op, err)
	}
	return nil
}

// copyRow hands the written row back in the caller's shape.
func copyRow(row, out interface{}) error {
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(row)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func gormError(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(op, "record not found")
	}
	return apperr.Wrap(apperr.KindServer, op, err)
}
