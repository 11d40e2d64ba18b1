package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/planetafiscal/internal/llm"
)

const TableSolicitudes = "solicitudes"

// insertChunk bounds the rows per INSERT statement.
const insertChunk = 200

var solicitudColumns = []string{
	llm.FieldNombreCliente,
	llm.FieldMonto,
	llm.FieldFecha,
	llm.FieldTipoSolicitud,
}

type SolicitudRepository interface {
	// InsertRecords writes every record in one transaction and returns the
	// number of rows inserted.
	InsertRecords(ctx context.Context, recs []llm.ExtractedRecord) (int64, error)
	// EnsureTable creates the solicitudes table when it does not exist.
	EnsureTable(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
}

type solicitudRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewSolicitudRepository(db *DB, logger *slog.Logger) SolicitudRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &solicitudRepository{db: db, logger: logger}
}

func (r *solicitudRepository) InsertRecords(ctx context.Context, recs []llm.ExtractedRecord) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	tx, err := r.db.drv.Tx(ctx)
	if err != nil {
		r.logger.Error("failed to begin transaction", "error", err)
		return 0, err
	}

	var inserted int64
	for start := 0; start < len(recs); start += insertChunk {
		end := min(start+insertChunk, len(recs))
		query, args := insertQuery(r.db.dialect, recs[start:end])

		var res sql.Result
		if err := tx.Exec(ctx, query, args, &res); err != nil {
			_ = tx.Rollback()
			r.logger.Error("failed to insert solicitudes", "rows", end-start, "error", err)
			return 0, fmt.Errorf("insert into %s: %w", TableSolicitudes, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			n = int64(end - start)
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		r.logger.Error("failed to commit solicitudes", "error", err)
		return 0, err
	}
	r.logger.Info("solicitudes inserted", "rows", inserted)
	return inserted, nil
}

func (r *solicitudRepository) EnsureTable(ctx context.Context) error {
	query, args := createTableQuery(r.db.dialect)
	if err := r.db.drv.Exec(ctx, query, args, nil); err != nil {
		r.logger.Error("failed to create table", "table", TableSolicitudes, "error", err)
		return err
	}
	return nil
}

func (r *solicitudRepository) Count(ctx context.Context) (int64, error) {
	query, args := entsql.Dialect(r.db.dialect).
		Select(entsql.Count("*")).
		From(entsql.Table(TableSolicitudes)).
		Query()
	var rows entsql.Rows
	if err := r.db.drv.Query(ctx, query, args, &rows); err != nil {
		return 0, err
	}
	defer rows.Close()

	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, err
		}
	}
	return n, rows.Err()
}

// insertQuery builds one parameterized multi-row INSERT; values never reach
// the SQL text.
func insertQuery(d string, recs []llm.ExtractedRecord) (string, []any) {
	ins := entsql.Dialect(d).Insert(TableSolicitudes).Columns(solicitudColumns...)
	for _, rec := range recs {
		var monto any
		if v, ok := rec.Monto(); ok {
			monto = v
		}
		ins.Values(rec.NombreCliente(), monto, rec.Fecha(), string(rec.TipoSolicitud()))
	}
	return ins.Query()
}

func createTableQuery(d string) (string, []any) {
	id := entsql.Column("id").Type("integer").Attr("PRIMARY KEY AUTOINCREMENT")
	if d == dialect.Postgres {
		id = entsql.Column("id").Type("bigserial").Attr("PRIMARY KEY")
	}
	return entsql.Dialect(d).CreateTable(TableSolicitudes).
		IfNotExists().
		Columns(
			id,
			entsql.Column(llm.FieldNombreCliente).Type("text").Attr("NOT NULL"),
			entsql.Column(llm.FieldMonto).Type("numeric"),
			entsql.Column(llm.FieldFecha).Type("date").Attr("NOT NULL"),
			entsql.Column(llm.FieldTipoSolicitud).Type("text").Attr("NOT NULL"),
		).
		Query()
}
