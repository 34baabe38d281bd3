package archiver

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"text/template"

	// Registered as the "postgres" database/sql driver. Added from the
	// pack's recurring database/sql+lib/pq pairing (see other_examples'
	// manifests) since the teacher itself never archives to SQL.
	_ "github.com/lib/pq"
)

func init() {
	Register("sql", newSQLSink)
}

// sqlTemplateData is passed to SQLInsertTemplate for each record.
type sqlTemplateData struct {
	EntityID  string
	GroupID   string
	TimeUTC   string
	Latitude  float64
	Longitude float64
}

// SQLSink formats each record through a configured insert template and
// executes it against a database/sql connection (spec.md §4.3's "sql"
// variant: "formats each record via a configured insert template against a
// connection string").
type SQLSink struct {
	db   *sql.DB
	tmpl *template.Template
}

func newSQLSink(args Args) (Sink, error) {
	if args.SQLDataSource == "" {
		return nil, fmt.Errorf("archiver: sql requires SQLDataSource")
	}
	if args.SQLInsertTemplate == "" {
		return nil, fmt.Errorf("archiver: sql requires SQLInsertTemplate")
	}
	driver := args.SQLDriver
	if driver == "" {
		driver = "postgres"
	}
	db, err := sql.Open(driver, args.SQLDataSource)
	if err != nil {
		return nil, fmt.Errorf("archiver: opening sql sink: %w", err)
	}
	tmpl, err := template.New("insert").Parse(args.SQLInsertTemplate)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("archiver: parsing SQLInsertTemplate: %w", err)
	}
	return &SQLSink{db: db, tmpl: tmpl}, nil
}

// Archive executes the insert template once per record inside a single
// transaction, so a mid-batch connection failure is retried as a whole.
func (s *SQLSink) Archive(ctx context.Context, batch []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archiver: sql begin: %w: %v", ErrRetryable, err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, rec := range batch {
		var buf strings.Builder
		data := sqlTemplateData{
			EntityID:  rec.EntityID,
			GroupID:   rec.GroupID,
			TimeUTC:   rec.Fix.TimeUTC.UTC().Format("2006-01-02T15:04:05.000Z"),
			Latitude:  rec.Fix.Latitude,
			Longitude: rec.Fix.Longitude,
		}
		if err := s.tmpl.Execute(&buf, data); err != nil {
			// A template execution failure means archiverArgs is broken:
			// no amount of retrying fixes it.
			return fmt.Errorf("archiver: sql template: %v", err)
		}
		if _, err := tx.ExecContext(ctx, buf.String()); err != nil {
			return fmt.Errorf("archiver: sql exec: %w: %v", ErrRetryable, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archiver: sql commit: %w: %v", ErrRetryable, err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *SQLSink) Close() error {
	return s.db.Close()
}
