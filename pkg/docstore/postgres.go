package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

// PostgresStore keeps documents as JSONB rows in the documents table.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Put(ctx context.Context, collection string, id string, doc Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("could not encode document %s/%s: %w", collection, id, err)
	}

	query := `INSERT INTO documents (collection, id, body, updated_at)
				VALUES ($1, $2, $3::jsonb, now())
				ON CONFLICT (collection, id) DO UPDATE SET body = EXCLUDED.body, updated_at = now()`

	_, err = s.db.Exec(ctx, query, collection, id, string(body))
	if err != nil {
		err := fmt.Errorf("could not store document %s/%s: %w", collection, id, classify(err))
		log.Error(err)
		return err
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, collection string, id string) (Document, error) {
	query := `SELECT body FROM documents WHERE collection = $1 AND id = $2`

	var body []byte
	err := s.db.QueryRow(ctx, query, collection, id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		err := fmt.Errorf("could not get document %s/%s: %w", collection, id, classify(err))
		log.Error(err)
		return nil, err
	}

	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("could not decode document %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

func (s *PostgresStore) Query(ctx context.Context, collection string, filters []Filter, orderBy *OrderBy) ([]Snapshot, error) {
	query, args, err := buildQuery(collection, filters, orderBy)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		err := fmt.Errorf("could not query %s: %w", collection, classify(err))
		log.Error(err)
		return nil, err
	}
	defer rows.Close()

	result := make([]Snapshot, 0, 16)
	for rows.Next() {
		var id string
		var body []byte
		if err := rows.Scan(&id, &body); err != nil {
			err := fmt.Errorf("could not scan row: %w", err)
			log.Error(err)
			return nil, err
		}
		var doc Document
		if err := json.Unmarshal(body, &doc); err != nil {
			log.Warnf("skipping undecodable document %s/%s: %v", collection, id, err)
			continue
		}
		result = append(result, Snapshot{Id: id, Data: doc})
	}
	if err := rows.Err(); err != nil {
		err := fmt.Errorf("could not read %s rows: %w", collection, classify(err))
		log.Error(err)
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) Delete(ctx context.Context, collection string, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		err := fmt.Errorf("could not delete document %s/%s: %w", collection, id, classify(err))
		log.Error(err)
		return err
	}
	return nil
}

// buildQuery renders filters as body ->> 'field' comparisons. Field names are
// spliced as literals so the expression indexes on the documents table apply;
// checkQuery restricts them to identifiers first. Values are always bound.
func buildQuery(collection string, filters []Filter, orderBy *OrderBy) (string, []any, error) {
	if err := checkQuery(filters, orderBy); err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	args := []any{collection}
	sb.WriteString(`SELECT id, body FROM documents WHERE collection = $1`)

	for _, f := range filters {
		op := string(f.Op)
		if f.Op == Eq {
			op = "="
		}
		args = append(args, f.Value)
		fmt.Fprintf(&sb, ` AND body ->> '%s' %s $%d`, f.Field, op, len(args))
	}

	if orderBy != nil {
		fmt.Fprintf(&sb, ` ORDER BY body ->> '%s'`, orderBy.Field)
		if orderBy.Desc {
			sb.WriteString(` DESC`)
		}
		sb.WriteString(`, id`)
	} else {
		sb.WriteString(` ORDER BY id`)
	}
	return sb.String(), args, nil
}

// classify wraps connection-level and retryable server errors with ErrTransient.
func classify(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code[:2] {
		// connection exception, transaction rollback, insufficient resources, operator intervention
		case "08", "40", "53", "57":
			return fmt.Errorf("%w: %w", ErrTransient, err)
		}
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}
