package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/go-loom/loom/comm"
	"github.com/go-loom/loom/crdt"
)

// Structs

// PostgresStore keeps operation logs in a shared PostgreSQL
// database so that multiple loom processes can bootstrap from
// the same history.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Functions

// NewPostgresStore connects to the supplied PostgreSQL instance
// and makes sure the operations table exists.
func NewPostgresStore(host string, port uint16, database string, user string, password string, useTLS bool) (*PostgresStore, error) {

	sslmode := "disable"
	if useTLS {
		sslmode = "require"
	}

	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", user, password, host, port, database, sslmode)

	pool, err := pgxpool.New(context.Background(), connString)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to postgres failed")
	}

	_, err = pool.Exec(context.Background(), `
		CREATE TABLE IF NOT EXISTS operations (
			doc_id  TEXT   NOT NULL,
			actor   TEXT   NOT NULL,
			counter BIGINT NOT NULL,
			op      TEXT   NOT NULL,
			PRIMARY KEY (doc_id, actor, counter)
		)`)
	if err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ensuring operations table failed")
	}

	return &PostgresStore{pool: pool}, nil
}

// LoadDocument implements Store. Rows come back per actor in
// ascending counter order to minimize causal buffering during
// bootstrap replay.
func (s *PostgresStore) LoadDocument(docID string) ([]crdt.Operation, error) {

	rows, err := s.pool.Query(context.Background(),
		`SELECT op FROM operations WHERE doc_id = $1 ORDER BY actor, counter`, docID)
	if err != nil {
		return nil, errors.Wrap(err, "querying operation log failed")
	}
	defer rows.Close()

	var ops []crdt.Operation

	for rows.Next() {

		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.Wrap(err, "scanning operation row failed")
		}

		op, err := comm.ParseOp(raw)
		if err != nil {
			return nil, errors.Wrap(err, "corrupt operation row")
		}

		ops = append(ops, op)
	}

	return ops, rows.Err()
}

// StoreOperation implements Store. The operation's id is the
// primary key, so duplicate deliveries fall through silently.
func (s *PostgresStore) StoreOperation(docID string, op crdt.Operation) error {

	_, err := s.pool.Exec(context.Background(),
		`INSERT INTO operations (doc_id, actor, counter, op)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT DO NOTHING`,
		docID, op.ID.Actor, int64(op.ID.Counter), comm.MarshalOp(op))

	return errors.Wrap(err, "inserting operation row failed")
}

// Close implements Store.
func (s *PostgresStore) Close() error {

	s.pool.Close()

	return nil
}
