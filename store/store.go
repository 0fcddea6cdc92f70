// Package store persists CI vectors, operators and optimization traces in a sqlite database.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/fumin/ucc"
)

const (
	tableVector     = "vector"
	tableVectorMeta = "vector_meta"
	tableOperator   = "operator"
	tableGenerator  = "generator"
	tableTrace      = "trace"
)

// DB is a sqlite database of named vectors and operators.
type DB struct {
	Path string

	db *sql.DB
}

// Open opens the database at path, creating the tables if they do not exist.
func Open(path string) (*DB, error) {
	d := &DB{Path: path}
	var err error
	d.db, err = newDB(d.Path)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return d, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// SaveVector stores the nonzero elements of psi under name, replacing any previous vector.
func (d *DB) SaveVector(name string, psi []float64) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	err := d.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE name=?`, tableVector), name); err != nil {
			return errors.Wrap(err, "")
		}
		sqlStr := fmt.Sprintf(`INSERT OR REPLACE INTO %s (name, n) VALUES (?, ?)`, tableVectorMeta)
		if _, err := tx.ExecContext(ctx, sqlStr, name, len(psi)); err != nil {
			return errors.Wrap(err, "")
		}

		stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s (name, i, v) VALUES (?, ?, ?)`, tableVector))
		if err != nil {
			return errors.Wrap(err, "")
		}
		defer stmt.Close()
		for i, v := range psi {
			if v == 0 {
				continue
			}
			if _, err := stmt.ExecContext(ctx, name, i, v); err != nil {
				return errors.Wrap(err, fmt.Sprintf("%d %f", i, v))
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, name)
	}
	return nil
}

// LoadVector returns the vector stored under name.
func (d *DB) LoadVector(name string) ([]float64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	var n int
	sqlStr := fmt.Sprintf(`SELECT n FROM %s WHERE name=?`, tableVectorMeta)
	if err := d.db.QueryRowContext(ctx, sqlStr, name).Scan(&n); err != nil {
		return nil, errors.Wrap(err, name)
	}
	psi := make([]float64, n)

	sqlStr = fmt.Sprintf(`SELECT i, v FROM %s WHERE name=? ORDER BY i`, tableVector)
	rows, err := d.db.QueryContext(ctx, sqlStr, name)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()
	for rows.Next() {
		var i int
		var v float64
		if err := rows.Scan(&i, &v); err != nil {
			return nil, errors.Wrap(err, "")
		}
		if i < 0 || i >= n {
			return nil, errors.Errorf("%s: index %d out of range %d", name, i, n)
		}
		psi[i] = v
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return psi, nil
}

// At returns element i of the vector stored under name.
func (d *DB) At(name string, i int) (float64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`SELECT v FROM %s WHERE name=? AND i=?`, tableVector)
	var v float64
	err := d.db.QueryRowContext(ctx, sqlStr, name, i).Scan(&v)
	switch {
	case err == sql.ErrNoRows:
		return 0, nil
	case err != nil:
		return math.NaN(), errors.Wrap(err, "")
	default:
		return v, nil
	}
}

// NumNonZero returns the number of nonzero elements of the vector stored under name.
func (d *DB) NumNonZero(name string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf("SELECT count(1) FROM %s WHERE name=?", tableVector)
	var n int
	if err := d.db.QueryRowContext(ctx, sqlStr, name).Scan(&n); err != nil {
		return -1, errors.Wrap(err, "")
	}
	return n, nil
}

// SaveOperator stores the generators and amplitudes of op under name, replacing any previous operator.
func (d *DB) SaveOperator(name string, op *ucc.Operator) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	err := d.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE name=?`, tableGenerator), name); err != nil {
			return errors.Wrap(err, "")
		}
		sqlStr := fmt.Sprintf(`INSERT OR REPLACE INTO %s (name, norb) VALUES (?, ?)`, tableOperator)
		if _, err := tx.ExecContext(ctx, sqlStr, name, op.Norb()); err != nil {
			return errors.Wrap(err, "")
		}

		stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s (name, k, a, i, amp) VALUES (?, ?, ?, ?, ?)`, tableGenerator))
		if err != nil {
			return errors.Wrap(err, "")
		}
		defer stmt.Close()
		for k, f := range op.Factors(false) {
			if _, err := stmt.ExecContext(ctx, name, k, formatIdx(f.A), formatIdx(f.I), f.Amp); err != nil {
				return errors.Wrap(err, fmt.Sprintf("%d", k))
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, name)
	}
	return nil
}

// LoadOperator returns the operator stored under name, constructed with options.
func (d *DB) LoadOperator(name string, options ...ucc.Options) (*ucc.Operator, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	var norb int
	sqlStr := fmt.Sprintf(`SELECT norb FROM %s WHERE name=?`, tableOperator)
	if err := d.db.QueryRowContext(ctx, sqlStr, name).Scan(&norb); err != nil {
		return nil, errors.Wrap(err, name)
	}

	sqlStr = fmt.Sprintf(`SELECT a, i, amp FROM %s WHERE name=? ORDER BY k`, tableGenerator)
	rows, err := d.db.QueryContext(ctx, sqlStr, name)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()
	var a, i [][]int
	var amps []float64
	for rows.Next() {
		var aStr, iStr string
		var amp float64
		if err := rows.Scan(&aStr, &iStr, &amp); err != nil {
			return nil, errors.Wrap(err, "")
		}
		ak, err := parseIdx(aStr)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		ik, err := parseIdx(iStr)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		a, i, amps = append(a, ak), append(i, ik), append(amps, amp)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}

	op, err := ucc.New(norb, a, i, options...)
	if err != nil {
		return nil, errors.Wrap(err, name)
	}
	if err := op.SetAmps(amps); err != nil {
		return nil, errors.Wrap(err, name)
	}
	return op, nil
}

// TracePoint is one iteration of an optimization run.
type TracePoint struct {
	Iter     int
	Energy   float64
	GradNorm float64
}

// AppendTrace records an iteration of the optimization run.
func (d *DB) AppendTrace(run string, p TracePoint) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`INSERT OR REPLACE INTO %s (run, iter, energy, gradnorm) VALUES (?, ?, ?, ?)`, tableTrace)
	args := []any{run, p.Iter, p.Energy, p.GradNorm}
	if _, err := d.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return errors.Wrap(err, fmt.Sprintf("%s %#v", sqlStr, args))
	}
	return nil
}

// Trace returns the iterations of the optimization run in order.
func (d *DB) Trace(run string) ([]TracePoint, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	sqlStr := fmt.Sprintf(`SELECT iter, energy, gradnorm FROM %s WHERE run=? ORDER BY iter`, tableTrace)
	rows, err := d.db.QueryContext(ctx, sqlStr, run)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()
	trace := make([]TracePoint, 0)
	for rows.Next() {
		var p TracePoint
		if err := rows.Scan(&p.Iter, &p.Energy, &p.GradNorm); err != nil {
			return nil, errors.Wrap(err, "")
		}
		trace = append(trace, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return trace, nil
}

func (d *DB) tx(ctx context.Context, f func(*sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := f(tx); err != nil {
		tx.Rollback()
		return errors.Wrap(err, "")
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

func newDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", dbPath))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	if err := prepareDB(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "")
	}

	return db, nil
}

func prepareDB(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStrs := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (name TEXT, i INTEGER, v REAL, PRIMARY KEY (name, i)) STRICT`, tableVector),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (name TEXT PRIMARY KEY, n INTEGER) STRICT`, tableVectorMeta),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (name TEXT PRIMARY KEY, norb INTEGER) STRICT`, tableOperator),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (name TEXT, k INTEGER, a TEXT, i TEXT, amp REAL, PRIMARY KEY (name, k)) STRICT`, tableGenerator),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (run TEXT, iter INTEGER, energy REAL, gradnorm REAL, PRIMARY KEY (run, iter)) STRICT`, tableTrace),
	}
	for _, sqlStr := range sqlStrs {
		if _, err := db.ExecContext(ctx, sqlStr); err != nil {
			return errors.Wrap(err, sqlStr)
		}
	}
	return nil
}

// formatIdx formats orbital indices as a space separated list.
func formatIdx(idx []int) string {
	strs := make([]string, 0, len(idx))
	for _, p := range idx {
		strs = append(strs, strconv.Itoa(p))
	}
	return strings.Join(strs, " ")
}

func parseIdx(s string) ([]int, error) {
	fields := strings.Fields(s)
	idx := make([]int, 0, len(fields))
	for _, f := range fields {
		p, err := strconv.Atoi(f)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("%#v", s))
		}
		idx = append(idx, p)
	}
	return idx, nil
}
