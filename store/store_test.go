package store

import (
	"database/sql"
	"log"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/ucc"
)

func TestVector(t *testing.T) {
	t.Parallel()
	dir, err := os.MkdirTemp("", "")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer os.RemoveAll(dir)
	db, err := Open(filepath.Join(dir, "a.db"))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer db.Close()

	psi := []float64{0, 0.5, 0, -0.25, 0, 0, 1e-300, 0}
	if err := db.SaveVector("psi", psi); err != nil {
		t.Fatalf("%+v", err)
	}
	loaded, err := db.LoadVector("psi")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !floats.Equal(loaded, psi) {
		t.Fatalf("%v, expected %v", loaded, psi)
	}
	if n, err := db.NumNonZero("psi"); err != nil || n != 3 {
		t.Fatalf("%d %+v", n, err)
	}
	if v, err := db.At("psi", 3); err != nil || v != -0.25 {
		t.Fatalf("%f %+v", v, err)
	}
	if v, err := db.At("psi", 2); err != nil || v != 0 {
		t.Fatalf("%f %+v", v, err)
	}

	// Overwrite with a shorter vector.
	if err := db.SaveVector("psi", []float64{1, 0}); err != nil {
		t.Fatalf("%+v", err)
	}
	loaded, err = db.LoadVector("psi")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !floats.Equal(loaded, []float64{1, 0}) {
		t.Fatalf("%v", loaded)
	}

	if _, err := db.LoadVector("missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("%+v", err)
	}
}

func TestOperator(t *testing.T) {
	t.Parallel()
	dir, err := os.MkdirTemp("", "")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "a.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	const norb = 3
	tph := mat.NewDense(norb, norb, []float64{
		0, 0, 0,
		0.1, 0, 0,
		0.2, 0.3, 0,
	})
	op, err := ucc.UCCSD(norb, []float64{-1, -2, -3}, tph, nil)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if err := db.SaveOperator("op", op); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("%+v", err)
	}

	// Reopen to check that the tables persist.
	db, err = Open(path)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer db.Close()
	loaded, err := db.LoadOperator("op")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if loaded.Norb() != norb || loaded.NGen() != op.NGen() {
		t.Fatalf("%s, expected %s", loaded, op)
	}
	if !floats.Equal(loaded.Amps(), op.Amps()) {
		t.Fatalf("%v, expected %v", loaded.Amps(), op.Amps())
	}
	for k := range op.NGen() {
		a, i := op.Generator(k)
		la, li := loaded.Generator(k)
		if !slices.Equal(a, la) || !slices.Equal(i, li) {
			t.Fatalf("%d: %v %v, expected %v %v", k, la, li, a, i)
		}
	}
}

func TestTrace(t *testing.T) {
	t.Parallel()
	dir, err := os.MkdirTemp("", "")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer os.RemoveAll(dir)
	db, err := Open(filepath.Join(dir, "a.db"))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer db.Close()

	points := []TracePoint{{Iter: 1, Energy: -1, GradNorm: 0.5}, {Iter: 0, Energy: 0, GradNorm: 1}}
	for _, p := range points {
		if err := db.AppendTrace("run", p); err != nil {
			t.Fatalf("%+v", err)
		}
	}
	if err := db.AppendTrace("other", TracePoint{Iter: 0}); err != nil {
		t.Fatalf("%+v", err)
	}
	trace, err := db.Trace("run")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !slices.Equal(trace, []TracePoint{points[1], points[0]}) {
		t.Fatalf("%#v", trace)
	}
}

func TestIdx(t *testing.T) {
	t.Parallel()
	for _, idx := range [][]int{{}, {3}, {10, 2, 7}} {
		parsed, err := parseIdx(formatIdx(idx))
		if err != nil {
			t.Fatalf("%+v", err)
		}
		if !slices.Equal(parsed, idx) {
			t.Fatalf("%v, expected %v", parsed, idx)
		}
	}
	if _, err := parseIdx("1 x"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestMain(m *testing.M) {
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)
	os.Exit(m.Run())
}
