package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/fumin/ucc"
	"github.com/fumin/ucc/exactdiag"
	"github.com/fumin/ucc/fock"
	"github.com/fumin/ucc/store"
	"github.com/fumin/ucc/uccs"
)

const (
	dirHamiltonian  = "hamiltonian"
	fnameDB         = "ucc.db"
	fnameDone       = "done.txt"
	fnameStatistics = "statistics.txt"

	nameOperator = "op"
	nameExact    = "exact"
	nameUCC      = "ucc"
)

var (
	runDir  = flag.String("d", filepath.Join("runs", "ucc"), "run directory")
	norb    = flag.Int("norb", 2, "number of Hubbard sites")
	nelec   = flag.Int("nelec", 2, "number of electrons")
	hopping = flag.Float64("t", 1, "hopping")
	us      = flag.String("u", "0.5,1,2,4,8", "comma separated on-site repulsions")
	doubles = flag.Bool("doubles", false, "include double excitations")
	workers = flag.Int("workers", 1, "number of goroutines per kernel call")
)

type Statistics struct {
	Norb   int
	NelecA int
	NelecB int
	T      float64
	U      float64

	Exact exactdiag.Statistics
	// Floor is the Gerschgorin lower bound of the full Fock-space spectrum.
	Floor float64
	EPsi0 float64
	EUCC  float64
	NGen  int

	Converged  bool
	Iterations int
}

type config struct {
	norb   int
	nelecA int
	nelecB int
	t      float64
	u      float64
}

func (c config) dir() string {
	return filepath.Join(*runDir, fmt.Sprintf("%dx%dx%d", c.norb, c.nelecA, c.nelecB), strconv.FormatFloat(c.u, 'f', -1, 64))
}

func solveExact(dir string, k *fock.Kernel, ham fock.Hamiltonian, c config, db *store.DB, stats *Statistics) error {
	m, err := exactdiag.Matrix(k, ham)
	if err != nil {
		return errors.Wrap(err, "")
	}
	stats.Floor = exactdiag.Gerschgorin(m)
	hDir := filepath.Join(dir, dirHamiltonian)
	if err := os.MkdirAll(hDir, os.ModePerm); err != nil {
		return errors.Wrap(err, "")
	}
	if err := m.WriteCOO(hDir); err != nil {
		return errors.Wrap(err, "")
	}
	written, err := exactdiag.ReadCOO(hDir)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if !written.Equal(m) {
		return errors.Errorf("%s differs from the Hamiltonian", hDir)
	}

	ground, err := exactdiag.GroundState(k, ham, c.nelecA, c.nelecB)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := db.SaveVector(nameExact, ground.Vec); err != nil {
		return errors.Wrap(err, "")
	}
	stats.Exact, err = exactdiag.GetStatistics(ham.Norb, []exactdiag.ValVec{ground})
	if err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

func solveUCC(k *fock.Kernel, ham fock.Hamiltonian, c config, db *store.DB, stats *Statistics) error {
	options := ucc.NewOptions().Kernel(k)
	s, err := uccs.NewSolver(ham, c.nelecA, c.nelecB, options)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if *doubles {
		s.Op, err = ucc.UCCSDNumSym(2*ham.Norb, nil, nil, options)
		if err != nil {
			return errors.Wrap(err, "")
		}
	}
	psi0, err := s.Psi0()
	if err != nil {
		return errors.Wrap(err, "")
	}
	stats.EPsi0, _, err = ham.Expectation(k, psi0)
	if err != nil {
		return errors.Wrap(err, "")
	}

	record := func(iter int, f, gradNorm float64) error {
		return db.AppendTrace(nameUCC, store.TracePoint{Iter: iter, Energy: f, GradNorm: gradNorm})
	}
	res, err := s.Kernel(psi0, nil, uccs.NewOptions().Recorder(record))
	if err != nil {
		return errors.Wrap(err, "")
	}
	stats.EUCC = res.F
	stats.NGen = s.Op.NGen()
	stats.Converged = res.Converged
	stats.Iterations = res.Iterations

	if err := db.SaveOperator(nameOperator, s.Op); err != nil {
		return errors.Wrap(err, "")
	}
	upsi, err := s.Op.ApplyCopy(psi0, false)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := db.SaveVector(nameUCC, upsi); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

func solve(c config) (err error) {
	dir := c.dir()
	donePath := filepath.Join(dir, fnameDone)
	if _, err := os.Stat(donePath); err == nil {
		return nil
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return errors.Wrap(err, "")
	}

	db, err := store.Open(filepath.Join(dir, fnameDB))
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer func() {
		if err1 := db.Close(); err1 != nil && err == nil {
			err = errors.Wrap(err1, "")
		}
	}()

	k := fock.NewKernel(*workers)
	ham := fock.Hubbard(c.norb, c.t, c.u)
	stats := Statistics{Norb: c.norb, NelecA: c.nelecA, NelecB: c.nelecB, T: c.t, U: c.u}
	if err := solveExact(dir, k, ham, c, db, &stats); err != nil {
		return errors.Wrap(err, "")
	}
	if err := solveUCC(k, ham, c, db, &stats); err != nil {
		return errors.Wrap(err, "")
	}

	b, err := json.Marshal(stats)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := os.WriteFile(filepath.Join(dir, fnameStatistics), b, 0644); err != nil {
		return errors.Wrap(err, "")
	}
	if err := os.WriteFile(donePath, nil, 0644); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

func gather(configs []config) ([]Statistics, error) {
	stats := make([]Statistics, 0, len(configs))
	for _, c := range configs {
		b, err := os.ReadFile(filepath.Join(c.dir(), fnameStatistics))
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("%#v", c))
		}
		var s Statistics
		if err := json.Unmarshal(b, &s); err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("%#v", c))
		}
		stats = append(stats, s)
	}
	return stats, nil
}

func parseFloats(s string) ([]float64, error) {
	xs := make([]float64, 0)
	for _, f := range strings.Split(s, ",") {
		x, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("%#v", s))
		}
		xs = append(xs, x)
	}
	return xs, nil
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	if err := mainWithErr(); err != nil {
		log.Fatalf("%+v", err)
	}
}

func mainWithErr() error {
	if *nelec < 0 || *nelec > 2*(*norb) {
		return errors.Errorf("nelec %d out of range for norb %d", *nelec, *norb)
	}
	if err := os.MkdirAll(*runDir, os.ModePerm); err != nil {
		return errors.Wrap(err, "")
	}
	uValues, err := parseFloats(*us)
	if err != nil {
		return errors.Wrap(err, "")
	}
	slices.Sort(uValues)

	configs := make([]config, 0, len(uValues))
	for _, u := range uValues {
		configs = append(configs, config{norb: *norb, nelecA: (*nelec + 1) / 2, nelecB: *nelec / 2, t: *hopping, u: u})
	}
	for _, c := range configs {
		if err := solve(c); err != nil {
			return errors.Wrap(err, fmt.Sprintf("%#v", c))
		}
		log.Printf("%d %d %d %f %f", c.norb, c.nelecA, c.nelecB, c.t, c.u)
	}

	// Gather results and print them.
	stats, err := gather(configs)
	if err != nil {
		return errors.Wrap(err, "")
	}
	fmt.Printf("norb,nelec_a,nelec_b,t,u,e_psi0,e_ucc,e_exact,floor,ngen,iterations,converged\n")
	for _, s := range stats {
		fmt.Printf("%d,%d,%d,%f,%f,%f,%f,%f,%f,%d,%d,%t\n", s.Norb, s.NelecA, s.NelecB, s.T, s.U, s.EPsi0, s.EUCC, s.Exact.EigenValue[0], s.Floor, s.NGen, s.Iterations, s.Converged)
	}
	return nil
}
