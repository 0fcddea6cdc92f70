package exactdiag

import (
	"cmp"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const (
	FnameShape = "shape.csv"
	FnameCOO   = "coo.csv"
)

// Entry is a nonzero element of a sparse matrix.
type Entry struct {
	V   float64
	Row int
	Col int
}

// COO is a real sparse matrix in coordinate format, with entries sorted in row-major order.
type COO struct {
	rows int
	cols int
	Data []Entry
}

func M(dense [][]float64) *COO {
	m := &COO{rows: len(dense), Data: make([]Entry, 0)}
	if len(dense) > 0 {
		m.cols = len(dense[0])
	}
	for i, row := range dense {
		for j, v := range row {
			if v == 0 {
				continue
			}
			m.Data = append(m.Data, Entry{V: v, Row: i, Col: j})
		}
	}
	return m
}

func COOZeros(rows, cols int) *COO {
	return &COO{rows: rows, cols: cols, Data: make([]Entry, 0)}
}

func (m *COO) Rows() int { return m.rows }
func (m *COO) Cols() int { return m.cols }

func (a *COO) Equal(b *COO) bool {
	if a.rows != b.rows {
		return false
	}
	if a.cols != b.cols {
		return false
	}
	return slices.Equal(a.Data, b.Data)
}

// Sub returns the principal submatrix over the rows and columns idx, which must be sorted.
func (m *COO) Sub(idx []int) *COO {
	pos := make(map[int]int, len(idx))
	for j, i := range idx {
		pos[i] = j
	}
	s := COOZeros(len(idx), len(idx))
	for _, v := range m.Data {
		r, rok := pos[v.Row]
		c, cok := pos[v.Col]
		if !rok || !cok {
			continue
		}
		s.Data = append(s.Data, Entry{V: v.V, Row: r, Col: c})
	}
	return s
}

func (m *COO) Dense() *mat.Dense {
	dense := mat.NewDense(max(m.rows, 1), max(m.cols, 1), nil)
	for _, v := range m.Data {
		dense.Set(v.Row, v.Col, v.V)
	}
	return dense
}

// Symmetric returns m as a dense symmetric matrix, averaging m and its transpose.
func (m *COO) Symmetric() (*mat.SymDense, error) {
	if m.rows != m.cols {
		return nil, errors.Errorf("not square %d %d", m.rows, m.cols)
	}
	sym := mat.NewSymDense(max(m.rows, 1), nil)
	for _, v := range m.Data {
		x := v.V / 2
		if v.Row == v.Col {
			x = v.V
		}
		sym.SetSym(v.Row, v.Col, sym.At(v.Row, v.Col)+x)
	}
	return sym, nil
}

// WriteCOO writes the shape and entries of m as csv files under dir.
// Values and rows equal to the previous entry's are left empty.
func (m *COO) WriteCOO(dir string) error {
	shapePath := filepath.Join(dir, FnameShape)
	if err := os.WriteFile(shapePath, []byte(fmt.Sprintf("%d,%d", m.rows, m.cols)), 0644); err != nil {
		return errors.Wrap(err, "")
	}

	cooPath := filepath.Join(dir, FnameCOO)
	cooF, err := os.Create(cooPath)
	if err != nil {
		return errors.Wrap(err, "")
	}

	w := csv.NewWriter(cooF)
	prev := Entry{V: math.NaN(), Row: -1, Col: -1}
	for _, v := range m.Data {
		var vStr string
		if v.V != prev.V {
			vStr = FormatNumpy(v.V)
		}
		var rowStr string
		if v.Row != prev.Row {
			rowStr = strconv.Itoa(v.Row)
		}
		if err1 := w.Write([]string{vStr, rowStr, strconv.Itoa(v.Col)}); err1 != nil && err == nil {
			err = errors.Wrap(err1, "")
			break
		}
		prev = v
	}
	w.Flush()
	if err1 := w.Error(); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}

	if err1 := cooF.Close(); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	return err
}

type COOReader struct {
	f *os.File
	r *csv.Reader
	i int

	prev Entry
}

func NewCOOReader(dir string) (*COOReader, error) {
	r := &COOReader{i: -1}

	cooPath := filepath.Join(dir, FnameCOO)
	var err error
	r.f, err = os.Open(cooPath)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	r.r = csv.NewReader(r.f)
	return r, nil
}

func (r *COOReader) Close() error {
	return r.f.Close()
}

func (r *COOReader) Read() (Entry, error) {
	r.i++
	record, err := r.r.Read()
	if err == io.EOF {
		return Entry{}, io.EOF
	}
	if err != nil {
		return Entry{}, errors.Wrap(err, fmt.Sprintf("%d", r.i))
	}
	if len(record) != 3 {
		return Entry{}, errors.Errorf("%d %#v", r.i, record)
	}

	var e Entry
	switch {
	case record[0] == "":
		e.V = r.prev.V
	default:
		e.V, err = strconv.ParseFloat(record[0], 64)
		if err != nil {
			return Entry{}, errors.Wrap(err, fmt.Sprintf("%d %#v", r.i, record))
		}
	}

	switch {
	case record[1] == "":
		e.Row = r.prev.Row
	default:
		e.Row, err = strconv.Atoi(record[1])
		if err != nil {
			return Entry{}, errors.Wrap(err, fmt.Sprintf("%d %#v", r.i, record))
		}
	}

	e.Col, err = strconv.Atoi(record[2])
	if err != nil {
		return Entry{}, errors.Wrap(err, fmt.Sprintf("%d %#v", r.i, record))
	}

	r.prev = e
	return e, nil
}

func ReadCOO(dir string) (*COO, error) {
	m := COOZeros(0, 0)
	var err error
	m.rows, m.cols, err = readShape(dir)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	r, err := NewCOOReader(dir)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer r.Close()
	for {
		v, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		if v.Row < 0 || v.Row >= m.rows || v.Col < 0 || v.Col >= m.cols {
			return nil, errors.Errorf("%#v out of shape %d %d", v, m.rows, m.cols)
		}

		m.Data = append(m.Data, v)
	}
	slices.SortFunc(m.Data, rowMajor)

	return m, nil
}

func readShape(dir string) (int, int, error) {
	f, err := os.Open(filepath.Join(dir, FnameShape))
	if err != nil {
		return -1, -1, errors.Wrap(err, "")
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return -1, -1, errors.Wrap(err, "")
	}
	if len(records) == 0 {
		return -1, -1, errors.Errorf("empty")
	}
	row := records[0]

	if len(row) != 2 {
		return -1, -1, errors.Errorf("%#v", row)
	}
	i, err := strconv.Atoi(row[0])
	if err != nil {
		return -1, -1, errors.Wrap(err, fmt.Sprintf("%#v", row))
	}
	j, err := strconv.Atoi(row[1])
	if err != nil {
		return -1, -1, errors.Wrap(err, fmt.Sprintf("%#v", row))
	}

	return i, j, nil
}

// String formats m as a dense tab separated table.
func (m *COO) String() string {
	values := make(map[[2]int]float64, len(m.Data))
	for _, v := range m.Data {
		values[[2]int{v.Row, v.Col}] = v.V
	}

	lines := []string{}
	for i := 0; i < m.rows; i++ {
		cs := []string{}
		for j := 0; j < m.cols; j++ {
			cs = append(cs, format(values[[2]int{i, j}]))
		}
		lines = append(lines, strings.Join(cs, "\t"))
	}
	return strings.Join(lines, "\n")
}

func rowMajor(a, b Entry) int {
	if c := cmp.Compare(a.Row, b.Row); c != 0 {
		return c
	}
	return cmp.Compare(a.Col, b.Col)
}

func format(v float64) string {
	// If v is 0 or -0, return "0" immediately to avoid returning "-0".
	if v == 0 {
		return " 0"
	}

	s := fmt.Sprintf("%v", v)

	// Add a space before non-negative numbers to align with other negative numbers in the same column.
	if v >= 0 {
		s = " " + s
	}

	return s
}

// FormatNumpy formats v so that it parses back exactly, in Go as well as numpy.
func FormatNumpy(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
