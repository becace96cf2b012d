// Package math provides a processing object that computes new values from
// the fields of a delimited line.
//
// A line is split on the delimiter and the fields are exposed to the
// expressions as i0, i1, ... An expression written as "i2=i0*i1" replaces
// that field and the output is the full modified line. Otherwise the output
// is the result of every expression joined with the delimiter. Expressions
// are JavaScript, so Math.sqrt and friends are available.
package math

import (
	"fmt"
	stdmath "math"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"github.com/michieltjampens/dcafs-sub002/config"
	"github.com/michieltjampens/dcafs-sub002/errors"
	"github.com/michieltjampens/dcafs-sub002/processor/base"
)

// Kind is the processor kind used in forwarding specs
const Kind = "math"

// DefaultDelimiter splits the fields when none is configured
const DefaultDelimiter = ","

var assignment = regexp.MustCompile(`^\s*i(\d+)\s*=([^=].*)$`)

type op struct {
	expr   string
	target int // field index to replace, -1 to append to the output
	prog   *goja.Program
}

// Math evaluates expressions over line fields
type Math struct {
	*base.Processor
	delimiter string
	decimals  int
	ops       []op
	replace   bool

	// goja runtimes are not safe for concurrent use
	mu sync.Mutex
	vm *goja.Runtime
}

// New compiles the configured expressions
func New(cfg config.ProcessorConfig, deps base.Deps) (*Math, error) {
	if cfg.ID == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Math", "New", "id")
	}
	if len(cfg.Outputs) == 0 {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Math", "New", "expressions of "+cfg.ID)
	}

	m := &Math{
		delimiter: cfg.Delimiter,
		decimals:  -1,
		vm:        goja.New(),
	}
	if m.delimiter == "" {
		m.delimiter = DefaultDelimiter
	}
	if d, ok := cfg.Options["decimals"]; ok {
		n, err := strconv.Atoi(d)
		if err != nil || n < 0 {
			return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Math", "New", "decimals "+d)
		}
		m.decimals = n
	}

	assigns := 0
	for i, expr := range cfg.Outputs {
		o := op{expr: expr, target: -1}
		body := expr
		if sub := assignment.FindStringSubmatch(expr); sub != nil {
			o.target, _ = strconv.Atoi(sub[1])
			body = sub[2]
			assigns++
		}
		prog, err := goja.Compile(fmt.Sprintf("%s[%d]", cfg.ID, i), body, true)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Math", "New", "compile "+expr)
		}
		o.prog = prog
		m.ops = append(m.ops, o)
	}
	if assigns != 0 && assigns != len(m.ops) {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Math", "New",
			"mix of assignments and plain expressions in "+cfg.ID)
	}
	m.replace = assigns > 0

	m.Processor = base.New(Kind, cfg.ID, m.apply, deps)
	return m, nil
}

func (m *Math) apply(line string) (string, bool, error) {
	out, err := m.Eval(line)
	if err != nil {
		return "", false, err
	}
	return out, true, nil
}

// Eval computes the output for one line
func (m *Math) Eval(line string) (string, error) {
	fields := strings.Split(strings.TrimSpace(line), m.delimiter)

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			// non numeric fields stay available as text
			if err := m.vm.Set(fmt.Sprintf("i%d", i), f); err != nil {
				return "", err
			}
			continue
		}
		if err := m.vm.Set(fmt.Sprintf("i%d", i), v); err != nil {
			return "", err
		}
	}
	// clear values from a longer previous line
	defer m.clear(len(fields))

	results := make([]string, 0, len(m.ops))
	for _, o := range m.ops {
		if o.target >= len(fields) {
			return "", fmt.Errorf("%s: field i%d missing in %q", o.expr, o.target, line)
		}
		v, err := m.vm.RunProgram(o.prog)
		if err != nil {
			return "", fmt.Errorf("%s: %w", o.expr, err)
		}
		f := v.ToFloat()
		if stdmath.IsNaN(f) || stdmath.IsInf(f, 0) {
			return "", fmt.Errorf("%s: not a number for %q", o.expr, line)
		}
		s := m.format(f)
		if o.target >= 0 {
			fields[o.target] = s
			if err := m.vm.Set(fmt.Sprintf("i%d", o.target), f); err != nil {
				return "", err
			}
			continue
		}
		results = append(results, s)
	}

	if m.replace {
		return strings.Join(fields, m.delimiter), nil
	}
	return strings.Join(results, m.delimiter), nil
}

func (m *Math) clear(n int) {
	for i := 0; i < n; i++ {
		_ = m.vm.GlobalObject().Delete(fmt.Sprintf("i%d", i))
	}
}

func (m *Math) format(v float64) string {
	if m.decimals >= 0 {
		return strconv.FormatFloat(v, 'f', m.decimals, 64)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
