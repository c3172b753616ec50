package internal

import (
	"fmt"
	"strings"

	"github.com/lychee-technology/ingest"
)

// predicateBuilder accumulates ANDed predicates with dialect placeholders.
type predicateBuilder struct {
	dialect Dialect
	clauses []string
	args    []any
}

func newPredicateBuilder(d Dialect) *predicateBuilder {
	return &predicateBuilder{dialect: d}
}

func (b *predicateBuilder) next() string {
	return b.dialect.Placeholder(len(b.args))
}

func (b *predicateBuilder) bindArg(a fieldAccessor, v any) (string, error) {
	arg, err := a.bind(v)
	if err != nil {
		return "", err
	}
	b.args = append(b.args, arg)
	return b.next(), nil
}

// add appends one predicate over a resolved column.
func (b *predicateBuilder) add(a fieldAccessor, op ingest.FilterOp, value any) error {
	var sqlOp string
	switch op {
	case "", ingest.FilterEq:
		sqlOp = "="
	case ingest.FilterNe:
		sqlOp = "<>"
	case ingest.FilterGt:
		sqlOp = ">"
	case ingest.FilterGte:
		sqlOp = ">="
	case ingest.FilterLt:
		sqlOp = "<"
	case ingest.FilterLte:
		sqlOp = "<="
	case ingest.FilterLike:
		sqlOp = "LIKE"
	case ingest.FilterIsNull:
		b.clauses = append(b.clauses, a.Column+" IS NULL")
		return nil
	case ingest.FilterNotNull:
		b.clauses = append(b.clauses, a.Column+" IS NOT NULL")
		return nil
	case ingest.FilterIn, ingest.FilterNotIn:
		return b.addIn(a, op, value)
	default:
		return ingest.NewInvalidFilterError(a.Name, fmt.Sprintf("unsupported operator %q", op))
	}

	if value == nil {
		return ingest.NewInvalidFilterError(a.Name, fmt.Sprintf("operator %q needs a value", op))
	}
	if _, isList := toAnySlice(value); isList {
		return ingest.NewInvalidFilterError(a.Name, fmt.Sprintf("operator %q needs a scalar value", op))
	}
	ph, err := b.bindArg(a, value)
	if err != nil {
		return err
	}
	b.clauses = append(b.clauses, fmt.Sprintf("%s %s %s", a.Column, sqlOp, ph))
	return nil
}

func (b *predicateBuilder) addIn(a fieldAccessor, op ingest.FilterOp, value any) error {
	values, ok := toAnySlice(value)
	if !ok {
		return ingest.NewInvalidFilterError(a.Name, fmt.Sprintf("operator %q needs a list value", op))
	}
	if len(values) == 0 {
		if op == ingest.FilterIn {
			b.clauses = append(b.clauses, "1 = 0")
		}
		return nil
	}
	phs := make([]string, len(values))
	for i, v := range values {
		ph, err := b.bindArg(a, v)
		if err != nil {
			return err
		}
		phs[i] = ph
	}
	kw := "IN"
	if op == ingest.FilterNotIn {
		kw = "NOT IN"
	}
	b.clauses = append(b.clauses, fmt.Sprintf("%s %s (%s)", a.Column, kw, strings.Join(phs, ", ")))
	return nil
}

// where renders " WHERE ..." or "" when no predicate was added.
func (b *predicateBuilder) where() string {
	if len(b.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.clauses, " AND ")
}

// inList renders a placeholder list for n values starting after offset args.
func inList(d Dialect, offset, n int) string {
	phs := make([]string, n)
	for i := range phs {
		phs[i] = d.Placeholder(offset + i + 1)
	}
	return strings.Join(phs, ", ")
}
