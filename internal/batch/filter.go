package batch

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
)

/*
Filter expressions select a subset of a batch's jobs:

Expr      := OrExpr ( "OR" OrExpr )*
OrExpr    := AndExpr ( "AND" AndExpr )*
AndExpr   := Condition | "NOT" Condition
Condition := Filter | "(" Expr ")"
Filter    := <field> Op Value
Op        := "CONTAINS" | "<" | ">" | "="
Value     := <string> | <number>

Fields are the job spec fields: program, checkpoint, model, trigger, alpha,
poison_rate. String fields support "=" and "CONTAINS"; poison_rate supports
"=", "<" and ">". A numeric comparison never matches a job whose poison rate
is unset.
*/

var filterParser = participle.MustBuild[FilterExpr](
	participle.Unquote("String"),
	participle.Union[Value](StringValue{}, NumberValue{}),
)

// Filter decides whether a job spec is selected.
type Filter interface {
	Matches(spec JobSpec) bool
}

func ParseFilter(query string) (Filter, error) {
	expr, err := filterParser.ParseString("", query)
	if err != nil {
		return nil, fmt.Errorf("error parsing filter '%s': %w", query, err)
	}

	filter, err := expr.ToFilter()
	if err != nil {
		return nil, fmt.Errorf("error converting filter '%s': %w", query, err)
	}

	return filter, nil
}

// Select returns the jobs of the batch matched by the filter. A nil filter
// selects everything.
func Select(b Batch, filter Filter) Batch {
	if filter == nil {
		return b
	}

	selected := Batch{Name: b.Name}
	for _, job := range b.Jobs {
		if filter.Matches(job) {
			selected.Jobs = append(selected.Jobs, job)
		}
	}
	return selected
}

type FilterExpr struct {
	Expr *Expr `parser:"@@"`
}

func (f *FilterExpr) ToFilter() (Filter, error) {
	return f.Expr.ToFilter()
}

type Expr struct {
	Ors []*OrExpr `parser:"@@ ( \"OR\" @@ )*"`
}

func (e *Expr) ToFilter() (Filter, error) {
	if len(e.Ors) == 0 {
		return nil, fmt.Errorf("empty OR expression")
	}

	if len(e.Ors) == 1 {
		return e.Ors[0].ToFilter()
	}

	var filters []Filter
	for _, or := range e.Ors {
		f, err := or.ToFilter()
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}

	return &orFilter{filters: filters}, nil
}

type OrExpr struct {
	Ands []*Condition `parser:"@@ ( \"AND\" @@ )*"`
}

func (o *OrExpr) ToFilter() (Filter, error) {
	if len(o.Ands) == 0 {
		return nil, fmt.Errorf("empty AND expression")
	}

	if len(o.Ands) == 1 {
		return o.Ands[0].ToFilter()
	}

	var filters []Filter
	for _, cond := range o.Ands {
		f, err := cond.ToFilter()
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}

	return &andFilter{filters: filters}, nil
}

type Condition struct {
	Not    *Condition   `parser:"\"NOT\" @@"`
	Cond   *FieldFilter `parser:"| @@"`
	Nested *Expr        `parser:"| \"(\" @@ \")\""`
}

func (c *Condition) ToFilter() (Filter, error) {
	switch {
	case c.Not != nil:
		inner, err := c.Not.ToFilter()
		if err != nil {
			return nil, err
		}
		return &notFilter{filter: inner}, nil
	case c.Cond != nil:
		return c.Cond.ToFilter()
	case c.Nested != nil:
		return c.Nested.ToFilter()
	default:
		return nil, fmt.Errorf("empty condition")
	}
}

type FieldFilter struct {
	Field string `parser:"@Ident"`
	Op    string `parser:"@(\"CONTAINS\" | \"<\" | \">\" | \"=\")"`
	Value Value  `parser:"@@"`
}

func (f *FieldFilter) ToFilter() (Filter, error) {
	field := strings.ToLower(f.Field)

	switch field {
	case "program", "checkpoint", "model", "trigger", "alpha":
		str, ok := f.Value.(StringValue)
		if !ok {
			return nil, fmt.Errorf("field %s requires a string value", field)
		}
		switch f.Op {
		case "=":
			return &stringFilter{field: field, match: func(v string) bool { return v == str.Value }}, nil
		case "CONTAINS":
			return &stringFilter{field: field, match: func(v string) bool { return strings.Contains(v, str.Value) }}, nil
		default:
			return nil, fmt.Errorf("operator %s is not supported for field %s", f.Op, field)
		}

	case "poison_rate":
		num, ok := f.Value.(NumberValue)
		if !ok {
			return nil, fmt.Errorf("field poison_rate requires a numeric value")
		}
		switch f.Op {
		case "=":
			return &rateFilter{match: func(v float64) bool { return v == num.Value }}, nil
		case "<":
			return &rateFilter{match: func(v float64) bool { return v < num.Value }}, nil
		case ">":
			return &rateFilter{match: func(v float64) bool { return v > num.Value }}, nil
		default:
			return nil, fmt.Errorf("operator %s is not supported for field poison_rate", f.Op)
		}

	default:
		return nil, fmt.Errorf("unknown filter field %s", f.Field)
	}
}

type Value interface{ value() }

type StringValue struct {
	Value string `parser:"@String"`
}

func (StringValue) value() {}

type NumberValue struct {
	Value float64 `parser:"@(Float | Int)"`
}

func (NumberValue) value() {}

type andFilter struct {
	filters []Filter
}

func (f *andFilter) Matches(spec JobSpec) bool {
	for _, sub := range f.filters {
		if !sub.Matches(spec) {
			return false
		}
	}
	return true
}

type orFilter struct {
	filters []Filter
}

func (f *orFilter) Matches(spec JobSpec) bool {
	for _, sub := range f.filters {
		if sub.Matches(spec) {
			return true
		}
	}
	return false
}

type notFilter struct {
	filter Filter
}

func (f *notFilter) Matches(spec JobSpec) bool {
	return !f.filter.Matches(spec)
}

type stringFilter struct {
	field string
	match func(string) bool
}

func (f *stringFilter) Matches(spec JobSpec) bool {
	var v string
	switch f.field {
	case "program":
		v = spec.Program
	case "checkpoint":
		v = spec.Checkpoint
	case "model":
		v = spec.Model
	case "trigger":
		v = spec.Trigger
	case "alpha":
		v = spec.Alpha
	}
	return f.match(v)
}

type rateFilter struct {
	match func(float64) bool
}

func (f *rateFilter) Matches(spec JobSpec) bool {
	if spec.PoisonRate == nil {
		return false
	}
	return f.match(*spec.PoisonRate)
}
