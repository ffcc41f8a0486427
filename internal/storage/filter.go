package storage

import (
	"encoding/json"
	"fmt"
	"time"
)

// Op is a comparison operator.
type Op string

const (
	OpEq  Op = "eq"
	OpNe  Op = "ne"
	OpIn  Op = "in"
	OpLt  Op = "lt"
	OpLte Op = "lte"
	OpGt  Op = "gt"
	OpGte Op = "gte"
)

// Cond compares a top-level body field against Value.
type Cond struct {
	Field string
	Op    Op
	Value any
}

// Filter is a conjunction of conditions. The empty filter matches everything.
type Filter []Cond

// Eq is shorthand for an equality condition.
func Eq(field string, value any) Cond { return Cond{Field: field, Op: OpEq, Value: value} }

// Ne is shorthand for an inequality condition.
func Ne(field string, value any) Cond { return Cond{Field: field, Op: OpNe, Value: value} }

// In matches when the field equals any of values.
func In[T any](field string, values []T) Cond {
	list := make([]any, len(values))
	for i, v := range values {
		list[i] = v
	}
	return Cond{Field: field, Op: OpIn, Value: list}
}

// Where builds a Filter from conditions.
func Where(conds ...Cond) Filter { return Filter(conds) }

// Match reports whether body satisfies every condition.
func (f Filter) Match(body Body) bool {
	for _, c := range f {
		if !c.match(body) {
			return false
		}
	}
	return true
}

// Validate rejects conditions that cannot be evaluated.
func (f Filter) Validate() error {
	for _, c := range f {
		if c.Field == "" {
			return fmt.Errorf("filter: empty field")
		}
		switch c.Op {
		case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte:
		case OpIn:
			if _, ok := normaliseValue(c.Value).([]any); !ok {
				return fmt.Errorf("filter: %s in requires a list", c.Field)
			}
		default:
			return fmt.Errorf("filter: unknown op %q", c.Op)
		}
	}
	return nil
}

func (c Cond) match(body Body) bool {
	got, present := body[c.Field]
	want := normaliseValue(c.Value)

	switch c.Op {
	case OpEq:
		return present && equal(got, want)
	case OpNe:
		return !present || !equal(got, want)
	case OpIn:
		list, _ := want.([]any)
		if !present {
			return false
		}
		for _, v := range list {
			if equal(got, v) {
				return true
			}
		}
		return false
	case OpLt, OpLte, OpGt, OpGte:
		if !present {
			return false
		}
		cmp, ok := compare(got, want)
		if !ok {
			return false
		}
		switch c.Op {
		case OpLt:
			return cmp < 0
		case OpLte:
			return cmp <= 0
		case OpGt:
			return cmp > 0
		default:
			return cmp >= 0
		}
	}
	return false
}

// normaliseValue pushes a condition value through JSON so it has the same
// shape as stored bodies.
func normaliseValue(v any) any {
	switch v.(type) {
	case nil, string, float64, bool:
		return v
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

func equal(a, b any) bool {
	if cmp, ok := compare(a, b); ok {
		return cmp == 0
	}
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ra) == string(rb)
}

// compare orders numbers numerically, RFC3339 strings chronologically and
// other strings lexically.
func compare(a, b any) (int, bool) {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		}
		return 0, true
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		if ta, errA := time.Parse(time.RFC3339Nano, av); errA == nil {
			if tb, errB := time.Parse(time.RFC3339Nano, bv); errB == nil {
				return ta.Compare(tb), true
			}
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		}
		return 0, true
	case bool:
		bv, ok := b.(bool)
		if !ok || av != bv {
			return 0, false
		}
		return 0, true
	}
	return 0, false
}

// equalityFields splits out the plain equality conditions, which backends may
// push down to the server.
func (f Filter) equalityFields() map[string]any {
	out := make(map[string]any)
	for _, c := range f {
		if c.Op == OpEq {
			out[c.Field] = normaliseValue(c.Value)
		}
	}
	return out
}
