package store

import "fmt"

// Counter is a number whose concurrent increments and decrements merge at
// commit time. A Set conflicts with any concurrent change.
type Counter struct {
	Base
	value    any // int64 or float64
	editions int64
}

// NewCounter returns a detached counter holding v, an integer or a float.
func NewCounter(v any) *Counter {
	c := &Counter{value: mustNumber(v)}
	c.self = c
	return c
}

func (c *Counter) Kind() string { return kindCounter }

func (c *Counter) state() any {
	return []any{c.value, c.editions}
}

func (c *Counter) setState(st any) error {
	value, editions, err := counterStateOf(st)
	if err != nil {
		return err
	}
	c.value, c.editions = value, editions
	return nil
}

func (c *Counter) children() []Object { return nil }

func counterStateOf(st any) (any, int64, error) {
	l, ok := st.([]any)
	if !ok || len(l) != 2 {
		return nil, 0, fmt.Errorf("invalid counter state %v", st)
	}
	value, err := number(l[0])
	if err != nil {
		return nil, 0, err
	}
	editions, ok := l[1].(int64)
	if !ok {
		return nil, 0, fmt.Errorf("invalid counter state %v", st)
	}
	return value, editions, nil
}

// Value returns the current value, an int64 or a float64.
func (c *Counter) Value() any {
	c.activate()
	return c.value
}

func (c *Counter) Int() int64 {
	switch v := c.Value().(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

func (c *Counter) Float() float64 {
	return toFloat(c.Value())
}

func (c *Counter) Increment(n any) {
	c.activate()
	c.value = addNumbers(c.value, mustNumber(n), 1)
	c.changed()
}

func (c *Counter) Decrement(n any) {
	c.activate()
	c.value = addNumbers(c.value, mustNumber(n), -1)
	c.changed()
}

func (c *Counter) Set(v any) {
	c.activate()
	c.value = mustNumber(v)
	c.editions++
	c.changed()
}

// Mark returns a function that restores the value and the edition count the
// counter has now. Restoring does not count as a Set.
func (c *Counter) Mark() func() {
	c.activate()
	value, editions := c.value, c.editions
	return func() {
		c.value, c.editions = value, editions
		c.changed()
	}
}

// ResolveConflict adds both sides' changes relative to old. It fails when
// either side used Set.
func (c *Counter) ResolveConflict(old, saved, new any) (any, error) {
	bv, be, err := counterStateOf(old)
	if err != nil {
		return nil, err
	}
	sv, se, err := counterStateOf(saved)
	if err != nil {
		return nil, err
	}
	nv, ne, err := counterStateOf(new)
	if err != nil {
		return nil, err
	}
	if se != be || ne != be {
		return nil, fmt.Errorf("counter was set concurrently")
	}
	return []any{addNumbers(addNumbers(sv, nv, 1), bv, -1), be}, nil
}

func (c *Counter) String() string {
	return fmt.Sprint(c.Value())
}

func number(v any) (any, error) {
	k, err := NormalizeKey(v)
	if err != nil {
		return nil, err
	}
	switch k.(type) {
	case int64, float64:
		return k, nil
	}
	return nil, fmt.Errorf("%w: %T is not a number", ErrInvalidValue, v)
}

func mustNumber(v any) any {
	return must(number(v))
}

func addNumbers(a, b any, sign int64) any {
	ai, aInt := a.(int64)
	bi, bInt := b.(int64)
	if aInt && bInt {
		return ai + sign*bi
	}
	return toFloat(a) + float64(sign)*toFloat(b)
}

func toFloat(v any) float64 {
	switch v := v.(type) {
	case int64:
		return float64(v)
	case float64:
		return v
	}
	return 0
}
