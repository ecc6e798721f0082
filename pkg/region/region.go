// Package region describes region-of-interest restrictions on the three
// logical axes of a projection stack: angular, vertical and horizontal.
//
// Each axis carries a Spec that is either Unrestricted or a Range with an
// optional start, an optional stop and a positive step. Specs are values;
// nothing in this package mutates one after construction.
package region

import (
	"fmt"
	"strconv"
	"strings"

	"polaris/pkg/tomoerr"
)

// Axis names one of the logical data axes.
type Axis int

const (
	Angular Axis = iota
	Vertical
	Horizontal
)

func (a Axis) String() string {
	switch a {
	case Angular:
		return "angle"
	case Vertical:
		return "vertical"
	case Horizontal:
		return "horizontal"
	default:
		return "unknown"
	}
}

// Bound is an optional slice index. The zero value is open.
type Bound struct {
	value int
	set   bool
}

// Open is the unset bound: start resolves to 0, stop to the axis length.
var Open = Bound{}

// At returns a bound fixed at i. Negative values count from the end of the
// axis.
func At(i int) Bound { return Bound{value: i, set: true} }

// IsSet reports whether the bound has a value.
func (b Bound) IsSet() bool { return b.set }

// Value returns the bound value and whether it is set.
func (b Bound) Value() (int, bool) { return b.value, b.set }

func (b Bound) String() string {
	if !b.set {
		return ""
	}
	return strconv.Itoa(b.value)
}

// Spec is the restriction on a single axis.
type Spec struct {
	restricted bool
	start      Bound
	stop       Bound
	step       int
}

// Unrestricted returns the spec that leaves an axis untouched.
func Unrestricted() Spec { return Spec{} }

// Range returns a restricting spec. Validation of the step and of the
// resolved bounds happens in Resolve, against a concrete axis length.
func Range(start, stop Bound, step int) Spec {
	return Spec{restricted: true, start: start, stop: stop, step: step}
}

// Restricted reports whether the spec restricts its axis. Unrestricted
// axes are skipped entirely by the ingestor rather than copied.
func (s Spec) Restricted() bool { return s.restricted }

// Resolve returns concrete bounds for an axis of length n.
func (s Spec) Resolve(n int) (start, stop, step int, err error) {
	if n <= 0 {
		return 0, 0, 0, tomoerr.Configuration("region.resolve", s.String(), "axis length %d is not positive", n)
	}
	if !s.restricted {
		return 0, n, 1, nil
	}
	if s.step <= 0 {
		return 0, 0, 0, tomoerr.Configuration("region.resolve", s.String(), "step %d must be positive", s.step)
	}

	start = resolveBound(s.start, 0, n)
	stop = resolveBound(s.stop, n, n)
	if start >= stop {
		return 0, 0, 0, tomoerr.Configuration("region.resolve", s.String(),
			"resolved start %d is not before stop %d on axis of length %d", start, stop, n)
	}
	return start, stop, s.step, nil
}

func resolveBound(b Bound, def, n int) int {
	v, ok := b.Value()
	if !ok {
		return def
	}
	if v < 0 {
		v += n
	}
	if v < 0 {
		return 0
	}
	if v > n {
		return n
	}
	return v
}

// OutputLength returns the number of samples left after slicing an axis of
// length n, ceil((stop-start)/step).
func (s Spec) OutputLength(n int) (int, error) {
	if !s.restricted {
		if n <= 0 {
			return 0, tomoerr.Configuration("region.outputLength", s.String(), "axis length %d is not positive", n)
		}
		return n, nil
	}
	start, stop, step, err := s.Resolve(n)
	if err != nil {
		return 0, err
	}
	return (stop - start + step - 1) / step, nil
}

// Indices lists the positions visited on an axis of length n.
func (s Spec) Indices(n int) ([]int, error) {
	start, stop, step, err := s.Resolve(n)
	if err != nil {
		return nil, err
	}
	idx := make([]int, 0, (stop-start+step-1)/step)
	for i := start; i < stop; i += step {
		idx = append(idx, i)
	}
	return idx, nil
}

// String renders the spec in slice notation, "start:stop:step". The
// unrestricted spec renders as "*".
func (s Spec) String() string {
	if !s.restricted {
		return "*"
	}
	return fmt.Sprintf("%s:%s:%d", s.start, s.stop, s.step)
}

// ParseSpec parses slice notation. The empty string and "*" yield
// Unrestricted; "start:stop:step" yields a Range where any part may be
// empty and an omitted step defaults to 1.
func ParseSpec(text string) (Spec, error) {
	text = strings.TrimSpace(text)
	if text == "" || text == "*" {
		return Unrestricted(), nil
	}

	parts := strings.Split(text, ":")
	if len(parts) > 3 {
		return Spec{}, tomoerr.Configuration("region.parse", text, "expected at most three ':' separated fields")
	}
	for len(parts) < 3 {
		parts = append(parts, "")
	}

	start, err := parseBound(parts[0])
	if err != nil {
		return Spec{}, tomoerr.Configuration("region.parse", text, "start: %v", err)
	}
	stop, err := parseBound(parts[1])
	if err != nil {
		return Spec{}, tomoerr.Configuration("region.parse", text, "stop: %v", err)
	}
	step := 1
	if s := strings.TrimSpace(parts[2]); s != "" {
		step, err = strconv.Atoi(s)
		if err != nil {
			return Spec{}, tomoerr.Configuration("region.parse", text, "step: %v", err)
		}
		if step <= 0 {
			return Spec{}, tomoerr.Configuration("region.parse", text, "step %d must be positive", step)
		}
	}
	return Range(start, stop, step), nil
}

func parseBound(s string) (Bound, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Open, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return Open, err
	}
	return At(v), nil
}

// Descriptor holds one Spec per logical axis. The zero value leaves every
// axis unrestricted.
type Descriptor struct {
	Angle      Spec
	Vertical   Spec
	Horizontal Spec
}

// For returns the spec of the given axis.
func (d Descriptor) For(a Axis) Spec {
	switch a {
	case Angular:
		return d.Angle
	case Vertical:
		return d.Vertical
	case Horizontal:
		return d.Horizontal
	default:
		return Unrestricted()
	}
}

func (d Descriptor) String() string {
	return fmt.Sprintf("angle=%s vertical=%s horizontal=%s", d.Angle, d.Vertical, d.Horizontal)
}

// Parse builds a Descriptor from slice notation for each axis.
func Parse(angle, vertical, horizontal string) (Descriptor, error) {
	var d Descriptor
	var err error
	if d.Angle, err = ParseSpec(angle); err != nil {
		return Descriptor{}, err
	}
	if d.Vertical, err = ParseSpec(vertical); err != nil {
		return Descriptor{}, err
	}
	if d.Horizontal, err = ParseSpec(horizontal); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// Apply returns the elements of xs selected by s. An unrestricted spec
// returns xs itself without copying.
func Apply[T any](s Spec, xs []T) ([]T, error) {
	if !s.restricted {
		return xs, nil
	}
	idx, err := s.Indices(len(xs))
	if err != nil {
		return nil, err
	}
	out := make([]T, len(idx))
	for i, j := range idx {
		out[i] = xs[j]
	}
	return out, nil
}
