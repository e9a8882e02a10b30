package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/replica/internal/record"
	"github.com/roach88/replica/internal/replica"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] step %d %s", ev.Seq, ev.Step, ev.Action)
			if ev.Record != nil {
				fmt.Fprintf(&buf, " %s/%s %s", ev.Source, ev.Event, formatRecord(ev.Record))
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

// assertTraceActions checks the full action sequence.
func assertTraceActions(result *Result, a Assertion) error {
	got := result.Actions()
	if !slices.Equal(got, a.Actions) {
		return &AssertionError{
			Type:     AssertTraceActions,
			Expected: fmt.Sprintf("%v", a.Actions),
			Actual:   fmt.Sprintf("%v", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertTraceContains checks that some broadcast has the action (and
// source) and a record containing Match.
func assertTraceContains(result *Result, a Assertion) error {
	for _, ev := range result.Trace {
		if !eventMatches(ev, a) {
			continue
		}
		ok, err := matchSubset(ev.Record, a.Match)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("%s (source %q) with record %v", a.Action, a.Source, a.Match),
		Actual:   "not found in trace",
		Trace:    result.Trace,
	}
}

// assertTraceOrder checks if actions appear in the specified order.
// Actions don't need to be consecutive (intervening actions are allowed);
// each expected action is matched after the previous match.
func assertTraceOrder(result *Result, a Assertion) error {
	pos := 0
	for _, want := range a.Actions {
		found := false
		for pos < len(result.Trace) {
			ev := result.Trace[pos]
			pos++
			if string(ev.Action) == want {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", a.Actions),
				Actual:   fmt.Sprintf("%s missing after position %d", want, pos),
				Trace:    result.Trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks if the action appears exactly Count times.
func assertTraceCount(result *Result, a Assertion) error {
	count := 0
	for _, ev := range result.Trace {
		if eventMatches(ev, a) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertFinalOrder checks the replica's Field values, in order.
func assertFinalOrder(result *Result, a Assertion) error {
	want := make([]record.Value, len(a.Values))
	for i, v := range a.Values {
		val, err := record.FromAny(v)
		if err != nil {
			return fmt.Errorf("final_order values[%d]: %w", i, err)
		}
		want[i] = val
	}

	got := make([]record.Value, len(result.Replica))
	for i, r := range result.Replica {
		if v, ok := r[a.Field]; ok {
			got[i] = v
		} else {
			got[i] = record.Null{}
		}
	}

	equal := len(got) == len(want)
	for i := 0; equal && i < len(got); i++ {
		equal = record.LooseEqual(got[i], want[i])
	}
	if !equal {
		return &AssertionError{
			Type:     AssertFinalOrder,
			Expected: fmt.Sprintf("%s = %s", a.Field, formatValues(want)),
			Actual:   fmt.Sprintf("%s = %s", a.Field, formatValues(got)),
		}
	}
	return nil
}

// assertFinalState checks the single record matching Where.
// With an empty Expect it checks that no record matches.
func assertFinalState(result *Result, a Assertion) error {
	records := result.Replica
	target := a.Target
	if target == "" {
		target = TargetReplica
	}
	if target == TargetRemote {
		records = result.Remote
	}

	var matches []record.Record
	for _, r := range records {
		ok, err := matchSubset(r, a.Where)
		if err != nil {
			return err
		}
		if ok {
			matches = append(matches, r)
		}
	}

	where := formatMap(a.Where)
	if len(a.Expect) == 0 {
		if len(matches) != 0 {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("no %s record where %s", target, where),
				Actual:   fmt.Sprintf("found %s", formatRecord(matches[0])),
			}
		}
		return nil
	}

	switch len(matches) {
	case 0:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s record where %s", target, where),
			Actual:   "record not found",
		}
	case 1:
	default:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one %s record where %s", target, where),
			Actual:   fmt.Sprintf("%d records matched (assertion is ambiguous)", len(matches)),
		}
	}

	ok, err := matchSubset(matches[0], a.Expect)
	if err != nil {
		return err
	}
	if !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s record where %s to contain %s", target, where, formatMap(a.Expect)),
			Actual:   formatRecord(matches[0]),
		}
	}
	return nil
}

func eventMatches(ev TraceEvent, a Assertion) bool {
	if string(ev.Action) != a.Action {
		return false
	}
	if a.Source == "" {
		return true
	}
	src, err := replica.ParseSource(a.Source)
	return err == nil && ev.Source == src
}

// matchSubset reports whether r contains every field of expected, using
// loose equality. Extra fields in r are ignored. A YAML null matches an
// absent field.
func matchSubset(r record.Record, expected map[string]any) (bool, error) {
	for key, raw := range expected {
		want, err := record.FromAny(raw)
		if err != nil {
			return false, fmt.Errorf("field %q: %w", key, err)
		}
		got, ok := r[key]
		if !ok {
			got = record.Null{}
		}
		if !record.LooseEqual(got, want) {
			return false, nil
		}
	}
	return true, nil
}

func formatRecord(r record.Record) string {
	data, err := record.MarshalValue(r)
	if err != nil {
		return fmt.Sprintf("%v", map[string]record.Value(r))
	}
	return string(data)
}

func formatMap(m map[string]any) string {
	r, err := record.FromMap(m)
	if err != nil {
		return fmt.Sprintf("%v", m)
	}
	return formatRecord(r)
}

func formatValues(vals []record.Value) string {
	data, err := record.MarshalValue(record.Array(vals))
	if err != nil {
		return fmt.Sprintf("%v", vals)
	}
	return string(data)
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string

	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceActions:
			err = assertTraceActions(result, a)
		case AssertTraceContains:
			err = assertTraceContains(result, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result, a)
		case AssertTraceCount:
			err = assertTraceCount(result, a)
		case AssertFinalOrder:
			err = assertFinalOrder(result, a)
		case AssertFinalState:
			err = assertFinalState(result, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}
