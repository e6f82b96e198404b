package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/weft/internal/ir"
)

// GoldenDir holds trace fixtures, relative to the package under test.
const GoldenDir = "testdata/golden"

// CanonicalTrace renders result's trace as canonical JSON under the
// scenario's name. Keys are sorted and unset fields omitted, so equal runs
// give equal bytes.
func CanonicalTrace(scenarioName string, result *Result) ([]byte, error) {
	events := make(ir.Array, len(result.Trace))
	for i, ev := range result.Trace {
		events[i] = ev.canonical()
	}
	return ir.MarshalCanonical(ir.Obj(
		ir.P("scenario_name", ir.Str(scenarioName)),
		ir.P("trace", events),
	))
}

// RunWithGolden runs scenario and compares its canonical trace with
// GoldenDir/<name>.golden. go test -update rewrites the fixture.
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(scenario, opts...)
	if err != nil {
		return nil, err
	}
	data, err := CanonicalTrace(scenario.Name, result)
	if err != nil {
		return nil, err
	}
	goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	).Assert(t, scenario.Name, data)
	return result, nil
}
