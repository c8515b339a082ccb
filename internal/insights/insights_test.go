package insights

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/ChuLiYu/jobwatch/pkg/types"
)

func sampleSnapshot() types.InsightsSnapshot {
	return types.InsightsSnapshot{
		Phases: []types.Phase{
			{Name: "Lexer", Status: types.PhaseCompleted, Description: "Tokenizing", Result: types.StrPtr("Completed successfully")},
			{Name: "Parser", Status: types.PhaseCompleted, Description: "Parsing", Result: types.StrPtr("Failed"), IsError: true},
			{Name: "Semantic", Status: types.PhaseRunning, Description: "Checking"},
		},
		Insights: []types.Insight{
			{Title: "Parser", Code: types.StrPtr("x = 1"), Explanation: "assignment"},
			{Title: "Compiler", Explanation: "no snippet"},
		},
	}
}

func TestBuildViewPhases(t *testing.T) {
	view := BuildView(sampleSnapshot())

	require.Len(t, view.Phases, 3)

	assert.Equal(t, "Lexer", view.Phases[0].Name)
	assert.Equal(t, []string{"status-completed"}, view.Phases[0].Badges)
	assert.True(t, view.Phases[0].HasResult)
	assert.Equal(t, "Completed successfully", view.Phases[0].Result)

	assert.Equal(t, []string{"status-completed", ErrorBadge}, view.Phases[1].Badges)
	assert.True(t, view.Phases[1].IsError)

	assert.False(t, view.Phases[2].HasResult, "result is shown only if present")
	assert.Equal(t, []string{"status-running"}, view.Phases[2].Badges)
}

func TestBuildViewInsights(t *testing.T) {
	view := BuildView(sampleSnapshot())

	require.Len(t, view.Insights, 2)
	assert.True(t, view.Insights[0].HasCode)
	assert.Equal(t, "x = 1", view.Insights[0].Code)
	assert.False(t, view.Insights[1].HasCode, "code block is shown only if present")
	assert.Equal(t, "no snippet", view.Insights[1].Explanation)
}

func TestBuildViewPreservesServerOrder(t *testing.T) {
	snap := types.InsightsSnapshot{
		Phases: []types.Phase{{Name: "z"}, {Name: "a"}, {Name: "m"}},
	}

	view := BuildView(snap)

	names := []string{view.Phases[0].Name, view.Phases[1].Name, view.Phases[2].Name}
	assert.Equal(t, []string{"z", "a", "m"}, names)
}

func TestApplyEmptyClears(t *testing.T) {
	r := New()
	r.Reset(1)
	require.NoError(t, r.Apply(1, sampleSnapshot()))
	require.NotEmpty(t, r.View().Phases)

	require.NoError(t, r.Apply(1, types.InsightsSnapshot{}))

	view := r.View()
	assert.Empty(t, view.Phases)
	assert.Empty(t, view.Insights)
}

func TestApplyStaleSessionDiscarded(t *testing.T) {
	r := New()
	r.Reset(1)
	require.NoError(t, r.Apply(1, sampleSnapshot()))
	r.Reset(2)

	assert.ErrorIs(t, r.Apply(1, sampleSnapshot()), ErrStaleSession)
	assert.Empty(t, r.View().Phases)
	assert.Equal(t, uint64(2), r.View().Session)
}

func TestViewIsACopy(t *testing.T) {
	r := New()
	require.NoError(t, r.Apply(0, sampleSnapshot()))

	view := r.View()
	view.Phases[0].Badges[0] = "mutated"
	view.Insights[0].Title = "mutated"

	again := r.View()
	assert.Equal(t, "status-completed", again.Phases[0].Badges[0])
	assert.Equal(t, "Parser", again.Insights[0].Title)
}

func snapshotGen() *rapid.Generator[types.InsightsSnapshot] {
	optional := rapid.Custom(func(t *rapid.T) *string {
		if rapid.Bool().Draw(t, "present") {
			return types.StrPtr(rapid.String().Draw(t, "value"))
		}
		return nil
	})
	phase := rapid.Custom(func(t *rapid.T) types.Phase {
		return types.Phase{
			Name:        rapid.String().Draw(t, "name"),
			Status:      rapid.SampledFrom([]string{types.PhasePending, types.PhaseRunning, types.PhaseCompleted}).Draw(t, "status"),
			Description: rapid.String().Draw(t, "description"),
			Result:      optional.Draw(t, "result"),
			IsError:     rapid.Bool().Draw(t, "is_error"),
		}
	})
	insight := rapid.Custom(func(t *rapid.T) types.Insight {
		return types.Insight{
			Title:       rapid.String().Draw(t, "title"),
			Code:        optional.Draw(t, "code"),
			Explanation: rapid.String().Draw(t, "explanation"),
		}
	})
	return rapid.Custom(func(t *rapid.T) types.InsightsSnapshot {
		return types.InsightsSnapshot{
			Phases:   rapid.SliceOfN(phase, 0, 6).Draw(t, "phases"),
			Insights: rapid.SliceOfN(insight, 0, 6).Draw(t, "insights"),
		}
	})
}

// Applying the same snapshot twice yields an identical view, whatever came
// before it.
func TestApplyIsIdempotent(t *testing.T) {
	gen := snapshotGen()

	rapid.Check(t, func(rt *rapid.T) {
		r := New()
		r.Reset(7)
		if err := r.Apply(7, gen.Draw(rt, "previous")); err != nil {
			rt.Fatalf("apply: %v", err)
		}

		snap := gen.Draw(rt, "snapshot")
		if err := r.Apply(7, snap); err != nil {
			rt.Fatalf("apply: %v", err)
		}
		first := r.View()
		if err := r.Apply(7, snap); err != nil {
			rt.Fatalf("apply: %v", err)
		}
		second := r.View()

		assert.Equal(rt, first, second)

		want := BuildView(snap)
		want.Session = 7
		assert.Equal(rt, len(want.Phases), len(first.Phases))
		assert.Equal(rt, len(want.Insights), len(first.Insights))
	})
}
