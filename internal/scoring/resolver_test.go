package scoring

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scorepeers/settlement/internal/domain"
)

func f(v float64) *float64 { return &v }

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		direction domain.Direction
		line      float64
		outcome   *float64
		override  domain.Override
		want      Resolution
		wantErr   error
	}{
		{
			name:      "more above line",
			direction: domain.DirectionMore,
			line:      45.5,
			outcome:   f(50),
			want:      Resolution{Result: domain.PickCorrect, Points: 10},
		},
		{
			name:      "more below line",
			direction: domain.DirectionMore,
			line:      45.5,
			outcome:   f(45),
			want:      Resolution{Result: domain.PickIncorrect, Points: 0},
		},
		{
			name:      "less below line",
			direction: domain.DirectionLess,
			line:      2.5,
			outcome:   f(0),
			want:      Resolution{Result: domain.PickCorrect, Points: 10},
		},
		{
			name:      "less above line",
			direction: domain.DirectionLess,
			line:      2.5,
			outcome:   f(3),
			want:      Resolution{Result: domain.PickIncorrect, Points: 0},
		},
		{
			name:      "unresolved prop",
			direction: domain.DirectionMore,
			line:      45.5,
			wantErr:   domain.ErrUnresolvedProp,
		},
		{
			name:      "exact tie is rejected",
			direction: domain.DirectionLess,
			line:      45,
			outcome:   f(45),
			wantErr:   domain.ErrLineTie,
		},
		{
			name:      "unknown direction",
			direction: "sideways",
			line:      1.5,
			outcome:   f(3),
			wantErr:   domain.ErrInvalidPick,
		},
		{
			name:      "unknown override",
			direction: domain.DirectionMore,
			line:      1.5,
			outcome:   f(3),
			override:  "rain_delay",
			wantErr:   domain.ErrInvalidOverride,
		},
		{
			name:      "override wins a tie",
			direction: domain.DirectionMore,
			line:      45,
			outcome:   f(45),
			override:  domain.OverrideNoContest,
			want:      Resolution{Result: domain.PickCorrect, Points: 10},
		},
		{
			name:      "non-finite outcome",
			direction: domain.DirectionMore,
			line:      1.5,
			outcome:   f(math.NaN()),
			wantErr:   domain.ErrInvalidProp,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.direction, tt.line, tt.outcome, tt.override)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, domain.ErrPrecondition)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_OverridesAlwaysCorrect(t *testing.T) {
	overrides := []domain.Override{
		domain.OverrideFightCancelled,
		domain.OverrideNoContest,
		domain.OverrideDisqualification,
		domain.OverrideAccidentalInjury,
	}
	for _, o := range overrides {
		for _, d := range []domain.Direction{domain.DirectionMore, domain.DirectionLess} {
			for _, line := range []float64{0.5, 2.5, 45.5, 120} {
				for _, v := range []float64{0, 1, 45.5, 200} {
					got, err := Resolve(d, line, f(v), o)
					require.NoError(t, err)
					assert.Equal(t, domain.PickCorrect, got.Result, "%s %s %v %v", o, d, line, v)
					assert.Equal(t, PointsPerCorrectPick, got.Points)
				}
			}
		}
	}
}

func TestResolve_Deterministic(t *testing.T) {
	for line := 0.5; line < 20; line += 1 {
		for v := 0.0; v < 20; v++ {
			for _, d := range []domain.Direction{domain.DirectionMore, domain.DirectionLess} {
				a, errA := Resolve(d, line, f(v), domain.OverrideNone)
				b, errB := Resolve(d, line, f(v), domain.OverrideNone)
				require.NoError(t, errA)
				require.NoError(t, errB)
				assert.Equal(t, a, b)
			}
			more, _ := Resolve(domain.DirectionMore, line, f(v), domain.OverrideNone)
			less, _ := Resolve(domain.DirectionLess, line, f(v), domain.OverrideNone)
			assert.NotEqual(t, more.Result, less.Result, "exactly one side wins off the line")
		}
	}
}

func TestResolveEntry(t *testing.T) {
	props := map[string]domain.Prop{
		"p1": {ID: "p1", Line: 45.5, OutcomeValue: f(60)},
		"p2": {ID: "p2", Line: 1.5, OutcomeValue: f(0)},
		"p3": {ID: "p3", Line: 3.5},
	}
	entry := domain.Entry{
		ID: "e1",
		Picks: []domain.Pick{
			{ID: "k1", PropID: "p1", Direction: domain.DirectionMore, Result: domain.PickPending},
			{ID: "k2", PropID: "p2", Direction: domain.DirectionMore, Result: domain.PickPending},
		},
	}

	got, err := ResolveEntry(entry, props)
	require.NoError(t, err)
	assert.Equal(t, domain.PickCorrect, got.Picks[0].Result)
	assert.Equal(t, domain.PickIncorrect, got.Picks[1].Result)
	assert.Equal(t, domain.PickPending, entry.Picks[0].Result, "input is not mutated")

	entry.Picks = append(entry.Picks, domain.Pick{ID: "k3", PropID: "p3", Direction: domain.DirectionLess})
	_, err = ResolveEntry(entry, props)
	assert.ErrorIs(t, err, domain.ErrUnresolvedProp)

	entry.Picks = []domain.Pick{{ID: "k4", PropID: "missing", Direction: domain.DirectionLess}}
	_, err = ResolveEntry(entry, props)
	assert.ErrorIs(t, err, domain.ErrUnresolvedProp)
}
