package selector

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/picklr-io/strata/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCriterion(t *testing.T) {
	tests := []struct {
		input string
		want  Criterion
	}{
		{
			input: "model_a",
			want:  Criterion{Method: MethodFQN, Value: "model_a"},
		},
		{
			input: "state:modified+",
			want:  Criterion{Method: MethodState, Value: "modified", Children: true, ChildrenDepth: Unbounded},
		},
		{
			input: "2+tag:nightly+1",
			want: Criterion{Method: MethodTag, Value: "nightly",
				Parents: true, ParentsDepth: 2, Children: true, ChildrenDepth: 1},
		},
		{
			input: "+unique_id:model.test.model_b",
			want:  Criterion{Method: MethodUniqueID, Value: "model.test.model_b", Parents: true, ParentsDepth: Unbounded},
		},
		{
			input: "@resource_type:metric",
			want:  Criterion{Method: MethodResourceType, Value: "metric", ChildrensParents: true},
		},
		{
			input: "config.materialized:table",
			want:  Criterion{Method: MethodConfig, Args: []string{"materialized"}, Value: "table"},
		},
		{
			input: "test.staging.*",
			want:  Criterion{Method: MethodFQN, Value: "test.staging.*"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseCriterion(tt.input)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseCriterion(%q) mismatch (-want +got):\n%s", tt.input, diff)
			}
			assert.Equal(t, got, mustCriterion(t, got.String()), "String() round-trips")
		})
	}
}

func mustCriterion(t *testing.T, s string) Criterion {
	t.Helper()
	c, err := ParseCriterion(s)
	require.NoError(t, err)
	return c
}

func TestParse_Combinators(t *testing.T) {
	got, err := Parse("tag:nightly,resource_type:model  state:new")
	require.NoError(t, err)

	want := &Union{Parts: []Intersection{
		{Parts: []Criterion{
			{Method: MethodTag, Value: "nightly"},
			{Method: MethodResourceType, Value: "model"},
		}},
		{Parts: []Criterion{
			{Method: MethodState, Value: "new"},
		}},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_Empty(t *testing.T) {
	u, err := Parse("   ")
	require.NoError(t, err)
	assert.True(t, u.Empty())
}

func TestParse_SyntaxErrors(t *testing.T) {
	inputs := []string{
		"state:",
		"+",
		"bogus:value",
		"state:stale",
		"config:table",
		"tag.x:nightly",
		"@+model_a",
		"a,,b",
		"model_a++",
	}
	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, engine.ErrSelectorSyntax))
			var se *SyntaxError
			assert.True(t, errors.As(err, &se))
		})
	}
}
