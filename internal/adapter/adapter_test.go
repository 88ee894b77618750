package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/picklr-io/strata/internal/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	closed bool
	err    error
}

func (s *stubAdapter) Name() string { return "stub" }

func (s *stubAdapter) Execute(ctx context.Context, req *Request) (*Response, error) {
	return &Response{}, nil
}

func (s *stubAdapter) Close() error {
	s.closed = true
	return s.err
}

func TestMaterialize(t *testing.T) {
	rel := ir.Relation{Database: "dbt", Schema: "dev", Identifier: "orders"}

	tests := []struct {
		name string
		res  *ir.Resource
		want string
	}{
		{
			name: "view by default",
			res:  &ir.Resource{Kind: ir.KindModel},
			want: "create or replace view \"dbt\".\"dev\".\"orders\" as (\nselect 1\n)",
		},
		{
			name: "table",
			res:  &ir.Resource{Kind: ir.KindModel, Config: map[string]string{"materialized": "table"}},
			want: "drop table if exists \"dbt\".\"dev\".\"orders\";\ncreate table \"dbt\".\"dev\".\"orders\" as (\nselect 1\n)",
		},
		{
			name: "ephemeral",
			res:  &ir.Resource{Kind: ir.KindModel, Config: map[string]string{"materialized": "ephemeral"}},
			want: "",
		},
		{
			name: "test counts failures",
			res:  &ir.Resource{Kind: ir.KindTest},
			want: "select count(*) as failures from (\nselect 1\n) as test_query",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Materialize(&Request{Resource: tt.res, Statement: " select 1; ", Relation: rel})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	created := 0
	stub := &stubAdapter{err: errors.New("close failed")}
	r.Register("stub", func(target *ir.Target) (Adapter, error) {
		created++
		return stub, nil
	})
	r.Register("broken", func(target *ir.Target) (Adapter, error) {
		return nil, errors.New("no credentials")
	})
	assert.Equal(t, []string{"broken", "stub"}, r.Names())

	target := &ir.Target{Name: "dev", Adapter: "stub"}
	a, err := r.For(target)
	require.NoError(t, err)
	_, err = r.For(target)
	require.NoError(t, err)
	assert.Equal(t, 1, created, "adapters are cached per target")
	assert.Equal(t, "stub", a.Name())

	_, err = r.For(&ir.Target{Name: "x", Adapter: "missing"})
	assert.ErrorContains(t, err, "unknown adapter")

	_, err = r.For(&ir.Target{Name: "y", Adapter: "broken"})
	assert.ErrorContains(t, err, "no credentials")

	_, err = r.For(nil)
	assert.Error(t, err)

	err = r.Close()
	assert.ErrorContains(t, err, "close failed")
	assert.True(t, stub.closed)
}
