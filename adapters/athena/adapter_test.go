package athena

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/picklr-io/strata/internal/adapter"
	"github.com/picklr-io/strata/internal/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAthena struct {
	states   []types.QueryExecutionState
	reason   string
	failures string
	started  *athena.StartQueryExecutionInput
	polls    int
	stopped  bool
}

func (f *fakeAthena) StartQueryExecution(ctx context.Context, in *athena.StartQueryExecutionInput, _ ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error) {
	f.started = in
	return &athena.StartQueryExecutionOutput{QueryExecutionId: aws.String("q-1")}, nil
}

func (f *fakeAthena) GetQueryExecution(ctx context.Context, in *athena.GetQueryExecutionInput, _ ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error) {
	state := f.states[len(f.states)-1]
	if f.polls < len(f.states) {
		state = f.states[f.polls]
	}
	f.polls++
	return &athena.GetQueryExecutionOutput{QueryExecution: &types.QueryExecution{
		Status: &types.QueryExecutionStatus{State: state, StateChangeReason: aws.String(f.reason)},
	}}, nil
}

func (f *fakeAthena) GetQueryResults(ctx context.Context, in *athena.GetQueryResultsInput, _ ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error) {
	return &athena.GetQueryResultsOutput{ResultSet: &types.ResultSet{Rows: []types.Row{
		{Data: []types.Datum{{VarCharValue: aws.String("failures")}}},
		{Data: []types.Datum{{VarCharValue: aws.String(f.failures)}}},
	}}}, nil
}

func (f *fakeAthena) StopQueryExecution(ctx context.Context, in *athena.StopQueryExecutionInput, _ ...func(*athena.Options)) (*athena.StopQueryExecutionOutput, error) {
	f.stopped = true
	return &athena.StopQueryExecutionOutput{}, nil
}

var target = &ir.Target{Name: "prod", Adapter: Name, Schema: "analytics",
	Options: map[string]string{"workgroup": "etl", "output_location": "s3://results/", "poll_interval": "1ms"}}

func req(kind ir.Kind) *adapter.Request {
	return &adapter.Request{
		Target:    target,
		Resource:  &ir.Resource{UniqueID: "model.test.a", Kind: kind, Name: "a"},
		Statement: "select 1",
		Relation:  ir.Relation{Schema: "analytics", Identifier: "a"},
	}
}

func TestExecute_Succeeds(t *testing.T) {
	fake := &fakeAthena{states: []types.QueryExecutionState{types.QueryExecutionStateQueued, types.QueryExecutionStateRunning, types.QueryExecutionStateSucceeded}}
	a, err := newAdapter(fake, target)
	require.NoError(t, err)

	resp, err := a.Execute(context.Background(), req(ir.KindModel))
	require.NoError(t, err)
	assert.Equal(t, "q-1", resp.QueryID)
	assert.Equal(t, 3, fake.polls)

	assert.Equal(t, "etl", aws.ToString(fake.started.WorkGroup))
	assert.Equal(t, "AwsDataCatalog", aws.ToString(fake.started.QueryExecutionContext.Catalog))
	assert.Equal(t, "analytics", aws.ToString(fake.started.QueryExecutionContext.Database))
	assert.Equal(t, "s3://results/", aws.ToString(fake.started.ResultConfiguration.OutputLocation))
	assert.Contains(t, aws.ToString(fake.started.QueryString), "create or replace view")
}

func TestExecute_Fails(t *testing.T) {
	fake := &fakeAthena{states: []types.QueryExecutionState{types.QueryExecutionStateFailed}, reason: "SYNTAX_ERROR"}
	a, err := newAdapter(fake, target)
	require.NoError(t, err)

	_, err = a.Execute(context.Background(), req(ir.KindModel))
	assert.ErrorContains(t, err, "SYNTAX_ERROR")
}

func TestExecute_TestFailures(t *testing.T) {
	fake := &fakeAthena{states: []types.QueryExecutionState{types.QueryExecutionStateSucceeded}, failures: "2"}
	a, err := newAdapter(fake, target)
	require.NoError(t, err)

	_, err = a.Execute(context.Background(), req(ir.KindTest))
	assert.ErrorContains(t, err, "2 failing rows")

	fake.failures = "0"
	resp, err := a.Execute(context.Background(), req(ir.KindTest))
	require.NoError(t, err)
	assert.Equal(t, "PASS", resp.Message)
}

func TestExecute_CancelStopsQuery(t *testing.T) {
	fake := &fakeAthena{states: []types.QueryExecutionState{types.QueryExecutionStateRunning}}
	a, err := newAdapter(fake, target)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = a.Execute(ctx, req(ir.KindModel))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, fake.stopped)
}

func TestNewAdapter_InvalidPoll(t *testing.T) {
	_, err := newAdapter(&fakeAthena{}, &ir.Target{Options: map[string]string{"poll_interval": "often"}})
	assert.Error(t, err)
}
