// Package athena runs statements as Amazon Athena query executions.
package athena

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"

	"github.com/picklr-io/strata/internal/adapter"
	"github.com/picklr-io/strata/internal/ir"
	"github.com/picklr-io/strata/internal/logging"
)

// Name is the adapter name used in target configuration.
const Name = "athena"

const defaultPollInterval = time.Second

type queryAPI interface {
	StartQueryExecution(ctx context.Context, in *athena.StartQueryExecutionInput, opts ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, in *athena.GetQueryExecutionInput, opts ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
	GetQueryResults(ctx context.Context, in *athena.GetQueryResultsInput, opts ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error)
	StopQueryExecution(ctx context.Context, in *athena.StopQueryExecutionInput, opts ...func(*athena.Options)) (*athena.StopQueryExecutionOutput, error)
}

// Adapter submits one query execution per statement and polls until it finishes.
//
// Target options: region, profile, workgroup, output_location, poll_interval.
// The target database is the data catalog and the schema is the Athena database.
type Adapter struct {
	client         queryAPI
	catalog        string
	workgroup      string
	outputLocation string
	pollInterval   time.Duration
}

// Factory loads AWS configuration for the target.
func Factory(target *ir.Target) (adapter.Adapter, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region := target.Options["region"]; region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if profile := target.Options["profile"]; profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}
	return newAdapter(athena.NewFromConfig(cfg), target)
}

func newAdapter(client queryAPI, target *ir.Target) (*Adapter, error) {
	a := &Adapter{
		client:         client,
		catalog:        target.Database,
		workgroup:      target.Options["workgroup"],
		outputLocation: target.Options["output_location"],
		pollInterval:   defaultPollInterval,
	}
	if a.catalog == "" {
		a.catalog = "AwsDataCatalog"
	}
	if p := target.Options["poll_interval"]; p != "" {
		d, err := time.ParseDuration(p)
		if err != nil {
			return nil, fmt.Errorf("invalid poll_interval %q: %w", p, err)
		}
		a.pollInterval = d
	}
	return a, nil
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Execute(ctx context.Context, req *adapter.Request) (*adapter.Response, error) {
	stmt := adapter.Materialize(req)
	if stmt == "" {
		return &adapter.Response{Message: "SKIP ephemeral"}, nil
	}

	input := &athena.StartQueryExecutionInput{
		QueryString: aws.String(stmt),
		QueryExecutionContext: &types.QueryExecutionContext{
			Catalog:  aws.String(a.catalog),
			Database: aws.String(req.Relation.Schema),
		},
	}
	if a.workgroup != "" {
		input.WorkGroup = aws.String(a.workgroup)
	}
	if a.outputLocation != "" {
		input.ResultConfiguration = &types.ResultConfiguration{OutputLocation: aws.String(a.outputLocation)}
	}

	started, err := a.client.StartQueryExecution(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to start query: %w", err)
	}
	id := aws.ToString(started.QueryExecutionId)

	if err := a.wait(ctx, id); err != nil {
		return nil, err
	}

	resp := &adapter.Response{Message: "SUCCEEDED", QueryID: id}
	if req.Resource.Kind == ir.KindTest {
		failures, err := a.firstValue(ctx, id)
		if err != nil {
			return nil, err
		}
		if failures > 0 {
			return nil, fmt.Errorf("test failed: %d failing rows (query %s)", failures, id)
		}
		resp.Message = "PASS"
	}
	return resp, nil
}

func (a *Adapter) wait(ctx context.Context, id string) error {
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		out, err := a.client.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{QueryExecutionId: aws.String(id)})
		if err != nil {
			return fmt.Errorf("failed to poll query %s: %w", id, err)
		}
		if out.QueryExecution != nil && out.QueryExecution.Status != nil {
			status := out.QueryExecution.Status
			switch status.State {
			case types.QueryExecutionStateSucceeded:
				return nil
			case types.QueryExecutionStateFailed, types.QueryExecutionStateCancelled:
				return fmt.Errorf("query %s %s: %s", id, status.State, aws.ToString(status.StateChangeReason))
			}
		}

		select {
		case <-ctx.Done():
			logging.FromContext(ctx).Warn("stopping athena query", "query_id", id, "reason", ctx.Err())
			_, _ = a.client.StopQueryExecution(context.WithoutCancel(ctx), &athena.StopQueryExecutionInput{QueryExecutionId: aws.String(id)})
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// firstValue reads the single numeric cell a test query returns. Row 0 is the header.
func (a *Adapter) firstValue(ctx context.Context, id string) (int64, error) {
	out, err := a.client.GetQueryResults(ctx, &athena.GetQueryResultsInput{QueryExecutionId: aws.String(id)})
	if err != nil {
		return 0, fmt.Errorf("failed to read results of %s: %w", id, err)
	}
	rows := out.ResultSet.Rows
	if len(rows) < 2 || len(rows[1].Data) == 0 {
		return 0, fmt.Errorf("query %s returned no rows", id)
	}
	return strconv.ParseInt(aws.ToString(rows[1].Data[0].VarCharValue), 10, 64)
}

func (a *Adapter) Close() error { return nil }
