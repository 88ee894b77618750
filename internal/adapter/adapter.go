// Package adapter defines how rendered statements reach a warehouse.
package adapter

import (
	"context"
	"fmt"
	"strings"

	"github.com/picklr-io/strata/internal/ir"
)

// Request is one statement to execute for a resource.
type Request struct {
	Target      *ir.Target
	Resource    *ir.Resource
	Statement   string      // rendered select
	Relation    ir.Relation // relation the resource builds
	FullRefresh bool
}

// Response is what an adapter reports back for a successful request.
type Response struct {
	Message string
	QueryID string
	Rows    int64
}

// Adapter executes statements against one target.
type Adapter interface {
	Name() string
	Execute(ctx context.Context, req *Request) (*Response, error)
	Close() error
}

// Materialization values understood by Materialize.
const (
	MaterializedView      = "view"
	MaterializedTable     = "table"
	MaterializedEphemeral = "ephemeral"
)

// Materialize wraps the rendered select in the DDL its materialization needs.
// Tests are wrapped in a count of failing rows. Ephemeral models return "".
func Materialize(req *Request) string {
	body := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(req.Statement), ";"))
	rel := req.Relation.String()

	switch req.Resource.Kind {
	case ir.KindTest:
		return fmt.Sprintf("select count(*) as failures from (\n%s\n) as test_query", body)
	case ir.KindSeed:
		return body
	}

	switch strings.ToLower(req.Resource.ConfigValue("materialized")) {
	case MaterializedEphemeral:
		return ""
	case MaterializedTable:
		return fmt.Sprintf("drop table if exists %s;\ncreate table %s as (\n%s\n)", rel, rel, body)
	default:
		return fmt.Sprintf("create or replace view %s as (\n%s\n)", rel, body)
	}
}
