package engine

import "github.com/picklr-io/strata/internal/ir"

func model(name string, deps ...string) *ir.Resource {
	return &ir.Resource{
		UniqueID:  ir.UniqueIDFor(ir.KindModel, "test", name),
		Kind:      ir.KindModel,
		Package:   "test",
		Name:      name,
		Raw:       "select 1 as " + name,
		DependsOn: deps,
	}
}

func id(name string) string {
	return ir.UniqueIDFor(ir.KindModel, "test", name)
}

func indexOf(slice []string, item string) int {
	for i, s := range slice {
		if s == item {
			return i
		}
	}
	return -1
}

func mustGraph(resources ...*ir.Resource) *Graph {
	g, err := BuildGraph(resources)
	if err != nil {
		panic(err)
	}
	if _, err := FingerprintGraph(g); err != nil {
		panic(err)
	}
	return g
}
