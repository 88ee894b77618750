package render

import (
	"fmt"
	"strings"
	"text/template"
	"text/template/parse"
)

// References lists the ref, source and metric calls found in a template.
// Each ref or source entry holds the call's string arguments.
type References struct {
	Refs    [][]string
	Sources [][]string
	Metrics []string
}

var stubFuncs = template.FuncMap{
	"ref":    func(...string) string { return "" },
	"source": func(...string) string { return "" },
	"metric": func(string) string { return "" },
	"graph":  func() any { return nil },
	"config": func(string) string { return "" },
	"this":   func() string { return "" },
	"target": func() any { return nil },
}

// ExtractReferences parses raw and collects its static references without
// executing it. Calls whose arguments are not string literals are ignored.
func ExtractReferences(raw string) (*References, error) {
	tmpl, err := template.New("extract").Funcs(stubFuncs).Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}

	refs := &References{}
	for _, t := range tmpl.Templates() {
		if t.Tree != nil {
			refs.walk(t.Tree.Root)
		}
	}
	return refs, nil
}

func (r *References) walk(node parse.Node) {
	switch n := node.(type) {
	case nil:
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, child := range n.Nodes {
			r.walk(child)
		}
	case *parse.ActionNode:
		r.walk(n.Pipe)
	case *parse.IfNode:
		r.walkBranch(&n.BranchNode)
	case *parse.RangeNode:
		r.walkBranch(&n.BranchNode)
	case *parse.WithNode:
		r.walkBranch(&n.BranchNode)
	case *parse.TemplateNode:
		r.walk(n.Pipe)
	case *parse.PipeNode:
		if n == nil {
			return
		}
		for _, cmd := range n.Cmds {
			r.walk(cmd)
		}
	case *parse.ChainNode:
		r.walk(n.Node)
	case *parse.CommandNode:
		r.collect(n)
		for _, arg := range n.Args {
			r.walk(arg)
		}
	}
}

func (r *References) walkBranch(b *parse.BranchNode) {
	r.walk(b.Pipe)
	r.walk(b.List)
	r.walk(b.ElseList)
}

func (r *References) collect(cmd *parse.CommandNode) {
	if len(cmd.Args) < 2 {
		return
	}
	ident, ok := cmd.Args[0].(*parse.IdentifierNode)
	if !ok {
		return
	}

	var args []string
	for _, a := range cmd.Args[1:] {
		s, ok := a.(*parse.StringNode)
		if !ok {
			return
		}
		args = append(args, s.Text)
	}

	switch ident.Ident {
	case "ref":
		r.Refs = append(r.Refs, args)
	case "source":
		r.Sources = append(r.Sources, []string{strings.Join(args, ".")})
	case "metric":
		r.Metrics = append(r.Metrics, args[0])
	}
}
