package selector

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/picklr-io/strata/internal/engine"
)

// SyntaxError reports a malformed selector. It aborts the invocation.
type SyntaxError struct {
	Input  string
	Reason string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s %q: %s", engine.ErrSelectorSyntax, e.Input, e.Reason)
}

func (e *SyntaxError) Unwrap() error { return engine.ErrSelectorSyntax }

var criterionPattern = regexp.MustCompile(
	`^(?P<childrens_parents>@)?` +
		`(?P<parents>(?P<parents_depth>\d*)\+)?` +
		`(?:(?P<method>[\w.]+):)?` +
		`(?P<value>.*?)` +
		`(?P<children>\+(?P<children_depth>\d*))?$`)

var validMethods = map[string]bool{
	MethodFQN:          true,
	MethodTag:          true,
	MethodState:        true,
	MethodResourceType: true,
	MethodUniqueID:     true,
	MethodConfig:       true,
	MethodPackage:      true,
}

var validStates = map[string]bool{
	StateNew:        true,
	StateModified:   true,
	StateRemoved:    true,
	StateUnmodified: true,
	StateChanged:    true,
}

// Parse parses a selector string. Whitespace separates intersections and commas
// join criteria inside one intersection. An empty string yields an empty Union.
func Parse(input string) (*Union, error) {
	u := &Union{}
	for _, token := range strings.Fields(input) {
		var inter Intersection
		for _, raw := range strings.Split(token, ",") {
			if raw == "" {
				return nil, &SyntaxError{Input: token, Reason: "empty criterion in intersection"}
			}
			c, err := ParseCriterion(raw)
			if err != nil {
				return nil, err
			}
			inter.Parts = append(inter.Parts, c)
		}
		u.Parts = append(u.Parts, inter)
	}
	return u, nil
}

// ParseCriterion parses one criterion such as "2+state:modified+" or "@tag:nightly".
func ParseCriterion(raw string) (Criterion, error) {
	m := criterionPattern.FindStringSubmatch(raw)
	if m == nil {
		return Criterion{}, &SyntaxError{Input: raw, Reason: "unrecognised criterion"}
	}
	group := func(name string) string {
		return m[criterionPattern.SubexpIndex(name)]
	}

	c := Criterion{
		Method:           MethodFQN,
		Value:            group("value"),
		ChildrensParents: group("childrens_parents") != "",
		Parents:          group("parents") != "",
		Children:         group("children") != "",
	}

	if c.Value == "" {
		return Criterion{}, &SyntaxError{Input: raw, Reason: "missing value"}
	}
	if strings.ContainsAny(c.Value, "+@:") {
		return Criterion{}, &SyntaxError{Input: raw, Reason: fmt.Sprintf("unexpected operator in value %q", c.Value)}
	}
	if c.ChildrensParents && c.Parents {
		return Criterion{}, &SyntaxError{Input: raw, Reason: "'@' cannot be combined with a '+' prefix"}
	}

	var err error
	if c.ParentsDepth, err = parseDepth(group("parents_depth")); err != nil {
		return Criterion{}, &SyntaxError{Input: raw, Reason: err.Error()}
	}
	if c.ChildrenDepth, err = parseDepth(group("children_depth")); err != nil {
		return Criterion{}, &SyntaxError{Input: raw, Reason: err.Error()}
	}
	if !c.Parents {
		c.ParentsDepth = 0
	}
	if !c.Children {
		c.ChildrenDepth = 0
	}

	if method := group("method"); method != "" {
		parts := strings.Split(method, ".")
		c.Method = parts[0]
		if len(parts) > 1 {
			c.Args = parts[1:]
		}
		for _, a := range c.Args {
			if a == "" {
				return Criterion{}, &SyntaxError{Input: raw, Reason: "empty method argument"}
			}
		}
	}
	if !validMethods[c.Method] {
		return Criterion{}, &SyntaxError{Input: raw, Reason: fmt.Sprintf("unknown method %q", c.Method)}
	}
	switch c.Method {
	case MethodConfig:
		if len(c.Args) == 0 {
			return Criterion{}, &SyntaxError{Input: raw, Reason: "config method needs a key, e.g. config.materialized"}
		}
	case MethodState:
		if !validStates[c.Value] {
			return Criterion{}, &SyntaxError{Input: raw, Reason: fmt.Sprintf("unknown state %q", c.Value)}
		}
		fallthrough
	default:
		if len(c.Args) > 0 {
			return Criterion{}, &SyntaxError{Input: raw, Reason: fmt.Sprintf("method %q takes no arguments", c.Method)}
		}
	}

	return c, nil
}

func parseDepth(s string) (int, error) {
	if s == "" {
		return Unbounded, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid depth %q", s)
	}
	return n, nil
}
