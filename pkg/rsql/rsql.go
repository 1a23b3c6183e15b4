// Package rsql builds RSQL filter expressions understood by the collection back-ends.
package rsql

import (
	"strings"
)

// Node is any RSQL expression.
type Node interface {
	String() string
}

// Comparison is a selector/operator/arguments triple.
type Comparison struct {
	Selector string
	Operator string
	Args     []string
}

// Group joins operands with ";" (and) or "," (or).
type Group struct {
	Operator string
	Operands []Node
}

// Eq builds selector==value.
func Eq(selector, value string) Comparison {
	return Comparison{Selector: selector, Operator: "==", Args: []string{value}}
}

// Ne builds selector!=value.
func Ne(selector, value string) Comparison {
	return Comparison{Selector: selector, Operator: "!=", Args: []string{value}}
}

// In builds selector=in=(v1,v2).
func In(selector string, values ...string) Comparison {
	return Comparison{Selector: selector, Operator: "=in=", Args: values}
}

// And joins operands with logical and.
func And(operands ...Node) Group {
	return Group{Operator: ";", Operands: operands}
}

// Or joins operands with logical or.
func Or(operands ...Node) Group {
	return Group{Operator: ",", Operands: operands}
}

func (c Comparison) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = Quote(a)
	}
	if len(args) == 1 && c.Operator != "=in=" && c.Operator != "=out=" {
		return c.Selector + c.Operator + args[0]
	}
	return c.Selector + c.Operator + "(" + strings.Join(args, ",") + ")"
}

func (g Group) String() string {
	parts := make([]string, 0, len(g.Operands))
	for _, op := range g.Operands {
		if op == nil {
			continue
		}
		s := op.String()
		if s == "" {
			continue
		}
		if inner, ok := op.(Group); ok && inner.Operator != g.Operator && len(inner.Operands) > 1 {
			s = "(" + s + ")"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, g.Operator)
}

const reserved = "\"'();,=!~<> \t\n"

// Quote wraps values containing reserved characters in double quotes.
func Quote(value string) string {
	if value != "" && !strings.ContainsAny(value, reserved) {
		return value
	}
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}
