package query

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/devicelab-dev/device-agent/pkg/core"
	"github.com/devicelab-dev/device-agent/pkg/logger"
	"github.com/devicelab-dev/device-agent/pkg/retry"
	"github.com/devicelab-dev/device-agent/pkg/transport"
)

// TreeTimeoutFactor scales the default budget for full-tree fetches,
// which serialize the whole hierarchy on the device.
const TreeTimeoutFactor = 6

// ChildrenKey holds nested nodes in tree responses.
const ChildrenKey = "children"

// Requester sends one logical request to the agent.
type Requester interface {
	Request(ctx context.Context, req transport.Request, policy retry.Policy) (map[string]interface{}, error)
}

// Engine resolves queries against the agent.
type Engine struct {
	client     Requester
	policy     retry.Policy
	treePolicy retry.Policy
}

// NewEngine creates an engine. base is the plain-call policy; tree fetches
// get TreeTimeoutFactor times its timeout.
func NewEngine(client Requester, base retry.Policy) *Engine {
	return &Engine{
		client:     client,
		policy:     base,
		treePolicy: base.Scale(TreeTimeoutFactor),
	}
}

// Query returns the elements matching q in agent order. Unless q sets
// "all", only hitable elements are returned.
func (e *Engine) Query(ctx context.Context, q Query) ([]core.Element, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var rows []map[string]interface{}
	if q.IsWildcard() {
		tree, err := e.Tree(ctx)
		if err != nil {
			return nil, err
		}
		rows = Flatten(tree)
	} else {
		body, err := e.client.Request(ctx, transport.Post(transport.RouteQuery, q.Params()), e.policy)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", q, err)
		}
		rows, err = resultRows(body)
		if err != nil {
			return nil, err
		}
	}

	elements := make([]core.Element, 0, len(rows))
	for _, row := range rows {
		elements = append(elements, core.ElementFromMap(row))
	}
	if !q.IncludeAll() {
		elements = Visible(elements)
	}

	logger.WithFields(logrus.Fields{
		"query":   q.String(),
		"matches": len(elements),
	}).Debug("query finished")
	return elements, nil
}

// First returns the first match or core.ErrNoMatch.
func (e *Engine) First(ctx context.Context, q Query) (core.Element, error) {
	elements, err := e.Query(ctx, q)
	if err != nil {
		return core.Element{}, err
	}
	if len(elements) == 0 {
		return core.Element{}, core.ErrNoMatch.WithMessagef("no element matches %s", q)
	}
	return elements[0], nil
}

// QueryForCoordinate returns the centre of the first match's rect.
func (e *Engine) QueryForCoordinate(ctx context.Context, q Query) (core.Point, error) {
	el, err := e.First(ctx, q)
	if err != nil {
		return core.Point{}, err
	}
	return el.Rect.Center(), nil
}

// Tree fetches the full element hierarchy.
func (e *Engine) Tree(ctx context.Context) (map[string]interface{}, error) {
	body, err := e.client.Request(ctx, transport.Get(transport.RouteTree), e.treePolicy)
	if err != nil {
		return nil, fmt.Errorf("fetch tree: %w", err)
	}
	if root, ok := body["result"].(map[string]interface{}); ok {
		return root, nil
	}
	if root, ok := body["tree"].(map[string]interface{}); ok {
		return root, nil
	}
	return body, nil
}

// Flatten lists every node of a tree depth-first in document order,
// root included, with the children key stripped from each copy.
func Flatten(root map[string]interface{}) []map[string]interface{} {
	var out []map[string]interface{}
	var walk func(node map[string]interface{})
	walk = func(node map[string]interface{}) {
		flat := make(map[string]interface{}, len(node))
		for k, v := range node {
			if k != ChildrenKey {
				flat[k] = v
			}
		}
		out = append(out, flat)

		children, _ := node[ChildrenKey].([]interface{})
		for _, c := range children {
			if child, ok := c.(map[string]interface{}); ok {
				walk(child)
			}
		}
	}
	if root != nil {
		walk(root)
	}
	return out
}

// Visible keeps elements with hitable == true, preserving order.
func Visible(elements []core.Element) []core.Element {
	out := make([]core.Element, 0, len(elements))
	for _, el := range elements {
		if el.Hitable {
			out = append(out, el)
		}
	}
	return out
}

func resultRows(body map[string]interface{}) ([]map[string]interface{}, error) {
	raw, ok := body["result"]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, core.ErrProtocol.WithMessagef("query result is %T, want a list", raw)
	}
	rows := make([]map[string]interface{}, 0, len(list))
	for _, item := range list {
		if row, ok := item.(map[string]interface{}); ok {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func errInvalidQuery(format string, args ...interface{}) error {
	return core.ErrInvalidQuery.WithMessagef(format, args...)
}
