// Package plan normalizes PostgreSQL EXPLAIN (FORMAT JSON) output into
// a driver-independent nested step structure.
package plan

import (
	"encoding/json"
	"fmt"
)

// Node is one step of a normalized execution plan.
type Node struct {
	Operation     string  `json:"operation"`
	Relation      string  `json:"relation,omitempty"`
	EstimatedCost float64 `json:"estimated_cost"`
	EstimatedRows float64 `json:"estimated_rows"`
	Children      []Node  `json:"children,omitempty"`
}

// rawPlan mirrors the fields we consume from PostgreSQL's JSON plan
// format. Everything else the server emits is dropped deliberately.
type rawPlan struct {
	NodeType     string    `json:"Node Type"`
	RelationName string    `json:"Relation Name"`
	TotalCost    float64   `json:"Total Cost"`
	PlanRows     float64   `json:"Plan Rows"`
	Plans        []rawPlan `json:"Plans"`
}

type rawExplain struct {
	Plan rawPlan `json:"Plan"`
}

// Parse converts the raw JSON produced by EXPLAIN (FORMAT JSON) into a
// normalized plan tree. The server wraps the plan in a one-element
// array.
func Parse(raw []byte) (*Node, error) {
	var outer []rawExplain
	if err := json.Unmarshal(raw, &outer); err != nil {
		return nil, fmt.Errorf("plan: failed to decode explain output: %w", err)
	}
	if len(outer) == 0 {
		return nil, fmt.Errorf("plan: explain output contained no plan")
	}
	root := convert(outer[0].Plan)
	return &root, nil
}

func convert(r rawPlan) Node {
	n := Node{
		Operation:     r.NodeType,
		Relation:      r.RelationName,
		EstimatedCost: r.TotalCost,
		EstimatedRows: r.PlanRows,
	}
	for _, child := range r.Plans {
		n.Children = append(n.Children, convert(child))
	}
	return n
}
