package flow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/frahmantamala/ssoflow/internal"
	"github.com/frahmantamala/ssoflow/internal/core/common/validation"
)

type FlowDTO struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Enabled     *bool  `json:"enabled"`
}

func (d FlowDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("name", d.Name).Required().MaxLength(128)
	return v.Validate()
}

type NodeDTO struct {
	Key           string          `json:"key"`
	Name          string          `json:"name"`
	NodeType      string          `json:"node_type"`
	ApproverType  string          `json:"approver_type"`
	ApproverValue string          `json:"approver_value"`
	Condition     json.RawMessage `json:"condition,omitempty"`
	SortOrder     int             `json:"sort_order"`
	PositionX     float64         `json:"position_x"`
	PositionY     float64         `json:"position_y"`
}

type ConnectionDTO struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

// SaveNodesDTO is the editor payload: nodes by key and the edges between them.
type SaveNodesDTO struct {
	Nodes       []NodeDTO       `json:"nodes"`
	Connections []ConnectionDTO `json:"connections"`
}

// GraphView is what the editor loads back.
type GraphView struct {
	FlowID      int64           `json:"flow_id"`
	Version     int             `json:"version"`
	Published   bool            `json:"published"`
	Nodes       []*Node         `json:"nodes"`
	Connections []ConnectionDTO `json:"connections"`
}

// graph turns the payload into the key-addressed form the validator works on.
func (d SaveNodesDTO) graph() ([]GraphNode, error) {
	var errs internal.ValidationErrors
	nodes := make([]GraphNode, 0, len(d.Nodes))
	index := make(map[string]int, len(d.Nodes))
	for i, n := range d.Nodes {
		key := strings.TrimSpace(n.Key)
		if key == "" {
			errs.Add(fmt.Sprintf("nodes[%d].key", i), "key is required", string(internal.ErrCodeValidationFailed))
			continue
		}
		if _, dup := index[key]; dup {
			errs.Add(fmt.Sprintf("nodes[%d].key", i), fmt.Sprintf("duplicate node key %q", key), string(internal.ErrCodeDuplicate))
			continue
		}
		if strings.TrimSpace(n.Name) == "" {
			errs.Add(fmt.Sprintf("nodes[%d].name", i), "name is required", string(internal.ErrCodeValidationFailed))
		}
		index[key] = len(nodes)
		nodes = append(nodes, GraphNode{
			Key:           key,
			Type:          n.NodeType,
			ApproverType:  n.ApproverType,
			ApproverValue: strings.TrimSpace(n.ApproverValue),
			Condition:     n.Condition,
		})
	}

	for i, c := range d.Connections {
		field := fmt.Sprintf("connections[%d]", i)
		src, ok := index[strings.TrimSpace(c.Source)]
		if !ok {
			errs.Add(field+".source", fmt.Sprintf("unknown node %q", c.Source), string(internal.ErrCodeValidationFailed))
			continue
		}
		target := strings.TrimSpace(c.Target)
		var slot *string
		switch c.Type {
		case "", EdgeNext:
			slot = &nodes[src].Next
		case EdgeTrue:
			slot = &nodes[src].True
		case EdgeFalse:
			slot = &nodes[src].False
		default:
			errs.Add(field+".type", "type must be one of next, true, false", string(internal.ErrCodeValidationFailed))
			continue
		}
		if *slot != "" {
			errs.Add(field, fmt.Sprintf("node %q already has a %s edge", c.Source, edgeName(c.Type)), string(internal.ErrCodeValidationFailed))
			continue
		}
		*slot = target
	}
	if err := errs.AsError(); err != nil {
		return nil, err
	}
	return nodes, nil
}

func edgeName(t string) string {
	if t == "" {
		return EdgeNext
	}
	return t
}
