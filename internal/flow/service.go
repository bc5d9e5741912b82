package flow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"gorm.io/datatypes"
)

type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, now: time.Now}
}

func (s *Service) CreateFlow(ctx context.Context, dto FlowDTO) (*Flow, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	f := &Flow{Name: strings.TrimSpace(dto.Name), Description: dto.Description, Enabled: true}
	if dto.Enabled != nil {
		f.Enabled = *dto.Enabled
	}
	if err := s.repo.CreateFlow(ctx, f); err != nil {
		return nil, err
	}
	s.logger.Info("approval flow created", "flow_id", f.ID, "name", f.Name)
	return f, nil
}

func (s *Service) UpdateFlow(ctx context.Context, id int64, dto FlowDTO) (*Flow, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	f, err := s.repo.GetFlow(ctx, id)
	if err != nil {
		return nil, err
	}
	f.Name = strings.TrimSpace(dto.Name)
	f.Description = dto.Description
	if dto.Enabled != nil {
		f.Enabled = *dto.Enabled
	}
	if err := s.repo.UpdateFlow(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Service) GetFlow(ctx context.Context, id int64) (*Flow, error) {
	return s.repo.GetFlow(ctx, id)
}

func (s *Service) ListFlows(ctx context.Context, f FlowFilter) ([]*Flow, int64, error) {
	return s.repo.ListFlows(ctx, f)
}

func (s *Service) DeleteFlow(ctx context.Context, id int64) error {
	if _, err := s.repo.GetFlow(ctx, id); err != nil {
		return err
	}
	n, err := s.repo.CountFlowUsage(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrFlowInUse
	}
	if err := s.repo.DeleteFlow(ctx, id); err != nil {
		return err
	}
	s.logger.Info("approval flow deleted", "flow_id", id)
	return nil
}

// GetNodes returns one version of the graph. Version 0 means the draft when there is one, otherwise the
// latest published version.
func (s *Service) GetNodes(ctx context.Context, flowID int64, version int) (*GraphView, error) {
	f, err := s.repo.GetFlow(ctx, flowID)
	if err != nil {
		return nil, err
	}
	if version < 0 || version > f.Version+1 {
		return nil, ErrVersionNotFound
	}
	var rows []*Node
	if version == 0 {
		version = f.Version + 1
		if rows, err = s.repo.ListNodes(ctx, flowID, version); err != nil {
			return nil, err
		}
		if len(rows) == 0 && f.Version > 0 {
			version = f.Version
			rows, err = s.repo.ListNodes(ctx, flowID, version)
		}
	} else {
		rows, err = s.repo.ListNodes(ctx, flowID, version)
	}
	if err != nil {
		return nil, err
	}
	return &GraphView{
		FlowID:      flowID,
		Version:     version,
		Published:   version <= f.Version,
		Nodes:       rows,
		Connections: connections(rows),
	}, nil
}

// SaveNodes validates the graph and replaces the draft version. Published versions are never touched.
func (s *Service) SaveNodes(ctx context.Context, flowID int64, dto SaveNodesDTO) (*GraphView, error) {
	f, err := s.repo.GetFlow(ctx, flowID)
	if err != nil {
		return nil, err
	}
	graph, err := dto.graph()
	if err != nil {
		return nil, err
	}
	if err := ValidateGraph(graph); err != nil {
		return nil, err
	}

	draft := f.Version + 1
	drafts := make([]NodeDraft, 0, len(dto.Nodes))
	for i, n := range dto.Nodes {
		g := graph[i]
		row := &Node{
			FlowID:    flowID,
			Version:   draft,
			NodeKey:   g.Key,
			Name:      strings.TrimSpace(n.Name),
			NodeType:  g.Type,
			SortOrder: n.SortOrder,
			PositionX: n.PositionX,
			PositionY: n.PositionY,
		}
		if g.Type == NodeCondition {
			row.Condition = datatypes.JSON(g.Condition)
		} else {
			row.ApproverType = g.ApproverType
			row.ApproverValue = g.ApproverValue
		}
		drafts = append(drafts, NodeDraft{Node: row, Next: g.Next, True: g.True, False: g.False})
	}
	rows, err := s.repo.ReplaceNodes(ctx, flowID, draft, drafts)
	if err != nil {
		return nil, err
	}
	s.logger.Info("approval flow draft saved", "flow_id", flowID, "version", draft, "nodes", len(rows))
	return &GraphView{FlowID: flowID, Version: draft, Nodes: rows, Connections: connections(rows)}, nil
}

// Publish validates the draft and makes it the current version. Tickets already in approval keep running
// on the version they were submitted with.
func (s *Service) Publish(ctx context.Context, flowID int64) (*Flow, error) {
	f, err := s.repo.GetFlow(ctx, flowID)
	if err != nil {
		return nil, err
	}
	draft := f.Version + 1
	rows, err := s.repo.ListNodes(ctx, flowID, draft)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNothingToPublish
	}
	if err := ValidateGraph(graphOf(rows)); err != nil {
		return nil, err
	}
	if _, err := Compile(flowID, draft, rows); err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.repo.Publish(ctx, flowID, f.Version, draft, now); err != nil {
		return nil, err
	}
	f.Version = draft
	f.PublishedAt = &now
	s.logger.Info("approval flow published", "flow_id", flowID, "version", draft)
	return f, nil
}

// Compile loads a published version for execution.
func (s *Service) Compile(ctx context.Context, flowID int64, version int) (*Compiled, error) {
	f, err := s.repo.GetFlow(ctx, flowID)
	if err != nil {
		return nil, err
	}
	if version < 1 || version > f.Version {
		return nil, ErrVersionNotFound
	}
	rows, err := s.repo.ListNodes(ctx, flowID, version)
	if err != nil {
		return nil, err
	}
	return Compile(flowID, version, rows)
}

// CompileLatest is used at ticket submission: the flow must be enabled and published.
func (s *Service) CompileLatest(ctx context.Context, flowID int64) (*Compiled, error) {
	f, err := s.repo.GetFlow(ctx, flowID)
	if err != nil {
		return nil, err
	}
	if !f.Enabled {
		return nil, ErrFlowDisabled
	}
	if f.Version == 0 {
		return nil, ErrFlowNotPublished
	}
	c, err := s.Compile(ctx, flowID, f.Version)
	if errors.Is(err, ErrVersionNotFound) {
		return nil, ErrFlowNotPublished
	}
	return c, err
}

func graphOf(rows []*Node) []GraphNode {
	keys := make(map[int64]string, len(rows))
	for _, r := range rows {
		keys[r.ID] = r.NodeKey
	}
	key := func(id *int64) string {
		if id == nil {
			return ""
		}
		if k, ok := keys[*id]; ok {
			return k
		}
		return "#missing"
	}
	out := make([]GraphNode, 0, len(rows))
	for _, r := range rows {
		out = append(out, GraphNode{
			Key:           r.NodeKey,
			Type:          r.NodeType,
			ApproverType:  r.ApproverType,
			ApproverValue: r.ApproverValue,
			Condition:     []byte(r.Condition),
			Next:          key(r.NextNodeID),
			True:          key(r.TrueBranchID),
			False:         key(r.FalseBranchID),
		})
	}
	return out
}

func connections(rows []*Node) []ConnectionDTO {
	keys := make(map[int64]string, len(rows))
	for _, r := range rows {
		keys[r.ID] = r.NodeKey
	}
	out := []ConnectionDTO{}
	for _, r := range rows {
		for _, e := range []struct {
			id  *int64
			typ string
		}{{r.NextNodeID, EdgeNext}, {r.TrueBranchID, EdgeTrue}, {r.FalseBranchID, EdgeFalse}} {
			if e.id != nil {
				out = append(out, ConnectionDTO{Source: r.NodeKey, Target: keys[*e.id], Type: e.typ})
			}
		}
	}
	return out
}
