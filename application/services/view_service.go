package services

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"designgraph/domain/view"
	pkgerrors "designgraph/pkg/errors"
)

// ViewService answers read-only layer queries against committed snapshots
type ViewService struct {
	graphs *GraphService
}

// NewViewService creates a new view service
func NewViewService(graphs *GraphService) *ViewService {
	return &ViewService{graphs: graphs}
}

// GetView projects the session's current graph onto layer. When
// withPositions is set, unpositioned views get a grid layout.
func (s *ViewService) GetView(ctx context.Context, sessionID, layer string, withPositions bool) (v view.View, err error) {
	ctx, span := startSpan(ctx, "ViewService.GetView")
	span.SetAttributes(attribute.String("session.id", sessionID), attribute.String("view.layer", view.NormalizeLayer(layer)))
	defer func() { endSpan(span, err) }()

	g, err := s.graphs.GetGraph(ctx, sessionID)
	if err != nil {
		return view.View{}, err
	}
	v = view.Project(g, layer)
	if withPositions {
		v = view.EnsurePositions(v)
	}
	return v, nil
}

// GetDelta reports whether the layer view changed since a known version
func (s *ViewService) GetDelta(ctx context.Context, sessionID string, since int, layer string) (d view.Delta, err error) {
	ctx, span := startSpan(ctx, "ViewService.GetDelta")
	span.SetAttributes(attribute.String("session.id", sessionID), attribute.Int("view.since", since))
	defer func() { endSpan(span, err) }()

	if since < 0 {
		return view.Delta{}, pkgerrors.NewValidationError("since must not be negative")
	}
	g, err := s.graphs.GetGraph(ctx, sessionID)
	if err != nil {
		return view.Delta{}, err
	}
	d = view.ComputeDelta(g, since, layer)
	span.SetAttributes(attribute.Bool("view.changed", d.Changed))
	return d, nil
}

// ExportText renders the layer view in canonical text form
func (s *ViewService) ExportText(ctx context.Context, sessionID, layer string, withPositions bool) (string, int, error) {
	v, err := s.GetView(ctx, sessionID, layer, withPositions)
	if err != nil {
		return "", 0, err
	}
	return view.Serialize(v), v.Version, nil
}
