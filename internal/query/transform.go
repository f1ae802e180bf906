package query

import (
	"sort"
	"strings"
)

// PlTransformer rewrites the parsed expression tree before name
// resolution (Pl phase). A transformer that does not apply
// to a given module must leave it unchanged and report changed=false.
type PlTransformer interface {
	Name() string
	Priority() int
	ApplyPl(m *Module) (changed bool, err error)
}

// RqTransformer rewrites the relational query after name resolution
// (Rq phase).
type RqTransformer interface {
	Name() string
	Priority() int
	ApplyRq(m *Module) (changed bool, err error)
}

// TransformPipeline runs registered Pl and Rq transformers in priority
// order within their phase.
type TransformPipeline struct {
	pl []PlTransformer
	rq []RqTransformer
}

// NewTransformPipeline returns a pipeline with the two shipped passes
// registered: ColumnPreservationTransformer (Pl) and
// JsonAggregationTransformer (Rq, priority 50).
func NewTransformPipeline() *TransformPipeline {
	tp := &TransformPipeline{}
	tp.RegisterPl(&ColumnPreservationTransformer{})
	tp.RegisterRq(&JsonAggregationTransformer{})
	return tp
}

// RegisterPl adds a Pl-phase transformer.
func (tp *TransformPipeline) RegisterPl(t PlTransformer) { tp.pl = append(tp.pl, t) }

// RegisterRq adds an Rq-phase transformer.
func (tp *TransformPipeline) RegisterRq(t RqTransformer) { tp.rq = append(tp.rq, t) }

// Run executes every Pl transformer (lowest priority first) then every
// Rq transformer, mutating m in place.
func (tp *TransformPipeline) Run(m *Module) error {
	pl := append([]PlTransformer(nil), tp.pl...)
	sort.SliceStable(pl, func(i, j int) bool { return pl[i].Priority() < pl[j].Priority() })
	for _, t := range pl {
		if _, err := t.ApplyPl(m); err != nil {
			return err
		}
	}

	rq := append([]RqTransformer(nil), tp.rq...)
	sort.SliceStable(rq, func(i, j int) bool { return rq[i].Priority() < rq[j].Priority() })
	for _, t := range rq {
		if _, err := t.ApplyRq(m); err != nil {
			return err
		}
	}
	return nil
}

// walkBranches calls fn for p and, recursively, for every branch
// introduced by an Append stage anywhere inside it.
func walkBranches(p *Pipeline, fn func(*Pipeline)) {
	if p == nil {
		return
	}
	fn(p)
	for _, stage := range p.Stages {
		if a, ok := stage.(*Append); ok {
			walkBranches(a.Branch, fn)
		}
	}
}

// hasAppend reports whether p (or any branch reachable from it)
// contains at least one Append stage.
func hasAppend(p *Pipeline) bool {
	found := false
	walkBranches(p, func(b *Pipeline) {
		for _, stage := range b.Stages {
			if _, ok := stage.(*Append); ok {
				found = true
			}
		}
	})
	return found
}

// lastProjection returns the index of the final Select/Derive stage in
// p's own stage list (not descending into branches), or -1 if none.
func lastProjection(p *Pipeline) int {
	idx := -1
	for i, stage := range p.Stages {
		switch stage.(type) {
		case *Select, *Derive:
			idx = i
		}
	}
	return idx
}

func projectionItems(stage Stage) []Item {
	switch s := stage.(type) {
	case *Select:
		return s.Items
	case *Derive:
		return s.Items
	}
	return nil
}

func setProjectionItems(stage Stage, items []Item) {
	switch s := stage.(type) {
	case *Select:
		s.Items = items
	case *Derive:
		s.Items = items
	}
}

// itemName returns the display/output column name of an item: its
// explicit alias, or (for a bare identifier) the identifier's final
// path segment, or "" for an unnamed computed expression.
func itemName(it Item) string {
	if it.Name != "" {
		return it.Name
	}
	if id, ok := it.Expr.(*Ident); ok && len(id.Path) > 0 {
		return id.Path[len(id.Path)-1]
	}
	return ""
}

func maxCID(items []Item) int {
	max := 0
	for _, it := range items {
		if it.CID > max {
			max = it.CID
		}
	}
	return max
}

// ColumnPreservationTransformer widens a branch's `this.*` projection
// into the explicit union of column names projected by every branch of
// an enclosing Append, so the resulting UNION is well-formed. It only
// acts on pipelines that feed into an Append.
type ColumnPreservationTransformer struct{}

// Name identifies this transformer in pipeline diagnostics.
func (*ColumnPreservationTransformer) Name() string { return "column_preservation" }

// Priority runs this pass before any other registered Pl transformer.
func (*ColumnPreservationTransformer) Priority() int { return 10 }

// ApplyPl widens wildcard projections across every UNION-joined branch
// of m's pipeline.
func (t *ColumnPreservationTransformer) ApplyPl(m *Module) (bool, error) {
	if m.Pipeline == nil || !hasAppend(m.Pipeline) {
		return false, nil
	}
	changed := false
	walkBranches(m.Pipeline, func(p *Pipeline) {
		for _, stage := range p.Stages {
			if a, ok := stage.(*Append); ok {
				if t.widen(p, a.Branch) {
					changed = true
				}
			}
		}
	})
	return changed, nil
}

// widen harmonizes the explicit column names visible at main's and
// branch's final projection, expanding any `this.*` wildcard on either
// side into the union of names known from the other.
func (t *ColumnPreservationTransformer) widen(main, branch *Pipeline) bool {
	changed := false
	mi := lastProjection(main)
	bi := lastProjection(branch)
	if mi < 0 || bi < 0 {
		return false
	}
	mainItems := projectionItems(main.Stages[mi])
	branchItems := projectionItems(branch.Stages[bi])

	names := collectNames(mainItems)
	for _, n := range collectNames(branchItems) {
		names = appendUnique(names, n)
	}

	if expanded, ok := expandWildcard(mainItems, names); ok {
		setProjectionItems(main.Stages[mi], expanded)
		changed = true
	}
	if expanded, ok := expandWildcard(branchItems, names); ok {
		setProjectionItems(branch.Stages[bi], expanded)
		changed = true
	}
	return changed
}

func collectNames(items []Item) []string {
	var names []string
	for _, it := range items {
		if it.Wildcard {
			continue
		}
		if n := itemName(it); n != "" {
			names = appendUnique(names, n)
		}
	}
	return names
}

func appendUnique(names []string, n string) []string {
	for _, existing := range names {
		if existing == n {
			return names
		}
	}
	return append(names, n)
}

// expandWildcard replaces a lone `this.*` item with an explicit
// `this.<name>` item per entry of names, preserving any non-wildcard
// items already present.
func expandWildcard(items []Item, names []string) ([]Item, bool) {
	hasWildcard := false
	for _, it := range items {
		if it.Wildcard {
			hasWildcard = true
		}
	}
	if !hasWildcard || len(names) == 0 {
		return nil, false
	}
	cid := maxCID(items)
	out := make([]Item, 0, len(items)+len(names))
	for _, it := range items {
		if it.Wildcard {
			continue
		}
		out = append(out, it)
	}
	known := collectNames(out)
	for _, n := range names {
		if contains(known, n) {
			continue
		}
		cid++
		out = append(out, Item{Expr: &Ident{Path: []string{"this", n}}, CID: cid})
	}
	return out, true
}

func contains(names []string, n string) bool {
	for _, existing := range names {
		if existing == n {
			return true
		}
	}
	return false
}

// JsonAggregationTransformer synthesizes a single `data` JSON column
// per UNION branch so that every branch of an Append exposes a
// structurally identical one-column projection.
type JsonAggregationTransformer struct{}

// Name identifies this transformer in pipeline diagnostics.
func (*JsonAggregationTransformer) Name() string { return "json_aggregation" }

// Priority places this pass after entity-type injection and before
// origin tagging.
func (*JsonAggregationTransformer) Priority() int { return 50 }

// ApplyRq synthesizes the `data` column for every branch of every
// Append reachable from m's pipeline.
func (t *JsonAggregationTransformer) ApplyRq(m *Module) (bool, error) {
	if m.Pipeline == nil || !hasAppend(m.Pipeline) {
		return false, nil
	}
	changed := false
	walkBranches(m.Pipeline, func(p *Pipeline) {
		if t.aggregate(p) {
			changed = true
		}
	})
	return changed, nil
}

func (t *JsonAggregationTransformer) aggregate(p *Pipeline) bool {
	idx := lastProjection(p)
	if idx < 0 {
		return false
	}
	items := projectionItems(p.Stages[idx])

	for _, it := range items {
		if !it.Wildcard && itemName(it) == "data" {
			return false // idempotent: already aggregated
		}
	}

	names := collectNames(items)
	args := make([]Expr, 0, len(names)*2)
	for _, n := range names {
		args = append(args, &Literal{Kind: STRING, Value: escapeColumnName(n)})
		args = append(args, &Ident{Path: []string{n}})
	}
	dataExpr := &Call{Name: "json_object", Args: args}
	dataItem := Item{Name: "data", Expr: dataExpr, CID: maxCID(items) + 1}

	hasWildcard := false
	kept := items[:0:0]
	for _, it := range items {
		if it.Wildcard {
			hasWildcard = true
			continue
		}
		kept = append(kept, it)
	}
	if hasWildcard {
		setProjectionItems(p.Stages[idx], []Item{dataItem})
	} else {
		setProjectionItems(p.Stages[idx], append(kept, dataItem))
	}
	return true
}

// escapeColumnName doubles single quotes in a column name so it can be
// embedded in a SQL string literal argument to json_object.
func escapeColumnName(name string) string {
	return strings.ReplaceAll(name, "'", "''")
}
