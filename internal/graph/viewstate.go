package graph

// ViewState holds editor-only concerns: selection, pan, and zoom. It is a
// disposable companion to a Graph and never participates in structural
// invariants or persistence.
type ViewState struct {
	SelectedID string
	PanX       float64
	PanY       float64
	Zoom       float64
}

// NewViewState creates a view state with neutral pan and zoom.
func NewViewState() *ViewState {
	return &ViewState{Zoom: 1.0}
}

// Select marks a node as selected. An empty id clears the selection. The
// graph is consulted so a stale id cannot remain selected.
func (v *ViewState) Select(g *Graph, id string) {
	if id == "" || g.Node(id) == nil {
		v.SelectedID = ""
		return
	}
	v.SelectedID = id
}

// Reset discards all editor state.
func (v *ViewState) Reset() {
	*v = ViewState{Zoom: 1.0}
}
