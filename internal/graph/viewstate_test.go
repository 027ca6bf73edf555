package graph

import "testing"

func TestViewState_Select(t *testing.T) {
	g := buildTestGraph(t)
	v := NewViewState()

	v.Select(g, "welcome")
	if v.SelectedID != "welcome" {
		t.Errorf("expected welcome selected, got %q", v.SelectedID)
	}

	v.Select(g, "ghost")
	if v.SelectedID != "" {
		t.Errorf("expected stale id to clear selection, got %q", v.SelectedID)
	}

	v.Select(g, "welcome")
	v.Select(g, "")
	if v.SelectedID != "" {
		t.Errorf("expected empty id to clear selection, got %q", v.SelectedID)
	}
}

func TestViewState_Reset(t *testing.T) {
	v := NewViewState()
	v.SelectedID = "x"
	v.PanX, v.PanY, v.Zoom = 10, 20, 2.5
	v.Reset()
	if v.SelectedID != "" || v.PanX != 0 || v.PanY != 0 || v.Zoom != 1.0 {
		t.Errorf("reset left state behind: %+v", v)
	}
}
