// Package reconcile resolves graph edits against previously persisted
// templates, issuing create/update/delete operations to the template store.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zapflow/zapflow/internal/client"
	"github.com/zapflow/zapflow/internal/flow"
	"github.com/zapflow/zapflow/internal/graph"
	"github.com/zapflow/zapflow/internal/models"
)

// TemplateStore is the narrow persistence interface the reconciler drives.
// *client.Client satisfies it; tests use fakes.
type TemplateStore interface {
	CreateMessage(ctx context.Context, projectID string, t models.Template) (models.Template, error)
	UpdateMessage(ctx context.Context, t models.Template) (models.Template, error)
	DeleteMessage(ctx context.Context, id string) error
}

// Result summarizes one reconciliation pass.
type Result struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Reconciler applies graph edits to the template store. Requests are issued
// one at a time, sequentially, so a later resolution can see the id assigned
// by an earlier create.
type Reconciler struct {
	store TemplateStore
}

// New creates a Reconciler over the given store.
func New(store TemplateStore) *Reconciler {
	return &Reconciler{store: store}
}

// Apply walks the edited graph and persists every template-bearing node:
// nodes resolved to a persisted template (by binding first, by trigger-set
// overlap second) are updated; unresolved nodes are created and the new id
// is bound back for future reconciliations. Templates persisted earlier but
// absent from the graph are left alone — deletion is an explicit per-node
// operation (DeleteNode).
//
// A credential expiry halts the batch immediately: continuing would scatter
// failures across the remaining requests.
func (r *Reconciler) Apply(ctx context.Context, projectID string, g *graph.Graph, bindings flow.Bindings, persisted []models.Template) (Result, error) {
	var res Result
	known := make(map[string]models.Template, len(persisted))
	nextIndex := 0
	for _, t := range persisted {
		known[t.ID] = t
		if t.OrderIndex >= nextIndex {
			nextIndex = t.OrderIndex + 1
		}
	}
	claimed := make(map[string]bool)

	for _, n := range g.Nodes() {
		if !carriesTemplate(n.Kind) {
			continue
		}
		if len(n.Triggers) == 0 || n.Response == "" {
			res.Skipped++
			continue
		}

		t := models.Template{
			ProjectID: projectID,
			Triggers:  append([]string(nil), n.Triggers...),
			Response:  n.Response,
			Active:    n.Active,
		}

		if id, ok := resolve(n, bindings, known, claimed, persisted); ok {
			t.ID = id
			// List order is matching priority; an update must not move the
			// template within it.
			t.OrderIndex = known[id].OrderIndex
			claimed[id] = true
			if _, err := r.store.UpdateMessage(ctx, t); err != nil {
				if errors.Is(err, client.ErrAuthExpired) {
					slog.Warn("Reconcile halted: credential expired", "node", n.ID)
					return res, err
				}
				slog.Error("Reconcile update failed", "node", n.ID, "template_id", id, "error", err)
				res.Failed++
				continue
			}
			res.Updated++
			slog.Debug("Reconcile updated template", "node", n.ID, "template_id", id)
			continue
		}

		t.OrderIndex = nextIndex
		created, err := r.store.CreateMessage(ctx, projectID, t)
		if err != nil {
			if errors.Is(err, client.ErrAuthExpired) {
				slog.Warn("Reconcile halted: credential expired", "node", n.ID)
				return res, err
			}
			slog.Error("Reconcile create failed", "node", n.ID, "error", err)
			res.Failed++
			continue
		}
		bindings.Bind(n.ID, created.ID)
		claimed[created.ID] = true
		nextIndex++
		res.Created++
		slog.Debug("Reconcile created template", "node", n.ID, "template_id", created.ID)
	}

	slog.Info("Reconcile finished", "project_id", projectID,
		"created", res.Created, "updated", res.Updated, "skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

// DeleteNode deletes a node's persisted template and, only after the store
// confirms, removes the node from the graph. If the store call fails the
// node stays in the graph untouched.
func (r *Reconciler) DeleteNode(ctx context.Context, g *graph.Graph, bindings flow.Bindings, nodeID string) error {
	n := g.Node(nodeID)
	if n == nil {
		return fmt.Errorf("%w: %s", graph.ErrUnknownNode, nodeID)
	}
	if templateID, bound := bindings.TemplateFor(nodeID); bound {
		if err := r.store.DeleteMessage(ctx, templateID); err != nil {
			slog.Error("Reconcile delete failed, node kept", "node", nodeID, "template_id", templateID, "error", err)
			return err
		}
		delete(bindings, nodeID)
	}
	if err := g.RemoveNode(nodeID); err != nil {
		return err
	}
	slog.Info("Reconcile deleted node", "node", nodeID)
	return nil
}

// resolve finds the persisted template a node corresponds to: the explicit
// binding wins when it still points at a live template; otherwise the first
// unclaimed persisted template whose trigger set intersects the node's.
func resolve(n *graph.Node, bindings flow.Bindings, known map[string]models.Template, claimed map[string]bool, persisted []models.Template) (string, bool) {
	if id, ok := bindings.TemplateFor(n.ID); ok {
		if _, live := known[id]; live && !claimed[id] {
			return id, true
		}
	}
	for _, t := range persisted {
		if claimed[t.ID] {
			continue
		}
		if triggersIntersect(n.Triggers, t.Triggers) {
			return t.ID, true
		}
	}
	return "", false
}

func triggersIntersect(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[strings.ToLower(strings.TrimSpace(s))] = true
	}
	for _, s := range b {
		if set[strings.ToLower(strings.TrimSpace(s))] {
			return true
		}
	}
	return false
}

func carriesTemplate(kind models.NodeKind) bool {
	switch kind {
	case models.NodeMessage, models.NodeHuman, models.NodeUnclassified:
		return true
	default:
		return false
	}
}
