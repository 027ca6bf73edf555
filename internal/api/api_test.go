package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapflow/zapflow/internal/auth"
	"github.com/zapflow/zapflow/internal/models"
	"github.com/zapflow/zapflow/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	tokens, err := auth.NewService("test-secret", "zapflow", time.Hour)
	require.NoError(t, err)
	server := NewServer(st, tokens)
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return ts, st
}

func doJSON(t *testing.T, method, url, token string, body interface{}) (*http.Response, models.APIResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope models.APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return resp, envelope
}

func registerOperator(t *testing.T, ts *httptest.Server, email string) string {
	t.Helper()
	resp, envelope := doJSON(t, http.MethodPost, ts.URL+"/auth/register", "", map[string]string{
		"email": email, "password": "senha-forte",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var session struct {
		Token string `json:"token"`
	}
	remarshal(t, envelope.Result, &session)
	require.NotEmpty(t, session.Token)
	return session.Token
}

func createProject(t *testing.T, ts *httptest.Server, token, name string) string {
	t.Helper()
	resp, envelope := doJSON(t, http.MethodPost, ts.URL+"/projects", token, map[string]string{"name": name})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var p models.Project
	remarshal(t, envelope.Result, &p)
	require.NotEmpty(t, p.ID)
	return p.ID
}

// remarshal decodes the envelope's already-decoded result into a typed value.
func remarshal(t *testing.T, result interface{}, out interface{}) {
	t.Helper()
	raw, err := json.Marshal(result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, envelope := doJSON(t, http.MethodGet, ts.URL+"/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(models.APIStatusOK), envelope.Status)
}

func TestRegisterAndLogin(t *testing.T) {
	ts, _ := newTestServer(t)
	registerOperator(t, ts, "ana@example.com")

	// Duplicate registration is rejected.
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/auth/register", "", map[string]string{
		"email": "ana@example.com", "password": "senha-forte",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, envelope := doJSON(t, http.MethodPost, ts.URL+"/auth/login", "", map[string]string{
		"email": "ana@example.com", "password": "senha-forte",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(models.APIStatusOK), envelope.Status)

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/auth/login", "", map[string]string{
		"email": "ana@example.com", "password": "senha-errada",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/projects", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/projects", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestProjectLifecycle(t *testing.T) {
	ts, _ := newTestServer(t)
	token := registerOperator(t, ts, "ana@example.com")

	p1 := createProject(t, ts, token, "Bot de passagens")
	p2 := createProject(t, ts, token, "Bot de suporte")

	resp, envelope := doJSON(t, http.MethodGet, ts.URL+"/projects", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var projects []models.Project
	remarshal(t, envelope.Result, &projects)
	assert.Len(t, projects, 2)

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/projects/"+p2+"/set-default", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, envelope = doJSON(t, http.MethodGet, ts.URL+"/projects", token, nil)
	remarshal(t, envelope.Result, &projects)
	for _, p := range projects {
		assert.Equal(t, p.ID == p2, p.Default, "project %s", p.ID)
	}

	// Another operator cannot touch these projects.
	other := registerOperator(t, ts, "beto@example.com")
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/projects/"+p1+"/set-default", other, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMessageLifecycle(t *testing.T) {
	ts, _ := newTestServer(t)
	token := registerOperator(t, ts, "ana@example.com")
	projectID := createProject(t, ts, token, "Bot")

	resp, envelope := doJSON(t, http.MethodPost, ts.URL+"/projects/"+projectID+"/messages", token, models.Template{
		Triggers: []string{"oi", "olá"}, Response: "Olá {name}!", Active: true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created models.Template
	remarshal(t, envelope.Result, &created)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, projectID, created.ProjectID)

	// Invalid template is rejected.
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/projects/"+projectID+"/messages", token, models.Template{
		Triggers: []string{"oi"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, envelope = doJSON(t, http.MethodPut, ts.URL+"/messages/"+created.ID, token, models.Template{
		Triggers: []string{"oi"}, Response: "Novo texto", Active: true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated models.Template
	remarshal(t, envelope.Result, &updated)
	assert.Equal(t, "Novo texto", updated.Response)

	_, envelope = doJSON(t, http.MethodGet, ts.URL+"/projects/"+projectID+"/messages", token, nil)
	var list []models.Template
	remarshal(t, envelope.Result, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "Novo texto", list[0].Response)

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/messages/"+created.ID, token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/messages/"+created.ID, token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func seedBusTemplates(t *testing.T, ts *httptest.Server, token, projectID string) {
	t.Helper()
	templates := []models.Template{
		{Triggers: []string{"oi", "olá", "menu"}, Response: "Olá {name}! 1-Comprar 2-Horários 3-Atendente", Active: true},
		{Triggers: []string{"1", "comprar", "passagem"}, Response: "Para qual cidade?", Active: true},
		{Triggers: []string{"3", "atendente"}, Response: "Transferindo.", Active: true},
	}
	for _, tmpl := range templates {
		resp, _ := doJSON(t, http.MethodPost, ts.URL+"/projects/"+projectID+"/messages", token, tmpl)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}
}

func TestGetFlow(t *testing.T) {
	ts, _ := newTestServer(t)
	token := registerOperator(t, ts, "ana@example.com")
	projectID := createProject(t, ts, token, "Bot")
	seedBusTemplates(t, ts, token, projectID)

	resp, envelope := doJSON(t, http.MethodGet, ts.URL+"/projects/"+projectID+"/flow", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result flowResult
	remarshal(t, envelope.Result, &result)
	assert.NotEmpty(t, result.Flow.Nodes)
	assert.NotEmpty(t, result.Bindings)

	var hasStart, hasHuman bool
	for _, n := range result.Flow.Nodes {
		switch n.Type {
		case models.NodeStart:
			hasStart = true
		case models.NodeHuman:
			hasHuman = true
		}
	}
	assert.True(t, hasStart, "flow must have a start node")
	assert.True(t, hasHuman, "handoff template must become a human node")
}

func TestSaveFlow(t *testing.T) {
	ts, st := newTestServer(t)
	token := registerOperator(t, ts, "ana@example.com")
	projectID := createProject(t, ts, token, "Bot")
	seedBusTemplates(t, ts, token, projectID)

	// Round-trip: fetch the synthesized flow, post it back.
	_, envelope := doJSON(t, http.MethodGet, ts.URL+"/projects/"+projectID+"/flow", token, nil)
	var flowRes flowResult
	remarshal(t, envelope.Result, &flowRes)

	resp, envelope := doJSON(t, http.MethodPost, ts.URL+"/projects/"+projectID+"/flow", token, map[string]interface{}{
		"flow": flowRes.Flow, "bindings": flowRes.Bindings,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var saveRes saveFlowResult
	remarshal(t, envelope.Result, &saveRes)
	assert.Equal(t, 3, saveRes.Result.Updated, "round trip must update, not duplicate")
	assert.Equal(t, 0, saveRes.Result.Created)

	list, err := st.ListMessages(projectID)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestSaveFlow_RejectsInvalidDocument(t *testing.T) {
	ts, _ := newTestServer(t)
	token := registerOperator(t, ts, "ana@example.com")
	projectID := createProject(t, ts, token, "Bot")

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/projects/"+projectID+"/flow", token, map[string]interface{}{
		"flow": map[string]interface{}{"metadata": map[string]string{"version": "1.0"}, "nodes": "not-an-array", "connections": []string{}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSimulate(t *testing.T) {
	ts, _ := newTestServer(t)
	token := registerOperator(t, ts, "ana@example.com")
	projectID := createProject(t, ts, token, "Bot")
	seedBusTemplates(t, ts, token, projectID)

	resp, envelope := doJSON(t, http.MethodPost, ts.URL+"/projects/"+projectID+"/simulate", token, map[string]interface{}{
		"messages": []string{"oi", "quero comprar passagem", "xyzzy"},
		"name":     "Maria",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result simulateResult
	remarshal(t, envelope.Result, &result)
	assert.True(t, strings.HasPrefix(result.SessionID, "sim_"), "session id %q", result.SessionID)
	// greeting + 3 user turns + 3 replies
	require.Len(t, result.Transcript, 7)
	assert.Equal(t, models.RoleSystem, result.Transcript[0].Role)
	assert.Contains(t, result.Transcript[2].Text, "Maria")
	assert.Equal(t, models.RoleBot, result.Transcript[4].Role)
	assert.Equal(t, models.RoleSystem, result.Transcript[6].Role, "unmatched text falls back to a system entry")
}

func TestSimulate_RequiresMessages(t *testing.T) {
	ts, _ := newTestServer(t)
	token := registerOperator(t, ts, "ana@example.com")
	projectID := createProject(t, ts, token, "Bot")

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/projects/"+projectID+"/simulate", token, map[string]interface{}{
		"messages": []string{},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSuggest_WithoutClient(t *testing.T) {
	ts, _ := newTestServer(t)
	token := registerOperator(t, ts, "ana@example.com")

	resp, envelope := doJSON(t, http.MethodPost, ts.URL+"/suggest", token, map[string]interface{}{
		"trigger_words": []string{"oi"}, "intent": "saudação",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "GenAI client not configured", envelope.Message)
}

func TestTwilioWebhook_WithoutService(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/webhook/twilio", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFlowEndpoints_UnknownProject(t *testing.T) {
	ts, _ := newTestServer(t)
	token := registerOperator(t, ts, "ana@example.com")

	for _, path := range []string{"/flow", "/messages"} {
		resp, _ := doJSON(t, http.MethodGet, fmt.Sprintf("%s/projects/ghost%s", ts.URL, path), token, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, "path %s", path)
	}

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/projects/ghost/simulate", token, map[string]interface{}{
		"messages": []string{"oi"},
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
