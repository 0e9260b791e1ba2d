package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/folio-chat/folio/internal/project"
)

func TestCreateProject(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "ada@example.com")

	w := env.do(t, http.MethodPost, "/api/v1/projects", token, map[string]string{
		"name":        "research",
		"description": "reading notes",
		"llm_prompt":  "Answer tersely.",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	p := decodeData[project.Project](t, w)
	if p.ID == 0 || p.Name != "research" || p.Prompt != "Answer tersely." {
		t.Errorf("project = %+v", p)
	}
}

func TestCreateProjectEmptyName(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "ada@example.com")

	w := env.do(t, http.MethodPost, "/api/v1/projects", token, map[string]string{"name": "   "})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if got := decodeError(t, w).Code; got != "name_required" {
		t.Errorf("code = %q, want %q", got, "name_required")
	}
}

func TestListProjects(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "ada@example.com")

	w := env.do(t, http.MethodGet, "/api/v1/projects", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	empty := decodeData[struct {
		Items []project.Project `json:"items"`
	}](t, w)
	if empty.Items == nil || len(empty.Items) != 0 {
		t.Errorf("items = %#v, want present and empty", empty.Items)
	}

	for i := range 3 {
		env.do(t, http.MethodPost, "/api/v1/projects", token, map[string]string{"name": fmt.Sprintf("p%d", i)})
	}

	w = env.do(t, http.MethodGet, "/api/v1/projects", token, nil)
	listed := decodeData[struct {
		Items []project.Project `json:"items"`
	}](t, w)
	if len(listed.Items) != 3 {
		t.Errorf("listed %d projects, want 3", len(listed.Items))
	}
}

func TestListProjectsScopedToOwner(t *testing.T) {
	env := newTestEnv(t)
	ada := env.register(t, "ada@example.com")
	grace := env.register(t, "grace@example.com")

	env.do(t, http.MethodPost, "/api/v1/projects", ada, map[string]string{"name": "ada's"})

	w := env.do(t, http.MethodGet, "/api/v1/projects", grace, nil)
	listed := decodeData[struct {
		Items []project.Project `json:"items"`
	}](t, w)
	if len(listed.Items) != 0 {
		t.Errorf("foreign projects leaked: %+v", listed.Items)
	}
}

func TestGetProject(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "ada@example.com")

	w := env.do(t, http.MethodPost, "/api/v1/projects", token, map[string]string{"name": "research"})
	created := decodeData[project.Project](t, w)

	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/projects/%d", created.ID), token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	got := decodeData[project.Project](t, w)
	if got.ID != created.ID || got.Name != "research" {
		t.Errorf("project = %+v", got)
	}
}

func TestGetProjectHiddenFromOthers(t *testing.T) {
	env := newTestEnv(t)
	ada := env.register(t, "ada@example.com")
	grace := env.register(t, "grace@example.com")

	w := env.do(t, http.MethodPost, "/api/v1/projects", ada, map[string]string{"name": "secret"})
	created := decodeData[project.Project](t, w)

	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/projects/%d", created.ID), grace, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestGetProjectInvalidID(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "ada@example.com")

	for _, raw := range []string{"abc", "0", "-4"} {
		w := env.do(t, http.MethodGet, "/api/v1/projects/"+raw, token, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("id %q: status = %d, want %d", raw, w.Code, http.StatusBadRequest)
		}
	}
}

func TestUpdateProject(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "ada@example.com")

	w := env.do(t, http.MethodPost, "/api/v1/projects", token, map[string]string{"name": "before"})
	created := decodeData[project.Project](t, w)

	w = env.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/projects/%d", created.ID), token, map[string]string{
		"name":       "after",
		"llm_prompt": "Be brief.",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	updated := decodeData[project.Project](t, w)
	if updated.Name != "after" || updated.Prompt != "Be brief." {
		t.Errorf("project = %+v", updated)
	}
}

func TestDeleteProject(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "ada@example.com")

	w := env.do(t, http.MethodPost, "/api/v1/projects", token, map[string]string{"name": "doomed"})
	created := decodeData[project.Project](t, w)

	w = env.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/projects/%d", created.ID), token, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want %d", w.Code, http.StatusNoContent)
	}

	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/projects/%d", created.ID), token, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
