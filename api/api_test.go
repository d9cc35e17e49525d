package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/ctxwindow/ctxwindow"
	"github.com/ctxwindow/ctxwindow/types"
)

func testHandler(t *testing.T) (http.Handler, *ctxwindow.Client) {
	t.Helper()
	client, err := ctxwindow.NewClient(ctxwindow.Options{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(client.Close)
	return NewRouter(client, nil), client
}

func seedSession(t *testing.T, client *ctxwindow.Client, turns int) uuid.UUID {
	t.Helper()
	id, err := client.CreateSession()
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	for i := 0; i < turns; i++ {
		err := client.AppendTurn(context.Background(), id, "", &types.ConversationTurn{
			Role:    types.RoleAgent,
			Content: fmt.Sprintf("step %d of the incident investigation", i),
		})
		if err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}
	return id
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec, resp
}

func TestStatusEndpoint(t *testing.T) {
	handler, client := testHandler(t)
	id := seedSession(t, client, 4)

	rec, resp := doJSON(t, handler, http.MethodGet, "/context/"+id.String()+"/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	data := resp.Data.(map[string]any)
	if data["turn_count"].(float64) != 4 {
		t.Errorf("turn_count = %v, want 4", data["turn_count"])
	}
	if data["tier"] != "normal" {
		t.Errorf("tier = %v, want normal", data["tier"])
	}
}

func TestStatusUnknownSession(t *testing.T) {
	handler, _ := testHandler(t)

	rec, resp := doJSON(t, handler, http.MethodGet, "/context/"+uuid.NewString()+"/status", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != "session_not_found" {
		t.Errorf("error = %+v", resp.Error)
	}
}

func TestStatusInvalidID(t *testing.T) {
	handler, _ := testHandler(t)

	rec, resp := doJSON(t, handler, http.MethodGet, "/context/not-a-uuid/status", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != "invalid_session_id" {
		t.Errorf("error = %+v", resp.Error)
	}
}

func TestCompactEndpoint(t *testing.T) {
	handler, client := testHandler(t)
	id := seedSession(t, client, 25)

	rec, resp := doJSON(t, handler, http.MethodPost, "/context/"+id.String()+"/compact", map[string]any{
		"strategy":     "sliding_window",
		"target_ratio": 0.3,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	data := resp.Data.(map[string]any)
	if data["dropped_count"].(float64) == 0 {
		t.Error("compaction should drop turns")
	}
	if summary, ok := data["summary"].(string); !ok || summary == "" {
		t.Error("sliding window should return a summary")
	}
	if html, ok := data["summary_html"].(string); !ok || html == "" {
		t.Error("summary_html should be rendered")
	}
}

func TestCompactRejectsUnknownStrategy(t *testing.T) {
	handler, client := testHandler(t)
	id := seedSession(t, client, 5)

	rec, resp := doJSON(t, handler, http.MethodPost, "/context/"+id.String()+"/compact", map[string]any{
		"strategy": "telepathy",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if resp.Error.Code != "invalid_strategy" {
		t.Errorf("error code = %q", resp.Error.Code)
	}
}

func TestAutoCompactToggle(t *testing.T) {
	handler, client := testHandler(t)
	id := seedSession(t, client, 1)

	rec, _ := doJSON(t, handler, http.MethodPost, "/context/"+id.String()+"/auto-compact/disable", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("disable status = %d", rec.Code)
	}

	_, resp := doJSON(t, handler, http.MethodGet, "/context/"+id.String()+"/status", nil)
	if resp.Data.(map[string]any)["auto_compact"].(bool) {
		t.Error("auto_compact should be disabled")
	}

	rec, _ = doJSON(t, handler, http.MethodPost, "/context/"+id.String()+"/auto-compact/enable", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("enable status = %d", rec.Code)
	}
}

func TestCheckpointAndRecoverEndpoints(t *testing.T) {
	handler, client := testHandler(t)
	id := seedSession(t, client, 6)

	rec, resp := doJSON(t, handler, http.MethodPost, "/checkpoint/"+id.String(), map[string]any{"milestone": true})
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkpoint status = %d, body %s", rec.Code, rec.Body.String())
	}
	if resp.Data.(map[string]any)["checkpoint_id"] == "" {
		t.Error("checkpoint_id missing")
	}

	rec, resp = doJSON(t, handler, http.MethodPost, "/checkpoint/"+id.String()+"/recover", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("recover status = %d, body %s", rec.Code, rec.Body.String())
	}
	data := resp.Data.(map[string]any)
	if data["fresh"].(bool) {
		t.Error("recovery with an existing checkpoint should not be fresh")
	}
	if data["turn_count"].(float64) != 6 {
		t.Errorf("turn_count = %v, want 6", data["turn_count"])
	}
}

func TestRecoverWithoutCheckpointsReportsFresh(t *testing.T) {
	handler, _ := testHandler(t)

	// An unregistered session has no checkpoints and no pre-recovery
	// checkpoint is taken for it, so recovery falls back to fresh.
	rec, resp := doJSON(t, handler, http.MethodPost, "/checkpoint/"+uuid.NewString()+"/recover", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("recover status = %d", rec.Code)
	}
	data := resp.Data.(map[string]any)
	if !data["fresh"].(bool) {
		t.Error("recovery without checkpoints must report fresh")
	}
	if data["notice"] == "" {
		t.Error("fresh recovery must carry a notice")
	}
}

func TestHandoffEndpoint(t *testing.T) {
	handler, client := testHandler(t)
	id := seedSession(t, client, 12)

	rec, resp := doJSON(t, handler, http.MethodPost, "/handoff/"+id.String(), map[string]any{
		"target_specialization": "database",
		"reason":                "query tuning needed",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("handoff status = %d, body %s", rec.Code, rec.Body.String())
	}
	data := resp.Data.(map[string]any)
	if data["target_specialization"] != "database" {
		t.Errorf("target = %v", data["target_specialization"])
	}
}

func TestHandoffRequiresTarget(t *testing.T) {
	handler, client := testHandler(t)
	id := seedSession(t, client, 2)

	rec, resp := doJSON(t, handler, http.MethodPost, "/handoff/"+id.String(), map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if resp.Error.Code != "missing_target" {
		t.Errorf("error code = %q", resp.Error.Code)
	}
}

func TestRenderHTMLSanitizes(t *testing.T) {
	html := renderHTML("**important** <script>alert(1)</script>")
	if strings.Contains(html, "<script>") {
		t.Fatalf("script tag survived sanitization: %q", html)
	}
	if !strings.Contains(html, "<strong>important</strong>") {
		t.Errorf("markdown not rendered: %q", html)
	}
}
