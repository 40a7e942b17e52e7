package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"runtimed/pkg/api"
)

func TestAttachCommand(t *testing.T) {
	tests := []struct {
		name    string
		changed bool
		want    string
	}{
		{name: "Moved", changed: true, want: "Cell c1 -> exec-2"},
		{name: "Older Ignored", changed: false, want: "already points at a newer execution: exec-2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPut || r.URL.Path != "/cells/c1/latest" {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				var req api.AttachRequest
				json.NewDecoder(r.Body).Decode(&req)
				if req.ExecutionID != "exec-1" {
					t.Errorf("unexpected execution id %q", req.ExecutionID)
				}
				changed := tt.changed
				json.NewEncoder(w).Encode(api.CellResponse{CellID: "c1", LatestExecutionID: "exec-2", Changed: &changed})
			}))
			defer server.Close()

			output := runCLI(t, server.URL, "attach", "c1", "exec-1")

			if !strings.Contains(output, tt.want) {
				t.Errorf("expected %q, got: %s", tt.want, output)
			}
		})
	}
}

func TestLatestCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cells/c1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(api.CellResponse{CellID: "c1", LatestExecutionID: "exec-7"})
	}))
	defer server.Close()

	output := runCLI(t, server.URL, "latest", "c1")

	if strings.TrimSpace(output) != "exec-7" {
		t.Errorf("expected only the execution id, got: %q", output)
	}
}

func TestLatestCommand_UnknownCell(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "Cell has no executions", Code: api.CodeUnknownExecution})
	}))
	defer server.Close()

	output := runCLI(t, server.URL, "latest", "nope")

	if !strings.Contains(output, "Cell has no executions") {
		t.Errorf("unexpected output: %s", output)
	}
}
