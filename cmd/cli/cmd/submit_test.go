package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"runtimed/pkg/api"
)

func TestSubmitCommand_Success(t *testing.T) {
	var got api.SubmitRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST method, got %s", r.Method)
		}
		if r.URL.Path != "/runtimes/rt-1/executions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected json content type, got %s", r.Header.Get("Content-Type"))
		}
		json.NewDecoder(r.Body).Decode(&got)

		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(api.SubmitResponse{ExecutionID: "exec-1", Status: "queued", Position: 2})
	}))
	defer server.Close()

	output := runCLI(t, server.URL, "submit", "rt-1", "--code", "x = 1", "--cell", "cell-3")

	if got.Source != "x = 1" || got.CellID != "cell-3" {
		t.Errorf("unexpected request body %+v", got)
	}
	for _, want := range []string{"Execution submitted", "exec-1", "queued", "Position:     2"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

func TestSubmitCommand_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.py")
	if err := os.WriteFile(path, []byte("print('from file')\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	var got api.SubmitRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(api.SubmitResponse{ExecutionID: "exec-2", Status: "running"})
	}))
	defer server.Close()

	runCLI(t, server.URL, "submit", "rt-1", "--file", path)

	if got.Source != "print('from file')\n" {
		t.Errorf("expected file contents to be submitted, got %q", got.Source)
	}
}

func TestSubmitCommand_Validation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer server.Close()

	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "No Code",
			args: []string{"submit", "rt-1"},
			want: "one of --code or --file is required",
		},
		{
			name: "Code And File",
			args: []string{"submit", "rt-1", "--code", "1", "--file", "x.py"},
			want: "mutually exclusive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := runCLI(t, server.URL, tt.args...)
			if !strings.Contains(output, tt.want) {
				t.Errorf("expected %q, got: %s", tt.want, output)
			}
		})
	}
}

func TestSubmitCommand_DeadRuntime(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "submit to rt-1: runtime dead", Code: api.CodeRuntimeDead})
	}))
	defer server.Close()

	output := runCLI(t, server.URL, "submit", "rt-1", "--code", "1")

	if !strings.Contains(output, "409") || !strings.Contains(output, api.CodeRuntimeDead) {
		t.Errorf("expected runtime dead error, got: %s", output)
	}
}

func TestInterruptCommand(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/executions/exec-1/interrupt" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		called = true
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	output := runCLI(t, server.URL, "interrupt", "exec-1")

	if !called {
		t.Error("expected interrupt request")
	}
	if !strings.Contains(output, "Interrupt sent for exec-1") {
		t.Errorf("unexpected output: %s", output)
	}
}
