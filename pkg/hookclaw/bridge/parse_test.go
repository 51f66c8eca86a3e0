package bridge

import (
	"errors"
	"strings"
	"testing"
)

func TestParseOutput(t *testing.T) {
	t.Parallel()

	t.Run("single result object", func(t *testing.T) {
		resp := parseOutput([]byte(`{"type":"result","result":"Hello world","session_id":"sess-123"}`))
		if !resp.Success {
			t.Fatalf("expected success, got err: %v", resp.Err)
		}
		if resp.Result != "Hello world" {
			t.Errorf("result = %q", resp.Result)
		}
		if resp.SessionToken != "sess-123" {
			t.Errorf("session token = %q", resp.SessionToken)
		}
	})

	t.Run("object without type still parses", func(t *testing.T) {
		resp := parseOutput([]byte(`{"result":"ok","session_id":"sess-9"}`))
		if !resp.Success || resp.Result != "ok" {
			t.Fatalf("resp = %+v", resp)
		}
	})

	t.Run("object with error key fails", func(t *testing.T) {
		resp := parseOutput([]byte(`{"error":"Something went wrong"}`))
		if resp.Success {
			t.Fatal("expected failure")
		}
		if !strings.Contains(resp.Err.Error(), "Something went wrong") {
			t.Errorf("err = %v", resp.Err)
		}
	})

	t.Run("object with structured error fails", func(t *testing.T) {
		resp := parseOutput([]byte(`{"error":{"code":429,"message":"overloaded"}}`))
		if resp.Success {
			t.Fatal("expected failure")
		}
		if !strings.Contains(resp.Err.Error(), "overloaded") {
			t.Errorf("err = %v", resp.Err)
		}
	})

	t.Run("event array with terminal result", func(t *testing.T) {
		blob := `[
			{"type":"system","subtype":"init","session_id":"sess-7"},
			{"type":"assistant"},
			{"type":"result","subtype":"success","result":"done","session_id":"sess-7","num_turns":3}
		]`
		resp := parseOutput([]byte(blob))
		if !resp.Success {
			t.Fatalf("expected success, got err: %v", resp.Err)
		}
		if resp.Result != "done" || resp.SessionToken != "sess-7" {
			t.Errorf("resp = %+v", resp)
		}
	})

	t.Run("event array without result", func(t *testing.T) {
		resp := parseOutput([]byte(`[{"type":"system"},{"type":"assistant"}]`))
		if !errors.Is(resp.Err, ErrNoResult) {
			t.Errorf("err = %v, want ErrNoResult", resp.Err)
		}
	})

	t.Run("result event flagged as error", func(t *testing.T) {
		resp := parseOutput([]byte(`[{"type":"result","is_error":true,"result":"ran out of budget"}]`))
		if resp.Success {
			t.Fatal("expected failure")
		}
		if !strings.Contains(resp.Err.Error(), "ran out of budget") {
			t.Errorf("err = %v", resp.Err)
		}
	})

	t.Run("error subtype without text", func(t *testing.T) {
		resp := parseOutput([]byte(`{"type":"result","subtype":"error"}`))
		if resp.Success {
			t.Fatal("expected failure")
		}
		if !strings.Contains(resp.Err.Error(), "subtype") {
			t.Errorf("err = %v", resp.Err)
		}
	})

	tests := []struct {
		name  string
		input string
	}{
		{"invalid json", "not valid json"},
		{"truncated array", `[{"type":"result"`},
		{"empty output", ""},
		{"whitespace only", "  \n\t "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := parseOutput([]byte(tt.input))
			if resp.Success {
				t.Fatal("expected failure")
			}
			if !errors.Is(resp.Err, ErrParse) {
				t.Errorf("err = %v, want ErrParse", resp.Err)
			}
		})
	}
}
