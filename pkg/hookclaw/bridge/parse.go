package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// cliEvent is one JSON event from `claude -p --output-format json`. The CLI
// emits either a single object or an array of events whose terminal entry
// has type "result".
type cliEvent struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype"`
	Result    string          `json:"result"`
	IsError   bool            `json:"is_error"`
	SessionID string          `json:"session_id"`
	NumTurns  int             `json:"num_turns"`
	TotalCost float64         `json:"total_cost_usd"`
	Duration  int             `json:"duration_ms"`
	Error     json.RawMessage `json:"error"`
}

// parseOutput turns raw CLI stdout into a Response. Both wire shapes are
// handled here; anything else is a parse failure, never a panic.
func parseOutput(stdout []byte) Response {
	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) == 0 {
		return Response{Err: fmt.Errorf("%w: empty output", ErrParse)}
	}

	if trimmed[0] == '[' {
		var events []cliEvent
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return Response{Err: fmt.Errorf("%w: %v", ErrParse, err)}
		}
		for i := range events {
			if events[i].Type == "result" {
				return responseFrom(&events[i])
			}
		}
		return Response{Err: ErrNoResult}
	}

	var event cliEvent
	if err := json.Unmarshal(trimmed, &event); err != nil {
		return Response{Err: fmt.Errorf("%w: %v", ErrParse, err)}
	}
	if len(event.Error) > 0 && !bytes.Equal(event.Error, []byte("null")) {
		return Response{Err: fmt.Errorf("claude reported an error: %s", rawErrorText(event.Error))}
	}
	return responseFrom(&event)
}

func responseFrom(ev *cliEvent) Response {
	if ev.IsError || ev.Subtype == "error" {
		msg := ev.Result
		if msg == "" {
			msg = fmt.Sprintf("claude error (subtype: %s)", ev.Subtype)
		}
		return Response{Err: errors.New(msg)}
	}
	return Response{
		Result:       ev.Result,
		SessionToken: ev.SessionID,
		Success:      true,
	}
}

// rawErrorText unquotes a JSON string error value; non-string errors keep
// their raw JSON form.
func rawErrorText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
