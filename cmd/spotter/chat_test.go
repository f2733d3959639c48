package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/zulandar/spotter/internal/sse"
)

// fakeAPI serves a conversation whose turns replay a fixed event list.
type fakeAPI struct {
	events []sse.Frame
	texts  []string
	users  []string
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/conversations", func(w http.ResponseWriter, r *http.Request) {
		f.users = append(f.users, r.Header.Get("X-User-ID"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"conv-1"}`))
	})
	mux.HandleFunc("POST /api/conversations/{id}/turns", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "conv-1" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"conversation not found"}`))
			return
		}
		var body struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode turn: %v", err)
		}
		f.texts = append(f.texts, body.Text)
		w.Header().Set("Content-Type", "text/event-stream")
		sw := sse.New(r.Context(), w, nil)
		for i, e := range f.events {
			payload := json.RawMessage(e.Data)
			if i == len(f.events)-1 {
				sw.Terminate(e.Event, payload)
			} else {
				sw.Send(e.Event, payload)
			}
		}
	})
	return mux
}

func chatAgainst(t *testing.T, api *fakeAPI, input string, interactive bool, conversation string) string {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	var out bytes.Buffer
	err := runChat(context.Background(), chatOpts{
		baseURL:      srv.URL + "/",
		user:         "alice",
		conversation: conversation,
		client:       srv.Client(),
		in:           strings.NewReader(input),
		out:          &out,
		interactive:  interactive,
	})
	if err != nil {
		t.Fatalf("runChat: %v", err)
	}
	return out.String()
}

func TestChat_RendersTurn(t *testing.T) {
	api := &fakeAPI{events: []sse.Frame{
		{Event: sse.EventToolProgress, Data: `{"call_id":"c1","tool":"generate_plan","fields_closed":["kind"],"done":1,"total":3,"label":"1 of 3 fields parsed"}`},
		{Event: sse.EventToolResult, Data: `{"call_id":"c1","tool":"generate_plan","message_id":4,"success":true,"status":"pending"}`},
		{Event: sse.EventTextDelta, Data: `{"text":"Here is "}`},
		{Event: sse.EventTextDelta, Data: `{"text":"your plan."}`},
		{Event: sse.EventTextDone, Data: `{"message_id":5,"text":"Here is your plan."}`},
		{Event: sse.EventDone, Data: `{"messages_persisted":4,"round_trips":2}`},
	}}
	out := chatAgainst(t, api, "plan my week\n\n/quit\nignored\n", false, "")

	want := "Conversation conv-1\n" +
		"  [generate_plan] pending (message 4)\n" +
		"spotter> Here is your plan.\n"
	if out != want {
		t.Errorf("output:\n%q\nwant:\n%q", out, want)
	}
	if len(api.texts) != 1 || api.texts[0] != "plan my week" {
		t.Errorf("turn texts = %q", api.texts)
	}
	if len(api.users) != 1 || api.users[0] != "alice" {
		t.Errorf("users = %q", api.users)
	}
}

func TestChat_InteractiveShowsProgress(t *testing.T) {
	api := &fakeAPI{events: []sse.Frame{
		{Event: sse.EventToolProgress, Data: `{"call_id":"c1","tool":"log_meal","done":1,"total":2,"label":"1 of 2 fields parsed"}`},
		{Event: sse.EventToolResult, Data: `{"call_id":"c1","tool":"log_meal","message_id":3,"success":false,"error":"invalid timestamp"}`},
		{Event: sse.EventDone, Data: `{}`},
	}}
	out := chatAgainst(t, api, "ate oats\n", true, "conv-1")

	if !strings.HasPrefix(out, "Conversation conv-1\nyou> ") {
		t.Errorf("missing prompt: %q", out)
	}
	if !strings.Contains(out, "log_meal: 1 of 2 fields parsed") {
		t.Errorf("missing progress: %q", out)
	}
	if !strings.Contains(out, "  [log_meal] failed: invalid timestamp\n") {
		t.Errorf("missing failure: %q", out)
	}
	if len(api.users) != 0 {
		t.Error("resuming should not create a conversation")
	}
}

func TestChat_ErrorEvent(t *testing.T) {
	api := &fakeAPI{events: []sse.Frame{
		{Event: sse.EventTextDelta, Data: `{"text":"Partial"}`},
		{Event: sse.EventError, Data: `{"code":"provider_error","message":"the model provider failed"}`},
	}}
	out := chatAgainst(t, api, "hi\n", false, "conv-1")
	want := "Conversation conv-1\nspotter> Partial\nerror: provider_error: the model provider failed\n"
	if out != want {
		t.Errorf("output:\n%q\nwant:\n%q", out, want)
	}
}

func TestChat_HTTPError(t *testing.T) {
	out := chatAgainst(t, &fakeAPI{}, "hi\n", false, "conv-404")
	if !strings.Contains(out, "error: conversation not found (404)") {
		t.Errorf("output = %q", out)
	}
}
