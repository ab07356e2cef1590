// Package notifytest provides an in-process fake of the Telegram Bot API.
package notifytest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"time"
)

// Call is one request received by the fake API.
type Call struct {
	Method   string
	Fields   map[string]string
	FileName string
	FileData []byte
}

// Server records Bot API calls and answers them.
type Server struct {
	*httptest.Server

	mu      sync.Mutex
	calls   []Call
	fail    map[string]string
	updates [][]json.RawMessage
	onCall  func(Call)
}

// NewServer starts a fake Bot API. Close it when done.
func NewServer() *Server {
	s := &Server{fail: make(map[string]string)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Fail makes every call to method return ok=false with description.
func (s *Server) Fail(method, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[method] = description
}

// OnCall registers a hook invoked synchronously for each call.
func (s *Server) OnCall(fn func(Call)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCall = fn
}

// QueueUpdates makes the next getUpdates call return the given raw updates.
func (s *Server) QueueUpdates(updates ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := make([]json.RawMessage, 0, len(updates))
	for _, u := range updates {
		batch = append(batch, json.RawMessage(u))
	}
	s.updates = append(s.updates, batch)
}

// CommandUpdate renders a text-message update from chatID.
func CommandUpdate(updateID, chatID int64, text string) string {
	msg, _ := json.Marshal(text)
	return fmt.Sprintf(`{"update_id":%d,"message":{"message_id":%d,"text":%s,"chat":{"id":%d},"from":{"id":%d,"username":"student"}}}`,
		updateID, updateID, msg, chatID, chatID)
}

// Calls returns a copy of all calls so far.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallsTo returns the calls for one method.
func (s *Server) CallsTo(method string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Texts returns the text of every sendMessage call in order.
func (s *Server) Texts() []string {
	var out []string
	for _, c := range s.CallsTo("sendMessage") {
		out = append(out, c.Fields["text"])
	}
	return out
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	call := Call{Method: path.Base(r.URL.Path), Fields: map[string]string{}}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for key, values := range r.MultipartForm.Value {
			if len(values) > 0 {
				call.Fields[key] = values[0]
			}
		}
		if file, header, err := r.FormFile("photo"); err == nil {
			call.FileName = header.Filename
			call.FileData, _ = io.ReadAll(file)
			file.Close()
		}
	} else {
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for key, value := range payload {
			call.Fields[key] = fmt.Sprint(value)
		}
	}

	s.mu.Lock()
	s.calls = append(s.calls, call)
	description, failing := s.fail[call.Method]
	hook := s.onCall
	var batch []json.RawMessage
	if call.Method == "getUpdates" && len(s.updates) > 0 {
		batch = s.updates[0]
		s.updates = s.updates[1:]
	}
	s.mu.Unlock()

	if hook != nil {
		hook(call)
	}

	w.Header().Set("Content-Type", "application/json")
	if failing {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{"ok": false, "description": description})
		return
	}

	var result interface{} = true
	if call.Method == "getUpdates" {
		if batch == nil {
			// Stand in for a long poll that found nothing.
			time.Sleep(20 * time.Millisecond)
			batch = []json.RawMessage{}
		}
		result = batch
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "result": result})
}
