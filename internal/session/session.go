package session

import (
	"encoding/json"
	"time"
)

// ContentType classifies a dialogue entry.
type ContentType string

const (
	ContentLog       ContentType = "log"
	ContentUser      ContentType = "user"
	ContentAI        ContentType = "ai"
	ContentBlockID   ContentType = "blockId"
	ContentBlockName ContentType = "blockName"
)

// Dialogue is a single entry in a session's conversation history.
// IDs increase monotonically within a record.
type Dialogue struct {
	ID          int         `json:"id"`
	ContentType ContentType `json:"contentType"`
	IsUser      bool        `json:"isuser"`
	Content     string      `json:"content"`
}

// Tutorial carries tutorial selection and progress. Everything except
// Progress passes through the server untouched; Progress may be advanced
// by the tutor collaborator.
type Tutorial struct {
	IsTutorial bool   `json:"isTutorial"`
	TutorialID string `json:"tutorialId,omitempty"`
	Progress   int    `json:"progress"`
}

// Record is the persisted state of one collaborative session. It is stored
// as an opaque JSON document keyed by SessionCode and replaced wholesale on
// every write (last-writer-wins; concurrent editors can lose updates).
type Record struct {
	SessionCode  string          `json:"sessioncode"`
	UUID         string          `json:"uuid"` // owner id; every message must match
	Workspace    json.RawMessage `json:"workspace,omitempty"`
	Dialogue     []Dialogue      `json:"dialogue"`
	IsReplying   bool            `json:"isReplying"`
	IsRunning    bool            `json:"isVMRunning"`
	Clients      []string        `json:"clients"`
	Language     string          `json:"language"`
	Tutorial     Tutorial        `json:"tutorial"`
	TutorContext json.RawMessage `json:"llmContext,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// WSMessage is the command envelope exchanged over the session WebSocket.
type WSMessage struct {
	Request string `json:"request"`
	Value   any    `json:"value,omitempty"`
}

// RunningState builds the envelope that tells clients whether a sandbox is
// executing for the session.
func RunningState(isRunning bool) WSMessage {
	return WSMessage{Request: "updateState_isrunning", Value: isRunning}
}

// New creates a fresh record for a session code and owner.
func New(code, ownerID, language string) *Record {
	now := time.Now().UTC()
	return &Record{
		SessionCode: code,
		UUID:        ownerID,
		Dialogue:    []Dialogue{},
		Clients:     []string{},
		Language:    language,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Append adds a dialogue entry with the next monotonic id and returns it.
func (r *Record) Append(ct ContentType, isUser bool, content string) Dialogue {
	d := Dialogue{
		ID:          len(r.Dialogue) + 1,
		ContentType: ct,
		IsUser:      isUser,
		Content:     content,
	}
	r.Dialogue = append(r.Dialogue, d)
	return d
}

// AppendLog adds a system log entry.
func (r *Record) AppendLog(content string) {
	r.Append(ContentLog, false, content)
}

// Last returns the final dialogue entry, or false if the dialogue is empty.
func (r *Record) Last() (Dialogue, bool) {
	if len(r.Dialogue) == 0 {
		return Dialogue{}, false
	}
	return r.Dialogue[len(r.Dialogue)-1], true
}

// HasClient reports whether a connection id is attached to the record.
func (r *Record) HasClient(id string) bool {
	for _, c := range r.Clients {
		if c == id {
			return true
		}
	}
	return false
}

// AddClient attaches a connection id if absent.
func (r *Record) AddClient(id string) {
	if !r.HasClient(id) {
		r.Clients = append(r.Clients, id)
	}
}

// RemoveClient detaches a connection id.
func (r *Record) RemoveClient(id string) {
	out := r.Clients[:0]
	for _, c := range r.Clients {
		if c != id {
			out = append(out, c)
		}
	}
	r.Clients = out
}

// Touch bumps the updated timestamp before a persisted write.
func (r *Record) Touch() {
	r.UpdatedAt = time.Now().UTC()
}
