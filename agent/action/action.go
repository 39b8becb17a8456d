package action

import (
	"encoding/json"
	"fmt"
)

// Kind is the tag carried by every action on the wire.
type Kind string

const (
	KindThink  Kind = "think"
	KindBrowse Kind = "browse"
	KindClick  Kind = "click"
	KindType   Kind = "type"
	KindFinish Kind = "finish"
)

// Kinds lists the full action vocabulary in prompt order.
var Kinds = []Kind{KindThink, KindBrowse, KindClick, KindType, KindFinish}

// Valid reports whether k is part of the vocabulary.
func (k Kind) Valid() bool {
	switch k {
	case KindThink, KindBrowse, KindClick, KindType, KindFinish:
		return true
	}
	return false
}

// Action is one atomic step of the agent. The set of implementations is
// closed: only the variants declared in this package satisfy it.
type Action interface {
	Kind() Kind
	isAction()
}

// Think has no external effect; it is only appended to history.
type Think struct {
	Text      string `json:"text"`
	Reasoning string `json:"reasoning,omitempty"`
}

// Browse navigates the session to URL.
type Browse struct {
	URL       string `json:"url"`
	Reasoning string `json:"reasoning,omitempty"`
}

// Click clicks the element stamped with ElementID.
type Click struct {
	ElementID string `json:"element_id"`
	Reasoning string `json:"reasoning,omitempty"`
}

// Type focuses the element stamped with ElementID and types Text into it.
type Type struct {
	ElementID string `json:"element_id"`
	Text      string `json:"text"`
	Reasoning string `json:"reasoning,omitempty"`
}

// Finish terminates the task with Result.
type Finish struct {
	Result    string `json:"result"`
	Reasoning string `json:"reasoning,omitempty"`
}

func (Think) Kind() Kind  { return KindThink }
func (Browse) Kind() Kind { return KindBrowse }
func (Click) Kind() Kind  { return KindClick }
func (Type) Kind() Kind   { return KindType }
func (Finish) Kind() Kind { return KindFinish }

func (Think) isAction()  {}
func (Browse) isAction() {}
func (Click) isAction()  {}
func (Type) isAction()   {}
func (Finish) isAction() {}

// Marshal renders a in its canonical wire form, {"action": tag, ...fields}.
func Marshal(a Action) ([]byte, error) {
	if a == nil {
		return nil, fmt.Errorf("marshal action: nil")
	}
	fields, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal action: %w", err)
	}
	m := map[string]any{}
	if err := json.Unmarshal(fields, &m); err != nil {
		return nil, fmt.Errorf("marshal action: %w", err)
	}
	m["action"] = string(a.Kind())
	return json.Marshal(m)
}

// ToMap returns the canonical wire form as a generic map. It is used where
// actions are embedded into persisted JSON documents.
func ToMap(a Action) map[string]any {
	raw, err := Marshal(a)
	if err != nil {
		return map[string]any{}
	}
	m := map[string]any{}
	_ = json.Unmarshal(raw, &m)
	return m
}

// String renders the canonical wire form, falling back to the kind.
func String(a Action) string {
	raw, err := Marshal(a)
	if err != nil {
		return "<nil>"
	}
	return string(raw)
}
