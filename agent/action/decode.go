package action

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrUnknownKind is returned for a tag outside the vocabulary.
	ErrUnknownKind = errors.New("action: unknown kind")
	// ErrMalformed is returned when a known kind lacks a required field
	// or the payload does not parse.
	ErrMalformed = errors.New("action: malformed payload")
)

// wire is the loose shape accepted from the decision service.
type wire struct {
	Action    string          `json:"action"`
	Text      *string         `json:"text"`
	URL       string          `json:"url"`
	ElementID json.RawMessage `json:"element_id"`
	Result    *string         `json:"result"`
	Reason    *string         `json:"reason"`
	Reasoning string          `json:"reasoning"`
}

// Decode strictly decodes a single action document. Unknown fields are
// tolerated; unknown tags and missing required fields are not.
func Decode(raw []byte) (Action, error) {
	var w wire
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	kind := Kind(strings.ToLower(strings.TrimSpace(w.Action)))
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, w.Action)
	}

	switch kind {
	case KindThink:
		text := ""
		if w.Text != nil {
			text = *w.Text
		}
		return Think{Text: text, Reasoning: w.Reasoning}, nil

	case KindBrowse:
		if strings.TrimSpace(w.URL) == "" {
			return nil, fmt.Errorf("%w: browse requires url", ErrMalformed)
		}
		return Browse{URL: strings.TrimSpace(w.URL), Reasoning: w.Reasoning}, nil

	case KindClick:
		id, err := elementID(w.ElementID)
		if err != nil {
			return nil, fmt.Errorf("%w: click %v", ErrMalformed, err)
		}
		return Click{ElementID: id, Reasoning: w.Reasoning}, nil

	case KindType:
		id, err := elementID(w.ElementID)
		if err != nil {
			return nil, fmt.Errorf("%w: type %v", ErrMalformed, err)
		}
		if w.Text == nil {
			return nil, fmt.Errorf("%w: type requires text", ErrMalformed)
		}
		return Type{ElementID: id, Text: *w.Text, Reasoning: w.Reasoning}, nil

	default: // KindFinish
		switch {
		case w.Result != nil:
			return Finish{Result: *w.Result, Reasoning: w.Reasoning}, nil
		case w.Reason != nil:
			return Finish{Result: *w.Reason, Reasoning: w.Reasoning}, nil
		}
		return nil, fmt.Errorf("%w: finish requires result", ErrMalformed)
	}
}

// Coerce decodes raw and substitutes a Think describing the problem when
// decoding fails. It never returns nil.
func Coerce(raw []byte) Action {
	a, err := Decode(raw)
	if err == nil {
		return a
	}
	return Think{
		Text:      fmt.Sprintf("rejected decision output (%v); allowed actions: %s", err, vocabulary()),
		Reasoning: "coerced to think",
	}
}

// elementID accepts "15", 15 or 15.0 and returns the decimal string form.
func elementID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", errors.New("requires element_id")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return "", errors.New("requires element_id")
		}
		return s, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		if f != float64(int64(f)) {
			return "", fmt.Errorf("element_id %v is not an integer", f)
		}
		return strconv.FormatInt(int64(f), 10), nil
	}
	return "", fmt.Errorf("element_id %s has unsupported type", string(raw))
}

func vocabulary() string {
	names := make([]string, len(Kinds))
	for i, k := range Kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}
