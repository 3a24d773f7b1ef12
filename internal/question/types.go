package question

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind discriminates question payload variants.
type Kind string

const (
	KindMultipleChoice Kind = "multiple_choice"
	KindFreeText       Kind = "free_text"
	KindCodeOutput     Kind = "code_output"
)

// Question is one generated prompt plus its answer material. The answer
// side never leaves the server; clients only ever see View().
type Question struct {
	ID      string
	Kind    Kind
	Prompt  string
	Hints   []string
	Payload Payload
}

// Payload is the kind-specific part of a question.
type Payload interface {
	kind() Kind
}

type MultipleChoice struct {
	Choices      []string `json:"choices"`
	CorrectIndex int      `json:"correct_index"`
}

type FreeText struct {
	Answer string   `json:"answer"`
	Accept []string `json:"accept,omitempty"`
}

type CodeOutput struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Output   string `json:"output"`
}

func (MultipleChoice) kind() Kind { return KindMultipleChoice }
func (FreeText) kind() Kind       { return KindFreeText }
func (CodeOutput) kind() Kind     { return KindCodeOutput }

type envelope struct {
	ID      string          `json:"id"`
	Kind    Kind            `json:"kind"`
	Prompt  string          `json:"prompt"`
	Hints   []string        `json:"hints,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

func (q Question) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(q.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{ID: q.ID, Kind: q.Kind, Prompt: q.Prompt, Hints: q.Hints, Payload: raw})
}

func (q *Question) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	q.ID, q.Kind, q.Prompt, q.Hints = env.ID, env.Kind, env.Prompt, env.Hints
	switch env.Kind {
	case KindMultipleChoice:
		var p MultipleChoice
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		q.Payload = p
	case KindFreeText:
		var p FreeText
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		q.Payload = p
	case KindCodeOutput:
		var p CodeOutput
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		q.Payload = p
	default:
		return fmt.Errorf("question: unknown kind %q", env.Kind)
	}
	return nil
}

// View is the answer-free shape served to clients.
type View struct {
	ID      string   `json:"id"`
	Kind    Kind     `json:"kind"`
	Prompt  string   `json:"prompt"`
	Hints   []string `json:"hints,omitempty"`
	Choices []string `json:"choices,omitempty"`
	Code    string   `json:"code,omitempty"`
	Language string  `json:"language,omitempty"`
}

func (q *Question) View() View {
	v := View{ID: q.ID, Kind: q.Kind, Prompt: q.Prompt, Hints: q.Hints}
	switch p := q.Payload.(type) {
	case MultipleChoice:
		v.Choices = p.Choices
	case CodeOutput:
		v.Code, v.Language = p.Code, p.Language
	}
	return v
}

// Validate reports whether submitted answers the question. Pure function,
// free of side effects, so resolution stays deterministic on retry.
func Validate(q *Question, submitted string) bool {
	if q == nil {
		return false
	}
	s := normalize(submitted)
	if s == "" {
		return false
	}
	switch p := q.Payload.(type) {
	case MultipleChoice:
		if idx, err := strconv.Atoi(s); err == nil {
			return idx == p.CorrectIndex
		}
		if p.CorrectIndex >= 0 && p.CorrectIndex < len(p.Choices) {
			return s == normalize(p.Choices[p.CorrectIndex])
		}
		return false
	case FreeText:
		if s == normalize(p.Answer) {
			return true
		}
		for _, alt := range p.Accept {
			if s == normalize(alt) {
				return true
			}
		}
		return false
	case CodeOutput:
		return s == normalize(p.Output)
	}
	return false
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}
