package question

import (
	"context"
	"encoding/json"
	"testing"
)

func TestQuestionJSONRoundtrip(t *testing.T) {
	q := Question{
		ID:     "q-1",
		Kind:   KindMultipleChoice,
		Prompt: "pick one",
		Hints:  []string{"think"},
		Payload: MultipleChoice{
			Choices:      []string{"a", "b", "c"},
			CorrectIndex: 2,
		},
	}
	raw, err := json.Marshal(q)
	if err != nil { t.Fatalf("marshal: %v", err) }

	var back Question
	if err := json.Unmarshal(raw, &back); err != nil { t.Fatalf("unmarshal: %v", err) }
	p, ok := back.Payload.(MultipleChoice)
	if !ok { t.Fatalf("payload decoded as %T", back.Payload) }
	if p.CorrectIndex != 2 || len(p.Choices) != 3 {
		t.Fatalf("payload lost data: %+v", p)
	}
}

func TestQuestionUnknownKind(t *testing.T) {
	var q Question
	err := json.Unmarshal([]byte(`{"id":"x","kind":"essay","prompt":"p","payload":{}}`), &q)
	if err == nil { t.Fatalf("expected error for unknown kind") }
}

func TestViewHidesAnswers(t *testing.T) {
	q := Question{
		ID:      "q-2",
		Kind:    KindFreeText,
		Prompt:  "capital of France?",
		Payload: FreeText{Answer: "Paris", Accept: []string{"paris, france"}},
	}
	raw, err := json.Marshal(q.View())
	if err != nil { t.Fatalf("marshal view: %v", err) }
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil { t.Fatalf("unmarshal view: %v", err) }
	for _, field := range []string{"answer", "accept", "correct_index", "output", "payload"} {
		if _, leaked := m[field]; leaked {
			t.Fatalf("view leaks %q: %v", field, m)
		}
	}

	mc := Question{Kind: KindMultipleChoice, Prompt: "p", Payload: MultipleChoice{Choices: []string{"x", "y"}, CorrectIndex: 1}}
	if v := mc.View(); len(v.Choices) != 2 {
		t.Fatalf("multiple choice view must keep choices, got %+v", v)
	}
	co := Question{Kind: KindCodeOutput, Prompt: "p", Payload: CodeOutput{Language: "go", Code: "code", Output: "42"}}
	if v := co.View(); v.Code != "code" || v.Language != "go" {
		t.Fatalf("code output view must keep the snippet, got %+v", v)
	}
}

func TestValidate(t *testing.T) {
	mc := &Question{Kind: KindMultipleChoice, Payload: MultipleChoice{Choices: []string{"linked list", "hash map"}, CorrectIndex: 1}}
	ft := &Question{Kind: KindFreeText, Payload: FreeText{Answer: "404", Accept: []string{"not found"}}}
	co := &Question{Kind: KindCodeOutput, Payload: CodeOutput{Output: "6"}}

	cases := []struct {
		q         *Question
		submitted string
		want      bool
	}{
		{mc, "1", true},
		{mc, "hash map", true},
		{mc, "HASH  MAP", true},
		{mc, "0", false},
		{mc, "linked list", false},
		{ft, "404", true},
		{ft, " 404 ", true},
		{ft, "Not Found", true},
		{ft, "403", false},
		{ft, "", false},
		{co, "6", true},
		{co, "7", false},
		{nil, "anything", false},
	}
	for _, tc := range cases {
		if got := Validate(tc.q, tc.submitted); got != tc.want {
			t.Errorf("Validate(%v, %q) = %v, want %v", tc.q, tc.submitted, got, tc.want)
		}
	}
}

func TestStaticGeneratorDeterministic(t *testing.T) {
	g := NewStaticGenerator()
	ctx := context.Background()
	a, err := g.Generate(ctx, "general", Profile{Round: 1})
	if err != nil { t.Fatalf("Generate: %v", err) }
	b, err := g.Generate(ctx, "general", Profile{Round: 1})
	if err != nil { t.Fatalf("Generate: %v", err) }
	if a.ID != b.ID || a.Prompt != b.Prompt {
		t.Fatalf("same profile must yield the same question: %q vs %q", a.ID, b.ID)
	}
	c, _ := g.Generate(ctx, "general", Profile{Round: 2})
	if c.Prompt == a.Prompt {
		t.Fatalf("rotation expected across rounds")
	}
}
