package question

import (
	"context"
	"fmt"
)

// StaticGenerator serves a fixed rotation of questions. Used for local
// runs without a generator service and throughout the test suites.
type StaticGenerator struct {
	pool []Question
}

func NewStaticGenerator() *StaticGenerator {
	return &StaticGenerator{pool: []Question{
		{
			Kind:   KindMultipleChoice,
			Prompt: "Which data structure gives O(1) average lookup by key?",
			Payload: MultipleChoice{
				Choices:      []string{"linked list", "hash map", "binary heap", "stack"},
				CorrectIndex: 1,
			},
		},
		{
			Kind:    KindFreeText,
			Prompt:  "What HTTP status code means Not Found?",
			Payload: FreeText{Answer: "404"},
		},
		{
			Kind:   KindCodeOutput,
			Prompt: "What does this print?",
			Payload: CodeOutput{
				Language: "go",
				Code:     "x := []int{1, 2, 3}\nfmt.Println(len(x) + cap(x))",
				Output:   "6",
			},
			Hints: []string{"len and cap of a 3-element literal are equal"},
		},
	}}
}

func (g *StaticGenerator) Generate(_ context.Context, domain string, profile Profile) (*Question, error) {
	q := g.pool[profile.Round%len(g.pool)]
	q.ID = fmt.Sprintf("static-%s-%d", domain, profile.Round)
	return &q, nil
}
