package compose

import (
	"fmt"
	"strings"

	"github.com/remedylabs/remedy/internal/search"
)

// AssemblePrompt builds the composition prompt from the ranked records and
// the user's query. Records are listed in rank order; the model is asked
// to answer in plain text so the chat front end owns all markup escaping.
func AssemblePrompt(results []search.Result, query string) string {
	var b strings.Builder

	b.WriteString("You are a support assistant for an engineering knowledge base of ")
	b.WriteString("previously solved problems. Answer the user's question using only ")
	b.WriteString("the reference records below.\n\n")

	b.WriteString("# Question\n\n")
	b.WriteString(query)
	b.WriteString("\n\n")

	if len(results) > 0 {
		b.WriteString("# Reference Records\n\n")
		b.WriteString("Records are ordered by relevance, most relevant first:\n\n")
		for i, res := range results {
			rec := res.Record
			b.WriteString(fmt.Sprintf("## Record %d (idea %s, status: %s)\n\n", i+1, rec.IdeaNumber, rec.Status))
			b.WriteString(fmt.Sprintf("Problem: %s\n", rec.Title))
			b.WriteString(fmt.Sprintf("Cause: %s\n", rec.Cause))
			b.WriteString(fmt.Sprintf("Solution: %s\n\n", rec.Solution))
		}
	}

	b.WriteString("# Task\n\n")
	b.WriteString("Guidelines:\n")
	b.WriteString("- Recommend the solutions most applicable to the question\n")
	b.WriteString("- Mention the idea number of each record you draw on\n")
	b.WriteString("- If none of the records fit, say so and suggest how to rephrase\n")
	b.WriteString("- Respond in plain text without markdown formatting\n")

	return b.String()
}
