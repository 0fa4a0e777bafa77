package research

import (
	"fmt"
	"strings"

	"kokoni/internal/store"
)

// Prompt builders. All generation prompts demand bare JSON or bare
// markdown so parsing stays mechanical; the LLM is still treated as
// unreliable and every response is validated.

func initialQuestionsPrompt(topic string, context []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Transform the topic %q into a main question and generate two related sub-questions.`, topic)
	if len(context) > 0 {
		b.WriteString("\n\nHere are some key points to consider:\n")
		b.WriteString(strings.Join(context, "\n"))
	}
	b.WriteString(`

Requirements:
1. Main question should be broad and capture the essence of the topic
2. Sub-questions should be more specific and explore different aspects
3. All questions should be clear and concise (5-15 words)
4. Questions should encourage exploration and discussion
5. Avoid yes/no questions
6. Sub-questions should naturally follow from the main question

Example format (DO NOT copy these exact questions, create appropriate ones for the topic):
{
  "mainQuestion": "How did the Industrial Revolution transform society?",
  "subQuestions": [
    "What were the key technological innovations that drove change?",
    "How did the Industrial Revolution affect social class structures?"
  ]
}

IMPORTANT: Return only a valid JSON object with the mainQuestion and subQuestions fields, without any additional text or explanations.`)
	return b.String()
}

func expandPrompt(question string) string {
	return fmt.Sprintf(`Answer the question %q with a very short summary and generate two follow-up sub-questions.

Requirements:
1. Summary must be concise (max 300 characters), focus on the key point, use simple language
2. Sub-questions should be more specific and explore different aspects
3. Sub-questions should be clear and concise (5-15 words)
4. Avoid yes/no questions

Example format (DO NOT copy these exact questions, create appropriate ones for the topic):
{
  "summary": "The Industrial Revolution began with steam power and mechanization, transforming manufacturing and society.",
  "subQuestions": [
    "What were the key technological innovations that drove change?",
    "How did the Industrial Revolution affect social class structures?"
  ]
}

IMPORTANT: Return only a valid JSON object with the summary and subQuestions fields, without any additional text or explanations.`, question)
}

func reportBlockPrompt(n store.ReportNode, supporting []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a well-structured markdown section answering the question %q.\n", n.Question)
	if n.Summary != nil && *n.Summary != "" {
		fmt.Fprintf(&b, "\nA short answer already exists and should be elaborated on:\n%s\n", *n.Summary)
	}
	if n.ParentQuestion != nil && *n.ParentQuestion != "" {
		fmt.Fprintf(&b, "\nThis section belongs to the broader question %q", *n.ParentQuestion)
		if n.ParentSummary != nil && *n.ParentSummary != "" {
			fmt.Fprintf(&b, ", summarized as: %s", *n.ParentSummary)
		}
		b.WriteString("\n")
	}
	if len(supporting) > 0 {
		b.WriteString("\nSupporting material:\n")
		for _, s := range supporting {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	b.WriteString(`
Requirements:
1. 150-400 words
2. Use plain markdown (paragraphs, bullet lists where they help); no top-level heading
3. Stay on the question; do not drift into sibling topics
4. Ground claims in the supporting material when it is relevant

IMPORTANT: Return only the markdown content, without any additional text or explanations.`)
	return b.String()
}
