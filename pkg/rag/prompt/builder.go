package prompt

import (
	"fmt"
	"strings"

	"biblestudy-be/internal/entity"
)

// Context is everything besides history and question that shapes the system prompt.
type Context struct {
	Mode            entity.ThreadMode
	AnchorReference *entity.PassageReference
	AnchorText      string
	Passages        []entity.RetrievedPassage
}

// Builder writes the system prompt for a study completion.
type Builder struct {
	ctx Context
}

func NewBuilder(ctx Context) *Builder {
	return &Builder{ctx: ctx}
}

func (b *Builder) Build() string {
	var prompt strings.Builder

	b.writeTask(&prompt)
	b.writeAnchor(&prompt)
	b.writePassages(&prompt)
	b.writeOutputContract(&prompt)

	return prompt.String()
}

func (b *Builder) writeTask(prompt *strings.Builder) {
	prompt.WriteString("<task>\n")
	prompt.WriteString("You are a careful Bible study assistant. Answer questions about Scripture, its context and its interpretation.\n")
	prompt.WriteString("When traditions disagree, say so and present the main views fairly.\n")
	if b.ctx.Mode == entity.ThreadModePassage {
		prompt.WriteString("The user is studying the anchored passage below. Keep answers tied to it unless asked otherwise.\n")
	}
	prompt.WriteString("</task>\n\n")
}

func (b *Builder) writeAnchor(prompt *strings.Builder) {
	if b.ctx.AnchorReference == nil {
		return
	}
	prompt.WriteString("<anchored_passage reference=\"")
	prompt.WriteString(b.ctx.AnchorReference.String())
	prompt.WriteString("\">\n")
	if b.ctx.AnchorText != "" {
		prompt.WriteString(b.ctx.AnchorText)
		prompt.WriteString("\n")
	}
	prompt.WriteString("</anchored_passage>\n\n")
}

func (b *Builder) writePassages(prompt *strings.Builder) {
	if len(b.ctx.Passages) == 0 {
		return
	}
	prompt.WriteString("<retrieved_passages>\n")
	for _, p := range b.ctx.Passages {
		prompt.WriteString(fmt.Sprintf("[%s] %s\n", p.Reference.String(), p.Text))
	}
	prompt.WriteString("</retrieved_passages>\n")
	prompt.WriteString("References are written book:chapter:verse with books numbered 1 (Genesis) to 66 (Revelation).\n\n")
}

func (b *Builder) writeOutputContract(prompt *strings.Builder) {
	prompt.WriteString("<output_format>\n")
	prompt.WriteString("Reply with one JSON object and nothing else:\n")
	prompt.WriteString(`{"content": string, "response_type": "answer" | "clarification" | "refusal", ` +
		`"citations": [{"book_id": int, "chapter": int, "verse_start": int, "verse_end": int}], ` +
		`"uncertainty_level": "low" | "medium" | "high", "suggested_follow_ups": [string]}`)
	prompt.WriteString("\n")
	prompt.WriteString("Cite every verse you rely on. Use \"clarification\" when the question is ambiguous.\n")
	prompt.WriteString("Set uncertainty_level to high when the text is disputed or you are unsure.\n")
	prompt.WriteString("</output_format>")
}
