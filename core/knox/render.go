package knox

import "strings"

// Render turns a validated response into report markdown. The structural
// headers are constant; the template only ever influences the prose the
// remote writes. Same response, same bytes.
func Render(r *Response) string {
	var b strings.Builder

	b.WriteString("# ")
	b.WriteString(r.Title)
	b.WriteString("\n\n## Sammanfattning\n\n")
	b.WriteString(r.ExecutiveSummary)
	b.WriteString("\n")

	if len(r.Themes) > 0 {
		b.WriteString("\n## Teman\n")
		for _, th := range r.Themes {
			b.WriteString("\n### ")
			b.WriteString(th.Name)
			b.WriteString("\n\n")
			for _, bullet := range th.Bullets {
				b.WriteString("- ")
				b.WriteString(bullet)
				b.WriteByte('\n')
			}
		}
	}

	writeListSection(&b, "## Tidslinje", r.TimelineHighLevel)

	if len(r.Risks) > 0 {
		b.WriteString("\n## Risker\n\n")
		for _, risk := range r.Risks {
			b.WriteString("- **")
			b.WriteString(risk.Risk)
			b.WriteString("**: ")
			b.WriteString(risk.Mitigation)
			b.WriteByte('\n')
		}
	}

	writeListSection(&b, "## Öppna frågor", r.OpenQuestions)
	writeListSection(&b, "## Nästa steg", r.NextSteps)

	b.WriteString("\n*Konfidens: ")
	b.WriteString(r.Confidence)
	b.WriteString("*\n")
	return b.String()
}

func writeListSection(b *strings.Builder, header string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteByte('\n')
	b.WriteString(header)
	b.WriteString("\n\n")
	for _, item := range items {
		b.WriteString("- ")
		b.WriteString(item)
		b.WriteByte('\n')
	}
}
