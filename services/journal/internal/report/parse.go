package report

import (
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type section int

const (
	sectionAnalysis section = iota
	sectionInsights
	sectionRecommendations
)

var numberedItemRE = regexp.MustCompile(`^\d+[.)]\s+(.+)$`)

type parsedResponse struct {
	Analysis        string
	Insights        []string
	Recommendations []string
}

// parseResponse splits free-form model output into analysis text and the
// two lists. Headings switch the current section. Bullets and numbered items
// feed the current list; plain text counts only in the analysis section.
func parseResponse(text string) parsedResponse {
	var (
		out      parsedResponse
		analysis []string
		current  = sectionAnalysis
	)
	for _, line := range strings.Split(stripHTML(text), "\n") {
		line = strings.TrimSpace(strings.ReplaceAll(line, "**", ""))
		// blank lines and rules like "---"
		if strings.Trim(line, "-*•_= ") == "" {
			continue
		}
		item, isItem := bulletItem(line)
		prose := line
		if isItem {
			prose = item
		} else {
			if s, ok := headingSection(line); ok {
				current = s
				continue
			}
			item, isItem = numberedItem(line)
		}
		switch {
		case current == sectionInsights && isItem:
			out.Insights = append(out.Insights, item)
		case current == sectionRecommendations && isItem:
			out.Recommendations = append(out.Recommendations, item)
		case current == sectionAnalysis:
			analysis = append(analysis, prose)
		}
	}
	out.Analysis = strings.Join(analysis, " ")
	return out
}

func headingSection(line string) (section, bool) {
	lower := strings.ToLower(strings.TrimLeft(line, "#0123456789. "))
	if len(lower) > 60 {
		return 0, false
	}
	switch {
	case strings.Contains(lower, "padrões"), strings.Contains(lower, "patterns"):
		return sectionInsights, true
	case strings.Contains(lower, "recomendações"), strings.Contains(lower, "recommendations"):
		return sectionRecommendations, true
	case strings.Contains(lower, "análise geral"), strings.Contains(lower, "general analysis"):
		return sectionAnalysis, true
	}
	return 0, false
}

func bulletItem(line string) (string, bool) {
	for _, marker := range []string{"•", "-", "*"} {
		if strings.HasPrefix(line, marker) {
			item := strings.TrimSpace(strings.TrimPrefix(line, marker))
			return item, item != ""
		}
	}
	return "", false
}

func numberedItem(line string) (string, bool) {
	m := numberedItemRE.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// stripHTML drops markup from model output, keeping text and turning block
// elements into line breaks.
func stripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	var (
		b    strings.Builder
		skip int
	)
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return b.String()
			}
			return s
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch atom.Lookup(name) {
			case atom.Script, atom.Style:
				if tt == html.StartTagToken {
					skip++
				}
			case atom.Br, atom.P, atom.Li, atom.Div, atom.H1, atom.H2, atom.H3, atom.H4:
				b.WriteByte('\n')
				if atom.Lookup(name) == atom.Li {
					b.WriteString("- ")
				}
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch atom.Lookup(name) {
			case atom.Script, atom.Style:
				if skip > 0 {
					skip--
				}
			case atom.P, atom.Li, atom.Div, atom.H1, atom.H2, atom.H3, atom.H4:
				b.WriteByte('\n')
			}
		}
	}
}
