// ABOUTME: Keyword routing that picks the specialist handler for a user message
// ABOUTME: Later funnel stages win ties; no match keeps the previous specialist

package pipeline

import (
	"regexp"

	"github.com/2389/funnel-gateway/internal/conversation"
)

var emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

type route struct {
	handler  string
	keywords []string
	patterns []*regexp.Regexp
}

// routes are checked in order; the highest score wins and earlier entries
// win ties.
var routes = compileRoutes([]route{
	{handler: conversation.HandlerClosing, keywords: []string{"buy", "purchase", "sign", "deal", "let's do it", "go ahead", "comprar", "fechar", "contratar"}},
	{handler: conversation.HandlerNegotiation, keywords: []string{"price", "too high", "expensive", "discount", "cheaper", "cost", "preço", "caro", "desconto"}},
	{handler: conversation.HandlerPresentation, keywords: []string{"show", "demo", "solution", "feature", "how does", "how it works", "mostrar", "funciona"}},
	{handler: conversation.HandlerQualification, keywords: []string{"budget", "email", "company", "restaurant", "tables", "revenue", "team", "orçamento", "restaurante", "mesas"}},
})

// compileRoutes builds one case-insensitive whole-word pattern per keyword.
// Word boundaries are Unicode letters and digits so accented keywords match.
func compileRoutes(rs []route) []route {
	for i := range rs {
		for _, w := range rs[i].keywords {
			re := regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}])` + regexp.QuoteMeta(w) + `(?:$|[^\p{L}\p{N}])`)
			rs[i].patterns = append(rs[i].patterns, re)
		}
	}
	return rs
}

// classify returns the specialist for msg, or "" when nothing matches.
func classify(msg string) string {
	best, bestScore := "", 0
	for _, r := range routes {
		score := 0
		for _, re := range r.patterns {
			if re.MatchString(msg) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = r.handler, score
		}
	}
	if bestScore > 0 {
		return best
	}
	if emailRe.MatchString(msg) {
		return conversation.HandlerQualification
	}
	return ""
}

// previousHandler returns the last handler of the most recent agent turn.
func previousHandler(history []conversation.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.Role != conversation.RoleAgent {
			continue
		}
		nodes, _ := m.Metadata["node_history"].([]conversation.Node)
		if len(nodes) == 0 {
			return ""
		}
		return nodes[len(nodes)-1].NodeID
	}
	return ""
}

// findEmail returns the most recent email address the user mentioned.
func findEmail(msg string, history []conversation.Message) string {
	if e := emailRe.FindString(msg); e != "" {
		return e
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != conversation.RoleUser {
			continue
		}
		if e := emailRe.FindString(history[i].Content); e != "" {
			return e
		}
	}
	return ""
}
