// ABOUTME: Qualification provider: BANT-style lead qualification and lead scoring.
// ABOUTME: Scores are additive over budget, authority, need and timeline signals.

package capability

import (
	"context"
	"strings"
)

type qualification struct{}

// NewQualification builds the qualification provider.
func NewQualification(opts Options) Provider {
	q := qualification{}
	return newTableProvider("qualification", opts, DefaultLatency,
		&Operation{
			Spec: OperationSpec{
				Name:        "qualificar_lead",
				Description: "Qualify a lead with BANT criteria",
				Params: []ParamSpec{
					param("lead_data", "object", false, "Known lead attributes"),
					param("conversa_context", "string", false, "Conversation text used as evidence"),
				},
			},
			Handler: q.qualify,
		},
		&Operation{
			Spec: OperationSpec{
				Name:        "calcular_lead_score",
				Description: "Compute a 0-100 lead score",
				Params: []ParamSpec{
					param("lead_data", "object", false, "Known lead attributes"),
				},
			},
			Handler: q.score,
		},
	)
}

// bant evaluates the four BANT signals, 25 points each.
func bant(data map[string]any, text string) (map[string]any, int) {
	text = strings.ToLower(text)
	has := func(key string, words ...string) bool {
		if v, ok := data[key]; ok && v != nil && v != "" && v != false {
			return true
		}
		for _, w := range words {
			if strings.Contains(text, w) {
				return true
			}
		}
		return false
	}
	criteria := map[string]any{
		"budget":    has("budget", "budget", "orçamento", "$"),
		"authority": has("authority", "decide", "owner", "dono", "sócio"),
		"need":      has("need", "need", "preciso", "problema", "want"),
		"timeline":  has("timeline", "month", "week", "mês", "semana", "today"),
	}
	score := 0
	for _, v := range criteria {
		if v == true {
			score += 25
		}
	}
	return criteria, score
}

func (qualification) qualify(_ context.Context, params map[string]any) *Result {
	criteria, score := bant(mapParam(params, "lead_data"), stringParam(params, "conversa_context"))
	return OK(map[string]any{
		"qualificado": score >= 50,
		"score":       score,
		"criterios":   criteria,
	})
}

func (qualification) score(_ context.Context, params map[string]any) *Result {
	_, score := bant(mapParam(params, "lead_data"), "")
	tier := "cold"
	switch {
	case score >= 75:
		tier = "hot"
	case score >= 50:
		tier = "warm"
	}
	return OK(map[string]any{"score": score, "tier": tier})
}
