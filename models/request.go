package models

import (
	"strings"

	"github.com/dyike/TradingAgentsGo/consts"
)

// AnalysisRequest is the immutable user intent for one analysis.
type AnalysisRequest struct {
	Ticker                string   `json:"ticker" bson:"ticker" validate:"required,ticker"`
	AnalysisDate          string   `json:"analysis_date" bson:"analysis_date" validate:"required,datetime=2006-01-02"`
	Analysts              []string `json:"analysts" bson:"analysts" validate:"min=1,unique,dive,oneof=market fundamentals news social"`
	ResearchDepth         int      `json:"research_depth" bson:"research_depth" validate:"min=1,max=5"`
	LLMProvider           string   `json:"llm_provider" bson:"llm_provider" validate:"required"`
	LLMModel              string   `json:"llm_model" bson:"llm_model" validate:"required"`
	IncludeSentiment      bool     `json:"include_sentiment" bson:"include_sentiment"`
	IncludeRiskAssessment bool     `json:"include_risk_assessment" bson:"include_risk_assessment"`
	CustomPrompt          string   `json:"custom_prompt,omitempty" bson:"custom_prompt,omitempty" validate:"max=4000"`
}

// Normalize returns a copy with the ticker upper-cased, whitespace trimmed and
// analyst names lower-cased. An empty analyst list selects every analyst.
// Normalizing an already-normalized request returns an equal value.
func (r AnalysisRequest) Normalize() AnalysisRequest {
	out := r
	out.Ticker = strings.ToUpper(strings.TrimSpace(r.Ticker))
	out.AnalysisDate = strings.TrimSpace(r.AnalysisDate)
	out.LLMProvider = strings.ToLower(strings.TrimSpace(r.LLMProvider))
	out.LLMModel = strings.TrimSpace(r.LLMModel)
	out.CustomPrompt = strings.TrimSpace(r.CustomPrompt)
	if len(r.Analysts) == 0 {
		out.Analysts = append([]string(nil), consts.AnalystOrder...)
	} else {
		out.Analysts = make([]string, 0, len(r.Analysts))
		for _, a := range r.Analysts {
			out.Analysts = append(out.Analysts, strings.ToLower(strings.TrimSpace(a)))
		}
	}
	return out
}

// ScheduledAnalysts returns the analysts to run in their fixed order.
// Disabling sentiment drops the social analyst.
func (r AnalysisRequest) ScheduledAnalysts() []string {
	want := make(map[string]bool, len(r.Analysts))
	for _, a := range r.Analysts {
		want[a] = true
	}
	if !r.IncludeSentiment {
		delete(want, consts.AnalystSocial)
	}
	out := make([]string, 0, len(want))
	for _, a := range consts.AnalystOrder {
		if want[a] {
			out = append(out, a)
		}
	}
	return out
}

// Selected reports whether the analyst is scheduled.
func (r AnalysisRequest) Selected(analyst string) bool {
	for _, a := range r.ScheduledAnalysts() {
		if a == analyst {
			return true
		}
	}
	return false
}

// MaxDebateRounds maps research depth to bull/bear rounds.
func (r AnalysisRequest) MaxDebateRounds() int {
	return depthTable(r.ResearchDepth, [5]int{1, 1, 1, 2, 3})
}

// MaxRiskRounds maps research depth to risky/safe/neutral rounds.
func (r AnalysisRequest) MaxRiskRounds() int {
	return depthTable(r.ResearchDepth, [5]int{1, 1, 2, 2, 3})
}

func depthTable(depth int, table [5]int) int {
	if depth < 1 {
		depth = 1
	}
	if depth > 5 {
		depth = 5
	}
	return table[depth-1]
}
