package service

import "strings"

// AgentUnassigned labels messages no stage could be attributed to.
const AgentUnassigned = "unassigned"

// AttributeFunc maps a free-text message to the name of the stage that most
// likely produced it, or "" when no stage matches. Attribution is a
// best-effort heuristic; consumers must treat it as advisory, never as a
// stage transition signal.
type AttributeFunc func(text string, stages []string) string

// stageVocabulary pairs a stage-name fragment with the keywords indicating
// it. A message matches a stage when the stage's name contains the fragment
// and the message contains one of the keywords. Order matters: earlier
// entries win, keeping the heuristic deterministic.
var stageVocabulary = []struct {
	fragment string
	keywords []string
}{
	{"market", []string{"market", "price action", "technical", "indicator", "macd", "rsi", "moving average"}},
	{"fundamentals", []string{"fundamental", "balance sheet", "earnings", "revenue", "cash flow", "valuation", "p/e"}},
	{"news", []string{"news", "headline", "article", "press release"}},
	{"social", []string{"social", "sentiment", "reddit", "twitter"}},
	{"research", []string{"research", "bull case", "bear case", "debate", "thesis"}},
	{"trader", []string{"trade", "trading", "position", "order", "entry", "exit"}},
	{"risk", []string{"risk", "exposure", "drawdown", "hedge", "var"}},
	{"portfolio", []string{"portfolio", "allocation", "rebalance"}},
}

// AttributeStage is the default attribution heuristic: exact stage-name
// mention first, then keyword vocabulary, then unattributed.
func AttributeStage(text string, stages []string) string {
	lower := strings.ToLower(text)

	// A literal stage-name mention wins.
	for _, stage := range stages {
		name := strings.ToLower(strings.ReplaceAll(stage, "_", " "))
		if strings.Contains(lower, name) {
			return stage
		}
	}

	for _, entry := range stageVocabulary {
		stage := stageWithFragment(stages, entry.fragment)
		if stage == "" {
			continue
		}
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return stage
			}
		}
	}

	return ""
}

func stageWithFragment(stages []string, fragment string) string {
	for _, stage := range stages {
		if strings.Contains(strings.ToLower(stage), fragment) {
			return stage
		}
	}
	return ""
}
