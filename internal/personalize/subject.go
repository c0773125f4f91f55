package personalize

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/propertypulse/campaign-engine/internal/domain"
)

// Subject-length bounds. Candidates aim for the 30-50 character sweet spot;
// nothing outside [10, 60] is ever emitted.
const (
	subjectMinLen    = 10
	subjectMaxLen    = 60
	subjectTargetMin = 30
	subjectTargetMax = 50
)

var campaignEmoji = map[domain.CampaignType]string{
	domain.CampaignPropertyUpdates:       "🏡",
	domain.CampaignMarketInsights:        "📊",
	domain.CampaignMilestoneCelebrations: "🎉",
}

// optimizeSubject generates heuristic subject-line variants from the
// rendered base subject and lets the injected scorer pick the winner.
func (e *Engine) optimizeSubject(base string, in Input) string {
	base = strings.TrimSpace(base)
	if base == "" {
		base = campaignLabels[in.CampaignType]
	}

	candidates := subjectCandidates(base, in)

	best := base
	bestScore := -1.0
	for _, c := range candidates {
		c = clampSubject(c, in)
		if c == "" {
			continue
		}
		score := e.scorer.Score(c, in.Recipient)
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	return best
}

// subjectCandidates applies the framing heuristics: conditional emoji,
// question framing, numeric credibility, and urgency.
func subjectCandidates(base string, in Input) []string {
	out := []string{base}

	if emoji, ok := campaignEmoji[in.CampaignType]; ok {
		out = append(out, emoji+" "+base)
	}

	if !strings.HasSuffix(base, "?") {
		out = append(out, "Ready for "+lowerFirst(base)+"?")
	}

	if in.Market != nil && in.Market.TrendPct != 0 {
		out = append(out, fmt.Sprintf("%+.1f%%: %s", in.Market.TrendPct, base))
	}

	out = append(out, "Don't miss: "+lowerFirst(base))

	return out
}

// clampSubject enforces the hard [10, 60] character window. Over-long
// subjects are truncated at a word boundary with an ellipsis; subjects that
// cannot reach the minimum are discarded.
func clampSubject(s string, in Input) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > subjectMaxLen {
		runes := []rune(s)
		cut := subjectMaxLen - 1
		for i := cut; i > subjectMinLen; i-- {
			if runes[i] == ' ' {
				cut = i
				break
			}
		}
		s = strings.TrimSpace(string(runes[:cut])) + "…"
	}
	if utf8.RuneCountInString(s) < subjectMinLen {
		// Pad with the recipient's name rather than emit a stub subject.
		if in.Recipient.FirstName != "" {
			padded := in.Recipient.FirstName + ", " + lowerFirst(s)
			if utf8.RuneCountInString(padded) >= subjectMinLen {
				return padded
			}
		}
		return ""
	}
	return s
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return strings.ToLower(string(r)) + s[size:]
}

// SubjectScorer ranks candidate subject lines for a recipient. Higher is
// better. Implementations must be safe for concurrent use and should be
// deterministic for reproducible sends.
type SubjectScorer interface {
	Score(subject string, r domain.Recipient) float64
}

// HeuristicScorer is the default deterministic scorer. It rewards the
// 30-50 character window, question framing, numeric credibility, and a
// leading emoji, without any external model.
type HeuristicScorer struct{}

// Score implements SubjectScorer.
func (HeuristicScorer) Score(subject string, r domain.Recipient) float64 {
	score := 0.5

	n := utf8.RuneCountInString(subject)
	switch {
	case n >= subjectTargetMin && n <= subjectTargetMax:
		score += 0.3
	case n >= subjectMinLen && n <= subjectMaxLen:
		score += 0.1
	}

	if strings.HasSuffix(subject, "?") {
		score += 0.1
	}
	if strings.ContainsAny(subject, "0123456789") {
		score += 0.1
	}
	if r2, _ := utf8.DecodeRuneInString(subject); r2 > 0x1F000 {
		score += 0.05
	}
	if r.FirstName != "" && strings.Contains(subject, r.FirstName) {
		score += 0.05
	}

	return score
}
