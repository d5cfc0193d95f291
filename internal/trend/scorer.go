package trend

import "strings"

// lexicon maps crypto-domain phrases to sentiment weights. Multi-word
// phrases are matched before single words.
var lexicon = map[string]float64{
	"to the moon":   3.5,
	"diamond hands": 3.5,
	"moon":          3.0, "mooning": 3.0,
	"partnership": 2.8,
	"pump":        2.5, "pumping": 2.5,
	"bullish": 2.5, "undervalued": 2.5, "breakout": 2.5, "listing": 2.5,
	"long": 2.0, "buy": 2.0, "upgrade": 2.0, "hodl": 2.0,

	"rug pull":    -4.0,
	"scam":        -3.5,
	"hack":        -3.0,
	"paper hands": -3.0,
	"dump":        -2.5, "dumping": -2.5,
	"bearish": -2.5, "overvalued": -2.5, "bubble": -2.5,
	"short": -2.0, "sell": -2.0, "correction": -2.0, "fud": -2.0,
}

// scoreCap normalizes the raw lexicon sum into [-1,1].
const scoreCap = 4.0

// ScoreText computes a sentiment score in [-1,1] and a confidence in [0,1]
// from a headline. Confidence is the intensity of the score: strongly
// positive or negative text is trusted more than near-neutral text.
func ScoreText(text string) (score, confidence float64) {
	if text == "" {
		return 0, 0
	}
	lowered := strings.ToLower(text)

	var raw float64
	for phrase, weight := range lexicon {
		if strings.Contains(phrase, " ") && strings.Contains(lowered, phrase) {
			raw += weight
			lowered = strings.ReplaceAll(lowered, phrase, "")
		}
	}
	for _, word := range strings.FieldsFunc(lowered, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		if weight, ok := lexicon[word]; ok {
			raw += weight
		}
	}

	score = clamp(raw/scoreCap, -1, 1)
	confidence = clamp(abs(score), 0, 1)
	return score, confidence
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
