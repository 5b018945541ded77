package classifier

import (
	"context"
	"strings"
)

type keywordRule struct {
	keywords   []string
	category   string
	confidence float64
}

// Rules are checked in order; the first match wins.
var keywordRules = []keywordRule{
	{[]string{"cup", "juice"}, "plastic", 0.95},
	{[]string{"bottle", "soda"}, "plastic", 0.94},
	{[]string{"paper", "bag", "book", "napkin", "tissue"}, "paper", 0.93},
}

// StubPredictor guesses the category from words in the image URL. It is
// deterministic and needs no model, which makes it the demo default.
type StubPredictor struct{}

// NewStubPredictor creates a keyword predictor
func NewStubPredictor() *StubPredictor {
	return &StubPredictor{}
}

// Name identifies the predictor in logs and health output
func (s *StubPredictor) Name() string {
	return "stub"
}

// Predict matches the URL against the keyword rules
func (s *StubPredictor) Predict(ctx context.Context, imageURL string) (*Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lower := strings.ToLower(imageURL)
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return &Prediction{Category: rule.category, Confidence: rule.confidence}, nil
			}
		}
	}

	return &Prediction{Category: DefaultCategory, Confidence: 0.6}, nil
}
