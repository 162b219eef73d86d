package recipe

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Strategy names reported on Outcome.Strategy.
const (
	StrategyFencedJSON      = "fenced-json"
	StrategyBareJSON        = "bare-json"
	StrategyKeyPattern      = "key-pattern"
	StrategyLabeledSections = "labeled-sections"
)

var (
	// ErrEmptyResponse is returned when the model reply has no text at all.
	ErrEmptyResponse = errors.New("empty response from model")
	// ErrMissingRequiredFields is wrapped by every *ExtractionError.
	ErrMissingRequiredFields = errors.New("missing required recipe fields")
)

// ExtractionError reports which required fields no strategy could recover.
type ExtractionError struct {
	Missing []string
	// Strategy is the strategy whose candidate came closest, if any.
	Strategy string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("could not extract required recipe information (missing: %s)", strings.Join(e.Missing, ", "))
}

func (e *ExtractionError) Unwrap() error {
	return ErrMissingRequiredFields
}

// Candidate is a possibly partial record produced by one strategy.
type Candidate struct {
	Record Record
	// IsFood is nil when the reply did not say.
	IsFood  *bool
	Message string
	// RequireIsFood marks candidates from full JSON parsing, which are only
	// complete when the isFood flag is present.
	RequireIsFood bool
}

// NotFood reports whether the candidate classifies the image as non-food.
func (c *Candidate) NotFood() bool {
	return c.IsFood != nil && !*c.IsFood
}

// Missing lists the required fields the candidate lacks.
func (c *Candidate) Missing() []string {
	var missing []string
	if c.RequireIsFood && c.IsFood == nil {
		missing = append(missing, "isFood")
	}
	return append(missing, c.Record.Missing()...)
}

// Complete reports whether the candidate can become a food record.
func (c *Candidate) Complete() bool {
	return !c.NotFood() && len(c.Missing()) == 0
}

// Strategy is one named way of pulling a candidate out of raw model text.
// Extract returns nil when the strategy finds nothing to work with.
type Strategy struct {
	Name    string
	Extract func(text string) *Candidate
}

// DefaultStrategies returns the strict strategies followed by the lenient ones.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: StrategyFencedJSON, Extract: extractFencedJSON},
		{Name: StrategyBareJSON, Extract: extractBareJSON},
		{Name: StrategyKeyPattern, Extract: extractKeyPatterns},
		{Name: StrategyLabeledSections, Extract: extractLabeledSections},
	}
}

// Extractor turns model replies into outcomes. It holds no state between
// calls.
type Extractor struct {
	strategies []Strategy
}

// NewExtractor creates an Extractor. With no strategies it uses
// DefaultStrategies.
func NewExtractor(strategies ...Strategy) *Extractor {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Extractor{strategies: strategies}
}

var defaultExtractor = NewExtractor()

// Extract runs the default extractor over text.
func Extract(text string) (*Outcome, error) {
	return defaultExtractor.Extract(text)
}

// Extract tries each strategy in order. The first complete food candidate wins
// unless the reply anywhere says isFood is false, in which case the outcome is
// non-food.
func (e *Extractor) Extract(text string) (*Outcome, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyResponse
	}

	var best *Candidate
	var bestStrategy string
	for _, s := range e.strategies {
		c := s.Extract(text)
		if c == nil {
			continue
		}
		if c.NotFood() {
			return notFoodOutcome(c.Message, s.Name), nil
		}
		if c.Complete() {
			if msg, ok := notFoodMention(text); ok {
				return notFoodOutcome(msg, StrategyKeyPattern), nil
			}
			return foodOutcome(c.Record, s.Name), nil
		}
		if best == nil || len(c.Missing()) < len(best.Missing()) {
			best, bestStrategy = c, s.Name
		}
	}

	if msg, ok := notFoodMention(text); ok {
		return notFoodOutcome(msg, StrategyKeyPattern), nil
	}

	if best == nil {
		return nil, &ExtractionError{Missing: []string{"foodName", "ingredients", "recipe"}}
	}
	missing := best.Record.Missing()
	if len(missing) == 0 {
		missing = best.Missing()
	}
	return nil, &ExtractionError{Missing: missing, Strategy: bestStrategy}
}

func notFoodOutcome(message, strategy string) *Outcome {
	if strings.TrimSpace(message) == "" {
		message = DefaultNotFoodMessage
	}
	return &Outcome{Kind: KindNotFood, Message: message, Strategy: strategy}
}

func foodOutcome(r Record, strategy string) *Outcome {
	r.IsFood = true
	r.FoodName = strings.TrimSpace(r.FoodName)
	r.fillDefaults()
	return &Outcome{Kind: KindFood, Record: &r, Strategy: strategy}
}

var (
	fencedJSONBlock = regexp.MustCompile("(?s)```(?i:json)\\s*(.*?)\\s*```")
	fencedAnyBlock  = regexp.MustCompile("(?s)```\\s*(.*?)\\s*```")
)

func extractFencedJSON(text string) *Candidate {
	m := fencedJSONBlock.FindStringSubmatch(text)
	if m == nil {
		m = fencedAnyBlock.FindStringSubmatch(text)
	}
	if m == nil {
		return nil
	}
	return parseJSONCandidate(strings.TrimSpace(m[1]))
}

// extractBareJSON handles replies that skip the fence: the whole text, or the
// outermost brace span, as one JSON object.
func extractBareJSON(text string) *Candidate {
	trimmed := strings.TrimSpace(text)
	if c := parseJSONCandidate(trimmed); c != nil {
		return c
	}

	startIndex := strings.Index(trimmed, "{")
	endIndex := strings.LastIndex(trimmed, "}")
	if startIndex == -1 || endIndex == -1 || startIndex > endIndex {
		return nil
	}
	return parseJSONCandidate(trimmed[startIndex : endIndex+1])
}

func parseJSONCandidate(raw string) *Candidate {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "{") {
		return nil
	}

	var flags struct {
		IsFood  *bool  `json:"isFood"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(raw), &flags); err != nil {
		return nil
	}

	c := &Candidate{IsFood: flags.IsFood, Message: flags.Message, RequireIsFood: true}
	if c.NotFood() {
		return c
	}
	if err := json.Unmarshal([]byte(raw), &c.Record); err != nil {
		// Right shape for the flags, wrong shape for the fields: keep what
		// we have so the lenient strategies can try.
		c.Record = Record{}
	}
	c.Record.Ingredients = cleanList(c.Record.Ingredients)
	c.Record.Steps = cleanList(c.Record.Steps)
	return c
}

const quoted = `"((?:[^"\\]|\\.)*)"`

var (
	isFoodPattern      = regexp.MustCompile(`"isFood"\s*:\s*(true|false)`)
	messagePattern     = regexp.MustCompile(`"message"\s*:\s*` + quoted)
	foodNamePattern    = regexp.MustCompile(`"foodName"\s*:\s*` + quoted)
	ingredientsPattern = regexp.MustCompile(`(?s)"ingredients"\s*:\s*\[(.*?)\]`)
	stepsListPattern   = regexp.MustCompile(`(?s)"(?:recipe|steps)"\s*:\s*\[(.*?)\]`)
	stepsStringPattern = regexp.MustCompile(`"(?:recipe|steps)"\s*:\s*` + quoted)
	cookingTimePattern = regexp.MustCompile(`"cookingTime"\s*:\s*` + quoted)
	difficultyPattern  = regexp.MustCompile(`"difficulty"\s*:\s*` + quoted)
	cuisinePattern     = regexp.MustCompile(`"cuisine"\s*:\s*` + quoted)
)

// notFoodMention reports whether any isFood fragment in text is false, along
// with the first message fragment if there is one.
func notFoodMention(text string) (string, bool) {
	for _, m := range isFoodPattern.FindAllStringSubmatch(text, -1) {
		if m[1] == "false" {
			return matchString(messagePattern, text), true
		}
	}
	return "", false
}

func extractKeyPatterns(text string) *Candidate {
	c := &Candidate{}
	found := false

	if m := isFoodPattern.FindStringSubmatch(text); m != nil {
		isFood := m[1] == "true"
		c.IsFood = &isFood
		found = true
	}
	c.Message = matchString(messagePattern, text)
	if c.NotFood() {
		return c
	}

	if name := matchString(foodNamePattern, text); name != "" {
		c.Record.FoodName = name
		found = true
	}
	if m := ingredientsPattern.FindStringSubmatch(text); m != nil {
		c.Record.Ingredients = splitList(m[1])
		found = true
	}
	if m := stepsListPattern.FindStringSubmatch(text); m != nil {
		c.Record.Steps = splitList(m[1])
		found = true
	} else if step := matchString(stepsStringPattern, text); step != "" {
		c.Record.Steps = []string{step}
		found = true
	}

	c.Record.CookingTime = matchString(cookingTimePattern, text)
	c.Record.Difficulty = matchString(difficultyPattern, text)
	c.Record.Cuisine = matchString(cuisinePattern, text)

	if !found {
		return nil
	}
	return c
}

// matchString returns the unescaped first capture group, or "".
func matchString(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(unescape(m[1]))
}

func unescape(s string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+s+`"`), &out); err != nil {
		return s
	}
	return out
}

// splitList reads the interior of a bracketed list. A valid JSON string array
// is decoded as such; anything else is split on commas.
func splitList(inner string) []string {
	var items []string
	if err := json.Unmarshal([]byte("["+inner+"]"), &items); err == nil {
		return cleanList(items)
	}

	parts := strings.Split(inner, ",")
	items = make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		p = strings.TrimPrefix(p, `"`)
		p = strings.TrimSuffix(p, `"`)
		items = append(items, p)
	}
	return cleanList(items)
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

var (
	sectionHeader = regexp.MustCompile(`(?im)^[ \t]*(?:\*\*|#+[ \t]*)?(name|dish|ingredients|recipe|steps|instructions)[ \t]*(?:\*\*)?[ \t]*:(?:\*\*)?`)
	listMarker    = regexp.MustCompile(`^(?:[-*•]|\d+[.)])\s*`)
)

// extractLabeledSections reads plain-text replies of the form
//
//	Name: Pasta
//	Ingredients:
//	- pasta
//	Recipe:
//	1. boil
func extractLabeledSections(text string) *Candidate {
	locs := sectionHeader.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return nil
	}

	c := &Candidate{}
	for i, loc := range locs {
		label := strings.ToLower(text[loc[2]:loc[3]])
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := text[loc[1]:end]

		switch label {
		case "name", "dish":
			if c.Record.FoodName == "" {
				c.Record.FoodName = firstLine(body)
			}
		case "ingredients":
			if len(c.Record.Ingredients) == 0 {
				c.Record.Ingredients = listLines(body)
			}
		case "recipe", "steps", "instructions":
			if len(c.Record.Steps) == 0 {
				c.Record.Steps = listLines(body)
			}
		}
	}
	return c
}

func firstLine(body string) string {
	for _, line := range strings.Split(body, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

func listLines(body string) []string {
	var items []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		line = listMarker.ReplaceAllString(line, "")
		items = append(items, line)
	}
	return cleanList(items)
}
