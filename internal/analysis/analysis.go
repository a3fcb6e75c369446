// Package analysis implements the deterministic text heuristics applied to
// every incoming article: read time, sentiment, keywords, trending/breaking
// flags, suggested tags and excerpt generation. Everything here is a pure
// function of the input text.
package analysis

import (
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"threatfeed/internal/model"
)

// Config tunes the heuristics. The defaults reproduce the production
// behavior; the lexicons and increments are configuration, not constants,
// so they can be adjusted without touching scoring code.
type Config struct {
	WordsPerMinute int
	SentimentStep  float64
	TagConfidence  float64
	MaxKeywords    int
	MaxTags        int
	MinTokenLength int
	ExcerptLength  int

	PositiveTerms []string
	NegativeTerms []string
	TrendingTerms []string
	BreakingTerms []string
	TagVocabulary []string
	Stopwords     []string
}

// DefaultConfig returns the standard heuristic configuration.
func DefaultConfig() Config {
	return Config{
		WordsPerMinute: 200,
		SentimentStep:  0.1,
		TagConfidence:  0.8,
		MaxKeywords:    10,
		MaxTags:        5,
		MinTokenLength: 4,
		ExcerptLength:  200,
		PositiveTerms: []string{
			"secure", "protection", "safe", "successful", "improved",
			"updated", "fixed", "patched", "resolved",
		},
		NegativeTerms: []string{
			"breach", "attack", "vulnerability", "hack", "exploit",
			"malware", "threat", "risk", "compromise", "leak",
		},
		TrendingTerms: []string{
			"breaking", "urgent", "alert", "critical", "major", "massive",
		},
		// "critical" is deliberately in both sets: critical advisories are
		// surfaced on the breaking ticker as well as the trending rail.
		BreakingTerms: []string{
			"breaking", "urgent", "alert", "just in", "developing", "critical",
		},
		TagVocabulary: []string{
			"malware", "ransomware", "phishing", "apt", "zero-day",
			"vulnerability", "breach", "incident", "threat-intelligence",
			"compliance", "privacy", "encryption", "authentication",
			"firewall", "endpoint", "cloud-security",
		},
		Stopwords: []string{
			"about", "after", "also", "been", "before", "being", "between",
			"could", "does", "from", "have", "into", "just", "more", "most",
			"other", "over", "said", "says", "should", "some", "such", "than",
			"that", "their", "them", "then", "there", "these", "they", "this",
			"through", "under", "very", "were", "what", "when", "where",
			"which", "while", "will", "with", "would", "your",
		},
	}
}

// Result carries the outcome of analyzing one article's text.
type Result struct {
	ReadTimeMinutes int
	SentimentScore  float64
	Keywords        []string
	SuggestedTags   []model.TagSuggestion
	IsTrending      bool
	IsBreaking      bool
}

// Analyzer applies a Config to article text.
type Analyzer struct {
	cfg       Config
	stopwords map[string]struct{}
}

// New builds an analyzer. Zero-valued config fields fall back to defaults.
func New(cfg Config) *Analyzer {
	def := DefaultConfig()
	if cfg.WordsPerMinute <= 0 {
		cfg.WordsPerMinute = def.WordsPerMinute
	}
	if cfg.SentimentStep <= 0 {
		cfg.SentimentStep = def.SentimentStep
	}
	if cfg.TagConfidence <= 0 {
		cfg.TagConfidence = def.TagConfidence
	}
	if cfg.MaxKeywords <= 0 {
		cfg.MaxKeywords = def.MaxKeywords
	}
	if cfg.MaxTags <= 0 {
		cfg.MaxTags = def.MaxTags
	}
	if cfg.MinTokenLength <= 0 {
		cfg.MinTokenLength = def.MinTokenLength
	}
	if cfg.ExcerptLength <= 0 {
		cfg.ExcerptLength = def.ExcerptLength
	}
	if cfg.PositiveTerms == nil {
		cfg.PositiveTerms = def.PositiveTerms
	}
	if cfg.NegativeTerms == nil {
		cfg.NegativeTerms = def.NegativeTerms
	}
	if cfg.TrendingTerms == nil {
		cfg.TrendingTerms = def.TrendingTerms
	}
	if cfg.BreakingTerms == nil {
		cfg.BreakingTerms = def.BreakingTerms
	}
	if cfg.TagVocabulary == nil {
		cfg.TagVocabulary = def.TagVocabulary
	}
	if cfg.Stopwords == nil {
		cfg.Stopwords = def.Stopwords
	}

	stop := make(map[string]struct{}, len(cfg.Stopwords))
	for _, w := range cfg.Stopwords {
		stop[w] = struct{}{}
	}
	return &Analyzer{cfg: cfg, stopwords: stop}
}

// Analyze runs all heuristics over the given plain text (title, description
// and content concatenated, HTML already stripped).
func (a *Analyzer) Analyze(text string) Result {
	lower := strings.ToLower(text)
	return Result{
		ReadTimeMinutes: a.readTime(text),
		SentimentScore:  a.sentiment(lower),
		Keywords:        a.keywords(lower),
		SuggestedTags:   a.suggestTags(lower),
		IsTrending:      containsAny(lower, a.cfg.TrendingTerms),
		IsBreaking:      containsAny(lower, a.cfg.BreakingTerms),
	}
}

// readTime estimates reading time in whole minutes, never below one.
func (a *Analyzer) readTime(text string) int {
	words := len(strings.Fields(text))
	minutes := (words + a.cfg.WordsPerMinute - 1) / a.cfg.WordsPerMinute
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

// sentiment is a bag-of-words heuristic: each occurrence of a positive
// lexicon term adds one step, each negative occurrence subtracts one, and
// the total is clamped to [-1, 1].
func (a *Analyzer) sentiment(lower string) float64 {
	score := 0.0
	for _, term := range a.cfg.PositiveTerms {
		score += float64(strings.Count(lower, term)) * a.cfg.SentimentStep
	}
	for _, term := range a.cfg.NegativeTerms {
		score -= float64(strings.Count(lower, term)) * a.cfg.SentimentStep
	}
	return math.Max(-1, math.Min(1, score))
}

// keywords returns the most frequent meaningful tokens, ties broken by
// first appearance in the text.
func (a *Analyzer) keywords(lower string) []string {
	tokens := tokenize(lower)

	type entry struct {
		token string
		count int
		first int
	}
	index := make(map[string]*entry)
	var order []*entry
	for i, tok := range tokens {
		if len(tok) < a.cfg.MinTokenLength {
			continue
		}
		if _, ok := a.stopwords[tok]; ok {
			continue
		}
		if e, ok := index[tok]; ok {
			e.count++
			continue
		}
		e := &entry{token: tok, count: 1, first: i}
		index[tok] = e
		order = append(order, e)
	}

	sort.SliceStable(order, func(i, j int) bool {
		if order[i].count != order[j].count {
			return order[i].count > order[j].count
		}
		return order[i].first < order[j].first
	})

	n := a.cfg.MaxKeywords
	if len(order) < n {
		n = len(order)
	}
	out := make([]string, 0, n)
	for _, e := range order[:n] {
		out = append(out, e.token)
	}
	return out
}

// suggestTags presence-matches the domain vocabulary, in vocabulary order,
// capped at MaxTags.
func (a *Analyzer) suggestTags(lower string) []model.TagSuggestion {
	var tags []model.TagSuggestion
	for _, term := range a.cfg.TagVocabulary {
		if len(tags) >= a.cfg.MaxTags {
			break
		}
		if strings.Contains(lower, term) {
			tags = append(tags, model.TagSuggestion{Tag: term, Confidence: a.cfg.TagConfidence})
		}
	}
	return tags
}

// Excerpt strips markup and collapses whitespace, then truncates to the
// configured length. When truncating it prefers the last sentence boundary
// if that boundary sits past 70% of the limit, otherwise it cuts at the
// last word boundary and appends an ellipsis.
func (a *Analyzer) Excerpt(raw string) string {
	text := CollapseWhitespace(StripHTML(raw))
	limit := a.cfg.ExcerptLength
	if len(text) <= limit {
		return text
	}
	// Never split a multi-byte rune at the truncation point.
	end := limit
	for end > 0 && !utf8.RuneStart(text[end]) {
		end--
	}
	cut := text[:end]
	if idx := strings.LastIndex(cut, "."); idx >= limit*7/10 {
		return cut[:idx+1]
	}
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "..."
}

// StripHTML returns the text content of an HTML fragment. Plain text passes
// through unchanged.
func StripHTML(s string) string {
	if !strings.ContainsRune(s, '<') {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(doc.Text())
}

// CollapseWhitespace folds all runs of whitespace into single spaces.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// tokenize strips punctuation and splits on whitespace.
func tokenize(lower string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, lower)
	return strings.Fields(cleaned)
}

func containsAny(lower string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}
