// Package sentiment scores Russian chat text into one of five mood labels
// using a stem lexicon with negation and amplifier handling.
package sentiment

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Label is the categorical mood of a text
type Label string

const (
	Ecstatic     Label = "восторженное"
	Positive     Label = "позитивное"
	Neutral      Label = "нейтральное"
	Disappointed Label = "разочарованное"
	Negative     Label = "негативное"
)

// Words of this length or shorter are never stemmed, and a stem is never
// cut below it.
const minStemLength = 3

// Explanation exposes the intermediate matches of one classification walk
type Explanation struct {
	Label            Label
	PositiveScore    int
	NegativeScore    int
	PositiveTokens   []string
	NegativeTokens   []string
	NegatedPhrases   []string
	AmplifiedPhrases []string
}

// Classifier is stateless after construction and safe for concurrent use
type Classifier struct {
	positive   []string
	negative   []string
	amplifiers map[string]struct{}
	negations  map[string]struct{}
	endings    []string
}

// NewClassifier builds a classifier over the built-in Russian lexicon
func NewClassifier() *Classifier {
	c := &Classifier{
		positive:   positiveStems,
		negative:   negativeStems,
		amplifiers: wordSet(amplifierWords),
		negations:  wordSet(negationWords),
	}

	c.endings = append([]string(nil), inflectionEndings...)
	sort.SliceStable(c.endings, func(i, j int) bool {
		return utf8.RuneCountInString(c.endings[i]) > utf8.RuneCountInString(c.endings[j])
	})

	return c
}

// wordSet normalises words the same way input tokens are, so entries with
// punctuation such as "по-настоящему" still match.
func wordSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		for _, tok := range tokenize(w) {
			set[tok] = struct{}{}
		}
	}
	return set
}

// Classify returns the mood label of text. Empty text is neutral.
func (c *Classifier) Classify(text string) Label {
	return c.Explain(text).Label
}

// Explain runs the classification walk and reports what matched
func (c *Classifier) Explain(text string) Explanation {
	var ex Explanation
	tokens := tokenize(text)

	for i := 0; i < len(tokens); {
		word := tokens[i]
		hasNext := i+1 < len(tokens)

		if _, ok := c.negations[word]; ok && hasNext {
			next := tokens[i+1]
			switch {
			case c.matches(next, c.positive):
				ex.NegativeScore++
				ex.NegatedPhrases = append(ex.NegatedPhrases, word+" "+next)
			case c.matches(next, c.negative):
				ex.PositiveScore++
				ex.NegatedPhrases = append(ex.NegatedPhrases, word+" "+next)
			}
			i += 2
			continue
		}

		weight := 1
		amplifier := ""
		if _, ok := c.amplifiers[word]; ok && hasNext {
			weight = 2
			amplifier = word
			word = tokens[i+1]
			i++
		}

		matched := true
		switch {
		case c.matches(word, c.positive):
			ex.PositiveScore += weight
			ex.PositiveTokens = append(ex.PositiveTokens, word)
		case c.matches(word, c.negative):
			ex.NegativeScore += weight
			ex.NegativeTokens = append(ex.NegativeTokens, word)
		default:
			matched = false
		}
		if matched && amplifier != "" {
			ex.AmplifiedPhrases = append(ex.AmplifiedPhrases, amplifier+" "+word)
		}
		i++
	}

	ex.Label = decide(ex.PositiveScore, ex.NegativeScore)
	return ex
}

func decide(pos, neg int) Label {
	switch {
	case pos > neg && pos >= 2*neg:
		return Ecstatic
	case pos > neg:
		return Positive
	case neg > pos && neg >= 2*pos:
		return Negative
	case neg > pos:
		return Disappointed
	default:
		return Neutral
	}
}

// matches stems word and accepts it when either the stem or a dictionary
// entry is a prefix of the other. Short stems over-match; that is accepted.
func (c *Classifier) matches(word string, dictionary []string) bool {
	stem := c.stem(word)
	for _, entry := range dictionary {
		if strings.HasPrefix(stem, entry) || strings.HasPrefix(entry, stem) {
			return true
		}
	}
	return false
}

func (c *Classifier) stem(word string) string {
	length := utf8.RuneCountInString(word)
	if length <= minStemLength {
		return word
	}
	for _, ending := range c.endings {
		if strings.HasSuffix(word, ending) && length-utf8.RuneCountInString(ending) >= minStemLength {
			return strings.TrimSuffix(word, ending)
		}
	}
	return word
}

// tokenize lowercases text, drops everything that is not a letter, digit or
// whitespace and splits on whitespace.
func tokenize(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, strings.ToLower(text))
	return strings.Fields(cleaned)
}
