package graph

import (
	"regexp"
	"strings"
	"unicode"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pkoukk/tiktoken-go"
)

// reportUnit is one extraction-sized slice of a report. start and end index
// into the sentence list the report text was split into.
type reportUnit struct {
	id       string
	reportID string
	start    int
	end      int
	text     string
}

func unitsFromReport(
	text string,
	reportID string,
	encoder string,
	maxTokens int,
) ([]reportUnit, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	return transformIntoUnits(text, reportID, encoder, maxTokens)
}

func transformIntoUnits(
	text string,
	reportID string,
	encoder string,
	maxTokens int,
) ([]reportUnit, error) {
	enc, err := tiktoken.GetEncoding(encoder)
	if err != nil {
		return nil, err
	}

	sentences := splitIntoSentences(text)
	if len(sentences) == 0 {
		return nil, nil
	}

	var chunks []reportUnit
	chunkStart := -1
	chunkEnd := -1

	flushChunk := func() error {
		if chunkStart < 0 || chunkEnd <= chunkStart {
			return nil
		}
		uID, err := gonanoid.New()
		if err != nil {
			return err
		}

		var chunkText strings.Builder
		for i := chunkStart; i < chunkEnd; i++ {
			if i > chunkStart {
				chunkText.WriteString(" ")
			}
			chunkText.WriteString(sentences[i])
		}

		unit := reportUnit{
			id:       uID,
			reportID: reportID,
			start:    chunkStart,
			end:      chunkEnd,
			text:     strings.TrimSpace(chunkText.String()),
		}
		chunks = append(chunks, unit)
		chunkStart = -1
		chunkEnd = -1
		return nil
	}

	for i := range sentences {
		if chunkStart < 0 {
			chunkStart = i
			chunkEnd = i + 1
			continue
		}

		var testText strings.Builder
		for j := chunkStart; j <= i; j++ {
			if j > chunkStart {
				testText.WriteString(" ")
			}
			testText.WriteString(sentences[j])
		}

		testTokens := len(enc.Encode(testText.String(), nil, nil))

		if testTokens <= maxTokens {
			chunkEnd = i + 1
		} else {
			if err := flushChunk(); err != nil {
				return nil, err
			}
			chunkStart = i
			chunkEnd = i + 1
		}
	}

	if err := flushChunk(); err != nil {
		return nil, err
	}

	return chunks, nil
}

func splitIntoSentences(text string) []string {
	lines := strings.Split(text, "\n")
	var sentences []string
	var currentSentence strings.Builder

	tableDelimRe := regexp.MustCompile(`^\s*\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)+\|?\s*$`)

	isTableRow := func(line string) bool {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			return false
		}
		return strings.Contains(trimmed, "|")
	}

	inTable := false

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		if !inTable && isTableRow(line) && i+1 < len(lines) && tableDelimRe.MatchString(strings.TrimSpace(lines[i+1])) {
			if currentSentence.Len() > 0 {
				sentences = append(sentences, strings.TrimSpace(currentSentence.String()))
				currentSentence.Reset()
			}

			inTable = true
			currentSentence.WriteString(line)
			continue
		}

		if !inTable && isTableRow(line) {
			if currentSentence.Len() > 0 {
				sentences = append(sentences, strings.TrimSpace(currentSentence.String()))
				currentSentence.Reset()
			}

			sentences = append(sentences, trimmed)
			continue
		}

		if inTable {
			if trimmed == "" || !isTableRow(line) {
				inTable = false
				sentences = append(sentences, strings.TrimSpace(currentSentence.String()))
				currentSentence.Reset()

				if trimmed != "" {
					lineSentences := splitLineIntoSentences(trimmed)
					for _, sentence := range lineSentences {
						if currentSentence.Len() > 0 {
							currentSentence.WriteString(" ")
						}
						currentSentence.WriteString(sentence)

						if strings.HasSuffix(strings.TrimSpace(sentence), ".") ||
							strings.HasSuffix(strings.TrimSpace(sentence), "!") ||
							strings.HasSuffix(strings.TrimSpace(sentence), "?") {
							sentences = append(sentences, strings.TrimSpace(currentSentence.String()))
							currentSentence.Reset()
						}
					}
				}
			} else {
				currentSentence.WriteString("\n")
				currentSentence.WriteString(line)
			}
			continue
		}

		if trimmed == "" {
			if currentSentence.Len() > 0 {
				sentences = append(sentences, strings.TrimSpace(currentSentence.String()))
				currentSentence.Reset()
			}
		} else {
			lineSentences := splitLineIntoSentences(trimmed)
			for _, sentence := range lineSentences {
				if currentSentence.Len() > 0 {
					currentSentence.WriteString(" ")
				}
				currentSentence.WriteString(sentence)

				if strings.HasSuffix(strings.TrimSpace(sentence), ".") ||
					strings.HasSuffix(strings.TrimSpace(sentence), "!") ||
					strings.HasSuffix(strings.TrimSpace(sentence), "?") {
					sentences = append(sentences, strings.TrimSpace(currentSentence.String()))
					currentSentence.Reset()
				}
			}
		}
	}

	if currentSentence.Len() > 0 {
		sentences = append(sentences, strings.TrimSpace(currentSentence.String()))
	}

	var result []string
	for _, sentence := range sentences {
		if strings.TrimSpace(sentence) != "" {
			result = append(result, sentence)
		}
	}

	return result
}

func splitLineIntoSentences(line string) []string {
	var sentences []string
	var current strings.Builder

	for i := 0; i < len(line); i++ {
		current.WriteByte(line[i])

		if line[i] == '.' || line[i] == '!' || line[i] == '?' {
			isNumericListing := false
			isMeasurement := false

			if i > 0 && unicode.IsDigit(rune(line[i-1])) {
				if i+1 < len(line) && line[i+1] == ' ' {
					isNumericListing = true
				}
				// Decimal measurements like "2.1 cm" keep the period
				// inside the sentence.
				if line[i] == '.' && i+1 < len(line) && unicode.IsDigit(rune(line[i+1])) {
					isMeasurement = true
				}
			}

			if isNumericListing || isMeasurement {
				continue
			}
			j := i + 1
			for j < len(line) && (line[j] == '.' || line[j] == '!' || line[j] == '?') {
				current.WriteByte(line[j])
				j++
			}

			for j < len(line) && (line[j] == '"' || line[j] == '\'' || line[j] == ')' ||
				line[j] == ']' || line[j] == '}') {
				current.WriteByte(line[j])
				j++
			}

			sentence := strings.TrimSpace(current.String())
			if sentence != "" {
				sentences = append(sentences, sentence)
			}
			current.Reset()
			i = j - 1
		}
	}

	remaining := strings.TrimSpace(current.String())
	if remaining != "" {
		sentences = append(sentences, remaining)
	}

	return sentences
}
