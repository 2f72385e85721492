package store

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// QuestionSeed is one entry of a question seed file.
type QuestionSeed struct {
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Category    string   `yaml:"category"`
	Tags        []string `yaml:"tags"`
	Difficulty  string   `yaml:"difficulty"`
	Active      *bool    `yaml:"active"`
	DailyDate   string   `yaml:"daily_date"`
}

type QuestionSeedFile struct {
	Questions []QuestionSeed `yaml:"questions"`
}

type ImportResult struct {
	Imported int
	Skipped  []string
}

// ImportQuestionsFromFile reads a YAML seed file and inserts every question
// whose title is not already present.
func (s *SQLiteStore) ImportQuestionsFromFile(ctx context.Context, filePath string) (*ImportResult, error) {
	contentBytes, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file %s: %w", filePath, err)
	}

	var seedFile QuestionSeedFile
	if err := yaml.Unmarshal(contentBytes, &seedFile); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", filePath, err)
	}

	existing, err := s.ListQuestions(ctx)
	if err != nil {
		return nil, err
	}
	titles := make(map[string]bool, len(existing))
	for _, q := range existing {
		titles[strings.ToLower(q.Title)] = true
	}

	result := &ImportResult{}
	for i, seed := range seedFile.Questions {
		title := strings.TrimSpace(seed.Title)
		if title == "" {
			result.Skipped = append(result.Skipped, fmt.Sprintf("entry %d: missing title", i+1))
			continue
		}
		if titles[strings.ToLower(title)] {
			result.Skipped = append(result.Skipped, fmt.Sprintf("entry %d: %q already exists", i+1, title))
			continue
		}

		q := &Question{
			Title:       title,
			Description: strings.TrimSpace(seed.Description),
			Category:    seed.Category,
			Tags:        seed.Tags,
			Difficulty:  seed.Difficulty,
			IsActive:    seed.Active == nil || *seed.Active,
		}
		if seed.DailyDate != "" {
			if _, err := time.Parse("2006-01-02", seed.DailyDate); err != nil {
				result.Skipped = append(result.Skipped, fmt.Sprintf("entry %d: invalid daily_date %q", i+1, seed.DailyDate))
				continue
			}
			date := seed.DailyDate
			q.IsDaily = true
			q.DailyDate = &date
		}

		if err := s.CreateQuestion(ctx, q); err != nil {
			return result, fmt.Errorf("failed to store question %d: %w", i+1, err)
		}
		titles[strings.ToLower(title)] = true
		result.Imported++
	}
	return result, nil
}
