package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/essayexam/internal/model"
)

//go:embed templates/*.txt
var templateFS embed.FS

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

const maxAnswerRunes = 10000

// PromptVariant represents a grading prompt variant.
type PromptVariant string

const (
	// PromptStrict reserves high scores for precise, complete answers.
	PromptStrict PromptVariant = "strict"
	// PromptStandard is the default grading variant.
	PromptStandard PromptVariant = "standard"
	// PromptLenient rewards understanding of the main concept.
	PromptLenient PromptVariant = "lenient"
)

var validVariants = map[PromptVariant]bool{
	PromptStrict:   true,
	PromptStandard: true,
	PromptLenient:  true,
}

var (
	loadOnce       sync.Once
	loadErr        error
	gradeTemplates map[PromptVariant]*template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

// GradeData holds template data for grading prompts.
type GradeData struct {
	Subject         string
	Prompt          string
	ReferenceAnswer string
	Answer          string
}

// Load parses the embedded prompt templates once.
func Load() error {
	loadOnce.Do(func() {
		loadErr = load(templateFS)
	})
	return loadErr
}

func load(fsys fs.FS) error {
	gradeTemplates = make(map[PromptVariant]*template.Template)
	for _, v := range []PromptVariant{PromptStrict, PromptStandard, PromptLenient} {
		file := "templates/grade_" + string(v) + ".txt"
		content, err := fs.ReadFile(fsys, file)
		if err != nil {
			return errors.New("failed to read prompt file " + file + ": " + err.Error())
		}
		tmpl, err := template.New("grade").Parse(string(content))
		if err != nil {
			return errors.New("failed to parse prompt template " + file + ": " + err.Error())
		}
		gradeTemplates[v] = tmpl
	}
	return nil
}

// BuildGradePrompt renders the grading prompt for one answer.
func BuildGradePrompt(variant PromptVariant, question model.Question, answer string) (string, error) {
	if err := Load(); err != nil {
		return "", fmt.Errorf("templates load failed: %w", err)
	}
	tmpl, ok := gradeTemplates[variant]
	if !ok {
		return "", errors.New("invalid prompt variant: " + string(variant))
	}

	data := GradeData{
		Subject:         question.Subject,
		Prompt:          question.Prompt,
		ReferenceAnswer: question.ReferenceAnswer,
		Answer:          sanitizeAnswer(answer),
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return model.UnansweredText
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		answer = string(runes[:maxAnswerRunes]) + "\n\n[Jawaban dipotong karena terlalu panjang]"
	}
	return answer
}
