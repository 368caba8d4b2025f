package exam

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pavelanni/essayexam/internal/model"
	"github.com/pavelanni/essayexam/internal/validate"
)

// ParseQuestionBank decodes an uploaded bank: a JSON array of records with
// mata_pelajaran, soal and an optional kunci_jawaban. Any malformed record
// rejects the whole bank.
func ParseQuestionBank(data []byte) ([]model.Question, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: expected a JSON array of questions", ErrInvalidQuestionBank)
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuestionBank, err)
	}

	questions := make([]model.Question, 0, len(raw))
	for i, r := range raw {
		var rec model.QuestionImport
		if err := json.Unmarshal(r, &rec); err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrInvalidQuestionBank, i+1, err)
		}
		rec.Subject = strings.TrimSpace(rec.Subject)
		rec.Prompt = strings.TrimSpace(rec.Prompt)
		rec.ReferenceAnswer = strings.TrimSpace(rec.ReferenceAnswer)
		if err := validate.Struct(rec); err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrInvalidQuestionBank, i+1, err)
		}
		questions = append(questions, model.Question{
			Subject:         rec.Subject,
			Prompt:          rec.Prompt,
			ReferenceAnswer: rec.ReferenceAnswer,
		})
	}
	return questions, nil
}
