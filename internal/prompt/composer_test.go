package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	cvText        = "Jane Doe, 5 years of Go backend development."
	jdText        = "Senior Backend Engineer, payments team."
	questionsText = "1. Describe a production incident you handled."
)

func strPtr(s string) *string { return &s }

func TestComposeSystemPromptDeterministic(t *testing.T) {
	a := ComposeSystemPrompt(cvText, strPtr(jdText), strPtr(questionsText))
	b := ComposeSystemPrompt(cvText, strPtr(jdText), strPtr(questionsText))
	assert.Equal(t, a, b, "identical inputs must produce byte-identical prompts")
}

func TestComposeSystemPromptAllDocuments(t *testing.T) {
	p := ComposeSystemPrompt(cvText, strPtr(jdText), strPtr(questionsText))

	assert.Contains(t, p, cvText)
	assert.Contains(t, p, jdText)
	assert.Contains(t, p, questionsText)
	assert.NotContains(t, p, "no position description was provided")
	assert.NotContains(t, p, "no suggested question list was provided")
}

func TestComposeSystemPromptMissingJD(t *testing.T) {
	p := ComposeSystemPrompt(cvText, nil, strPtr(questionsText))

	assert.NotContains(t, p, jdText)
	assert.Contains(t, p, "no position description was provided")
	assert.Contains(t, p, "best fits the candidate's experience")
	assert.Contains(t, p, cvText)
}

func TestComposeSystemPromptMissingQuestions(t *testing.T) {
	p := ComposeSystemPrompt(cvText, strPtr(jdText), nil)

	assert.NotContains(t, p, questionsText)
	assert.Contains(t, p, "Devise your own technical and behavioral questions")
	assert.NotContains(t, p, "no position description was provided")
	assert.Contains(t, p, jdText)
}

func TestComposeSystemPromptBehavioralPolicyAlwaysPresent(t *testing.T) {
	variants := []string{
		ComposeSystemPrompt(cvText, nil, nil),
		ComposeSystemPrompt(cvText, strPtr(jdText), nil),
		ComposeSystemPrompt(cvText, nil, strPtr(questionsText)),
		ComposeSystemPrompt(cvText, strPtr(jdText), strPtr(questionsText)),
	}
	for _, p := range variants {
		assert.True(t, strings.HasPrefix(p, "You are a professional interviewer"))
		assert.Contains(t, p, "one question at a time")
		assert.Contains(t, p, "greeting the candidate")
	}
}
