package config

import (
	"strings"

	"github.com/AlecAivazis/survey/v2"
)

// SurveyPrompter asks questions on the controlling terminal.
type SurveyPrompter struct {
	Options []survey.AskOpt
}

var _ Prompter = SurveyPrompter{}

// Prompt asks for p, masking input for secrets. Empty answers are rejected.
func (s SurveyPrompter) Prompt(p Param) (string, error) {
	var prompt survey.Prompt = &survey.Input{Message: p.Message}
	if p.Secret {
		prompt = &survey.Password{Message: p.Message}
	}
	opts := append([]survey.AskOpt{survey.WithValidator(survey.Required)}, s.Options...)

	var answer string
	if err := survey.AskOne(prompt, &answer, opts...); err != nil {
		return "", err
	}
	return strings.TrimSpace(answer), nil
}

// StaticPrompter answers from a fixed map, for scripted initialization.
type StaticPrompter map[string]string

// Prompt returns the canned answer for p.Name.
func (s StaticPrompter) Prompt(p Param) (string, error) {
	return s[p.Name], nil
}
