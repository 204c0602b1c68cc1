package model

import (
	"fmt"
	"strings"

	"sales-crm-docgen/internal/domain"
)

// Action is one of the closed set of generation kinds.
type Action string

const (
	ActionGenerateGoals        Action = "generate_goals"
	ActionGenerateFollowUp     Action = "generate_follow_up"
	ActionGenerateSOW          Action = "generate_sow"
	ActionGeneratePresentation Action = "generate_presentation"
)

// ContentType selects the normalization applied to a finished reply.
type ContentType string

const (
	ContentMarkup         ContentType = "markup"
	ContentStructuredText ContentType = "structured-text"
	ContentProse          ContentType = "prose"
)

// ActionSpec describes how an action is produced and validated.
type ActionSpec struct {
	ContentType ContentType
	// SyncAllowed marks actions cheap enough to bound within a request.
	SyncAllowed bool
	// AnyOf lists input keys of which at least one must be present and non-empty.
	AnyOf []string
}

var actionSpecs = map[Action]ActionSpec{
	ActionGenerateGoals:        {ContentType: ContentProse, SyncAllowed: true, AnyOf: []string{"transcripts"}},
	ActionGenerateFollowUp:     {ContentType: ContentProse, SyncAllowed: true, AnyOf: []string{"transcripts"}},
	ActionGenerateSOW:          {ContentType: ContentStructuredText, AnyOf: []string{"transcripts", "goals"}},
	ActionGeneratePresentation: {ContentType: ContentMarkup, AnyOf: []string{"sow", "goals"}},
}

// Actions returns every known action.
func Actions() []Action {
	return []Action{ActionGenerateGoals, ActionGenerateFollowUp, ActionGenerateSOW, ActionGeneratePresentation}
}

// ParseAction validates a raw action name.
func ParseAction(s string) (Action, error) {
	a := Action(strings.TrimSpace(strings.ToLower(s)))
	if _, ok := actionSpecs[a]; !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownAction, s)
	}
	return a, nil
}

// Spec returns the action's spec; ok is false for unknown actions.
func (a Action) Spec() (ActionSpec, bool) {
	s, ok := actionSpecs[a]
	return s, ok
}

func (a Action) ContentType() ContentType {
	return actionSpecs[a].ContentType
}

// Validate checks that the input carries what the action's prompt needs.
func (a Action) Validate(in JobInput) error {
	spec, ok := actionSpecs[a]
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownAction, string(a))
	}
	for _, key := range spec.AnyOf {
		if nonEmpty(in[key]) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s requires one of %s", domain.ErrInvalidArgument, a, strings.Join(spec.AnyOf, ", "))
}

func nonEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	case []string:
		for _, s := range t {
			if strings.TrimSpace(s) != "" {
				return true
			}
		}
		return false
	case []any:
		for _, e := range t {
			if nonEmpty(e) {
				return true
			}
		}
		return false
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
