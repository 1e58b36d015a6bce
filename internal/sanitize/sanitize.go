// Package sanitize provides defensive screening of task parameters before
// dispatch.
//
// Executor parameters frequently embed free text that downstream workers feed
// into LLM prompts. This package screens string values for control tokens and
// instruction-override phrasing so that obviously hostile input is rejected
// before an executor ever sees it, and borderline input is flagged for the
// escalation gate.
package sanitize

import (
	"regexp"
	"strings"

	"github.com/chimeralabs/chimerad/internal/task"
)

const (
	// MaxStringLength bounds individual string parameters. Longer values are
	// flagged suspect rather than rejected; length alone is not hostile.
	MaxStringLength = 4096
)

// controlTokenPatterns match LLM control-token syntax. Any hit is an outright
// reject.
var controlTokenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`<\|[a-zA-Z_]+\|>`), // <|im_start|>, <|endoftext|>
	regexp.MustCompile(`(?i)\[/?INST\]`),   // llama instruction markers
	regexp.MustCompile(`(?i)<<SYS>>|<</SYS>>`),
	regexp.MustCompile(`(?i)<(system|assistant)>`),
}

// suspectPhrases are instruction-override phrasings that warrant human review
// but are not proof of hostility on their own.
var suspectPhrases = []string{
	"ignore previous instructions",
	"ignore all previous",
	"disregard your instructions",
	"you are now",
	"system prompt",
	"do anything now",
}

// Screen inspects every string value in params (recursing into nested maps
// and slices) and returns the worst verdict found.
//
// Verdict ordering: reject > suspect > ok.
func Screen(params map[string]any) task.SanitizationStatus {
	status := task.SanitizationOK
	for _, v := range params {
		status = worse(status, screenValue(v))
		if status == task.SanitizationReject {
			return status
		}
	}
	return status
}

// ScreenString screens a single string value.
func ScreenString(s string) task.SanitizationStatus {
	for _, p := range controlTokenPatterns {
		if p.MatchString(s) {
			return task.SanitizationReject
		}
	}

	lower := strings.ToLower(s)
	for _, phrase := range suspectPhrases {
		if strings.Contains(lower, phrase) {
			return task.SanitizationSuspect
		}
	}

	if len(s) > MaxStringLength {
		return task.SanitizationSuspect
	}

	return task.SanitizationOK
}

func screenValue(v any) task.SanitizationStatus {
	switch val := v.(type) {
	case string:
		return ScreenString(val)
	case map[string]any:
		return Screen(val)
	case []any:
		status := task.SanitizationOK
		for _, item := range val {
			status = worse(status, screenValue(item))
			if status == task.SanitizationReject {
				return status
			}
		}
		return status
	case []string:
		status := task.SanitizationOK
		for _, item := range val {
			status = worse(status, ScreenString(item))
			if status == task.SanitizationReject {
				return status
			}
		}
		return status
	default:
		// Numbers, bools, nil carry no prompt surface.
		return task.SanitizationOK
	}
}

// worse returns the more severe of two verdicts.
func worse(a, b task.SanitizationStatus) task.SanitizationStatus {
	rank := func(s task.SanitizationStatus) int {
		switch s {
		case task.SanitizationReject:
			return 2
		case task.SanitizationSuspect:
			return 1
		default:
			return 0
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}
