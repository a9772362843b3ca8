package flow

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/SwasthPipe/internal/dataset"
)

// skipWord is the free-text reply meaning "no additional symptoms".
const skipWord = "skip"

// ContextSearcher looks up reference context for a symptom term in one dataset.
// dataset.Catalog implements it.
type ContextSearcher interface {
	Search(source dataset.Source, query string) string
}

// Profile is the derived summary handed to the advisory gateway.
type Profile struct {
	Age             int
	Gender          Gender
	BMI             string // empty when it could not be computed
	BloodPressure   string
	Symptoms        []string
	Additional      string // empty when the user skipped
	Dataset1Context string
	Dataset2Context string
}

// Summary renders the one-line profile embedded in both prompts.
func (p Profile) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Age: %d, Gender: %s", p.Age, p.Gender)
	if p.BMI != "" {
		fmt.Fprintf(&b, ", BMI: %s", p.BMI)
	}
	if p.BloodPressure != "" {
		fmt.Fprintf(&b, ", Blood Pressure: %s", p.BloodPressure)
	}
	if len(p.Symptoms) > 0 {
		fmt.Fprintf(&b, ", Symptoms: %s", strings.Join(p.Symptoms, ", "))
	}
	if p.Additional != "" {
		fmt.Fprintf(&b, ", Additional: %s", p.Additional)
	}
	return b.String()
}

func isSkip(freeText string) bool {
	return strings.EqualFold(strings.TrimSpace(freeText), skipWord)
}

// SymptomTerms lists the distinct terms used for dataset lookups: checked
// symptoms first, then the free text split on commas and periods. Terms are
// trimmed, empty ones dropped and duplicates removed case-insensitively.
func SymptomTerms(a Answers) []string {
	var terms []string
	seen := make(map[string]struct{})
	add := func(term string) {
		term = strings.TrimSpace(term)
		if term == "" {
			return
		}
		key := strings.ToLower(term)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		terms = append(terms, term)
	}

	for _, s := range a.CheckedSymptoms {
		add(s)
	}
	if !isSkip(a.FreeTextSymptoms) {
		for _, part := range strings.FieldsFunc(a.FreeTextSymptoms, func(r rune) bool { return r == ',' || r == '.' }) {
			add(part)
		}
	}
	return terms
}

// AssembleProfile derives the profile from completed answers. searcher may be
// nil, in which case the dataset context is left empty.
func AssembleProfile(a Answers, searcher ContextSearcher) Profile {
	p := Profile{
		Gender:        a.Gender,
		BloodPressure: a.BloodPressure,
		Symptoms:      append([]string(nil), a.CheckedSymptoms...),
	}
	if a.Age != nil {
		p.Age = *a.Age
	}
	if bmi, ok := a.BMI(); ok {
		p.BMI = bmi
	}
	if !isSkip(a.FreeTextSymptoms) {
		p.Additional = strings.TrimSpace(a.FreeTextSymptoms)
	}

	if searcher != nil {
		terms := SymptomTerms(a)
		p.Dataset1Context = lookupContext(searcher, dataset.Primary, terms)
		p.Dataset2Context = lookupContext(searcher, dataset.Supplementary, terms)
	}
	return p
}

func lookupContext(searcher ContextSearcher, source dataset.Source, terms []string) string {
	var blocks []string
	for _, term := range terms {
		result := searcher.Search(source, term)
		if result == "" || result == dataset.NoInfo {
			continue
		}
		blocks = append(blocks, result)
	}
	return strings.Join(blocks, "\n")
}

const assessmentTemplate = `You are a medical AI. Given the following user profile and symptoms, analyze and list the most likely health risks or diseases (not just diabetes), and suggest next steps.

User profile:
%s

Context from Dataset1:
%s

Supplementary info from Dataset2:
%s

Provide:
1) A concise risk assessment (list likely diseases/risks).
2) Evidence-based next steps.
3) If urgent, highlight in ALL CAPS.

Answer Format:
• Risks: <comma-separated>
• Plan: <short plan>
• Final line: “I used these data points: <…>” listing the specific bullet(s) from Dataset1 or Dataset2 you relied on.`

const triageTemplate = `You are an AI medical assistant. Given the following user profile and symptoms, provide:
1. The most likely health risks or diseases (not just diabetes).
2. Whether the user needs *immediate* doctor consultation, *routine* checkup, or *self-care* is sufficient.
3. The type of specialist to consult (if any).
4. A short reason for your recommendation.

User summary:
%s

Context from Dataset1:
%s

Supplementary info from Dataset2:
%s

Format:
• Risks: <comma-separated>
• Urgency: <Immediate/Routine/Self-care>
• Specialist: <Type or 'None'>
• Reason: <Short reason>
`

// AssessmentPrompt renders the comprehensive risk-assessment prompt.
func AssessmentPrompt(p Profile) string {
	return fmt.Sprintf(assessmentTemplate, p.Summary(), p.Dataset1Context, p.Dataset2Context)
}

// TriagePrompt renders the short triage and specialist prompt.
func TriagePrompt(p Profile) string {
	return fmt.Sprintf(triageTemplate, p.Summary(), p.Dataset1Context, p.Dataset2Context)
}
