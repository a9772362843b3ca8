package flow

// Checklist is the fixed, frequency-ranked list of symptoms asked one at a time.
// It is shared read-only by every session.
type Checklist struct {
	symptoms []string
}

// NewChecklist copies symptoms into an immutable checklist.
func NewChecklist(symptoms []string) *Checklist {
	return &Checklist{symptoms: append([]string(nil), symptoms...)}
}

// Len returns the number of symptoms in the checklist.
func (c *Checklist) Len() int {
	if c == nil {
		return 0
	}
	return len(c.symptoms)
}

// Symptom returns the label at position i.
func (c *Checklist) Symptom(i int) (string, bool) {
	if i < 0 || i >= c.Len() {
		return "", false
	}
	return c.symptoms[i], true
}

// Symptoms returns a copy of the checklist labels.
func (c *Checklist) Symptoms() []string {
	if c == nil {
		return nil
	}
	return append([]string(nil), c.symptoms...)
}

// Done reports whether every symptom has been asked in the session.
func (c *Checklist) Done(s *Session) bool {
	return s.SymptomCursor >= c.Len()
}

// Answer records a yes/no answer for the symptom under the session's cursor
// and advances the cursor. It reports whether the checklist is now complete.
func (c *Checklist) Answer(s *Session, yes bool) bool {
	symptom, ok := c.Symptom(s.SymptomCursor)
	if !ok {
		return true
	}
	if yes {
		s.Answers.CheckedSymptoms = append(s.Answers.CheckedSymptoms, symptom)
	}
	s.SymptomCursor++
	return c.Done(s)
}
