// Package flow implements the health-screening dialogue: the per-conversation
// session state, the answer validators, the symptom checklist and the state
// machine that sequences questions and hands the finished profile to the
// advisory gateway.
package flow

import "time"

// State is one step of the screening interview.
type State string

const (
	StateSelectScreening State = "select_screening"
	StateAskAge          State = "ask_age"
	StateAskGender       State = "ask_gender"
	StateAskWeight       State = "ask_weight"
	StateAskHeight       State = "ask_height"
	StateAskBPKnow       State = "ask_bp_know"
	StateAskBPValue      State = "ask_bp_value"
	StateChecklist       State = "checklist_loop"
	StateAwaitFreeText   State = "await_free_text_symptoms"
	StateFinalize        State = "finalize"
)

var validStates = map[State]struct{}{
	StateSelectScreening: {},
	StateAskAge:          {},
	StateAskGender:       {},
	StateAskWeight:       {},
	StateAskHeight:       {},
	StateAskBPKnow:       {},
	StateAskBPValue:      {},
	StateChecklist:       {},
	StateAwaitFreeText:   {},
	StateFinalize:        {},
}

// Valid reports whether s is one of the declared states.
func (s State) Valid() bool {
	_, ok := validStates[s]
	return ok
}

// Gender is the self-reported gender of the person being screened.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// BloodPressureNotKnown is recorded when the user does not know their reading.
const BloodPressureNotKnown = "Not known"

// Answers holds everything collected during one interview. Pointer fields are
// nil until the corresponding question has been answered.
type Answers struct {
	Age              *int
	Gender           Gender
	WeightKg         *float64
	HeightCm         *float64
	BloodPressure    string   // BloodPressureNotKnown or "SYS/DIA"
	CheckedSymptoms  []string // append-only, in the order asked
	FreeTextSymptoms string
}

// BMI returns the formatted body-mass index when both weight and height are
// recorded and strictly positive.
func (a Answers) BMI() (string, bool) {
	if a.WeightKg == nil || a.HeightCm == nil {
		return "", false
	}
	bmi, ok := ComputeBMI(*a.WeightKg, *a.HeightCm)
	if !ok {
		return "", false
	}
	return FormatBMI(bmi), true
}

// Session is the in-progress interview of one conversation.
type Session struct {
	ConversationID string
	State          State
	Answers        Answers
	SymptomCursor  int
	CreatedAt      time.Time
}
