package flow

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/SwasthPipe/internal/models"
)

// Choice tokens carried by button presses.
const (
	TokenBeginScreening = "screen_health"
	TokenGenderMale     = "gender_male"
	TokenGenderFemale   = "gender_female"
	TokenGenderOther    = "gender_other"
	TokenBPYes          = "bp_yes"
	TokenBPNo           = "bp_no"
	TokenSymptomYes     = "symptom_yes"
	TokenSymptomNo      = "symptom_no"
)

// DeclineLabel is the reply that ends the interaction; matched as a
// case-insensitive substring.
const DeclineLabel = "No, thanks"

// ShareLocationLabel labels the location-request button.
const ShareLocationLabel = "📍 Share Location"

// User-facing texts.
const (
	WelcomeText         = "👋 Hi! I am *Dr.SwasthBot 🇮🇳*, your friendly health assistant. Ready to begin a Health Risk screening for you or your loved ones?"
	AskAgeText          = "🔢 How old are you? (Please enter your age in years):"
	AskGenderText       = "🚻 Please select your gender:"
	AskWeightText       = "⚖️ Please enter your weight (in kg):"
	AskHeightText       = "📏 Please enter your height (in cm):"
	AskBPKnowText       = "🩸 Do you know your blood pressure? (If not, that's okay!)"
	AskBPValueText      = "Please enter your blood pressure as systolic/diastolic (e.g., 120/80):"
	AskFreeTextText     = "✍️ Please type any *other symptoms* or health concerns you have (or type 'Skip' if none):"
	InvalidAgeText      = "Please enter a valid age (number)."
	InvalidWeightText   = "Please enter a valid weight in kg (e.g., 70)."
	InvalidHeightText   = "Please enter a valid height in cm (e.g., 170)."
	InvalidBPText       = "Please enter blood pressure in the format systolic/diastolic (e.g., 120/80)."
	NoSessionText       = "Please type /start to begin the Health screening."
	DeclineAckText      = "👍 Okay! If you need further help, just type /start."
	AssessmentFailText  = "❗ Sorry, I couldn’t get a response. Please try again later."
	SearchingText       = "🔎 Searching for nearby hospitals/clinics..."
	NoFacilitiesText    = "Sorry, I couldn't find any hospitals nearby."
	ConsultQuestionText = "Would you like to consult a doctor?"
)

func welcomeMessage() models.Outbound {
	return models.Outbound{
		Text:     WelcomeText,
		Markdown: true,
		Choices:  []models.Choice{{Label: "Start Health Screening", Token: TokenBeginScreening}},
	}
}

func genderMessage() models.Outbound {
	return models.Outbound{
		Text: AskGenderText,
		Choices: []models.Choice{
			{Label: "Male", Token: TokenGenderMale},
			{Label: "Female", Token: TokenGenderFemale},
			{Label: "Other", Token: TokenGenderOther},
		},
	}
}

func bpKnowMessage() models.Outbound {
	return models.Outbound{
		Text: AskBPKnowText,
		Choices: []models.Choice{
			{Label: "Yes", Token: TokenBPYes},
			{Label: "No", Token: TokenBPNo},
		},
	}
}

func symptomMessage(symptom string) models.Outbound {
	return models.Outbound{
		Text:     fmt.Sprintf("🤔 Are you experiencing *%s*?", symptom),
		Markdown: true,
		Choices: []models.Choice{
			{Label: "Yes", Token: TokenSymptomYes},
			{Label: "No", Token: TokenSymptomNo},
		},
	}
}

func bmiMessage(bmi string) models.Outbound {
	return models.Outbound{Text: fmt.Sprintf("🧮 Your BMI is *%s*", bmi), Markdown: true}
}

func assessmentMessage(narrative string) models.Outbound {
	return models.Outbound{Text: "✅ *Your Health Risk Assessment*\n\n" + narrative, Markdown: true}
}

// consultationOffer asks whether the user wants a doctor, with the triage text
// when one is available.
func consultationOffer(triage string) models.Outbound {
	text := ConsultQuestionText
	if triage != "" {
		text = fmt.Sprintf("🩺 *AI Triage Recommendation:*\n%s\n\nWould you like to consult a doctor? If yes, please share your location to find nearby hospitals.", triage)
	}
	return models.Outbound{
		Text:     text,
		Markdown: true,
		LocationRequest: &models.LocationRequest{
			ShareLabel:   ShareLocationLabel,
			DeclineLabel: DeclineLabel,
		},
	}
}

func plain(s string) models.Outbound {
	return models.Outbound{Text: s}
}

// FormatFacilities renders the nearby-facility reply.
func FormatFacilities(facilities []models.Facility) string {
	var b strings.Builder
	b.WriteString("🏥 *Nearby hospitals/clinics:*\n\n")
	for i, f := range facilities {
		fmt.Fprintf(&b, "%d. *%s*\n%s\n", i+1, f.Name, f.Address)
		if link := phoneLink(f.Phone); link != "" {
			fmt.Fprintf(&b, "📞 [Call %s](tel:%s)\n\n", f.Phone, link)
		} else {
			b.WriteString("📞 Phone: Not available\n\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// phoneLink keeps only the characters a tel: link can carry.
func phoneLink(phone string) string {
	return strings.Map(func(r rune) rune {
		if r == '+' || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, phone)
}
