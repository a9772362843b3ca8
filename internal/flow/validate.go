package flow

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Validation errors. Parse functions wrap them with the offending input.
var (
	ErrEmptyInput           = errors.New("empty input")
	ErrInvalidAge           = errors.New("invalid age")
	ErrInvalidMeasurement   = errors.New("invalid measurement")
	ErrInvalidBloodPressure = errors.New("invalid blood pressure")
)

var (
	agePattern           = regexp.MustCompile(`^\d+$`)
	measurementPattern   = regexp.MustCompile(`^\d+(\.\d+)?$`)
	bloodPressurePattern = regexp.MustCompile(`^\d{2,3}/\d{2,3}$`)
)

// ParseAge accepts a non-negative integer with no sign or decimal point.
func ParseAge(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, ErrEmptyInput
	}
	if !agePattern.MatchString(s) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAge, raw)
	}
	age, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidAge, raw, err)
	}
	return age, nil
}

// ParseMeasurement accepts an unsigned decimal literal such as "70" or "172.5".
func ParseMeasurement(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, ErrEmptyInput
	}
	if !measurementPattern.MatchString(s) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMeasurement, raw)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidMeasurement, raw, err)
	}
	return v, nil
}

// ParseBloodPressure accepts "SYS/DIA" with two or three digits on each side.
func ParseBloodPressure(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrEmptyInput
	}
	if !bloodPressurePattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidBloodPressure, raw)
	}
	return s, nil
}

// ParseGender maps a gender choice token to a Gender.
func ParseGender(token string) (Gender, bool) {
	switch token {
	case TokenGenderMale:
		return GenderMale, true
	case TokenGenderFemale:
		return GenderFemale, true
	case TokenGenderOther:
		return GenderOther, true
	default:
		return "", false
	}
}

// ComputeBMI returns weight / height² with height given in centimetres.
// It reports false when either value is not strictly positive.
func ComputeBMI(weightKg, heightCm float64) (float64, bool) {
	if weightKg <= 0 || heightCm <= 0 {
		return 0, false
	}
	heightM := heightCm / 100
	return weightKg / (heightM * heightM), true
}

// FormatBMI renders a BMI with one decimal place.
func FormatBMI(bmi float64) string {
	return strconv.FormatFloat(bmi, 'f', 1, 64)
}
