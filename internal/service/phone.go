package service

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// PhoneValidator normalises input to E.164 and checks it against the
// accepted national pattern.
type PhoneValidator struct {
	region  string
	pattern *regexp.Regexp
}

func NewPhoneValidator(region, pattern string) (*PhoneValidator, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid phone pattern: %w", err)
	}
	return &PhoneValidator{region: region, pattern: re}, nil
}

func (v *PhoneValidator) Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("phone number is empty")
	}

	num, err := phonenumbers.Parse(raw, v.region)
	if err != nil {
		return "", fmt.Errorf("failed to parse phone number: %w", err)
	}

	e164 := phonenumbers.Format(num, phonenumbers.E164)
	if !v.pattern.MatchString(e164) {
		return "", fmt.Errorf("phone number %s does not match %s", e164, v.pattern)
	}
	return e164, nil
}
