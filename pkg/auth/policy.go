package auth

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type Strength string

const (
	StrengthVeryWeak Strength = "very_weak"
	StrengthWeak     Strength = "weak"
	StrengthFair     Strength = "fair"
	StrengthGood     Strength = "good"
	StrengthStrong   Strength = "strong"
)

// Common passwords, matched as case-insensitive substrings.
var commonPasswords = []string{
	"password",
	"passw0rd",
	"123456",
	"qwerty",
	"letmein",
	"welcome",
	"monkey",
	"dragon",
	"master",
	"shadow",
	"sunshine",
	"princess",
	"starwars",
	"football",
	"trustno1",
	"iloveyou",
	"abc123",
	"111111",
}

// Small dictionary of guessable words.
var dictionaryWords = []string{
	"admin",
	"login",
	"user",
	"secret",
	"school",
	"course",
	"student",
	"campus",
	"summer",
	"winter",
	"spring",
	"autumn",
	"love",
	"hello",
}

// Policy scores candidate passwords. The zero value is not useful; start
// from DefaultPolicy.
type Policy struct {
	MinLength      int
	MaxBytes       int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
	HistoryLimit   int
	MinScore       int
}

func DefaultPolicy() Policy {
	return Policy{
		MinLength:      MinPasswordLen,
		MaxBytes:       MaxPasswordBytes,
		RequireUpper:   true,
		RequireLower:   true,
		RequireDigit:   true,
		RequireSpecial: false,
		HistoryLimit:   5,
		MinScore:       60,
	}
}

// UserContext carries what is known about the account the password is for.
// HistoryHashes are most recent first.
type UserContext struct {
	Name          string
	Email         string
	CurrentHash   string
	HistoryHashes []string
}

type ValidationResult struct {
	IsValid  bool     `json:"is_valid"`
	Score    int      `json:"score"`
	Strength Strength `json:"strength"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Feedback returns errors followed by warnings.
func (r ValidationResult) Feedback() []string {
	out := make([]string, 0, len(r.Errors)+len(r.Warnings))
	out = append(out, r.Errors...)
	return append(out, r.Warnings...)
}

// Validate scores password. It has no side effects; the same input and
// history always produce the same result.
func (p Policy) Validate(password string, uc *UserContext) ValidationResult {
	res := ValidationResult{Errors: []string{}, Warnings: []string{}}

	if password == "" {
		res.Errors = append(res.Errors, "password is required")
		res.Strength = strengthFor(0)
		return res
	}

	length := utf8.RuneCountInString(password)
	score := 0

	if length >= p.MinLength {
		score += 20
	} else {
		res.Errors = append(res.Errors, fmt.Sprintf("must be at least %d characters", p.MinLength))
	}
	if p.MaxBytes > 0 && len(password) > p.MaxBytes {
		res.Errors = append(res.Errors, fmt.Sprintf("must be at most %d bytes", p.MaxBytes))
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r):
			hasSpecial = true
		}
	}

	classes := []struct {
		present  bool
		required bool
		label    string
	}{
		{hasUpper, p.RequireUpper, "an uppercase letter"},
		{hasLower, p.RequireLower, "a lowercase letter"},
		{hasDigit, p.RequireDigit, "a digit"},
		{hasSpecial, p.RequireSpecial, "a special character"},
	}
	for _, c := range classes {
		switch {
		case c.present:
			score += 15
		case c.required:
			res.Errors = append(res.Errors, "must contain "+c.label)
		default:
			res.Warnings = append(res.Warnings, "consider adding "+c.label)
		}
	}

	lower := strings.ToLower(password)

	if hasRepeatedRun(password, 3) {
		score -= 10
		res.Warnings = append(res.Warnings, "avoid repeating the same character three or more times")
	}

	if containsAny(lower, commonPasswords) {
		score -= 20
		res.Warnings = append(res.Warnings, "contains a commonly used password")
	}

	if uc != nil && containsPersonalInfo(lower, uc) {
		score -= 15
		res.Warnings = append(res.Warnings, "should not contain your name or email")
	}

	score += entropyBonus(length, password)

	if uc != nil && p.matchesHistory(password, uc) {
		score -= 25
		res.Errors = append(res.Errors, fmt.Sprintf("must not match any of your last %d passwords", p.HistoryLimit))
	}

	if containsAny(lower, dictionaryWords) {
		score -= 5
		res.Warnings = append(res.Warnings, "contains a common dictionary word")
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	res.Score = score
	res.Strength = strengthFor(score)
	res.IsValid = len(res.Errors) == 0 && score >= p.MinScore
	if len(res.Errors) == 0 && !res.IsValid {
		res.Errors = append(res.Errors, "password is too weak")
	}

	return res
}

// matchesHistory compares against the current hash and up to HistoryLimit
// previous hashes.
func (p Policy) matchesHistory(password string, uc *UserContext) bool {
	if uc.CurrentHash != "" && ComparePassword(uc.CurrentHash, password) == nil {
		return true
	}

	hashes := uc.HistoryHashes
	if p.HistoryLimit >= 0 && len(hashes) > p.HistoryLimit {
		hashes = hashes[:p.HistoryLimit]
	}
	for _, h := range hashes {
		if ComparePassword(h, password) == nil {
			return true
		}
	}
	return false
}

func entropyBonus(length int, password string) int {
	seen := make(map[rune]struct{}, length)
	for _, r := range password {
		seen[r] = struct{}{}
	}

	lengthBonus := min(20, (length-8)*2)
	uniqueBonus := min(15, (len(seen)-4)*2)
	return max(0, lengthBonus) + max(0, uniqueBonus)
}

func hasRepeatedRun(s string, n int) bool {
	run := 0
	var prev rune
	for i, r := range s {
		if i > 0 && r == prev {
			run++
		} else {
			run = 1
		}
		if run >= n {
			return true
		}
		prev = r
	}
	return false
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func containsPersonalInfo(lowerPassword string, uc *UserContext) bool {
	parts := strings.Fields(strings.ToLower(uc.Name))
	if local, _, ok := strings.Cut(strings.ToLower(uc.Email), "@"); ok {
		parts = append(parts, local)
	}

	for _, part := range parts {
		if utf8.RuneCountInString(part) >= 3 && strings.Contains(lowerPassword, part) {
			return true
		}
	}
	return false
}

func strengthFor(score int) Strength {
	switch {
	case score < 30:
		return StrengthVeryWeak
	case score < 50:
		return StrengthWeak
	case score < 70:
		return StrengthFair
	case score < 85:
		return StrengthGood
	default:
		return StrengthStrong
	}
}
