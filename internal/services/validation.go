package services

import (
	"regexp"
	"strconv"

	"github.com/PlainFunction/cloudhandlers/internal/common/models"
	"github.com/PlainFunction/cloudhandlers/internal/common/types"
)

// validator is one named check in an ordered chain.
type validator struct {
	field string
	check func() bool
	msg   string
}

// runValidators returns the first failing validator as a ValidationError.
func runValidators(chain []validator) *types.ValidationError {
	for _, v := range chain {
		if !v.check() {
			return types.NewValidationError(v.field, "%s", v.msg)
		}
	}
	return nil
}

var (
	digitsPattern = regexp.MustCompile(`^[0-9]+$`)
	monthPattern  = regexp.MustCompile(`^[0-9]{1,2}$`)
	yearPattern   = regexp.MustCompile(`^[0-9]{4}$`)
)

const (
	minCardLength   = 14
	maxCardLength   = 16
	minUserIDLength = 4
	minTokenLength  = 10
	minYear         = 2010
	maxYear         = 3000
)

func inRange(s string, lo, hi int) bool {
	n, err := strconv.Atoi(s)
	return err == nil && n >= lo && n <= hi
}

// resolveProject picks the request project, falling back to the configured default.
func resolveProject(requested, fallback string) string {
	if requested != "" {
		return requested
	}
	return fallback
}

// validateTokenize checks a tokenize request in contract order and returns the
// resolved project id.
func validateTokenize(req models.TokenizeRequest, defaultProject string) (string, error) {
	project := resolveProject(req.ProjectID, defaultProject)
	chain := []validator{
		{"project_id", func() bool { return project != "" }, "Invalid input for project_id"},
		{"cc", func() bool {
			return len(req.CC) >= minCardLength && len(req.CC) <= maxCardLength && digitsPattern.MatchString(req.CC)
		}, "Invalid input for CC"},
		{"mm", func() bool { return monthPattern.MatchString(req.MM) && inRange(req.MM, 0, 12) }, "Invalid input for mm"},
		{"yyyy", func() bool { return yearPattern.MatchString(req.YYYY) && inRange(req.YYYY, minYear, maxYear) }, "Invalid input for yyyy"},
		{"user_id", func() bool { return len(req.UserID) >= minUserIDLength }, "Invalid input for user_id"},
	}
	if verr := runValidators(chain); verr != nil {
		return "", verr
	}
	return project, nil
}

// validateDetokenize checks a detokenize request and returns the resolved project id.
func validateDetokenize(req models.DetokenizeRequest, defaultProject string) (string, error) {
	project := resolveProject(req.ProjectID, defaultProject)
	chain := []validator{
		{"project_id", func() bool { return project != "" }, "Invalid input for project_id"},
		{"token", func() bool { return len(req.Token) >= minTokenLength }, "Invalid input for token"},
		{"user_id", func() bool { return len(req.UserID) >= minUserIDLength }, "Invalid input for user_id"},
	}
	if verr := runValidators(chain); verr != nil {
		return "", verr
	}
	return project, nil
}

// ValidateReapRequest requires a label; zone is optional.
func ValidateReapRequest(req models.ReapRequest) error {
	chain := []validator{
		{"label", func() bool { return req.Label != "" }, "label missing"},
	}
	if verr := runValidators(chain); verr != nil {
		return verr
	}
	return nil
}
