package services

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PlainFunction/cloudhandlers/internal/common/types"
)

// SurrogateType is the custom info type name DLP attaches to tokens.
const SurrogateType = "TOKEN"

const (
	// plaintextFormat is the composite card record fed to deterministic encryption.
	plaintextFormat = "c%sm%sy%su%s"
	// surrogateFormat is DLP's framing of a surrogate value: TYPE(<len>):<value>.
	surrogateFormat = SurrogateType + "(%d):%s"
)

var plaintextPattern = regexp.MustCompile(`^c(\d+)m(\d+)y(\d+)u(.*)$`)

// CardRecord is the plaintext bound to a token.
type CardRecord struct {
	CC     string
	MM     string
	YYYY   string
	UserID string
}

// EncodePlaintext renders r as c<cc>m<mm>y<yyyy>u<user_id>.
func EncodePlaintext(r CardRecord) string {
	return fmt.Sprintf(plaintextFormat, r.CC, r.MM, r.YYYY, r.UserID)
}

// DecodePlaintext parses the composite record back into its four fields.
func DecodePlaintext(s string) (CardRecord, error) {
	m := plaintextPattern.FindStringSubmatch(s)
	if len(m) != 5 {
		return CardRecord{}, &types.DecodeError{
			Reason: fmt.Sprintf("Invalid decoded block size of %d", len(m)),
			Err:    types.ErrMalformedPlaintext,
		}
	}
	return CardRecord{CC: m[1], MM: m[2], YYYY: m[3], UserID: m[4]}, nil
}

// FrameToken wraps a bare token in the surrogate framing DLP expects on reidentify.
func FrameToken(token string) string {
	return fmt.Sprintf(surrogateFormat, len(token), token)
}

// UnframeToken strips the surrogate framing from a deidentified value. Everything
// up to and including the last ':' is removed; values without framing pass through.
func UnframeToken(value string) string {
	if i := strings.LastIndexByte(value, ':'); i >= 0 {
		return value[i+1:]
	}
	return value
}
