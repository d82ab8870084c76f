package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cuongbtq/labelscan/internal/domain"
	"github.com/go-playground/validator/v10"
)

// ErrNoObject is returned when a reply contains no balanced JSON object
var ErrNoObject = errors.New("no JSON object in reply")

var validate = validator.New(validator.WithRequiredStructEnabled())

// ExtractObject returns the outermost balanced {...} span of reply.
// Braces inside JSON strings are ignored, so prose or code fences around the
// object do not matter.
func ExtractObject(reply string) (string, error) {
	start := strings.IndexByte(reply, '{')
	if start < 0 {
		return "", ErrNoObject
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(reply); i++ {
		c := reply[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return reply[start : i+1], nil
			}
		}
	}

	return "", fmt.Errorf("%w: unbalanced braces", ErrNoObject)
}

// ParseVerdict locates, decodes and validates the verdict object in a
// classifier reply. It returns the re-encoded compact JSON with the decoded
// value.
func ParseVerdict(reply string) (json.RawMessage, *domain.Verdict, error) {
	object, err := ExtractObject(reply)
	if err != nil {
		return nil, nil, err
	}

	var verdict domain.Verdict
	if err := json.Unmarshal([]byte(object), &verdict); err != nil {
		return nil, nil, fmt.Errorf("failed to decode verdict: %w", err)
	}

	if err := validate.Struct(&verdict); err != nil {
		return nil, nil, fmt.Errorf("invalid verdict: %w", err)
	}

	data, err := json.Marshal(&verdict)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode verdict: %w", err)
	}
	return data, &verdict, nil
}
