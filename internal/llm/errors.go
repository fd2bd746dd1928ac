package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrFatalAPI marks provider errors that will not resolve on retry:
// exhausted credits, revoked keys, quota limits. The executor fails the
// job immediately instead of burning the remaining batch against a dead
// account.
var ErrFatalAPI = errors.New("fatal API error")

var fatalAPIPatterns = []string{
	"credit balance",
	"rate limit",
	"quota",
	"billing",
	"invalid api key",
	"authentication",
	"unauthorized",
	"401",
	"403",
}

func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range fatalAPIPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// wrapFatalError tags fatal provider errors with ErrFatalAPI so callers
// can errors.Is them; other errors pass through unchanged.
func wrapFatalError(err error) error {
	if err == nil {
		return nil
	}
	if isFatalAPIError(err) {
		return fmt.Errorf("%w: %v", ErrFatalAPI, err)
	}
	return err
}
