package team

import (
	"errors"
	"strings"

	"github.com/uzulla/slagg/pkg/message"
)

// authPatterns are matched case-insensitively against an error's message
// to detect a permanent authentication failure.
var authPatterns = []string{
	"invalid_auth",
	"token_revoked",
	"account_inactive",
	"invalid_token",
	"not_authed",
	"token_expired",
	"unauthorized",
	"authentication failed",
	"invalid credentials",
}

var authCodes = map[string]bool{
	"invalid_auth":     true,
	"token_revoked":    true,
	"account_inactive": true,
}

func errDetails(err error) (msg, code string, status int) {
	msg = err.Error()
	var te *TransportError
	if errors.As(err, &te) {
		code = te.Code
		status = te.Status
	}
	return msg, code, status
}

// isAuthFailure classifies err as a permanent authentication failure:
// message contains any auth pattern (case-insensitive), or code matches
// one of the closed-set auth codes, or status is 401.
func isAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	msg, code, status := errDetails(err)
	lower := strings.ToLower(msg)

	for _, p := range authPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	if authCodes[code] {
		return true
	}
	if status == 401 || strings.Contains(msg, "401") {
		return true
	}
	return false
}

// classifyChannelError maps a per-channel subscription or lookup failure
// onto the closed set of skip reasons.
func classifyChannelError(err error) message.SkipReason {
	msg, code, status := errDetails(err)
	lower := strings.ToLower(msg)

	switch {
	case code == "channel_not_found" || strings.Contains(lower, "channel_not_found") || strings.Contains(lower, "not_found"):
		return message.ReasonNotFound
	case code == "not_in_channel" || strings.Contains(lower, "not_in_channel") || strings.Contains(lower, "not_a_member"):
		return message.ReasonNotAMember
	case code == "access_denied" || strings.Contains(lower, "access_denied") || strings.Contains(lower, "missing_scope"):
		return message.ReasonAccessDenied
	case code == "ratelimited" || strings.Contains(lower, "ratelimited") || strings.Contains(lower, "rate_limited") || status == 429:
		return message.ReasonRateLimited
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded") || strings.Contains(lower, "context deadline"):
		return message.ReasonNetworkTimeout
	case code == "permission_denied" || strings.Contains(lower, "permission_denied") || strings.Contains(lower, "forbidden") || status == 403:
		return message.ReasonPermissionDenied
	case status >= 500:
		return message.ReasonAPIError
	default:
		return message.ReasonUnknown
	}
}
