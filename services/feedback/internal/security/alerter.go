// Package security counts failed authentication events and flags bursts.
package security

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var alertCounterScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

const (
	EventSignUp     = "feedback.signup"
	EventVerifyCode = "feedback.verify_code"
	EventSignIn     = "feedback.signin"

	OutcomeSuccess     = "success"
	OutcomeFail        = "fail"
	OutcomeRateLimited = "rate_limited"
)

// AlertResult contains alert evaluation output.
type AlertResult struct {
	Triggered bool
	Count     int64
	Threshold int64
	Window    time.Duration
}

// AuditAlerter aggregates security events per subject in Redis windows.
type AuditAlerter struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewAuditAlerter(client *redis.Client, prefix string) (*AuditAlerter, error) {
	if client == nil {
		return nil, errors.New("alerter requires a redis client")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "truefeedback:alerts"
	}
	return &AuditAlerter{client: client, prefix: prefix, now: time.Now}, nil
}

// Observe records an event for subject (an IP or a username) and reports
// whether the rule's threshold was reached in the current window.
func (a *AuditAlerter) Observe(ctx context.Context, event, outcome, subject string) (AlertResult, error) {
	result := AlertResult{}
	if a == nil {
		return result, nil
	}
	threshold, window, ok := alertRule(event, outcome)
	if !ok {
		return result, nil
	}
	windowMs := window.Milliseconds()
	slot := a.now().UTC().UnixMilli() / windowMs
	key := fmt.Sprintf("%s:%s:%s:%s:%d", a.prefix, sanitizeSegment(event), sanitizeSegment(outcome), sanitizeSegment(subject), slot)
	count, err := alertCounterScript.Run(ctx, a.client, []string{key}, windowMs).Int64()
	if err != nil {
		return result, err
	}
	result.Count = count
	result.Threshold = threshold
	result.Window = window
	result.Triggered = count >= threshold
	return result, nil
}

// Verification codes are short, so failed attempts per username alert early.
func alertRule(event, outcome string) (threshold int64, window time.Duration, ok bool) {
	if outcome == OutcomeRateLimited {
		return 20, time.Minute, true
	}
	if outcome != OutcomeFail {
		return 0, 0, false
	}
	switch event {
	case EventVerifyCode:
		return 5, 15 * time.Minute, true
	case EventSignIn:
		return 10, 5 * time.Minute, true
	case EventSignUp:
		return 20, 5 * time.Minute, true
	default:
		return 0, 0, false
	}
}

func sanitizeSegment(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}
	return strings.NewReplacer(":", "_", "|", "_", " ", "_").Replace(in)
}
