package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuditEventCategory(t *testing.T) {
	assert.Equal(t, CategoryCompliance, EventPickupVerificationEvaluated.Category())
	assert.Equal(t, CategoryCompliance, EventPickupRecorded.Category())
	assert.Equal(t, CategoryCompliance, EventPickupAttemptsReset.Category())
	assert.Equal(t, CategorySecurity, EventRateLimiterUnavailable.Category())
	assert.Equal(t, CategorySecurity, EventVerifyThrottled.Category())
	assert.Equal(t, CategorySecurity, AuditEvent("something_new").Category())
}

func TestSecurityEventToEvent(t *testing.T) {
	ev := SecurityEvent{Subject: "s", Action: EventLedgerChainBroken, IP: "10.0.0.1", Severity: SeverityCritical}.ToEvent()
	assert.Equal(t, CategorySecurity, ev.Category)
	assert.Equal(t, "10.0.0.1", ev.ClientIP)
	assert.Equal(t, "critical", ev.Decision)
}
