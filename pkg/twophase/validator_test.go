package twophase

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatorFor_KnownServices(t *testing.T) {
	names := []string{"DriverService", "PaymentService", "BookingService", "NotificationService", "AnalyticsService"}
	for _, name := range names {
		assert.NotNil(t, ValidatorFor(name), name)
	}
}

func TestValidatorFor_UnknownFallsBackToDefault(t *testing.T) {
	v := ValidatorFor("SomeOtherService")
	ok, reason := v(rand.New(rand.NewSource(1)), "op", nil)
	assert.True(t, ok)
	assert.Equal(t, "Ready to commit", reason)
}

func TestValidateDriverService_RequiresDriverID(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	ok, reason := validateDriverService(rnd, "assign", map[string]string{})
	assert.False(t, ok)
	assert.Equal(t, "No driver ID provided", reason)
}

func TestValidatePaymentService_RejectsInvalidAmount(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))

	ok, reason := validatePaymentService(rnd, "charge", map[string]string{"amount": "not-a-number"})
	assert.False(t, ok)
	assert.Equal(t, "Invalid amount format", reason)

	ok, reason = validatePaymentService(rnd, "charge", map[string]string{"amount": "-5"})
	assert.False(t, ok)
	assert.Equal(t, "Invalid amount", reason)
}

func TestValidateBookingService_RequiresRiderID(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	ok, reason := validateBookingService(rnd, "book", map[string]string{})
	assert.False(t, ok)
	assert.Equal(t, "No rider ID provided", reason)
}

func TestRegisterValidator_Overrides(t *testing.T) {
	RegisterValidator("CustomService", func(rnd *rand.Rand, op string, params map[string]string) (bool, string) {
		return false, "always rejects"
	})
	defer delete(validators, "CustomService")

	ok, reason := ValidatorFor("CustomService")(rand.New(rand.NewSource(1)), "op", nil)
	assert.False(t, ok)
	assert.Equal(t, "always rejects", reason)
}
