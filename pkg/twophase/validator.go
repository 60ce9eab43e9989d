package twophase

import (
	"fmt"
	"math/rand"
	"strconv"
)

// Validator decides whether a participant can commit a given operation. It
// is the Go equivalent of the original's per-service if/elif chain in
// Participant._can_commit, promoted to a registry so new services can
// register their own acceptance logic instead of extending a dispatch chain.
type Validator func(rnd *rand.Rand, operationType string, parameters map[string]string) (ok bool, reason string)

// validators maps SERVICE_NAME to its Validator, initialized here with the
// same simulated acceptance rates as the reference implementation.
var validators = map[string]Validator{
	"DriverService":       validateDriverService,
	"PaymentService":      validatePaymentService,
	"BookingService":      validateBookingService,
	"NotificationService": validateNotificationService,
	"AnalyticsService":    validateAnalyticsService,
}

// RegisterValidator installs or overrides the Validator used for a given
// service name. Intended for tests and for services not named above, which
// otherwise fall back to DefaultValidator.
func RegisterValidator(serviceName string, v Validator) {
	validators[serviceName] = v
}

// ValidatorFor returns the Validator registered for serviceName, or
// DefaultValidator if none is registered.
func ValidatorFor(serviceName string) Validator {
	if v, ok := validators[serviceName]; ok {
		return v
	}
	return DefaultValidator
}

// DefaultValidator accepts unconditionally, matching the reference
// implementation's else branch for unrecognized service names.
func DefaultValidator(rnd *rand.Rand, operationType string, parameters map[string]string) (bool, string) {
	return true, "Ready to commit"
}

func validateDriverService(rnd *rand.Rand, operationType string, parameters map[string]string) (bool, string) {
	driverID := parameters["driver_id"]
	if driverID == "" {
		return false, "No driver ID provided"
	}
	if rnd.Float64() < 0.85 {
		return true, "Driver available"
	}
	return false, "Driver not available"
}

func validatePaymentService(rnd *rand.Rand, operationType string, parameters map[string]string) (bool, string) {
	amount, err := strconv.ParseFloat(parameters["amount"], 64)
	if err != nil {
		return false, "Invalid amount format"
	}
	if amount <= 0 {
		return false, "Invalid amount"
	}
	if rnd.Float64() < 0.90 {
		return true, "Payment authorized"
	}
	return false, "Insufficient funds"
}

func validateBookingService(rnd *rand.Rand, operationType string, parameters map[string]string) (bool, string) {
	riderID := parameters["rider_id"]
	if riderID == "" {
		return false, "No rider ID provided"
	}
	if rnd.Float64() < 0.95 {
		return true, "Booking slot available"
	}
	return false, "Booking conflict"
}

func validateNotificationService(rnd *rand.Rand, operationType string, parameters map[string]string) (bool, string) {
	if rnd.Float64() < 0.98 {
		return true, "Notification ready"
	}
	return false, "Notification service unavailable"
}

func validateAnalyticsService(rnd *rand.Rand, operationType string, parameters map[string]string) (bool, string) {
	if rnd.Float64() < 0.99 {
		return true, "Analytics ready"
	}
	return false, "Analytics database unavailable"
}

// describeFailures renders a failedParticipant slice the way the coordinator
// logs its voting summary reason string.
func describeFailures(failed []failedParticipant) string {
	s := "Failed participants: ["
	for i, f := range failed {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%q", f.ParticipantID)
	}
	return s + "]"
}
