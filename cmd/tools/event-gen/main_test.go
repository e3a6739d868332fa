package main

import (
	"testing"
	"time"

	"sandboxnotify/internal/event"
	"sandboxnotify/internal/types"
)

// Every generated sample must survive the pipeline's own validator, so the
// generator can never drift from the detail schemas.
func TestSampleEvent_PassesValidation(t *testing.T) {
	validator := event.NewValidator([]string{"sandbox.leases", "sandbox.reports"})
	now := time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)

	for _, eventType := range types.EventTypes() {
		evt, err := sampleEvent(eventType, defaultEmail, defaultAccount, "", now)
		if err != nil {
			t.Fatalf("%s: sampleEvent: %v", eventType, err)
		}

		env := types.EventEnvelope{
			ID:         evt.ID,
			DetailType: evt.DetailType,
			Source:     evt.Source,
			Time:       evt.Time,
			Account:    evt.AccountID,
			Detail:     evt.Detail,
		}
		validated, err := validator.Validate(env)
		if err != nil {
			t.Errorf("%s: generated sample fails validation: %v", eventType, err)
			continue
		}
		if validated.Type != eventType {
			t.Errorf("%s: validated as %s", eventType, validated.Type)
		}
	}
}

func TestSampleEvent_SourceDefaults(t *testing.T) {
	now := time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)

	lease, err := sampleEvent(types.EventLeaseApproved, defaultEmail, defaultAccount, "", now)
	if err != nil {
		t.Fatal(err)
	}
	if lease.Source != "sandbox.leases" {
		t.Errorf("lease event source = %q, want sandbox.leases", lease.Source)
	}

	report, err := sampleEvent(types.EventCostReportReady, defaultEmail, defaultAccount, "", now)
	if err != nil {
		t.Fatal(err)
	}
	if report.Source != "sandbox.reports" {
		t.Errorf("report event source = %q, want sandbox.reports", report.Source)
	}

	overridden, err := sampleEvent(types.EventLeaseApproved, defaultEmail, defaultAccount, "sandbox.staging", now)
	if err != nil {
		t.Fatal(err)
	}
	if overridden.Source != "sandbox.staging" {
		t.Errorf("source = %q, want the override", overridden.Source)
	}
}

func TestEventDescriptions_CoverEveryType(t *testing.T) {
	for _, eventType := range types.EventTypes() {
		if _, ok := eventDescriptions[eventType]; !ok {
			t.Errorf("no description for %s", eventType)
		}
	}
	if len(eventDescriptions) != len(types.EventTypes()) {
		t.Errorf("descriptions has %d entries, catalogue has %d", len(eventDescriptions), len(types.EventTypes()))
	}
}
