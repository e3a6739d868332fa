// Package main implements the event-gen CLI tool for producing sample
// EventBridge envelopes, bypassing the event bus.
//
// The tool is intended for local development and operational debugging: it
// prints one envelope in the exact shape the notifier Lambda receives, so
// its output pipes straight into the local runner.
//
// Usage:
//
//	go run ./cmd/tools/event-gen --type=LeaseApproved
//	go run ./cmd/tools/event-gen --type=LeaseDenied --email=pat.kim@example.gov.uk
//	go run ./cmd/tools/event-gen --type=LeaseApproved | APP_ENV=local go run ./cmd/notifier
//	go run ./cmd/tools/event-gen --list
//
// Generated identifiers (envelope id, lease uuid) are fresh on every run;
// everything else is a fixed sample value unless overridden by a flag.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"sandboxnotify/internal/types"
)

// eventDescriptions is the exhaustive set of detail-type values the notifier
// accepts, with one-line operator descriptions for --list. Maintained in
// sync with the constants in internal/types/enums.go.
var eventDescriptions = map[types.EventType]string{
	types.EventLeaseRequested:              "A user asked for a sandbox lease (operator chat only)",
	types.EventLeaseApproved:               "An operator approved a lease and an account was bound",
	types.EventLeaseDenied:                 "An operator denied a lease request",
	types.EventLeaseTerminated:             "A lease was terminated before its natural expiry",
	types.EventLeaseBudgetExceeded:         "A lease crossed its hard budget cap",
	types.EventLeaseExpired:                "A lease reached the end of its term",
	types.EventLeaseFrozen:                 "A lease was frozen pending review",
	types.EventLeaseBudgetThresholdAlert:   "Legacy budget monitor threshold crossing",
	types.EventLeaseDurationThresholdAlert: "Legacy duration monitor threshold crossing",
	types.EventLeaseFreezeThresholdAlert:   "Legacy freeze monitor threshold crossing",
	types.EventCostReportReady:             "A periodic cost report finished rendering (operator chat only)",
}

// Fixed sample values. Overridable via flags where a flag exists.
const (
	defaultEmail    = "jane.doe@example.gov.uk"
	defaultAccount  = "111122223333"
	defaultApprover = "sam.lee@example.gov.uk"
	defaultRegion   = "us-east-1"
)

func main() {
	typeFlag := flag.String("type", "", "Event type to generate (e.g., LeaseApproved)")
	emailFlag := flag.String("email", defaultEmail, "Lease holder email")
	accountFlag := flag.String("account", defaultAccount, "12-digit sandbox account id")
	sourceFlag := flag.String("source", "", "Envelope source (defaults per event type)")
	listFlag := flag.Bool("list", false, "List all known event types and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: event-gen [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Generate a sample EventBridge envelope for the notifier.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nUse --list to see all known event types.\n")
	}

	flag.Parse()

	if *listFlag {
		printEventTypes()
		return
	}

	if *typeFlag == "" {
		fmt.Fprintf(os.Stderr, "error: --type is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	eventType, ok := types.ParseEventType(*typeFlag)
	if !ok {
		fmt.Fprintf(os.Stderr, "error: unknown event type %q\n\n", *typeFlag)
		printEventTypes()
		os.Exit(1)
	}

	evt, err := sampleEvent(eventType, *emailFlag, *accountFlag, *sourceFlag, time.Now().UTC())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(evt, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: marshal envelope: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

// sampleEvent builds one envelope in the Lambda runtime's EventBridge shape.
// The detail payload satisfies the validator's schema for the event type.
func sampleEvent(eventType types.EventType, email, account, source string, now time.Time) (events.CloudWatchEvent, error) {
	detail, err := sampleDetail(eventType, email, account, now)
	if err != nil {
		return events.CloudWatchEvent{}, err
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return events.CloudWatchEvent{}, fmt.Errorf("marshal detail: %w", err)
	}

	if source == "" {
		source = "sandbox.leases"
		if eventType == types.EventCostReportReady {
			source = "sandbox.reports"
		}
	}

	return events.CloudWatchEvent{
		Version:    "0",
		ID:         uuid.NewString(),
		DetailType: string(eventType),
		Source:     source,
		AccountID:  account,
		Time:       now,
		Region:     defaultRegion,
		Resources:  []string{},
		Detail:     raw,
	}, nil
}

// sampleDetail builds the producer-side detail payload for one event type.
// Payloads are maps rather than the pipeline's typed structs because the
// pass-through types carry fields no struct declares.
func sampleDetail(eventType types.EventType, email, account string, now time.Time) (map[string]any, error) {
	leaseUUID := uuid.NewString()

	switch eventType {
	case types.EventLeaseRequested:
		return map[string]any{
			"userEmail":              email,
			"uuid":                   leaseUUID,
			"requestedDurationHours": 720,
			"maxSpend":               50,
			"leaseTemplateName":      "standard-sandbox",
			"comments":               "Evaluating the new ingestion pipeline.",
		}, nil
	case types.EventLeaseApproved:
		return map[string]any{
			"userEmail":  email,
			"uuid":       leaseUUID,
			"accountId":  account,
			"approvedBy": defaultApprover,
			"maxSpend":   50,
			"expiresAt":  now.Add(30 * 24 * time.Hour).Format(time.RFC3339),
		}, nil
	case types.EventLeaseDenied:
		return map[string]any{
			"userEmail":  email,
			"uuid":       leaseUUID,
			"deniedBy":   defaultApprover,
			"reasonCode": "budget_unavailable",
		}, nil
	case types.EventLeaseTerminated:
		return map[string]any{
			"userEmail":  email,
			"uuid":       leaseUUID,
			"accountId":  account,
			"reasonCode": "manual_termination",
		}, nil
	case types.EventLeaseBudgetExceeded:
		return map[string]any{
			"userEmail":  email,
			"uuid":       leaseUUID,
			"accountId":  account,
			"budgetUsed": 62.5,
			"maxSpend":   50,
		}, nil
	case types.EventLeaseExpired:
		return map[string]any{
			"userEmail": email,
			"uuid":      leaseUUID,
			"accountId": account,
			"expiredAt": now.Format(time.RFC3339),
		}, nil
	case types.EventLeaseFrozen:
		return map[string]any{
			"userEmail":  email,
			"uuid":       leaseUUID,
			"accountId":  account,
			"reasonCode": "budget_review",
		}, nil
	case types.EventLeaseBudgetThresholdAlert:
		return map[string]any{
			"userEmail":  email,
			"uuid":       leaseUUID,
			"threshold":  75,
			"budgetUsed": 37.5,
			"maxSpend":   50,
		}, nil
	case types.EventLeaseDurationThresholdAlert:
		return map[string]any{
			"userEmail": email,
			"uuid":      leaseUUID,
			"threshold": 75,
			"expiresAt": now.Add(7 * 24 * time.Hour).Format(time.RFC3339),
		}, nil
	case types.EventLeaseFreezeThresholdAlert:
		return map[string]any{
			"userEmail": email,
			"uuid":      leaseUUID,
			"threshold": 90,
			"reason":    "inactivity",
		}, nil
	case types.EventCostReportReady:
		return map[string]any{
			"reportId":    fmt.Sprintf("cost-report-%s", now.Format("2006-01")),
			"periodStart": now.AddDate(0, -1, 0).Format(time.RFC3339),
			"periodEnd":   now.Format(time.RFC3339),
			"reportUrl":   "https://reports.example.gov.uk/cost/latest",
		}, nil
	default:
		return nil, fmt.Errorf("no sample payload for event type %q", eventType)
	}
}

// printEventTypes prints the known event types in catalogue order.
func printEventTypes() {
	fmt.Println("Known event types:")
	fmt.Println()

	names := make([]string, 0, len(eventDescriptions))
	for t := range eventDescriptions {
		names = append(names, string(t))
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Printf("  %-30s %s\n", name, eventDescriptions[types.EventType(name)])
	}
	fmt.Println()
	fmt.Println("Example: go run ./cmd/tools/event-gen --type=LeaseApproved | APP_ENV=local go run ./cmd/notifier")
}
