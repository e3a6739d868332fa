// Package event implements inbound envelope validation: the gate between
// the event bus and the notification pipeline. Nothing downstream of this
// package touches raw JSON.
package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"sandboxnotify/internal/types"
)

// Validator checks envelopes and decodes event details into their typed
// representations. It is stateless apart from the allow-list and safe for
// concurrent use.
type Validator struct {
	allowedSources map[string]struct{}
	validate       *validator.Validate
}

// NewValidator builds a Validator accepting events from the given sources.
// Source matching is exact and case-sensitive.
func NewValidator(allowedSources []string) *Validator {
	allowed := make(map[string]struct{}, len(allowedSources))
	for _, s := range allowedSources {
		allowed[s] = struct{}{}
	}

	validate := validator.New()
	// Report violations by JSON field name so diagnostics match the wire
	// contract rather than Go struct naming.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Validator{
		allowedSources: allowed,
		validate:       validate,
	}
}

// Validate runs the five-step acceptance check on an envelope:
//
//  1. Envelope completeness (all six fields present).
//  2. Source allow-list. This is the single security rejection in the
//     validator: an unknown source is treated as a spoofing attempt, not as
//     malformed input.
//  3. Known detail-type.
//  4. Detail decoding. Strongly-typed events reject unknown fields;
//     pass-through events retain them, stringified, in Extra.
//  5. Field constraints via struct validation tags.
//
// Returned errors carry only field names, never field values, so they are
// safe to log verbatim.
func (v *Validator) Validate(env types.EventEnvelope) (*types.ValidatedEvent, error) {
	if err := checkEnvelope(env); err != nil {
		return nil, err
	}

	if _, ok := v.allowedSources[env.Source]; !ok {
		return nil, types.NewError(
			types.KindSecurity,
			types.ErrCodeSourceNotAllowed,
			fmt.Sprintf("source %q is not on the allow-list", env.Source),
			nil,
		).WithDetails(map[string]any{"source": env.Source})
	}

	eventType, ok := types.ParseEventType(env.DetailType)
	if !ok {
		return nil, types.NewError(
			types.KindPermanent,
			types.ErrCodeUnknownEventType,
			fmt.Sprintf("detail-type %q is not a known event type", env.DetailType),
			nil,
		).WithDetails(map[string]any{"detailType": env.DetailType})
	}

	detail, err := decodeDetail(eventType, env.Detail)
	if err != nil {
		return nil, err
	}

	if err := v.validate.Struct(detail); err != nil {
		return nil, constraintError(eventType, err)
	}

	return &types.ValidatedEvent{
		ID:      env.ID,
		Type:    eventType,
		Source:  env.Source,
		Account: env.Account,
		Time:    env.Time.UTC(),
		Detail:  detail,
	}, nil
}

// checkEnvelope verifies all six envelope fields are present. Every missing
// field is collected so the producer gets one complete diagnostic.
func checkEnvelope(env types.EventEnvelope) error {
	var missing []string
	if env.ID == "" {
		missing = append(missing, "id")
	}
	if env.DetailType == "" {
		missing = append(missing, "detail-type")
	}
	if env.Source == "" {
		missing = append(missing, "source")
	}
	if env.Time.IsZero() {
		missing = append(missing, "time")
	}
	if env.Account == "" {
		missing = append(missing, "account")
	}
	if len(env.Detail) == 0 || string(env.Detail) == "null" {
		missing = append(missing, "detail")
	}
	if len(missing) == 0 {
		return nil
	}

	return types.NewError(
		types.KindPermanent,
		types.ErrCodeEnvelopeField,
		fmt.Sprintf("envelope is missing required fields: %s", strings.Join(missing, ", ")),
		nil,
	).WithDetails(map[string]any{"fields": missing})
}

// decodeDetail turns the raw detail document into the typed representation
// for the event type.
func decodeDetail(eventType types.EventType, raw json.RawMessage) (types.EventDetail, error) {
	switch eventType {
	case types.EventLeaseRequested:
		return decodeStrict(eventType, raw, &types.LeaseRequestedDetail{})
	case types.EventLeaseApproved:
		return decodeStrict(eventType, raw, &types.LeaseApprovedDetail{})
	case types.EventLeaseDenied:
		return decodeStrict(eventType, raw, &types.LeaseDeniedDetail{})
	case types.EventLeaseTerminated:
		return decodeStrict(eventType, raw, &types.LeaseTerminatedDetail{})
	case types.EventLeaseBudgetExceeded:
		return decodeStrict(eventType, raw, &types.LeaseBudgetExceededDetail{})
	case types.EventLeaseExpired:
		return decodeStrict(eventType, raw, &types.LeaseExpiredDetail{})
	case types.EventLeaseFrozen:
		return decodeStrict(eventType, raw, &types.LeaseFrozenDetail{})
	case types.EventLeaseBudgetThresholdAlert,
		types.EventLeaseDurationThresholdAlert,
		types.EventLeaseFreezeThresholdAlert:
		return decodeThresholdAlert(eventType, raw)
	case types.EventCostReportReady:
		return decodeCostReport(eventType, raw)
	default:
		return nil, types.NewError(
			types.KindPermanent,
			types.ErrCodeUnknownEventType,
			fmt.Sprintf("no decoder for event type %q", eventType),
			nil,
		)
	}
}

// decodeStrict decodes a strongly-typed detail, rejecting unknown fields and
// trailing JSON values.
func decodeStrict(eventType types.EventType, raw json.RawMessage, dst types.EventDetail) (types.EventDetail, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return nil, mapDecodeError(eventType, err)
	}
	if dec.More() {
		return nil, schemaError(eventType, "detail must contain a single JSON object", nil)
	}
	return dst, nil
}

// passThroughObject decodes a pass-through detail into a generic map,
// rejecting non-object documents.
func passThroughObject(eventType types.EventType, raw json.RawMessage) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, mapDecodeError(eventType, err)
	}
	if fields == nil {
		return nil, schemaError(eventType, "detail must be a JSON object", nil)
	}
	return fields, nil
}

// decodeThresholdAlert decodes one of the legacy threshold alert payloads:
// the lease identity is lifted out, everything else is stringified into the
// Extra bag in producer-defined shape.
func decodeThresholdAlert(eventType types.EventType, raw json.RawMessage) (types.EventDetail, error) {
	fields, err := passThroughObject(eventType, raw)
	if err != nil {
		return nil, err
	}

	detail := &types.ThresholdAlertDetail{
		Extra: make(map[string]string),
	}
	for key, value := range fields {
		switch key {
		case "userEmail":
			detail.UserEmail, _ = value.(string)
		case "uuid":
			detail.UUID, _ = value.(string)
		default:
			detail.Extra[key] = stringifyExtra(value)
		}
	}
	return detail, nil
}

// decodeCostReport decodes a CostReportReady payload. The report id is the
// only required base field; period bounds are parsed when present and the
// remainder lands in Extra.
func decodeCostReport(eventType types.EventType, raw json.RawMessage) (types.EventDetail, error) {
	fields, err := passThroughObject(eventType, raw)
	if err != nil {
		return nil, err
	}

	detail := &types.CostReportDetail{
		Extra: make(map[string]string),
	}
	for key, value := range fields {
		switch key {
		case "reportId":
			detail.ReportID, _ = value.(string)
		case "periodStart":
			ts, perr := parseTimeField(value)
			if perr != nil {
				return nil, schemaError(eventType, "periodStart must be an RFC 3339 timestamp", perr)
			}
			detail.PeriodStart = ts
		case "periodEnd":
			ts, perr := parseTimeField(value)
			if perr != nil {
				return nil, schemaError(eventType, "periodEnd must be an RFC 3339 timestamp", perr)
			}
			detail.PeriodEnd = ts
		default:
			detail.Extra[key] = stringifyExtra(value)
		}
	}
	return detail, nil
}

// parseTimeField parses an optional RFC 3339 string field.
func parseTimeField(value any) (*time.Time, error) {
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("expected string, got %T", value)
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	ts = ts.UTC()
	return &ts, nil
}

// stringifyExtra renders an arbitrary JSON value as the string form used in
// personalization. Scalars render naturally; composites render as compact
// JSON.
func stringifyExtra(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}

// constraintError converts validator tag failures into a permanent error
// naming the offending fields (names only, PII-safe).
func constraintError(eventType types.EventType, err error) error {
	var fields []string
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			fields = append(fields, fe.Field())
		}
		sort.Strings(fields)
	}

	return types.NewError(
		types.KindPermanent,
		types.ErrCodeDetailConstraint,
		fmt.Sprintf("detail failed constraints on: %s", strings.Join(fields, ", ")),
		err,
	).WithDetails(map[string]any{
		"eventType": string(eventType),
		"fields":    fields,
	})
}

// schemaError builds the permanent error for structurally invalid details.
func schemaError(eventType types.EventType, message string, err error) error {
	return types.NewError(
		types.KindPermanent,
		types.ErrCodeDetailSchema,
		message,
		err,
	).WithDetails(map[string]any{"eventType": string(eventType)})
}

// mapDecodeError translates a json decoding failure into a structured
// permanent error. Field names are included; field values never are.
func mapDecodeError(eventType types.EventType, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return schemaError(eventType, "malformed JSON in detail", err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return types.NewError(
			types.KindPermanent,
			types.ErrCodeDetailSchema,
			fmt.Sprintf("invalid value type for field %q", typeErr.Field),
			err,
		).WithDetails(map[string]any{
			"eventType": string(eventType),
			"field":     typeErr.Field,
			"expected":  typeErr.Type.String(),
		})
	}

	if strings.HasPrefix(err.Error(), "json: unknown field") {
		field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		return types.NewError(
			types.KindPermanent,
			types.ErrCodeDetailSchema,
			fmt.Sprintf("unknown field %q in detail", field),
			err,
		).WithDetails(map[string]any{
			"eventType": string(eventType),
			"field":     field,
		})
	}

	if errors.Is(err, io.EOF) {
		return schemaError(eventType, "detail must not be empty", err)
	}

	return schemaError(eventType, "invalid JSON in detail", err)
}
