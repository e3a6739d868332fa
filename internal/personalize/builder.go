package personalize

import (
	"fmt"
	"strings"
	"time"

	"sandboxnotify/internal/types"
)

// linkFields maps link actions to the personalization keys templates
// reference.
var linkFields = map[types.Action]string{
	types.ActionView:           "viewUrl",
	types.ActionBudgetIncrease: "budgetIncreaseUrl",
	types.ActionApprove:        "approveUrl",
	types.ActionDeny:           "denyUrl",
	types.ActionReport:         "reportUrl",
	types.ActionFallback:       "portalUrl",
}

// Builder assembles personalization maps from validated events, enrichment
// results, and built links. Build is deterministic: the same inputs always
// produce the same map.
type Builder struct {
	defaultLoc *time.Location
	logger     types.Logger
}

// NewBuilder resolves the default timezone once. An unloadable name falls
// back to UTC so that a bad deployment setting degrades formatting instead
// of dropping notifications.
func NewBuilder(defaultTimezone string, logger types.Logger) *Builder {
	loc, err := time.LoadLocation(defaultTimezone)
	if err != nil {
		logger.Warn("default timezone is not loadable, falling back to UTC",
			"timezone", defaultTimezone)
		loc = time.UTC
	}
	return &Builder{defaultLoc: loc, logger: logger}
}

// Build produces the field map for one event. It enforces the template
// contract: every required field present and non-empty, every optional field
// defaulted to "", and the internal lease status never included. A contract
// miss is Permanent and names the missing keys, never their values.
func (b *Builder) Build(ev *types.ValidatedEvent, data types.EnrichedData, links types.LinkSet, tpl types.TemplateConfig) (types.Personalization, error) {
	p := make(types.Personalization)
	loc := b.location(data.UserTimezone, ev.ID)

	switch d := ev.Detail.(type) {
	case *types.LeaseRequestedDetail:
		b.buildRequested(p, d, data)
	case *types.LeaseApprovedDetail:
		b.buildApproved(p, d, data, loc)
	case *types.LeaseDeniedDetail:
		b.buildDenied(p, d, ev.ID)
	case *types.LeaseTerminatedDetail:
		b.buildTerminated(p, d, data, ev.ID)
	case *types.LeaseBudgetExceededDetail:
		b.buildBudgetExceeded(p, d, data)
	case *types.LeaseExpiredDetail:
		b.buildExpired(p, d, data, loc)
	case *types.LeaseFrozenDetail:
		b.buildFrozen(p, d, data, ev.ID)
	case *types.ThresholdAlertDetail:
		buildAlert(p, d)
	case *types.CostReportDetail:
		buildCostReport(p, d, loc)
	}

	attachLinks(p, links)
	mergeExtras(p, ev.Detail)

	// The lease service's internal status never leaves the pipeline. The
	// builders above never set it; this also covers pass-through extras.
	delete(p, "internalStatus")

	if missing := missingRequired(p, tpl.RequiredFields); len(missing) > 0 {
		return nil, types.NewError(types.KindPermanent, types.ErrCodeMissingRequiredField,
			fmt.Sprintf("personalization for %s is missing required fields: %s",
				ev.Type, strings.Join(missing, ", ")), nil)
	}
	for _, f := range tpl.OptionalFields {
		if _, ok := p[f]; !ok {
			p[f] = ""
		}
	}

	return p, nil
}

func (b *Builder) buildRequested(p types.Personalization, d *types.LeaseRequestedDetail, data types.EnrichedData) {
	p["displayName"] = DisplayName(d.UserEmail)
	p["userEmail"] = d.UserEmail
	p["uuid"] = d.UUID
	if d.RequestedDurationHours != nil {
		p["requestedDuration"] = FormatDuration(*d.RequestedDurationHours)
	}
	if d.MaxSpend != nil {
		p["maxSpend"] = FormatCurrency(*d.MaxSpend)
	}
	if d.LeaseTemplateName != "" {
		p["leaseTemplateName"] = d.LeaseTemplateName
	} else if data.TemplateName != "" {
		p["leaseTemplateName"] = data.TemplateName
	}
	if d.Comments != "" {
		p["comments"] = d.Comments
	}
}

func (b *Builder) buildApproved(p types.Personalization, d *types.LeaseApprovedDetail, data types.EnrichedData, loc *time.Location) {
	p["displayName"] = DisplayName(d.UserEmail)
	p["userEmail"] = d.UserEmail
	p["uuid"] = d.UUID
	p["accountId"] = d.AccountID
	p["approvedBy"] = d.ApprovedBy
	switch {
	case d.ExpiresAt != nil:
		p["expiresAt"] = FormatTimestamp(*d.ExpiresAt, loc)
	case data.ExpiresAt != nil:
		p["expiresAt"] = FormatTimestamp(*data.ExpiresAt, loc)
	}
	switch {
	case d.MaxSpend != nil:
		p["maxSpend"] = FormatCurrency(*d.MaxSpend)
	case data.MaxSpend != nil:
		p["maxSpend"] = FormatCurrency(*data.MaxSpend)
	}
	setEnrichedCommon(p, data)
	if data.SSOURL != "" {
		p["ssoUrl"] = data.SSOURL
	}
}

func (b *Builder) buildDenied(p types.Personalization, d *types.LeaseDeniedDetail, eventID string) {
	p["displayName"] = DisplayName(d.UserEmail)
	p["userEmail"] = d.UserEmail
	p["uuid"] = d.UUID
	p["deniedBy"] = d.DeniedBy
	p["reason"] = b.reason(d.ReasonCode, eventID)
}

func (b *Builder) buildTerminated(p types.Personalization, d *types.LeaseTerminatedDetail, data types.EnrichedData, eventID string) {
	p["displayName"] = DisplayName(d.UserEmail)
	p["userEmail"] = d.UserEmail
	p["uuid"] = d.UUID
	p["accountId"] = d.AccountID
	p["reason"] = b.reason(d.ReasonCode, eventID)
	setEnrichedCommon(p, data)
}

func (b *Builder) buildBudgetExceeded(p types.Personalization, d *types.LeaseBudgetExceededDetail, data types.EnrichedData) {
	p["displayName"] = DisplayName(d.UserEmail)
	p["userEmail"] = d.UserEmail
	p["uuid"] = d.UUID
	p["accountId"] = d.AccountID
	if d.BudgetUsed != nil {
		p["budgetUsed"] = FormatCurrency(*d.BudgetUsed)
	}
	if d.MaxSpend != nil {
		p["maxSpend"] = FormatCurrency(*d.MaxSpend)
	}
	setEnrichedCommon(p, data)
}

func (b *Builder) buildExpired(p types.Personalization, d *types.LeaseExpiredDetail, data types.EnrichedData, loc *time.Location) {
	p["displayName"] = DisplayName(d.UserEmail)
	p["userEmail"] = d.UserEmail
	p["uuid"] = d.UUID
	p["accountId"] = d.AccountID
	switch {
	case d.ExpiredAt != nil:
		p["expiredAt"] = FormatTimestamp(*d.ExpiredAt, loc)
	case data.ExpiresAt != nil:
		p["expiredAt"] = FormatTimestamp(*data.ExpiresAt, loc)
	}
	setEnrichedCommon(p, data)
}

func (b *Builder) buildFrozen(p types.Personalization, d *types.LeaseFrozenDetail, data types.EnrichedData, eventID string) {
	p["displayName"] = DisplayName(d.UserEmail)
	p["userEmail"] = d.UserEmail
	p["uuid"] = d.UUID
	p["accountId"] = d.AccountID
	p["reason"] = b.reason(d.ReasonCode, eventID)
	setEnrichedCommon(p, data)
}

func buildAlert(p types.Personalization, d *types.ThresholdAlertDetail) {
	p["displayName"] = DisplayName(d.UserEmail)
	p["userEmail"] = d.UserEmail
	p["uuid"] = d.UUID
}

func buildCostReport(p types.Personalization, d *types.CostReportDetail, loc *time.Location) {
	p["reportId"] = d.ReportID
	if d.PeriodStart != nil {
		p["periodStart"] = FormatTimestamp(*d.PeriodStart, loc)
	}
	if d.PeriodEnd != nil {
		p["periodEnd"] = FormatTimestamp(*d.PeriodEnd, loc)
	}
}

// setEnrichedCommon copies the enrichment fields shared by the lease
// lifecycle builders.
func setEnrichedCommon(p types.Personalization, data types.EnrichedData) {
	if data.AccountName != "" {
		p["accountName"] = data.AccountName
	}
	if data.TemplateName != "" && p["leaseTemplateName"] == "" {
		p["leaseTemplateName"] = data.TemplateName
	}
	if data.CurrentBudgetOnRecord != nil {
		p["budgetOnRecord"] = FormatCurrency(*data.CurrentBudgetOnRecord)
	}
}

func attachLinks(p types.Personalization, links types.LinkSet) {
	for action, link := range links {
		field, ok := linkFields[action]
		if !ok || link.URL == "" {
			continue
		}
		p[field] = link.URL
	}
}

// mergeExtras copies producer pass-through fields into the map. Builder-set
// keys always win.
func mergeExtras(p types.Personalization, detail types.EventDetail) {
	var extra map[string]string
	switch d := detail.(type) {
	case *types.ThresholdAlertDetail:
		extra = d.Extra
	case *types.CostReportDetail:
		extra = d.Extra
	default:
		return
	}
	for k, v := range extra {
		if _, ok := p[k]; ok {
			continue
		}
		p[k] = v
	}
}

func missingRequired(p types.Personalization, required []string) []string {
	var missing []string
	for _, f := range required {
		if p[f] == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// location resolves the recipient's timezone, falling back to the configured
// default when the profile carries none or an unloadable name.
func (b *Builder) location(tz, eventID string) *time.Location {
	if tz == "" {
		return b.defaultLoc
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		b.logger.Warn("unknown timezone on profile, using default",
			"eventId", eventID, "timezone", tz)
		return b.defaultLoc
	}
	return loc
}

func (b *Builder) reason(code, eventID string) string {
	if code == "" {
		return genericReason
	}
	phrase, ok := reasonPhrases[code]
	if !ok {
		b.logger.Warn("unknown reason code, using generic phrase",
			"eventId", eventID, "reasonCode", code)
		return genericReason
	}
	return phrase
}
