package links

import (
	"time"

	"sandboxnotify/internal/types"
)

// ForEvent assembles the link set a notification for this event carries on
// the given channel. Lease lifecycle events link to the lease; requests link
// to the approval actions; cost reports link to the report. Email always
// carries the unsigned fallback alongside whatever else was built.
func (s *Signer) ForEvent(channel types.Channel, ev *types.ValidatedEvent, now time.Time) types.LinkSet {
	if !s.Enabled() {
		return nil
	}

	set := types.LinkSet{}
	add := func(action types.Action) {
		key, ok := ev.Lease()
		if !ok {
			return
		}
		if link, built := s.Build(channel, action, key, now); built {
			set[action] = link
		}
	}

	switch ev.Type {
	case types.EventLeaseRequested:
		add(types.ActionApprove)
		add(types.ActionDeny)
	case types.EventLeaseApproved,
		types.EventLeaseBudgetExceeded,
		types.EventLeaseBudgetThresholdAlert:
		add(types.ActionView)
		add(types.ActionBudgetIncrease)
	case types.EventLeaseDenied,
		types.EventLeaseTerminated,
		types.EventLeaseExpired,
		types.EventLeaseFrozen,
		types.EventLeaseDurationThresholdAlert,
		types.EventLeaseFreezeThresholdAlert:
		add(types.ActionView)
	case types.EventCostReportReady:
		if d, ok := ev.Detail.(*types.CostReportDetail); ok {
			if link, built := s.Report(channel, d.ReportID); built {
				set[types.ActionReport] = link
			}
		}
	}

	if channel == types.ChannelEmail {
		if link, built := s.Fallback(channel); built {
			set[types.ActionFallback] = link
		}
	}

	if len(set) == 0 {
		return nil
	}
	return set
}
