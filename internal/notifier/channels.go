package notifier

import (
	"fmt"

	"sandboxnotify/internal/types"
)

// channelsFor returns the delivery channels an event type addresses.
// Operators watch every event in chat; recipients are emailed only about
// events concerning their own lease. Lease requests and cost reports have
// no recipient to email.
func channelsFor(t types.EventType) ([]types.Channel, error) {
	switch t {
	case types.EventLeaseRequested, types.EventCostReportReady:
		return []types.Channel{types.ChannelChat}, nil
	case types.EventLeaseApproved,
		types.EventLeaseDenied,
		types.EventLeaseTerminated,
		types.EventLeaseBudgetExceeded,
		types.EventLeaseExpired,
		types.EventLeaseFrozen,
		types.EventLeaseBudgetThresholdAlert,
		types.EventLeaseDurationThresholdAlert,
		types.EventLeaseFreezeThresholdAlert:
		return []types.Channel{types.ChannelEmail, types.ChannelChat}, nil
	default:
		return nil, types.NewError(types.KindPermanent, types.ErrCodeInternal,
			fmt.Sprintf("no delivery channels mapped for event type %q", t), nil)
	}
}

func hasChannel(set []types.Channel, c types.Channel) bool {
	for _, have := range set {
		if have == c {
			return true
		}
	}
	return false
}
