package enums

// OutboxAggregateType is stored in outbox_events.aggregate_type. Every points
// event today hangs off a user.
type OutboxAggregateType string

const AggregateUser OutboxAggregateType = "user"

var aggregateTypes = set[OutboxAggregateType]{AggregateUser}

func (a OutboxAggregateType) IsValid() bool { return aggregateTypes.has(a) }

func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return aggregateTypes.parse("aggregate type", value)
}

// OutboxEventType is stored in outbox_events.event_type and sent as the
// event_type message attribute.
type OutboxEventType string

const (
	EventPointsAwarded   OutboxEventType = "points_awarded"
	EventReferralApplied OutboxEventType = "referral_applied"
	EventBalanceRepaired OutboxEventType = "balance_repaired"
)

var outboxEventTypes = set[OutboxEventType]{
	EventPointsAwarded,
	EventReferralApplied,
	EventBalanceRepaired,
}

func (e OutboxEventType) IsValid() bool { return outboxEventTypes.has(e) }

// OutboxEventTypes returns every event type the outbox can carry.
func OutboxEventTypes() []OutboxEventType {
	return outboxEventTypes.values()
}

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return outboxEventTypes.parse("event type", value)
}
