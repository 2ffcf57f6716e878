package enums

// OutboxDLQErrorReason explains why the publisher gave up on an outbox row.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	OutboxDLQReasonDecode       OutboxDLQErrorReason = "decode_failed"
)

var dlqReasons = set[OutboxDLQErrorReason]{
	OutboxDLQReasonMaxAttempts,
	OutboxDLQReasonNonRetryable,
	OutboxDLQReasonDecode,
}

func (r OutboxDLQErrorReason) IsValid() bool { return dlqReasons.has(r) }

func ParseOutboxDLQErrorReason(value string) (OutboxDLQErrorReason, error) {
	return dlqReasons.parse("dlq error reason", value)
}
