package models

// All lists every table the service owns, in dependency order.
func All() []any {
	return []any{
		&User{},
		&ActivityEntry{},
		&OutboxEvent{},
		&OutboxDLQ{},
		&Volunteer{},
	}
}
