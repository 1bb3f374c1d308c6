package models

// All lists every persisted model, in dependency order, for sqlite AutoMigrate
// in tests and local development.
func All() []any {
	return []any{
		&Resident{},
		&StoreItem{},
		&Task{},
		&ProductRequest{},
		&AuditLogEntry{},
		&WalletApplication{},
		&CheckoutRecord{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
