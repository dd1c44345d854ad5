package backend

import (
	"papelflow/internal/config"
	"papelflow/internal/events"
	"papelflow/internal/services"
)

// Services is the application layer built on one backend.
type Services struct {
	Ledger    *services.LedgerService
	Scheduler *services.Scheduler
	Reminders *services.ReminderGate
	Insights  *services.InsightsService
}

// NewServices wires the services over res. Insights sees every ledger event
// before the outbound publisher so its cache is invalidated first.
func NewServices(res *BackendResult, cfg *config.Config) Services {
	insights := services.NewInsightsService(res.Store, cfg.CacheSize, cfg.CacheTTL)
	publisher := events.Multi{insights, res.Publisher}

	ledger := services.NewLedgerService(res.Store, publisher)
	return Services{
		Ledger: ledger,
		Scheduler: services.NewScheduler(res.Store, ledger, publisher, services.SchedulerConfig{
			ClaimTTL:      cfg.SchedulerClaimTTL,
			MaxCatchUp:    cfg.SchedulerMaxCatchUp,
			RetentionDays: cfg.MaterializationRetain,
		}),
		Reminders: services.NewReminderGate(res.Store, publisher, services.ReminderConfig{
			WindowDays:    cfg.ReminderWindowDays,
			RetentionDays: cfg.ReminderRetain,
		}),
		Insights: insights,
	}
}

// NotificationPermission maps the notifications switch to a reminder
// permission.
func NotificationPermission(cfg *config.Config) services.Permission {
	if cfg.NotificationsEnabled {
		return services.Granted
	}
	return services.Denied
}
