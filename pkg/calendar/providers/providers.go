package providers

import (
	"log/slog"

	"github.com/venkytv/calendar-alarms/pkg/calendar"
	"github.com/venkytv/calendar-alarms/pkg/calendar/caldav"
	"github.com/venkytv/calendar-alarms/pkg/calendar/ical"
)

// InitializeBuiltinProviders registers the built-in feed providers
func InitializeBuiltinProviders(factory *calendar.DefaultProviderFactory) {
	factory.RegisterProvider("caldav", func(logger *slog.Logger) calendar.Provider {
		return caldav.NewSimpleProvider(logger)
	})
	factory.RegisterProvider("ical", func(logger *slog.Logger) calendar.Provider {
		return ical.NewProvider(logger)
	})
}
