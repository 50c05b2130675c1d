package providers

import "time"

// ProviderType distinguishes the official support desk from partner companies.
type ProviderType string

const (
	// TypeCompany is a partner company handling conversations in its specialty.
	TypeCompany ProviderType = "company"
	// TypeOfficialSupport is the default support desk and fallback target.
	TypeOfficialSupport ProviderType = "official_support"
)

// WorkingHours is the declared schedule of a provider. It is informational:
// the registry never toggles availability from it, an external heartbeat does.
type WorkingHours struct {
	StartLocal int            `json:"start_local"` // hour 0-23 in the provider's timezone
	EndLocal   int            `json:"end_local"`   // hour 0-23, may be before StartLocal (overnight shift)
	Timezone   string         `json:"timezone"`
	DaysOfWeek []time.Weekday `json:"days_of_week"`
}

// ProviderAvailability is the registry's view of a single provider.
//
// Available is set by the provider side through the heartbeat feed and is
// read-only to the engine. CurrentLoad is mutated only through
// Registry.RecordLoadDelta when conversations open, transfer, or close.
type ProviderAvailability struct {
	ProviderID             string       `json:"provider_id"`
	ProviderType           ProviderType `json:"provider_type"`
	Available              bool         `json:"available"`
	CurrentLoad            int          `json:"current_load"`
	MaxCapacity            int          `json:"max_capacity"`
	AverageResponseMinutes int          `json:"average_response_minutes"`
	Specialties            []string     `json:"specialties"`
	WorkingHours           WorkingHours `json:"working_hours"`
}
