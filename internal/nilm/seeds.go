package nilm

// SeedProfiles returns the starter catalogue of common household
// appliances. Inserted on first run; learning reshapes them from there.
func SeedProfiles() []ApplianceProfile {
	return []ApplianceProfile{
		{Name: "Washing Machine", TypicalPower: 400, TypicalDuration: 60, PowerVariance: 150, MinPower: 200, MaxPower: 800, StartupPattern: "motor_start", ShutdownPattern: "gradual_off", PFRangeLow: 0.70, PFRangeHigh: 0.85, FrequencySig: 50.0},
		{Name: "Microwave", TypicalPower: 1100, TypicalDuration: 5, PowerVariance: 200, MinPower: 800, MaxPower: 1500, StartupPattern: "instant_on", ShutdownPattern: "instant_off", PFRangeLow: 0.80, PFRangeHigh: 0.90, FrequencySig: 50.0},
		{Name: "Coffee Maker", TypicalPower: 900, TypicalDuration: 8, PowerVariance: 150, MinPower: 600, MaxPower: 1200, StartupPattern: "heating_cycle", ShutdownPattern: "instant_off", PFRangeLow: 0.95, PFRangeHigh: 0.99, FrequencySig: 50.0},
		{Name: "Toaster", TypicalPower: 1300, TypicalDuration: 4, PowerVariance: 200, MinPower: 1000, MaxPower: 1500, StartupPattern: "instant_on", ShutdownPattern: "instant_off", PFRangeLow: 0.95, PFRangeHigh: 0.99, FrequencySig: 50.0},
		{Name: "Dishwasher", TypicalPower: 1400, TypicalDuration: 120, PowerVariance: 300, MinPower: 800, MaxPower: 2000, StartupPattern: "motor_pump", ShutdownPattern: "gradual_off", PFRangeLow: 0.75, PFRangeHigh: 0.90, FrequencySig: 50.0},
		{Name: "Air Conditioner", TypicalPower: 1800, TypicalDuration: 60, PowerVariance: 400, MinPower: 1200, MaxPower: 2500, StartupPattern: "compressor_start", ShutdownPattern: "gradual_off", PFRangeLow: 0.80, PFRangeHigh: 0.95, FrequencySig: 50.0},
		{Name: "Hair Dryer", TypicalPower: 1200, TypicalDuration: 10, PowerVariance: 200, MinPower: 800, MaxPower: 1600, StartupPattern: "instant_on", ShutdownPattern: "instant_off", PFRangeLow: 0.95, PFRangeHigh: 0.99, FrequencySig: 50.0},
		{Name: "Electric Kettle", TypicalPower: 1500, TypicalDuration: 5, PowerVariance: 200, MinPower: 1200, MaxPower: 1800, StartupPattern: "instant_on", ShutdownPattern: "instant_off", PFRangeLow: 0.95, PFRangeHigh: 0.99, FrequencySig: 50.0},
		{Name: "Vacuum Cleaner", TypicalPower: 1000, TypicalDuration: 15, PowerVariance: 200, MinPower: 600, MaxPower: 1400, StartupPattern: "motor_start", ShutdownPattern: "instant_off", PFRangeLow: 0.75, PFRangeHigh: 0.90, FrequencySig: 50.0},
	}
}
