package tenant

// PlanConfig defines rate-limit and default quota values for a subscription tier.
// Values here are configuration data, not logic: changing a tier means editing
// this table only.
type PlanConfig struct {
	Plan             Plan
	RateLimitPerHour int
	MaxUsers         int64
	StorageMB        int64
	APICallsPerMonth int64
	Databases        int64
}

// Plans is the hardcoded plan catalogue.
var Plans = map[Plan]PlanConfig{
	PlanFree: {
		Plan:             PlanFree,
		RateLimitPerHour: 100,
		MaxUsers:         5,
		StorageMB:        1024,
		APICallsPerMonth: 1000,
		Databases:        1,
	},
	PlanStarter: {
		Plan:             PlanStarter,
		RateLimitPerHour: 1000,
		MaxUsers:         25,
		StorageMB:        10240,
		APICallsPerMonth: 10000,
		Databases:        5,
	},
	PlanProfessional: {
		Plan:             PlanProfessional,
		RateLimitPerHour: 10000,
		MaxUsers:         100,
		StorageMB:        102400,
		APICallsPerMonth: 100000,
		Databases:        25,
	},
	PlanEnterprise: {
		Plan:             PlanEnterprise,
		RateLimitPerHour: 100000,
		MaxUsers:         1000,
		StorageMB:        1048576,
		APICallsPerMonth: 1000000,
		Databases:        100,
	},
	// Custom starts from enterprise values; per-tenant policies override them.
	PlanCustom: {
		Plan:             PlanCustom,
		RateLimitPerHour: 100000,
		MaxUsers:         1000,
		StorageMB:        1048576,
		APICallsPerMonth: 1000000,
		Databases:        100,
	},
}

// ConfigForPlan returns the plan configuration, falling back to free for
// unknown plans.
func ConfigForPlan(p Plan) PlanConfig {
	cfg, ok := Plans[p]
	if !ok {
		return Plans[PlanFree]
	}
	return cfg
}

// ValidPlan returns true if the plan name is recognised.
func ValidPlan(p Plan) bool {
	_, ok := Plans[p]
	return ok
}
