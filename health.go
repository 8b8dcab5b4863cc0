package ignition

// Health is the ternary readiness verdict derived from a completed run.
type Health int

const (
	// HealthUnhealthy means at least one signal did not succeed.
	HealthUnhealthy Health = iota
	// HealthDegraded means every signal succeeded but the global deadline was
	// observed along the way.
	HealthDegraded
	// HealthHealthy means every signal succeeded within the global deadline.
	HealthHealthy
)

func (h Health) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthUnhealthy:
		fallthrough
	default:
		return "unhealthy"
	}
}

// HealthOf maps an aggregate result to the ternary verdict. The mapping is
// pure: it reads the result and nothing else.
func HealthOf(res *Result) Health {
	switch {
	case res == nil || !res.Succeeded():
		return HealthUnhealthy
	case res.GlobalDeadlineObserved:
		return HealthDegraded
	default:
		return HealthHealthy
	}
}

// HealthCheck adapts a coordinator to a boolean-style probe: it reports
// healthy only when the run is terminal and fully successful. Suitable for
// wiring into process liveness/readiness plumbing.
func (c *Coordinator) HealthCheck() Health {
	res, err := c.Result()
	if err != nil {
		return HealthUnhealthy
	}
	return HealthOf(res)
}
