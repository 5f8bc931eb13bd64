package domain

// ObjectiveVector holds the minimized objectives of one solution. It is kept
// next to a solution and never stored inside it.
type ObjectiveVector struct {
	Power       float64 `json:"power_watts"`
	Carbon      float64 `json:"carbon_g_per_hour"`
	ActiveHosts int     `json:"active_hosts"`
	Migrations  int     `json:"migrations"`
	Cost        float64 `json:"cost_per_hour"`
}

// Values returns the vector used for dominance checks: all five objectives,
// or the {power, migrations} pair when n is 2.
func (v ObjectiveVector) Values(n int) []float64 {
	if n == 2 {
		return []float64{v.Power, float64(v.Migrations)}
	}
	return []float64{v.Power, v.Carbon, float64(v.ActiveHosts), float64(v.Migrations), v.Cost}
}
