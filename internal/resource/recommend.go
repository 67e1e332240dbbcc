package resource

import "sort"

// Recommend derives prioritized optimization recommendations from a
// metrics snapshot and device profile. Pure function.
func Recommend(m Metrics, profile DeviceProfile, lowBatteryThreshold int) []Recommendation {
	var recs []Recommendation

	switch m.MemoryPressure {
	case PressureCritical:
		recs = append(recs, Recommendation{
			Type:           RecTrimMemory,
			Priority:       PriorityCritical,
			Description:    "memory pressure critical, trim caches now",
			AutoApplicable: true,
		})
	case PressureHigh:
		recs = append(recs, Recommendation{
			Type:           RecTrimMemory,
			Priority:       PriorityHigh,
			Description:    "memory pressure high, trim caches",
			AutoApplicable: true,
		})
	}

	if m.BatteryLevel < lowBatteryThreshold && !m.BatteryCharging {
		recs = append(recs,
			Recommendation{
				Type:           RecReducePolling,
				Priority:       PriorityHigh,
				Description:    "battery low and discharging, reduce polling frequency",
				AutoApplicable: true,
			},
			Recommendation{
				Type:           RecDeferSync,
				Priority:       PriorityMedium,
				Description:    "battery low and discharging, defer background sync",
				AutoApplicable: true,
			},
		)
	}

	if m.Thermal.throttled() {
		recs = append(recs,
			Recommendation{
				Type:           RecReducePolling,
				Priority:       PriorityCritical,
				Description:    "thermal throttling, reduce connection frequency",
				AutoApplicable: true,
			},
			Recommendation{
				Type:           RecDisableAggressive,
				Priority:       PriorityHigh,
				Description:    "thermal throttling, disable nonessential features",
				AutoApplicable: false,
			},
		)
	}

	if m.CPULoad >= 85 {
		recs = append(recs, Recommendation{
			Type:           RecCloseIdle,
			Priority:       PriorityMedium,
			Description:    "sustained high CPU load, close idle connections",
			AutoApplicable: true,
		})
	}

	if profile.NetworkCapability == TierBasic && m.ConnectionImpact > 10 {
		recs = append(recs, Recommendation{
			Type:           RecReducePolling,
			Priority:       PriorityLow,
			Description:    "basic network tier with high connection impact",
			AutoApplicable: true,
		})
	}

	// Same-type duplicates collapse to the most urgent instance.
	byType := make(map[RecommendationType]Recommendation)
	for _, r := range recs {
		if prev, ok := byType[r.Type]; !ok || priorityRank(r.Priority) < priorityRank(prev.Priority) {
			byType[r.Type] = r
		}
	}
	out := make([]Recommendation, 0, len(byType))
	for _, r := range byType {
		out = append(out, r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if a, b := priorityRank(out[i].Priority), priorityRank(out[j].Priority); a != b {
			return a < b
		}
		return out[i].Type < out[j].Type
	})
	return out
}
