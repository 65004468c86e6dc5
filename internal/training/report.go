package training

// FeatureUsage maps a feature-type label to the number of split nodes using
// that type across an ensemble. A derived view for operator diagnostics,
// recomputed on demand and never persisted.
type FeatureUsage map[string]int

// CountFeatureUsage walks every tree's split nodes and tallies occurrences
// per feature type. Read-only and safe to call repeatedly.
func CountFeatureUsage(e *Ensemble) FeatureUsage {
	usage := make(FeatureUsage)
	for _, tree := range e.Trees {
		for featureType, count := range tree.CountFeatures() {
			usage[featureType] += count
		}
	}
	return usage
}
