package worker

import (
	"github.com/cookiesen77-rgb/claude-memory/pkg/models"
	"github.com/cookiesen77-rgb/claude-memory/pkg/similarity"
)

// clusterObservations groups near-duplicate observations and keeps one
// representative per cluster. Uses Jaccard similarity on terms drawn
// from title, narrative, facts, and touched files.
func clusterObservations(observations []*models.Observation, similarityThreshold float64) []*models.Observation {
	return similarity.ClusterObservations(observations, similarityThreshold)
}
