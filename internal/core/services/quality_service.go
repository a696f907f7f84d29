package services

import (
	"time"

	"callscope/internal/core/domain"
)

const (
	minQualityScore = 1.0
	maxQualityScore = 5.0
)

// RTTPenalty lowers the quality score when the round trip time exceeds Above.
type RTTPenalty struct {
	Above   time.Duration
	Penalty float64
}

type QualityService struct {
	// penalties are ordered by descending threshold; the first match applies.
	penalties []RTTPenalty
}

func NewQualityService() *QualityService {
	return &QualityService{
		penalties: []RTTPenalty{
			{Above: 300 * time.Millisecond, Penalty: 2},
			{Above: 150 * time.Millisecond, Penalty: 1},
			{Above: 80 * time.Millisecond, Penalty: 0.5},
		},
	}
}

// Score averages the latest score of every consumer that has reported one,
// applies the RTT penalty and clamps the result to [1,5]. Without scored
// consumers the base is the neutral score.
func (qs *QualityService) Score(consumers map[domain.EndpointID]*domain.ConsumerRecord, rtt time.Duration) float64 {
	var total float64
	var count int
	for _, c := range consumers {
		latest, ok := c.Scores.Latest()
		if !ok {
			continue
		}
		total += latest.Score
		count++
	}

	score := domain.DefaultQualityScore
	if count > 0 {
		score = total / float64(count)
	}
	score -= qs.rttPenalty(rtt)

	return min(maxQualityScore, max(minQualityScore, score))
}

func (qs *QualityService) rttPenalty(rtt time.Duration) float64 {
	for _, p := range qs.penalties {
		if rtt > p.Above {
			return p.Penalty
		}
	}
	return 0
}

// Apply recomputes and stores the session's score and returns the resulting quality.
func (qs *QualityService) Apply(session *domain.CallSession) domain.ConnectionQuality {
	q := &session.Stats.ConnectionQuality
	q.Score = qs.Score(session.Consumers, q.RTT)
	return *q
}
