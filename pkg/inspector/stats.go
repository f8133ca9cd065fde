package inspector

import "time"

// Stats aggregates settled request outcomes.
type Stats struct {
	Started       int64
	Succeeded     int64
	CacheHits     int64
	Aborted       int64
	Failed        int64
	TotalDuration time.Duration
}

// Settled returns the number of requests with a terminal report.
func (s Stats) Settled() int64 {
	return s.Succeeded + s.Aborted + s.Failed
}

// CacheHitRatio returns the share of successful requests served from cache.
func (s Stats) CacheHitRatio() float64 {
	if s.Succeeded == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(s.Succeeded)
}

// AverageDuration returns the mean duration of successful and aborted requests.
func (s Stats) AverageDuration() time.Duration {
	n := s.Succeeded + s.Aborted
	if n == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(n)
}

func (s *Stats) record(o Outcome) {
	switch o.Status {
	case StatusSuccess:
		s.Succeeded++
		if o.CacheHit {
			s.CacheHits++
		}
		s.TotalDuration += o.Duration
	case StatusAborted:
		s.Aborted++
		s.TotalDuration += o.Duration
	case StatusError:
		s.Failed++
	}
}

// Stats returns aggregate counters. Counters survive capacity trimming.
func (i *Inspector) Stats() Stats {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.stats
}
