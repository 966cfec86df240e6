// Package metrics computes weekly engineering flow metrics over tracked
// change requests: cycle time, merge time and time to first review.
package metrics

import (
	"context"
	"time"

	"github.com/workplane/workplane/api/pkg/store"
	"github.com/workplane/workplane/api/pkg/types"
)

const DefaultTimeframeDays = 90

// ChangeRequestLister is the slice of the store the aggregator needs.
type ChangeRequestLister interface {
	ListTrackedChangeRequests(ctx context.Context, q *store.ListTrackedChangeRequestsQuery) ([]*types.TrackedChangeRequest, error)
}

type Aggregator struct {
	store ChangeRequestLister
	// now is injectable so tests can pin the clock.
	now func() time.Time
}

func NewAggregator(s ChangeRequestLister) *Aggregator {
	return &Aggregator{
		store: s,
		now:   time.Now,
	}
}

// CycleTime measures opening to completion. Open change requests count with
// a running duration up to now, so a pile-up of stale requests is visible
// before anything merges.
func (a *Aggregator) CycleTime(ctx context.Context, orgID, projectID string, timeframeDays int) (*types.MetricsResponse, error) {
	return a.aggregate(ctx, orgID, projectID, timeframeDays, func(r *types.TrackedChangeRequest, now time.Time) (time.Time, time.Time, bool) {
		return r.CreatedAt, endOrNow(r.EndedAt(), now), true
	})
}

// MergeTime measures approval to completion. Change requests that were
// never approved are excluded - there is no interval to measure.
func (a *Aggregator) MergeTime(ctx context.Context, orgID, projectID string, timeframeDays int) (*types.MetricsResponse, error) {
	return a.aggregate(ctx, orgID, projectID, timeframeDays, func(r *types.TrackedChangeRequest, now time.Time) (time.Time, time.Time, bool) {
		if r.ApprovedAt == nil {
			return time.Time{}, time.Time{}, false
		}
		return *r.ApprovedAt, endOrNow(r.EndedAt(), now), true
	})
}

// FirstReviewTime measures opening to the first review. Unreviewed requests
// run until completion, or until now while still open.
func (a *Aggregator) FirstReviewTime(ctx context.Context, orgID, projectID string, timeframeDays int) (*types.MetricsResponse, error) {
	return a.aggregate(ctx, orgID, projectID, timeframeDays, func(r *types.TrackedChangeRequest, now time.Time) (time.Time, time.Time, bool) {
		if r.FirstReviewedAt != nil {
			return r.CreatedAt, *r.FirstReviewedAt, true
		}
		return r.CreatedAt, endOrNow(r.EndedAt(), now), true
	})
}

// interval extracts the measured span from one change request; ok=false
// excludes the request from the metric.
type interval func(r *types.TrackedChangeRequest, now time.Time) (start, end time.Time, ok bool)

func (a *Aggregator) aggregate(ctx context.Context, orgID, projectID string, timeframeDays int, fn interval) (*types.MetricsResponse, error) {
	if timeframeDays <= 0 {
		timeframeDays = DefaultTimeframeDays
	}

	now := a.now().UTC()
	since := now.AddDate(0, 0, -timeframeDays)

	requests, err := a.store.ListTrackedChangeRequests(ctx, &store.ListTrackedChangeRequestsQuery{
		OrganizationID: orgID,
		ProjectID:      projectID,
		CreatedSince:   since,
	})
	if err != nil {
		return nil, err
	}

	type bucket struct {
		total time.Duration
		count int
	}
	buckets := map[time.Time]*bucket{}

	for _, r := range requests {
		start, end, ok := fn(r, now)
		if !ok || end.Before(start) {
			continue
		}

		week := weekStart(r.CreatedAt)
		b, exists := buckets[week]
		if !exists {
			b = &bucket{}
			buckets[week] = b
		}
		b.total += end.Sub(start)
		b.count++
	}

	// every week in the timeframe appears, empty ones included, so charts
	// do not skip silent weeks
	response := &types.MetricsResponse{
		TimeframeInDays: timeframeDays,
		Datapoints:      []types.WeeklyDatapoint{},
	}
	for week := weekStart(since); !week.After(weekStart(now)); week = week.AddDate(0, 0, 7) {
		point := types.WeeklyDatapoint{WeekStart: week}
		if b, exists := buckets[week]; exists {
			point.Count = b.count
			point.AverageHours = b.total.Hours() / float64(b.count)
		}
		response.Datapoints = append(response.Datapoints, point)
	}

	return response, nil
}

func endOrNow(ended *time.Time, now time.Time) time.Time {
	if ended != nil {
		return *ended
	}
	return now
}

// weekStart truncates to the preceding Monday midnight, UTC.
func weekStart(t time.Time) time.Time {
	t = t.UTC()
	day := t.Truncate(24 * time.Hour)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
