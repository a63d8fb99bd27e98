package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/yourorg/valetgate/internal/domain"
	"github.com/yourorg/valetgate/internal/observability/metrics"
	"golang.org/x/sync/errgroup"
)

// ReportCache stores serialized report payloads with a TTL. Redis is the
// primary implementation; an in-memory cache serves as fallback.
type ReportCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// DayMovement is one calendar day in a multi-day breakdown
type DayMovement struct {
	Date    string `json:"date"`
	Entries int    `json:"entries"`
	Exits   int    `json:"exits"`
}

// DailyMovementReport aggregates movement for a single date or a range
type DailyMovementReport struct {
	StartDate          string        `json:"start_date"`
	EndDate            string        `json:"end_date"`
	TotalEntries       int           `json:"total_entries"`
	TotalExits         int           `json:"total_exits"`
	CurrentlyParked    int           `json:"currently_parked"`
	DistinctVehicles   int           `json:"distinct_vehicles"`
	AvgDurationMinutes int           `json:"avg_duration_minutes"`
	HourlyEntries      [24]int       `json:"hourly_entries"`
	PeakHour           *int          `json:"peak_hour"`
	Days               []DayMovement `json:"days,omitempty"`
}

// PeakBucket is one label in a peak-hours report. TotalMovements counts
// entries only; exits are carried for display.
type PeakBucket struct {
	Label          string `json:"label"`
	Entries        int    `json:"entries"`
	Exits          int    `json:"exits"`
	TotalMovements int    `json:"total_movements"`
}

// PeakHoursReport groups movement into hour, day, month or year buckets
type PeakHoursReport struct {
	GroupBy      string       `json:"group_by"`
	StartDate    string       `json:"start_date,omitempty"`
	EndDate      string       `json:"end_date,omitempty"`
	Data         []PeakBucket `json:"data"`
	HighestPeak  *PeakBucket  `json:"highest_peak"`
	AvgMovements int          `json:"avg_movements"`
}

// PeakHoursQuery selects the window and granularity of a peak-hours report
type PeakHoursQuery struct {
	GroupBy   string
	Days      int
	AllTime   bool
	StartDate string
	EndDate   string
}

// VehicleReportEntry is one entry row with its computed duration
type VehicleReportEntry struct {
	ID              string     `json:"id"`
	Plate           string     `json:"plate"`
	Model           string     `json:"model,omitempty"`
	Color           string     `json:"color,omitempty"`
	ClientName      string     `json:"client_name,omitempty"`
	SpotNumber      string     `json:"spot_number,omitempty"`
	Status          string     `json:"status"`
	EntryTime       time.Time  `json:"entry_time"`
	ExitTime        *time.Time `json:"exit_time,omitempty"`
	DurationMinutes *int       `json:"duration_minutes"`
}

// VehicleReport lists recent entries for a range with duration aggregates
type VehicleReport struct {
	StartDate          string               `json:"start_date"`
	EndDate            string               `json:"end_date"`
	Count              int                  `json:"count"`
	AvgDurationMinutes int                  `json:"avg_duration_minutes"`
	MinDurationMinutes int                  `json:"min_duration_minutes"`
	MaxDurationMinutes int                  `json:"max_duration_minutes"`
	Vehicles           []VehicleReportEntry `json:"vehicles"`
}

// ParkedVehicle is one currently-parked record with elapsed time
type ParkedVehicle struct {
	ID          string    `json:"id"`
	Plate       string    `json:"plate"`
	Model       string    `json:"model,omitempty"`
	Color       string    `json:"color,omitempty"`
	ClientName  string    `json:"client_name,omitempty"`
	SpotNumber  string    `json:"spot_number,omitempty"`
	EntryTime   time.Time `json:"entry_time"`
	ElapsedTime string    `json:"elapsed_time"` // "{hours}h {minutes}m"
}

// ParkedSnapshot is the live view of all currently-parked vehicles
type ParkedSnapshot struct {
	Count    int             `json:"count"`
	Vehicles []ParkedVehicle `json:"vehicles"`
}

const maxVehicleReportRows = 100

// ReportService computes tenant-scoped, time-bucketed reports over the
// vehicle entry history. All bucketing uses the configured calendar
// timezone, never UTC components.
type ReportService struct {
	entries  domain.EntryRepository
	cache    ReportCache
	loc      *time.Location
	cacheTTL time.Duration
	logger   *slog.Logger
}

// NewReportService creates a new report service
func NewReportService(entries domain.EntryRepository, cache ReportCache, loc *time.Location, cacheTTL time.Duration, logger *slog.Logger) *ReportService {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.Local
	}
	return &ReportService{
		entries:  entries,
		cache:    cache,
		loc:      loc,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

// DailyMovement aggregates entry/exit counts for a date or a range. Dates
// that fail to parse fall back to today rather than erroring.
func (s *ReportService) DailyMovement(ctx context.Context, tenantID, date, startDate, endDate string) (*DailyMovementReport, error) {
	if tenantID == "" {
		return nil, domain.E(domain.CodeForbidden, "not associated with a tenant")
	}

	start := time.Now()
	defer func() { metrics.ObserveReport("daily_movement", time.Since(start)) }()

	var fromDay, toDay time.Time
	if startDate != "" || endDate != "" {
		fromDay = s.parseDate(startDate)
		toDay = s.parseDate(endDate)
	} else {
		fromDay = s.parseDate(date)
		toDay = fromDay
	}
	if toDay.Before(fromDay) {
		fromDay, toDay = toDay, fromDay
	}
	from, to := fromDay, toDay.AddDate(0, 0, 1)

	cacheKey := fmt.Sprintf("report:daily:%s:%s:%s", tenantID, fromDay.Format("2006-01-02"), toDay.Format("2006-01-02"))
	report := &DailyMovementReport{}
	if s.lookupCache(ctx, cacheKey, report) {
		return report, nil
	}

	var (
		entryList, exitList []*domain.VehicleEntry
		parked, distinct    int
	)

	// Disjoint reads, issued concurrently and joined before composing the
	// response.
	var g errgroup.Group
	g.Go(func() error {
		var err error
		entryList, err = s.entries.EntriesBetween(tenantID, from, to)
		return err
	})
	g.Go(func() error {
		var err error
		exitList, err = s.entries.ExitsBetween(tenantID, from, to)
		return err
	})
	g.Go(func() error {
		var err error
		parked, err = s.entries.CountParked(tenantID)
		return err
	})
	g.Go(func() error {
		var err error
		distinct, err = s.entries.CountDistinctPlates(tenantID, from, to)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, domain.Internal(err)
	}

	report = &DailyMovementReport{
		StartDate:        fromDay.Format("2006-01-02"),
		EndDate:          toDay.Format("2006-01-02"),
		TotalEntries:     len(entryList),
		TotalExits:       len(exitList),
		CurrentlyParked:  parked,
		DistinctVehicles: distinct,
	}

	for _, e := range entryList {
		report.HourlyEntries[e.EntryTime.In(s.loc).Hour()]++
	}
	report.PeakHour = peakHourOf(report.HourlyEntries, len(entryList))
	report.AvgDurationMinutes = avgParkingMinutes(exitList, from)

	if !fromDay.Equal(toDay) {
		report.Days = s.dailyBreakdown(entryList, exitList, fromDay, toDay)
	}

	s.storeCache(ctx, cacheKey, report)
	return report, nil
}

// peakHourOf returns the hour with the most entries, ties broken by the
// first hour in ascending order. Nil when there were no entries at all.
func peakHourOf(hourly [24]int, total int) *int {
	if total == 0 {
		return nil
	}
	peak := 0
	for h := 1; h < 24; h++ {
		if hourly[h] > hourly[peak] {
			peak = h
		}
	}
	return &peak
}

// avgParkingMinutes averages the parked duration of records whose entry and
// exit both fall inside the window.
func avgParkingMinutes(exits []*domain.VehicleEntry, from time.Time) int {
	var sum float64
	var n int
	for _, e := range exits {
		if e.ExitTime == nil || e.EntryTime.Before(from) {
			continue
		}
		sum += e.ExitTime.Sub(e.EntryTime).Minutes()
		n++
	}
	if n == 0 {
		return 0
	}
	return int(math.Round(sum / float64(n)))
}

func (s *ReportService) dailyBreakdown(entryList, exitList []*domain.VehicleEntry, fromDay, toDay time.Time) []DayMovement {
	entriesPerDay := map[string]int{}
	exitsPerDay := map[string]int{}
	for _, e := range entryList {
		entriesPerDay[e.EntryTime.In(s.loc).Format("2006-01-02")]++
	}
	for _, e := range exitList {
		if e.ExitTime != nil {
			exitsPerDay[e.ExitTime.In(s.loc).Format("2006-01-02")]++
		}
	}

	var days []DayMovement
	for d := fromDay; !d.After(toDay); d = d.AddDate(0, 0, 1) {
		label := d.Format("2006-01-02")
		days = append(days, DayMovement{
			Date:    label,
			Entries: entriesPerDay[label],
			Exits:   exitsPerDay[label],
		})
	}
	return days
}

// PeakHours groups movement into labels by hour, day, month or year. The
// window defaults to the trailing N days ending today; all_time spans from
// the tenant's first to last entry and yields an empty result when the
// tenant has no history.
func (s *ReportService) PeakHours(ctx context.Context, tenantID string, q PeakHoursQuery) (*PeakHoursReport, error) {
	if tenantID == "" {
		return nil, domain.E(domain.CodeForbidden, "not associated with a tenant")
	}

	started := time.Now()
	defer func() { metrics.ObserveReport("peak_hours", time.Since(started)) }()

	groupBy := q.GroupBy
	switch groupBy {
	case "hour", "day", "month", "year":
	case "":
		groupBy = "hour"
	default:
		return nil, domain.Ef(domain.CodeValidation, "invalid group_by %q", groupBy)
	}

	var from, to time.Time
	switch {
	case q.AllTime:
		first, last, err := s.entries.EntryTimeBounds(tenantID)
		if err != nil {
			return nil, domain.Internal(err)
		}
		if first == nil || last == nil {
			return &PeakHoursReport{GroupBy: groupBy, Data: []PeakBucket{}, HighestPeak: nil, AvgMovements: 0}, nil
		}
		from = s.startOfDay(*first)
		to = s.startOfDay(*last).AddDate(0, 0, 1)
	case q.StartDate != "" || q.EndDate != "":
		fromDay := s.parseDate(q.StartDate)
		toDay := s.parseDate(q.EndDate)
		if toDay.Before(fromDay) {
			fromDay, toDay = toDay, fromDay
		}
		from, to = fromDay, toDay.AddDate(0, 0, 1)
	default:
		days := q.Days
		if days <= 0 {
			days = 7
		}
		today := s.startOfDay(time.Now())
		from = today.AddDate(0, 0, -(days - 1))
		to = today.AddDate(0, 0, 1)
	}

	cacheKey := fmt.Sprintf("report:peak:%s:%s:%s:%s", tenantID, groupBy, from.Format("2006-01-02"), to.Format("2006-01-02"))
	report := &PeakHoursReport{}
	if s.lookupCache(ctx, cacheKey, report) {
		return report, nil
	}

	var entryList, exitList []*domain.VehicleEntry
	var g errgroup.Group
	g.Go(func() error {
		var err error
		entryList, err = s.entries.EntriesBetween(tenantID, from, to)
		return err
	})
	g.Go(func() error {
		var err error
		exitList, err = s.entries.ExitsBetween(tenantID, from, to)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, domain.Internal(err)
	}

	entryCounts := map[string]int{}
	exitCounts := map[string]int{}
	for _, e := range entryList {
		entryCounts[s.bucketLabel(e.EntryTime, groupBy)]++
	}
	for _, e := range exitList {
		if e.ExitTime != nil {
			exitCounts[s.bucketLabel(*e.ExitTime, groupBy)]++
		}
	}

	labels := unionLabels(entryCounts, exitCounts)
	sortLabels(labels, groupBy)

	data := make([]PeakBucket, 0, len(labels))
	for _, label := range labels {
		data = append(data, PeakBucket{
			Label:          label,
			Entries:        entryCounts[label],
			Exits:          exitCounts[label],
			TotalMovements: entryCounts[label],
		})
	}

	report = &PeakHoursReport{
		GroupBy:   groupBy,
		StartDate: from.Format("2006-01-02"),
		EndDate:   to.AddDate(0, 0, -1).Format("2006-01-02"),
		Data:      data,
	}
	if len(data) > 0 {
		peak := 0
		var sum int
		for i, b := range data {
			sum += b.TotalMovements
			if b.TotalMovements > data[peak].TotalMovements {
				peak = i
			}
		}
		report.HighestPeak = &data[peak]
		report.AvgMovements = int(math.Round(float64(sum) / float64(len(data))))
	}

	s.storeCache(ctx, cacheKey, report)
	return report, nil
}

// bucketLabel derives the grouping label from the local calendar components
// of the timestamp.
func (s *ReportService) bucketLabel(t time.Time, groupBy string) string {
	local := t.In(s.loc)
	switch groupBy {
	case "hour":
		return strconv.Itoa(local.Hour())
	case "day":
		return local.Format("2006-01-02")
	case "month":
		return local.Format("2006-01")
	default:
		return local.Format("2006")
	}
}

func unionLabels(a, b map[string]int) []string {
	seen := make(map[string]bool, len(a)+len(b))
	labels := make([]string, 0, len(a)+len(b))
	for label := range a {
		seen[label] = true
		labels = append(labels, label)
	}
	for label := range b {
		if !seen[label] {
			labels = append(labels, label)
		}
	}
	return labels
}

// sortLabels orders hour and year labels numerically; day and month labels
// are zero-padded so plain lexicographic order is already chronological.
func sortLabels(labels []string, groupBy string) {
	if groupBy == "hour" || groupBy == "year" {
		sort.Slice(labels, func(i, j int) bool {
			a, _ := strconv.Atoi(labels[i])
			b, _ := strconv.Atoi(labels[j])
			return a < b
		})
		return
	}
	sort.Strings(labels)
}

// Vehicles lists up to 100 most recent entries in a range with per-entry and
// aggregate durations.
func (s *ReportService) Vehicles(ctx context.Context, tenantID, startDate, endDate string) (*VehicleReport, error) {
	if tenantID == "" {
		return nil, domain.E(domain.CodeForbidden, "not associated with a tenant")
	}

	started := time.Now()
	defer func() { metrics.ObserveReport("vehicles", time.Since(started)) }()

	fromDay := s.parseDate(startDate)
	toDay := s.parseDate(endDate)
	if toDay.Before(fromDay) {
		fromDay, toDay = toDay, fromDay
	}
	from, to := fromDay, toDay.AddDate(0, 0, 1)

	cacheKey := fmt.Sprintf("report:vehicles:%s:%s:%s", tenantID, fromDay.Format("2006-01-02"), toDay.Format("2006-01-02"))
	report := &VehicleReport{}
	if s.lookupCache(ctx, cacheKey, report) {
		return report, nil
	}

	var recent, exited []*domain.VehicleEntry
	var g errgroup.Group
	g.Go(func() error {
		var err error
		recent, err = s.entries.RecentEntries(tenantID, from, to, maxVehicleReportRows)
		return err
	})
	g.Go(func() error {
		var err error
		exited, err = s.entries.ExitsBetween(tenantID, from, to)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, domain.Internal(err)
	}

	vehicles := make([]VehicleReportEntry, 0, len(recent))
	for _, e := range recent {
		row := VehicleReportEntry{
			ID:         e.ID,
			Plate:      e.Plate,
			Model:      e.Model,
			Color:      e.Color,
			ClientName: e.ClientName,
			SpotNumber: e.SpotNumber,
			Status:     string(e.Status),
			EntryTime:  e.EntryTime,
			ExitTime:   e.ExitTime,
		}
		if e.ExitTime != nil {
			minutes := int(math.Round(e.ExitTime.Sub(e.EntryTime).Minutes()))
			row.DurationMinutes = &minutes
		}
		vehicles = append(vehicles, row)
	}

	report = &VehicleReport{
		StartDate: fromDay.Format("2006-01-02"),
		EndDate:   toDay.Format("2006-01-02"),
		Count:     len(vehicles),
		Vehicles:  vehicles,
	}

	var sum, n int
	for _, e := range exited {
		if e.ExitTime == nil {
			continue
		}
		minutes := int(math.Round(e.ExitTime.Sub(e.EntryTime).Minutes()))
		sum += minutes
		n++
		if n == 1 || minutes < report.MinDurationMinutes {
			report.MinDurationMinutes = minutes
		}
		if minutes > report.MaxDurationMinutes {
			report.MaxDurationMinutes = minutes
		}
	}
	if n > 0 {
		report.AvgDurationMinutes = int(math.Round(float64(sum) / float64(n)))
	}

	s.storeCache(ctx, cacheKey, report)
	return report, nil
}

// Parked returns the live snapshot of currently-parked vehicles. Not range
// scoped and never cached.
func (s *ReportService) Parked(tenantID string) (*ParkedSnapshot, error) {
	if tenantID == "" {
		return nil, domain.E(domain.CodeForbidden, "not associated with a tenant")
	}

	started := time.Now()
	defer func() { metrics.ObserveReport("parked", time.Since(started)) }()

	parked, err := s.entries.ListParked(tenantID)
	if err != nil {
		return nil, domain.Internal(err)
	}

	now := time.Now()
	vehicles := make([]ParkedVehicle, 0, len(parked))
	for _, e := range parked {
		elapsed := now.Sub(e.EntryTime)
		hours := int(elapsed.Hours())
		minutes := int(elapsed.Minutes()) % 60
		vehicles = append(vehicles, ParkedVehicle{
			ID:          e.ID,
			Plate:       e.Plate,
			Model:       e.Model,
			Color:       e.Color,
			ClientName:  e.ClientName,
			SpotNumber:  e.SpotNumber,
			EntryTime:   e.EntryTime,
			ElapsedTime: fmt.Sprintf("%dh %dm", hours, minutes),
		})
	}
	return &ParkedSnapshot{Count: len(vehicles), Vehicles: vehicles}, nil
}

// parseDate parses a YYYY-MM-DD date in the report timezone. Malformed or
// empty input falls back to today.
func (s *ReportService) parseDate(value string) time.Time {
	if value != "" {
		if t, err := time.ParseInLocation("2006-01-02", value, s.loc); err == nil {
			return t
		}
		s.logger.Debug("unparseable date, using today", slog.String("value", value))
	}
	return s.startOfDay(time.Now())
}

func (s *ReportService) startOfDay(t time.Time) time.Time {
	local := t.In(s.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
}

func (s *ReportService) lookupCache(ctx context.Context, key string, out any) bool {
	if s.cache == nil {
		return false
	}
	raw, ok := s.cache.Get(ctx, key)
	if !ok {
		metrics.ObserveReportCache("miss")
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		s.logger.Warn("failed to decode cached report", slog.String("key", key))
		metrics.ObserveReportCache("miss")
		return false
	}
	metrics.ObserveReportCache("hit")
	return true
}

func (s *ReportService) storeCache(ctx context.Context, key string, report any) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return
	}
	raw, err := json.Marshal(report)
	if err != nil {
		return
	}
	s.cache.Set(ctx, key, raw, s.cacheTTL)
}
