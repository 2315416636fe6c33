package generator

import (
	"time"

	"github.com/penshort/insights/internal/model"
)

// Signal keys.
const (
	KeyTrafficGrowth         = "traffic_growth"
	KeyTrafficDecline        = "traffic_decline"
	KeyTrafficSpike          = "traffic_spike"
	KeyGeoConcentration      = "geo_concentration"
	KeyGeoDiversification    = "geo_diversification"
	KeyGeoEmerging           = "geo_emerging"
	KeyPerformanceHighEngage = "performance_high_engagement"
	KeyPerformanceLowEngage  = "performance_low_engagement"
	KeyPerformanceTopLink    = "performance_top_link"
	KeyTemporalPeakDay       = "temporal_peak_day"
	KeyTemporalWeekendPeak   = "temporal_weekend_peak"
	KeyTemporalWeekdayPeak   = "temporal_weekday_peak"
	KeyDeviceDominance       = "device_dominance"
	KeySourceConcentration   = "source_concentration"
	KeySourceDiversification = "source_diversification"
)

// Rule thresholds.
const (
	spikeMultiplier          = 2.0
	spikeMinDailyMean        = 10.0
	geoConcentrationShare    = 50.0
	geoDiversityShare        = 5.0
	geoDiversityMinCount     = 5
	geoEmergingShare         = 20.0
	highEngagementRate       = 100.0
	lowEngagementRate        = 5.0
	lowEngagementMinLinks    = 3
	topLinkShare             = 40.0
	temporalMinWeekClicks    = 50
	peakDayShare             = 25.0
	weekPartRatio            = 1.5
	deviceDominanceShare     = 70.0
	sourceConcentrationShare = 60.0
	sourceDiversityShare     = 10.0
	sourceDiversityMinCount  = 3
)

func (g *Generator) trafficSignals(m *model.AggregatedMetrics) []model.InsightSignal {
	var signals []model.InsightSignal
	chart := dailySeries(m.DailyClicks)

	if change, ok := percentChange(m.TotalClicks, m.PreviousPeriod.TotalClicks); ok {
		meta := map[string]any{"previous_clicks": m.PreviousPeriod.TotalClicks}
		switch {
		case change >= g.cfg.TrendThresholdPercent:
			signals = append(signals, model.InsightSignal{
				Key:         KeyTrafficGrowth,
				Type:        model.InsightPositive,
				Category:    model.CategoryTraffic,
				Priority:    90,
				MetricValue: float64(m.TotalClicks),
				MetricDelta: ptr(round1(change)),
				ChartData:   chart,
				Metadata:    meta,
			})
		case change <= -g.cfg.TrendThresholdPercent:
			signals = append(signals, model.InsightSignal{
				Key:         KeyTrafficDecline,
				Type:        model.InsightCritical,
				Category:    model.CategoryTraffic,
				Priority:    95,
				MetricValue: float64(m.TotalClicks),
				MetricDelta: ptr(round1(change)),
				ChartData:   chart,
				Metadata:    meta,
			})
		}
	}

	if spike, ok := findSpike(m.DailyClicks); ok {
		signals = append(signals, spike)
	}

	return signals
}

// findSpike reports the busiest day when it exceeds twice the daily mean and
// the mean itself is above the noise floor.
func findSpike(daily []model.DailyClicks) (model.InsightSignal, bool) {
	if len(daily) == 0 {
		return model.InsightSignal{}, false
	}

	var total int64
	peak := daily[0]
	for _, d := range daily {
		total += d.Clicks
		if d.Clicks > peak.Clicks {
			peak = d
		}
	}

	mean := float64(total) / float64(len(daily))
	if mean <= spikeMinDailyMean || float64(peak.Clicks) <= spikeMultiplier*mean {
		return model.InsightSignal{}, false
	}

	return model.InsightSignal{
		Key:         KeyTrafficSpike,
		Type:        model.InsightOpportunity,
		Category:    model.CategoryTraffic,
		Priority:    80,
		MetricValue: float64(peak.Clicks),
		MetricDelta: ptr(round1((float64(peak.Clicks) - mean) / mean * 100)),
		ChartData:   dailySeries(daily),
		Metadata: map[string]any{
			"date":          peak.Date,
			"average_daily": round1(mean),
		},
	}, true
}

func geographySignals(m *model.AggregatedMetrics) []model.InsightSignal {
	if len(m.TopCountries) == 0 || m.TotalClicks <= 0 {
		return nil
	}

	var signals []model.InsightSignal
	top := m.TopCountries[0]

	if s := share(top.Clicks, m.TotalClicks); s > geoConcentrationShare {
		signals = append(signals, model.InsightSignal{
			Key:         KeyGeoConcentration,
			Type:        model.InsightInfo,
			Category:    model.CategoryGeography,
			Priority:    60,
			MetricValue: round1(s),
			RelatedIDs:  []string{top.Key},
			Metadata:    map[string]any{"clicks": top.Clicks},
		})
	}

	var diverse []string
	for _, c := range m.TopCountries {
		if share(c.Clicks, m.TotalClicks) > geoDiversityShare {
			diverse = append(diverse, c.Key)
		}
	}
	if len(diverse) >= geoDiversityMinCount {
		signals = append(signals, model.InsightSignal{
			Key:         KeyGeoDiversification,
			Type:        model.InsightPositive,
			Category:    model.CategoryGeography,
			Priority:    70,
			MetricValue: float64(len(diverse)),
			RelatedIDs:  diverse,
			ChartData:   keyedSeries(m.TopCountries),
		})
	}

	if len(m.TopCountries) > 1 {
		second := m.TopCountries[1]
		if s := share(second.Clicks, m.TotalClicks); s > geoEmergingShare {
			signals = append(signals, model.InsightSignal{
				Key:         KeyGeoEmerging,
				Type:        model.InsightOpportunity,
				Category:    model.CategoryGeography,
				Priority:    75,
				MetricValue: round1(s),
				RelatedIDs:  []string{second.Key},
				Metadata:    map[string]any{"clicks": second.Clicks},
			})
		}
	}

	return signals
}

func performanceSignals(m *model.AggregatedMetrics) []model.InsightSignal {
	var signals []model.InsightSignal

	if m.ActiveLinks > 0 {
		rate := float64(m.TotalClicks) / float64(m.ActiveLinks)
		meta := map[string]any{"active_links": m.ActiveLinks}

		switch {
		case rate > highEngagementRate:
			signals = append(signals, model.InsightSignal{
				Key:         KeyPerformanceHighEngage,
				Type:        model.InsightPositive,
				Category:    model.CategoryPerformance,
				Priority:    85,
				MetricValue: round1(rate),
				Metadata:    meta,
			})
		case rate < lowEngagementRate && m.ActiveLinks > lowEngagementMinLinks:
			signals = append(signals, model.InsightSignal{
				Key:         KeyPerformanceLowEngage,
				Type:        model.InsightWarning,
				Category:    model.CategoryPerformance,
				Priority:    85,
				MetricValue: round1(rate),
				Metadata:    meta,
			})
		}
	}

	if len(m.TopLinks) > 0 && m.TotalClicks > 0 {
		top := m.TopLinks[0]
		if s := share(top.Clicks, m.TotalClicks); s > topLinkShare {
			signals = append(signals, model.InsightSignal{
				Key:         KeyPerformanceTopLink,
				Type:        model.InsightInfo,
				Category:    model.CategoryPerformance,
				Priority:    65,
				MetricValue: round1(s),
				RelatedIDs:  []string{top.LinkID},
				Metadata: map[string]any{
					"short_code": top.ShortCode,
					"clicks":     top.Clicks,
				},
			})
		}
	}

	return signals
}

func temporalSignals(m *model.AggregatedMetrics) []model.InsightSignal {
	dow := m.ClicksByDayOfWeek

	var weekTotal int64
	busiest := 0
	for day, clicks := range dow {
		weekTotal += clicks
		if clicks > dow[busiest] {
			busiest = day
		}
	}
	if weekTotal < temporalMinWeekClicks {
		return nil
	}

	var signals []model.InsightSignal
	chart := make([]float64, len(dow))
	for i, c := range dow {
		chart[i] = float64(c)
	}

	if s := share(dow[busiest], weekTotal); s > peakDayShare {
		signals = append(signals, model.InsightSignal{
			Key:         KeyTemporalPeakDay,
			Type:        model.InsightOpportunity,
			Category:    model.CategoryTemporal,
			Priority:    70,
			MetricValue: round1(s),
			ChartData:   chart,
			Metadata: map[string]any{
				"day_of_week": busiest,
				"day_name":    time.Weekday(busiest).String(),
			},
		})
	}

	weekdayAvg := float64(dow[1]+dow[2]+dow[3]+dow[4]+dow[5]) / 5
	weekendAvg := float64(dow[0]+dow[6]) / 2
	meta := map[string]any{
		"weekday_average": round1(weekdayAvg),
		"weekend_average": round1(weekendAvg),
	}

	switch {
	case weekendAvg > 0 && weekendAvg >= weekPartRatio*weekdayAvg:
		signals = append(signals, model.InsightSignal{
			Key:         KeyTemporalWeekendPeak,
			Type:        model.InsightInfo,
			Category:    model.CategoryTemporal,
			Priority:    65,
			MetricValue: ratio(weekendAvg, weekdayAvg),
			ChartData:   chart,
			Metadata:    meta,
		})
	case weekdayAvg > 0 && weekdayAvg >= weekPartRatio*weekendAvg:
		signals = append(signals, model.InsightSignal{
			Key:         KeyTemporalWeekdayPeak,
			Type:        model.InsightInfo,
			Category:    model.CategoryTemporal,
			Priority:    65,
			MetricValue: ratio(weekdayAvg, weekendAvg),
			ChartData:   chart,
			Metadata:    meta,
		})
	}

	return signals
}

// ratio returns a/b, or a itself when there is nothing to compare against.
func ratio(a, b float64) float64 {
	if b <= 0 {
		return round2(a)
	}
	return round2(a / b)
}

func distributionSignals(m *model.AggregatedMetrics) []model.InsightSignal {
	var signals []model.InsightSignal

	if len(m.TopDevices) > 0 {
		total := sumClicks(m.TopDevices)
		top := m.TopDevices[0]
		if s := share(top.Clicks, total); s > deviceDominanceShare {
			signals = append(signals, model.InsightSignal{
				Key:         KeyDeviceDominance,
				Type:        model.InsightInfo,
				Category:    model.CategoryDevice,
				Priority:    55,
				MetricValue: round1(s),
				RelatedIDs:  []string{top.Key},
				ChartData:   keyedSeries(m.TopDevices),
			})
		}
	}

	if len(m.TopSources) > 0 {
		total := sumClicks(m.TopSources)
		top := m.TopSources[0]
		if s := share(top.Clicks, total); s > sourceConcentrationShare {
			signals = append(signals, model.InsightSignal{
				Key:         KeySourceConcentration,
				Type:        model.InsightWarning,
				Category:    model.CategorySource,
				Priority:    60,
				MetricValue: round1(s),
				RelatedIDs:  []string{top.Key},
			})
		}

		var diverse []string
		for _, src := range m.TopSources {
			if share(src.Clicks, total) > sourceDiversityShare {
				diverse = append(diverse, src.Key)
			}
		}
		if len(diverse) >= sourceDiversityMinCount {
			signals = append(signals, model.InsightSignal{
				Key:         KeySourceDiversification,
				Type:        model.InsightPositive,
				Category:    model.CategorySource,
				Priority:    65,
				MetricValue: float64(len(diverse)),
				RelatedIDs:  diverse,
				ChartData:   keyedSeries(m.TopSources),
			})
		}
	}

	return signals
}

func dailySeries(daily []model.DailyClicks) []float64 {
	if len(daily) == 0 {
		return nil
	}
	out := make([]float64, len(daily))
	for i, d := range daily {
		out[i] = float64(d.Clicks)
	}
	return out
}

func keyedSeries(items []model.KeyedClicks) []float64 {
	out := make([]float64, len(items))
	for i, item := range items {
		out[i] = float64(item.Clicks)
	}
	return out
}
