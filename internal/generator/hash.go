package generator

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"

	"github.com/penshort/insights/internal/model"
)

const (
	// hashBins is the maximum number of bins the daily series is reduced to.
	hashBins = 7
	// hashTopN is how many top countries and links take part in the hash.
	hashTopN = 3
	// hashLength is the number of hex characters kept from the digest.
	hashLength = 16
)

// hashInputs is the reduced projection of metrics that decides the insight set.
// Field order is fixed by the struct, so the JSON encoding is deterministic.
type hashInputs struct {
	TotalClicks    int64          `json:"tc"`
	TotalLinks     int64          `json:"tl"`
	ActiveLinks    int64          `json:"al"`
	PreviousClicks int64          `json:"pc"`
	TopCountries   []countryInput `json:"co"`
	TopLinkClicks  []int64        `json:"lk"`
	DailyBins      []int64        `json:"db"`
}

type countryInput struct {
	Code   string `json:"c"`
	Clicks int64  `json:"n"`
}

// CalculateInputsHash returns a 16-hex-char digest of the metrics that drive
// insight generation. The daily series is downsampled to at most seven bins of
// rounded means, so day-level noise inside a bin does not change the hash.
func CalculateInputsHash(m *model.AggregatedMetrics) string {
	if m == nil {
		m = &model.AggregatedMetrics{}
	}

	in := hashInputs{
		TotalClicks:    m.TotalClicks,
		TotalLinks:     m.TotalLinks,
		ActiveLinks:    m.ActiveLinks,
		PreviousClicks: m.PreviousPeriod.TotalClicks,
		TopCountries:   make([]countryInput, 0, hashTopN),
		TopLinkClicks:  make([]int64, 0, hashTopN),
		DailyBins:      downsample(m.DailyClicks, hashBins),
	}
	for i, c := range m.TopCountries {
		if i == hashTopN {
			break
		}
		in.TopCountries = append(in.TopCountries, countryInput{Code: c.Key, Clicks: c.Clicks})
	}
	for i, l := range m.TopLinks {
		if i == hashTopN {
			break
		}
		in.TopLinkClicks = append(in.TopLinkClicks, l.Clicks)
	}

	// Marshal cannot fail for this fixed shape.
	data, _ := json.Marshal(in)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:hashLength]
}

// downsample splits the series into at most bins contiguous chunks of equal
// size (the last may be shorter) and returns each chunk's rounded mean.
func downsample(daily []model.DailyClicks, bins int) []int64 {
	n := len(daily)
	if n == 0 {
		return []int64{}
	}

	size := (n + bins - 1) / bins
	out := make([]int64, 0, bins)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}

		var sum int64
		for _, d := range daily[start:end] {
			sum += d.Clicks
		}
		out = append(out, int64(math.Round(float64(sum)/float64(end-start))))
	}
	return out
}
