package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarizeEmpty(t *testing.T) {
	report := summarize(nil, nil)
	assert.Zero(t, report.TotalSold)
	assert.Zero(t, report.TotalEarnings)
	assert.Zero(t, report.MeanAmount)
}

func TestSummarizeAggregates(t *testing.T) {
	amounts := []float64{0.5, 1.0, 1.5, 2.0}
	durations := []float64{30, 60, 90, 600}

	report := summarize(amounts, durations)

	assert.Equal(t, 4, report.TotalSold)
	assert.InDelta(t, 5.0, report.TotalEarnings, 1e-9)
	assert.InDelta(t, 1.25, report.MeanAmount, 1e-9)
	assert.InDelta(t, 195, report.MeanDurationSeconds, 1e-9)
	assert.InDelta(t, 60, report.MedianDurationSeconds, 1e-9)
	assert.InDelta(t, 600, report.P90DurationSeconds, 1e-9)
}

func TestSummarizeAmountsWithoutDurations(t *testing.T) {
	report := summarize([]float64{0.75}, nil)
	assert.Equal(t, 1, report.TotalSold)
	assert.InDelta(t, 0.75, report.MeanAmount, 1e-9)
	assert.Zero(t, report.MedianDurationSeconds)
}
