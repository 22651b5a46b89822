package supervisor

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/banshee-data/sensorbridge/internal/record"
)

func TestReadingWindow_Summary(t *testing.T) {
	tests := []struct {
		name  string
		size  int
		input []record.Record
		want  Summary
	}{
		{
			name: "empty",
			size: 4,
			want: Summary{},
		},
		{
			name:  "single reading has zero spread",
			size:  4,
			input: []record.Record{{Temperature: 21, Humidity: 40}},
			want: Summary{
				Count:       1,
				Temperature: SeriesStats{Mean: 21, Min: 21, Max: 21},
				Humidity:    SeriesStats{Mean: 40, Min: 40, Max: 40},
			},
		},
		{
			name:  "sample standard deviation",
			size:  4,
			input: []record.Record{{Temperature: 20, Humidity: 50}, {Temperature: 22, Humidity: 50}},
			want: Summary{
				Count:       2,
				Temperature: SeriesStats{Mean: 21, StdDev: math.Sqrt2, Min: 20, Max: 22},
				Humidity:    SeriesStats{Mean: 50, Min: 50, Max: 50},
			},
		},
		{
			name: "oldest readings fall out of the window",
			size: 2,
			input: []record.Record{
				{Temperature: 100, Humidity: 100},
				{Temperature: 20, Humidity: 60},
				{Temperature: 22, Humidity: 60},
			},
			want: Summary{
				Count:       2,
				Temperature: SeriesStats{Mean: 21, StdDev: math.Sqrt2, Min: 20, Max: 22},
				Humidity:    SeriesStats{Mean: 60, Min: 60, Max: 60},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newReadingWindow(tt.size)
			for _, rec := range tt.input {
				w.add(rec)
			}
			if diff := cmp.Diff(tt.want, w.summary(), cmpopts.EquateApprox(0, 1e-9)); diff != "" {
				t.Errorf("summary mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
