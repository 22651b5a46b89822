package supervisor

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/sensorbridge/internal/record"
)

const defaultWindowSize = 64

// Summary describes the recent readings held in memory.
type Summary struct {
	Count       int         `json:"count"`
	Temperature SeriesStats `json:"temperature"`
	Humidity    SeriesStats `json:"humidity"`
}

// SeriesStats summarises one field of the recent readings.
type SeriesStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// readingWindow is a fixed-size ring of recent accepted readings.
type readingWindow struct {
	temps  []float64
	humids []float64
	next   int
	full   bool
}

func newReadingWindow(size int) *readingWindow {
	return &readingWindow{
		temps:  make([]float64, size),
		humids: make([]float64, size),
	}
}

func (w *readingWindow) add(rec record.Record) {
	w.temps[w.next] = rec.Temperature
	w.humids[w.next] = rec.Humidity
	w.next++
	if w.next == len(w.temps) {
		w.next = 0
		w.full = true
	}
}

func (w *readingWindow) len() int {
	if w.full {
		return len(w.temps)
	}
	return w.next
}

func (w *readingWindow) summary() Summary {
	n := w.len()
	return Summary{
		Count:       n,
		Temperature: seriesStats(w.temps[:n]),
		Humidity:    seriesStats(w.humids[:n]),
	}
}

func seriesStats(x []float64) SeriesStats {
	if len(x) == 0 {
		return SeriesStats{}
	}
	s := SeriesStats{Min: floats.Min(x), Max: floats.Max(x)}
	if len(x) == 1 {
		s.Mean = x[0]
		return s
	}
	s.Mean, s.StdDev = stat.MeanStdDev(x, nil)
	return s
}
