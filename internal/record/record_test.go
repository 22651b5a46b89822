package record

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name    string
		raw     []byte
		want    CleanLine
		wantErr error
	}{
		{name: "well formed", raw: []byte("23.5,61.2\n"), want: "23.5,61.2"},
		{name: "crlf", raw: []byte("23.5,61.2\r\n"), want: "23.5,61.2"},
		{name: "noise characters", raw: []byte("T:23.5C, H:61.2%\n"), want: "23.5,61.2"},
		{name: "negative", raw: []byte("-4.0,80\n"), want: "-4.0,80"},
		{name: "invalid utf8 dropped", raw: []byte("2\xff3.5,6\xc31.2\n"), want: "23.5,61.2"},
		{name: "a few nulls", raw: []byte("\x00\x0023.5,61.2\n"), want: "23.5,61.2"},
		{name: "only noise", raw: []byte("hello\n"), want: ""},
		{name: "empty", raw: nil, wantErr: ErrEmpty},
		{name: "nulls", raw: append(bytes.Repeat([]byte{0}, 9), '\n'), wantErr: ErrNullDominated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Clean(tt.raw)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClean_NullRatioBoundary(t *testing.T) {
	// exactly 80% is tolerated, the limit is strict
	raw := append(bytes.Repeat([]byte{0}, 8), '1', ',')
	_, err := Clean(raw)
	assert.NoError(t, err)

	raw = append(bytes.Repeat([]byte{0}, 9), '\n')
	_, err = Clean(raw)
	assert.ErrorIs(t, err, ErrNullDominated)
}

func TestClean_NullDominatedRegardlessOfContent(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		n := 1 + rng.Intn(200)
		raw := make([]byte, n)
		rng.Read(raw)
		nulls := 0
		for j := range raw {
			if rng.Float64() < 0.9 {
				raw[j] = 0
			}
			if raw[j] == 0 {
				nulls++
			}
		}
		if float64(nulls) <= 0.8*float64(n) {
			continue
		}
		_, err := Clean(raw)
		require.ErrorIsf(t, err, ErrNullDominated, "frame %q", raw)
	}
}

func TestClean_Idempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	alphabet := []byte("0123456789.,-")
	for i := 0; i < 500; i++ {
		line := make([]byte, 1+rng.Intn(32))
		for j := range line {
			line[j] = alphabet[rng.Intn(len(alphabet))]
		}
		got, err := Clean(line)
		require.NoError(t, err)
		require.Equal(t, CleanLine(line), got)

		again, err := Clean([]byte(got))
		require.NoError(t, err)
		require.Equal(t, got, again)
	}
}

func TestNullRatio(t *testing.T) {
	assert.Equal(t, 0.0, NullRatio(nil))
	assert.Equal(t, 0.5, NullRatio([]byte{0, 'a'}))
	assert.Equal(t, 1.0, NullRatio([]byte{0, 0, 0}))
}

func TestParse(t *testing.T) {
	got, err := Parse("23.5,61.2")
	require.NoError(t, err)
	assert.Equal(t, Record{Temperature: 23.5, Humidity: 61.2}, got)

	got, err = Parse("-4,100")
	require.NoError(t, err)
	assert.Equal(t, Record{Temperature: -4, Humidity: 100}, got)
}

func TestParse_Rejections(t *testing.T) {
	tests := []struct {
		line    CleanLine
		wantErr error
	}{
		{"23.5", ErrMalformed},
		{"", ErrMalformed},
		{"1,2,3", ErrMalformed},
		{",,", ErrMalformed},
		{"23.5,", ErrNonNumeric},
		{",61.2", ErrNonNumeric},
		{"2-3,61", ErrNonNumeric},
		{"23.5,6.1.2", ErrNonNumeric},
		{".,-", ErrNonNumeric},
	}
	for _, tt := range tests {
		t.Run(string(tt.line), func(t *testing.T) {
			_, err := Parse(tt.line)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParse_NeverAcceptsWrongFieldCount(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	alphabet := []byte("0123456789.,-")
	for i := 0; i < 1000; i++ {
		line := make([]byte, rng.Intn(24))
		for j := range line {
			line[j] = alphabet[rng.Intn(len(alphabet))]
		}
		rec, err := Parse(CleanLine(line))
		if bytes.Count(line, []byte(",")) != 1 {
			require.Errorf(t, err, "line %q parsed as %+v", line, rec)
			require.True(t, errors.Is(err, ErrMalformed))
			continue
		}
		if err != nil {
			require.True(t, errors.Is(err, ErrNonNumeric), "line %q: %v", line, err)
		}
	}
}

// Scenario A and C from the sensor protocol: a good frame and a single
// token frame.
func TestCleanThenParse(t *testing.T) {
	line, err := Clean([]byte("23.5,61.2\n"))
	require.NoError(t, err)
	assert.Equal(t, CleanLine("23.5,61.2"), line)
	rec, err := Parse(line)
	require.NoError(t, err)
	assert.Equal(t, Record{Temperature: 23.5, Humidity: 61.2}, rec)

	line, err = Clean([]byte("23.5\n"))
	require.NoError(t, err)
	_, err = Parse(line)
	assert.ErrorIs(t, err, ErrMalformed)
}
