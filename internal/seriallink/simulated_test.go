package seriallink

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatedOpener_RotatesLines(t *testing.T) {
	open := NewSimulatedOpener([]string{"1,2\n", "3,4\n"}, time.Millisecond)
	r := NewReader(Config{Path: "sim", ReadWindow: time.Second, PollInterval: 10 * time.Millisecond}, open, nil)

	var got []string
	for i := 0; i < 3; i++ {
		port, err := r.Open(context.Background())
		require.NoError(t, err)
		frame, err := r.ReadFrame(context.Background(), port)
		require.NoError(t, err)
		require.NoError(t, port.Close())
		got = append(got, string(frame))
	}
	assert.Equal(t, []string{"1,2\n", "3,4\n", "1,2\n"}, got)
}

func TestSimulatedPort_ClosedReadFails(t *testing.T) {
	open := NewSimulatedOpener(nil, time.Millisecond)
	port, err := open("sim", PortOptions{})
	require.NoError(t, err)
	require.NoError(t, port.Close())

	_, err = port.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrPortClosed)
}
