package attendant

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHeaderFooterRoundTrip is the testable property spec §8 calls out
// explicitly: a parser of the header/footer format recovers every field the
// writer wrote.
func TestHeaderFooterRoundTrip(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)

	var buf bytes.Buffer
	WriteHeader(&buf, HeaderFields{
		ProxyURL:       "https://dispatch.example.com",
		Command:        "/bin/sh render.sh",
		UID:            4010,
		GID:            20,
		LogDestination: "/shots/foo/logs/foo-bar_0001.rqlog",
		Cwd:            "/tmp/foo/bar",
		RenderHost:     "render01",
		JobID:          "job-123",
		FrameID:        "frame-456",
		Env:            map[string]string{"CUE_THREADS": "4", "jobid": "job-123"},
	}, start)

	parsedHeader, err := ParseHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, "https://dispatch.example.com", parsedHeader.ProxyURL)
	assert.Equal(t, "/bin/sh render.sh", parsedHeader.Command)
	assert.Equal(t, 4010, parsedHeader.UID)
	assert.Equal(t, 20, parsedHeader.GID)
	assert.Equal(t, "/shots/foo/logs/foo-bar_0001.rqlog", parsedHeader.LogDestination)
	assert.Equal(t, "/tmp/foo/bar", parsedHeader.Cwd)
	assert.Equal(t, "render01", parsedHeader.RenderHost)
	assert.Equal(t, "job-123", parsedHeader.JobID)
	assert.Equal(t, "frame-456", parsedHeader.FrameID)
	assert.Equal(t, "4", parsedHeader.Env["CUE_THREADS"])
	assert.Equal(t, "job-123", parsedHeader.Env["jobid"])

	buf.Reset()
	WriteFooter(&buf, FooterFields{
		ExitStatus:  0,
		ExitSignal:  0,
		KillMessage: "",
		StartTime:   start,
		EndTime:     end,
		MaxRSS:      104857600,
		UTime:       45 * time.Second,
		STime:       3 * time.Second,
		RenderHost:  "render01",
	})

	parsedFooter, err := ParseFooter(&buf)
	require.NoError(t, err)
	assert.Equal(t, int32(0), parsedFooter.ExitStatus)
	assert.Equal(t, int32(0), parsedFooter.ExitSignal)
	assert.Equal(t, int64(104857600), parsedFooter.MaxRSS)
	assert.Equal(t, 45*time.Second, parsedFooter.UTime)
	assert.Equal(t, 3*time.Second, parsedFooter.STime)
	assert.Equal(t, "render01", parsedFooter.RenderHost)
	assert.WithinDuration(t, start, parsedFooter.StartTime, time.Second)
	assert.WithinDuration(t, end, parsedFooter.EndTime, time.Second)
}

func TestHeaderFooterRoundTrip_KillMessage(t *testing.T) {
	var buf bytes.Buffer
	WriteFooter(&buf, FooterFields{
		ExitStatus:  -1,
		ExitSignal:  9,
		KillMessage: "killed by idle lock",
		StartTime:   time.Now(),
		EndTime:     time.Now(),
		RenderHost:  "render01",
	})
	parsed, err := ParseFooter(&buf)
	require.NoError(t, err)
	assert.Equal(t, "killed by idle lock", parsed.KillMessage)
	assert.Equal(t, int32(-1), parsed.ExitStatus)
	assert.Equal(t, int32(9), parsed.ExitSignal)
}
