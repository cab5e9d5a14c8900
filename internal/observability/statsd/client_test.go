package statsd

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanName(t *testing.T) {
	tests := map[string]string{
		"  catalogue.jobs  ":     "catalogue.jobs",
		"..job..transition.":     "job.transition",
		"provider/attempt count": "provider_attempt_count",
		"items:created":          "items_created",
		".":                      "",
	}
	for in, want := range tests {
		assert.Equal(t, want, cleanName(in), "cleanName(%q)", in)
	}
}

func TestEncode(t *testing.T) {
	c := &Client{
		prefix: "catalogue",
		global: cleanTags(map[string]string{"env": "prod", " service ": " worker "}),
	}

	tests := []struct {
		name  string
		value string
		kind  string
		tags  map[string]string
		want  string
	}{
		{
			name: "job.transition", value: "1", kind: "c",
			tags: map[string]string{"status": "failed", "env": "stage"},
			want: "catalogue.job.transition:1|c|#env:stage,service:worker,status:failed",
		},
		{
			name: "provider.latency", value: "12.5", kind: "ms",
			tags: map[string]string{"provider": "runway|gen3", "": "dropped"},
			want: "catalogue.provider.latency:12.5|ms|#env:prod,provider:runway_gen3,service:worker",
		},
		{
			name: "queue.depth", value: "3", kind: "g",
			want: "catalogue.queue.depth:3|g|#env:prod,service:worker",
		},
		{name: "  ", value: "1", kind: "c", want: ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.encode(tt.name, tt.value, tt.kind, tt.tags))
	}

	bare := &Client{}
	assert.Equal(t, "items.created:2|c|#flag", bare.encode("items.created", "2", "c", map[string]string{"flag": ""}))
}

func TestEncodeDoesNotMutateGlobalTags(t *testing.T) {
	c := &Client{global: map[string]string{"env": "prod"}}
	c.encode("m", "1", "c", map[string]string{"env": "dev"})
	assert.Equal(t, "prod", c.global["env"])
}

func TestDisabledClientIsNoop(t *testing.T) {
	c, err := NewClient(Config{Enabled: false, Address: "127.0.0.1:8125"})
	require.NoError(t, err)
	assert.False(t, c.Enabled())
	c.Count("anything", 1, nil)
	require.NoError(t, c.Close())

	var nilClient *Client
	assert.False(t, nilClient.Enabled())
	nilClient.Timing("x", time.Second, nil)
	assert.Zero(t, nilClient.Dropped())
	require.NoError(t, nilClient.Close())
}

func TestClientSendsDatagrams(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	c, err := NewClient(Config{
		Enabled:    true,
		Address:    pc.LocalAddr().String(),
		Prefix:     "catalogue.",
		GlobalTags: map[string]string{"env": "test"},
	})
	require.NoError(t, err)
	require.True(t, c.Enabled())

	read := func() string {
		t.Helper()
		buf := make([]byte, 1024)
		require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
		n, _, readErr := pc.ReadFrom(buf)
		require.NoError(t, readErr)
		return string(buf[:n])
	}

	c.Count("job.transition", 1, map[string]string{"status": "completed"})
	assert.Equal(t, "catalogue.job.transition:1|c|#env:test,status:completed", read())

	c.Gauge("queue.depth", 4, nil)
	assert.Equal(t, "catalogue.queue.depth:4|g|#env:test", read())

	c.Timing("job.duration", 1500*time.Microsecond, nil)
	assert.Equal(t, "catalogue.job.duration:1.5|ms|#env:test", read())

	require.NoError(t, c.Close())
	assert.False(t, c.Enabled())
	c.Count("after.close", 1, nil)
}
