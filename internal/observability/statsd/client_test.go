package statsd

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "jobrunner.trigger", joinName("jobrunner", "trigger"))
	assert.Equal(t, "jobrunner.job_metric", joinName("jobrunner", " job/metric "))
	assert.Equal(t, "foo.bar", joinName("", "foo..bar"))
	assert.Equal(t, "jobrunner", joinName("jobrunner", "  "))
	assert.Equal(t, "", joinName("", "."))
}

func TestRenderTags(t *testing.T) {
	t.Parallel()

	global := map[string]string{
		"env":       "prod",
		" service ": " runner ",
	}
	local := map[string]string{
		"result": " success ",
		"":       "ignored",
		"env":    "stage",
	}

	assert.Equal(t, "|#env:stage,result:success,service:runner", renderTags(global, local))
	assert.Empty(t, renderTags(nil, nil))
}

func TestTrimTagsReturnsCopy(t *testing.T) {
	t.Parallel()

	original := map[string]string{
		"env": "prod",
		"":    "ignored",
	}

	cloned := trimTags(original)
	require.NotNil(t, cloned)

	cloned["env"] = "stage"
	assert.Equal(t, "prod", original["env"], "trimTags must copy values")
	assert.NotContains(t, cloned, "")
}

func TestClientEnabledAndClose(t *testing.T) {
	t.Parallel()

	clientConn, peerConn := net.Pipe()
	defer peerConn.Close()

	client := &Client{
		enabled: true,
		conn:    clientConn,
	}

	assert.True(t, client.Enabled())
	require.NoError(t, client.Close())
	assert.False(t, client.Enabled())

	// Close is idempotent.
	require.NoError(t, client.Close())

	var nilClient *Client
	assert.False(t, nilClient.Enabled())
	require.NoError(t, nilClient.Close())
}

func TestNewClientDisabledWithoutAddress(t *testing.T) {
	t.Parallel()

	client, err := NewClient(Config{
		Enabled: true,
		Address: "   ",
	})
	require.NoError(t, err)
	assert.False(t, client.Enabled())
}

func TestNewClientDialError(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{
		Enabled: true,
		Address: "bad address",
	})
	require.ErrorContains(t, err, "statsd dial")
}

func TestCountOnDisabledClientIsNoop(t *testing.T) {
	t.Parallel()

	client, err := NewClient(Config{})
	require.NoError(t, err)

	// Must not panic without a connection.
	client.Count("trigger", 1, map[string]string{"outcome": "completed"})
	client.Gauge("due", 3, nil)
	client.Timing("tick", 0, nil)
}
