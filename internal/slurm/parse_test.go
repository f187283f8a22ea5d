package slurm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSubmitOutput(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		out     string
		want    string
		wantErr bool
	}{
		{"standard", "Submitted batch job 123456", "123456", false},
		{"trailing newline", "Submitted batch job 42\n", "42", false},
		{"parsable with cluster", "98765;berzelius", "98765", false},
		{"empty", "   ", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSubmitOutput(tt.out)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseQueueOutput(t *testing.T) {
	t.Parallel()

	info, ok, err := ParseQueueOutput("RUNNING|1:02:03\n")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, QueueInfo{State: StateRunning, Elapsed: "1:02:03"}, info)

	_, ok, err = ParseQueueOutput("")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = ParseQueueOutput("garbage")
	assert.Error(t, err)
}

func TestParseAccountingOutput(t *testing.T) {
	t.Parallel()

	withHeader := "JobID|Elapsed|CPUTime|State|ExitCode\n555.batch|06:59:58|1-03:59:52|COMPLETED|0:0\n"
	acct, ok, err := ParseAccountingOutput(withHeader)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "555.batch", acct.JobID)
	assert.Equal(t, "06:59:58", acct.Elapsed)
	assert.Equal(t, "1-03:59:52", acct.CPUTime)
	assert.Equal(t, StateCompleted, acct.State)
	assert.False(t, acct.Failed())

	acct, ok, err = ParseAccountingOutput("556.batch|00:10:00|00:40:00|FAILED|1:0")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, acct.Failed())

	_, ok, err = ParseAccountingOutput("JobID|Elapsed|CPUTime|State|ExitCode\n")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = ParseAccountingOutput("557.batch|00:10:00")
	assert.Error(t, err)
}

func TestParseGPUOutput(t *testing.T) {
	t.Parallel()
	usage, err := ParseGPUOutput("87\n 40 \n\n")
	require.NoError(t, err)
	assert.Equal(t, "87%, 40%", usage)

	usage, err = ParseGPUOutput("")
	require.NoError(t, err)
	assert.Empty(t, usage)

	_, err = ParseGPUOutput("No devices were found")
	assert.Error(t, err)
}
