package hoststate

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jross/cumin-go/internal/runerrors"
)

func TestNewTableStartsEveryHostPending(t *testing.T) {
	table := NewTable([]string{"host1", "host2"})
	assert.Equal(t, Pending, table.State("host1"))
	assert.Equal(t, Pending, table.State("host2"))
	assert.Equal(t, Pending, table.State("unknown-host"))
}

func TestAllowedTransitions(t *testing.T) {
	table := NewTable([]string{"host1"})

	require.NoError(t, table.Transition("host1", Scheduled))
	assert.Equal(t, Scheduled, table.State("host1"))

	require.NoError(t, table.Transition("host1", Running))
	assert.Equal(t, Running, table.State("host1"))

	require.NoError(t, table.Transition("host1", Success))
	assert.Equal(t, Success, table.State("host1"))

	require.NoError(t, table.Transition("host1", Pending), "success -> pending resets for the next command")
}

func TestDirectPendingToRunningIsAllowed(t *testing.T) {
	table := NewTable([]string{"host1"})
	require.NoError(t, table.Transition("host1", Running))
}

func TestIllegalTransitionsRejected(t *testing.T) {
	table := NewTable([]string{"host1"})

	err := table.Transition("host1", Success)
	require.Error(t, err)
	var transErr *runerrors.TransitionError
	assert.ErrorAs(t, err, &transErr)

	require.NoError(t, table.Transition("host1", Running))
	require.NoError(t, table.Transition("host1", Failed))

	err = table.Transition("host1", Pending)
	require.Error(t, err, "failed is terminal: no transitions out")

	err = table.Transition("host1", Success)
	require.Error(t, err)
}

func TestTimeoutIsTerminal(t *testing.T) {
	table := NewTable([]string{"host1"})
	require.NoError(t, table.Transition("host1", Running))
	require.NoError(t, table.Transition("host1", Timeout))
	assert.True(t, table.State("host1").IsTerminal())
	assert.Error(t, table.Transition("host1", Pending))
}

func TestHostsInAndCount(t *testing.T) {
	table := NewTable([]string{"host3", "host1", "host2"})
	require.NoError(t, table.Transition("host1", Scheduled))
	require.NoError(t, table.Transition("host2", Scheduled))

	assert.Equal(t, []string{"host1", "host2"}, table.HostsIn(Scheduled))
	assert.Equal(t, 2, table.Count(Scheduled))
	assert.Equal(t, 1, table.Count(Pending))
}

func TestSnapshotIsACopy(t *testing.T) {
	table := NewTable([]string{"host1"})
	snap := table.Snapshot()
	require.NoError(t, table.Transition("host1", Scheduled))
	assert.Equal(t, Pending, snap["host1"], "snapshot must not be mutated by later transitions")
}

// TestConcurrentTransitionsDoNotRace drives every host's transition from a
// distinct goroutine, alongside concurrent reads, mirroring the overlap
// between a handler's controller goroutine and a transport's per-host
// delivery goroutines (§5). Run with -race to exercise the mutex added to
// Table.
func TestConcurrentTransitionsDoNotRace(t *testing.T) {
	hosts := make([]string, 50)
	for i := range hosts {
		hosts[i] = fmt.Sprintf("host%d", i)
	}
	table := NewTable(hosts)

	var wg sync.WaitGroup
	for _, h := range hosts {
		wg.Add(1)
		go func(host string) {
			defer wg.Done()
			_ = table.Transition(host, Scheduled)
			_ = table.Transition(host, Running)
			_ = table.Transition(host, Success)
			table.State(host)
			table.Count(Success)
			table.HostsIn(Success)
			table.Snapshot()
		}(h)
	}
	wg.Wait()

	assert.Equal(t, len(hosts), table.Count(Success))
}
