package chat

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/derat/smartychat/internal/metrics"
)

// newPersistingEngine builds an engine whose persister writes to a temp
// state file. The save interval is long so the background worker never
// races the synchronous saves under test.
func newPersistingEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "smartychat.state")
	e := NewEngine(EngineOptions{
		Client:           &fakeClient{},
		Roster:           &fakeRoster{},
		StateFile:        path,
		SaveInterval:     time.Hour,
		SeparateMessages: true,
		Logger:           zerolog.Nop(),
		Metrics:          metrics.New(),
	})
	return e, path
}

func TestSaveStateIfChanged(t *testing.T) {
	e, path := newPersistingEngine(t)

	// Nothing changed yet: no file.
	e.SaveStateIfChanged()
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	say(e, fooJID, "/join #nerds secret")
	e.SaveStateIfChanged()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// No temp file left behind.
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	// Unchanged model: the file is not rewritten.
	require.NoError(t, os.Remove(path))
	e.SaveStateIfChanged()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestPersisterWritesInBackground(t *testing.T) {
	path := filepath.Join(t.TempDir(), "smartychat.state")
	e := NewEngine(EngineOptions{
		Client:           &fakeClient{},
		Roster:           &fakeRoster{},
		StateFile:        path,
		SaveInterval:     10 * time.Millisecond,
		SeparateMessages: true,
		Logger:           zerolog.Nop(),
		Metrics:          metrics.New(),
	})

	// The worker alone should notice the mutation, wait out the cooldown and
	// write; no explicit save call.
	say(e, fooJID, "/join #nerds")
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if data, err := os.ReadFile(path); err == nil {
			assert.Contains(t, string(data), "#nerds")
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("state file never appeared")
}

func TestConcurrentMutationAndSave(t *testing.T) {
	e, path := newPersistingEngine(t)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			e.SaveStateIfChanged()
		}
	}()
	for i := 0; i < 50; i++ {
		say(e, fooJID, fmt.Sprintf("/join #c%d", i))
	}
	wg.Wait()

	e.SaveStateIfChanged()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "#c49")
}

func TestSavedSnapshotRestores(t *testing.T) {
	e, path := newPersistingEngine(t)

	say(e, fooJID, "/join #nerds secret")
	say(e, barJID, "/join #nerds secret")
	say(e, fooJID, "coffee++")
	e.SaveStateIfChanged()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	restored, _, _ := newTestEngine(t)
	require.NoError(t, restored.Restore(data))

	restored.mu.Lock()
	defer restored.mu.Unlock()
	ch := restored.channels["#nerds"]
	require.NotNil(t, ch)
	assert.Equal(t, "secret", ch.Password)
	assert.Equal(t, 1, ch.Scores["coffee"])
	assert.Equal(t, 2, ch.numUsers())
	assert.Same(t, ch, restored.users[fooJID].Channel)
}

func TestRoundTripAfterPart(t *testing.T) {
	a, _, _ := newTestEngine(t)

	// Scenario: foo creates, bar joins, foo parts. Only bar survives as a
	// member; foo remains a known, channelless user.
	say(a, fooJID, "/join #nerds")
	say(a, barJID, "/join #nerds")
	say(a, fooJID, "/part")

	snap, err := a.Serialize()
	require.NoError(t, err)

	b, _, _ := newTestEngine(t)
	require.NoError(t, b.Restore(snap))

	b.mu.Lock()
	defer b.mu.Unlock()
	require.Len(t, b.channels, 1)
	ch := b.channels["#nerds"]
	require.NotNil(t, ch)
	assert.Equal(t, 1, ch.numUsers())
	assert.True(t, ch.hasUser(b.users[barJID]))
	require.NotNil(t, b.users[fooJID])
	assert.Nil(t, b.users[fooJID].Channel)
}

func TestSerializeElidesZeroScores(t *testing.T) {
	e, _, _ := newTestEngine(t)

	say(e, fooJID, "/join #nerds")
	say(e, fooJID, "coffee++")
	say(e, fooJID, "tea++")
	say(e, fooJID, "tea--")

	snap, err := e.Serialize()
	require.NoError(t, err)
	assert.Contains(t, string(snap), "coffee")
	assert.NotContains(t, string(snap), "tea")
}

func TestRestoreDropsEmptyChannels(t *testing.T) {
	e, _, _ := newTestEngine(t)
	err := e.Restore([]byte(`
channels:
  - name: "#ghost"
  - name: "#nerds"
users:
  - jid: foo@example.com
    nick: foo
    channel_name: "#nerds"
`))
	require.NoError(t, err)

	e.mu.Lock()
	defer e.mu.Unlock()
	assert.Nil(t, e.channels["#ghost"])
	assert.NotNil(t, e.channels["#nerds"])
}

func TestRestoreRenamesDuplicateNicks(t *testing.T) {
	e, _, _ := newTestEngine(t)
	err := e.Restore([]byte(`
channels:
  - name: "#nerds"
users:
  - jid: foo@example.com
    nick: foo
    channel_name: "#nerds"
  - jid: foo@elsewhere.org
    nick: foo
    channel_name: "#nerds"
`))
	require.NoError(t, err)

	e.mu.Lock()
	defer e.mu.Unlock()
	assert.Equal(t, "foo", e.users[fooJID].Nick)
	assert.Equal(t, "foo2", e.users["foo@elsewhere.org"].Nick)
}

func TestRestoreRejectsGarbage(t *testing.T) {
	e, _, _ := newTestEngine(t)
	assert.Error(t, e.Restore([]byte("{{{not yaml")))
}

func TestRestoreUnknownChannelReference(t *testing.T) {
	e, _, _ := newTestEngine(t)
	err := e.Restore([]byte(`
users:
  - jid: foo@example.com
    nick: foo
    channel_name: "#missing"
`))
	require.NoError(t, err)

	e.mu.Lock()
	defer e.mu.Unlock()
	require.NotNil(t, e.users[fooJID])
	assert.Nil(t, e.users[fooJID].Channel)
}

func TestWriteFileAtomicReplacesStaleTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state")
	require.NoError(t, os.WriteFile(path+".tmp", []byte("stale"), 0600))

	require.NoError(t, writeFileAtomic(path, []byte("fresh")))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data))
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}
