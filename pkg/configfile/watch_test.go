package configfile_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kavalan/resctl/pkg/configfile"
)

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestWatchReloadsOnSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resctl.conf")
	writeConfig(t, path, "default_mode=balanced\n")

	changes := make(chan *configfile.File, 4)
	w, err := configfile.Watch(path, func(f *configfile.File, warnings []string, err error) {
		require.NoError(t, err)
		changes <- f
	}, nil)
	require.NoError(t, err)
	defer w.Stop()

	writeConfig(t, path, "default_mode=gaming\n")

	select {
	case f := <-changes:
		require.NotNil(t, f)
		require.Equal(t, "gaming", f.DefaultMode)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload callback")
	}
}

func TestWatchReportsInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resctl.conf")
	writeConfig(t, path, "default_mode=balanced\n")

	results := make(chan error, 4)
	w, err := configfile.Watch(path, func(f *configfile.File, warnings []string, err error) {
		results <- err
	}, nil)
	require.NoError(t, err)
	defer w.Stop()

	writeConfig(t, path, "default_mode=not-a-real-mode\n")

	select {
	case err := <-results:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload callback")
	}
}
