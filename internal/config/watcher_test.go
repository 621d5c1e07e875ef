package config_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goodtune/pac-router/internal/config"
	"github.com/goodtune/pac-router/internal/route"
	"github.com/goodtune/pac-router/internal/rules"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := writeTempRules(t, "default: DIRECT\n")

	tables := make(chan *rules.Table, 4)
	errs := make(chan error, 4)
	w, err := config.NewWatcher(path,
		func(tbl *rules.Table) {
			select {
			case tables <- tbl:
			default:
			}
		},
		config.WithDebounceDelay(10*time.Millisecond),
		config.WithErrorCallback(func(err error) {
			select {
			case errs <- err:
			default:
			}
		}),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("default: \"PROXY squid.local:3128\"\n"), 0644))

	// A write may be observed half-done; wait for the final content.
	want := route.Proxy(route.HTTP, "squid.local", 3128)
	timeout := time.After(5 * time.Second)
	for {
		select {
		case table := <-tables:
			if table.Default() == want {
				return
			}
		case err := <-errs:
			t.Logf("intermediate reload error: %v", err)
		case <-timeout:
			t.Fatal("timed out waiting for reload")
		}
	}
}

func TestWatcherRejectsInvalidFile(t *testing.T) {
	path := writeTempRules(t, "default: DIRECT\n")

	var installed int
	var reported error
	w, err := config.NewWatcher(path,
		func(*rules.Table) { installed++ },
		config.WithErrorCallback(func(err error) { reported = err }),
	)
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("default: \"PROXY nowhere\"\n"), 0644))
	err = w.Reload()
	require.Error(t, err)
	assert.Equal(t, err, reported)
	assert.Zero(t, installed)

	require.NoError(t, os.WriteFile(path, []byte("default: DIRECT\n"), 0644))
	require.NoError(t, w.Reload())
	assert.Equal(t, 1, installed)
}
