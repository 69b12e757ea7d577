package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geo-index/internal/config"
)

func TestListenPort(t *testing.T) {
	p, err := listenPort(":9091")
	require.NoError(t, err)
	assert.Equal(t, 9091, p)

	p, err = listenPort("0.0.0.0:18091")
	require.NoError(t, err)
	assert.Equal(t, 18091, p)

	_, err = listenPort("9091")
	assert.Error(t, err)
}

func TestFlagsOverrideOnlyWhenSet(t *testing.T) {
	var f flags
	cmd := &cobra.Command{Use: "x"}
	cmd.Flags().StringVar(&f.addr, "addr", "", "")
	cmd.Flags().StringVar(&f.xdcrAddr, "xdcr-addr", "", "")
	cmd.Flags().StringVar(&f.hostname, "hostname", "", "")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 0, "")
	cmd.Flags().StringVar(&f.backend, "store", "", "")
	require.NoError(t, cmd.Flags().Parse([]string{"--addr", ":9000", "--store", "sqlite"}))

	cfg := config.Default()
	f.apply(cmd, &cfg)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, config.BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, config.Default().XDCRAddr, cfg.XDCRAddr)
	assert.Equal(t, config.Default().Concurrency, cfg.Concurrency)
}

func TestFlagsRescueInvalidEnvironment(t *testing.T) {
	var f flags
	cmd := &cobra.Command{Use: "x"}
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 0, "")
	require.NoError(t, cmd.Flags().Parse([]string{"--concurrency", "4"}))

	cfg := config.Default()
	cfg.Concurrency = 0
	require.Error(t, cfg.Validate())
	f.apply(cmd, &cfg)
	assert.NoError(t, cfg.Validate())
}
