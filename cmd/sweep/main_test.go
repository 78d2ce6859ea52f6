package main

import (
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/marketmaker/internal/domain/schema"
)

func TestParseFlagsBuildsRequest(t *testing.T) {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	opts, err := parseFlags(fs, []string{"-config", "x.yaml", "-side", "SELL", "-qty", "50", "-low", "4990", "-high", "5010", "-step", "5", "-timebox", "500ms"})
	require.NoError(t, err)
	require.Equal(t, "x.yaml", opts.configPath)
	require.Equal(t, schema.SideSell, opts.request.Side)
	require.EqualValues(t, 50, opts.request.Amount)
	require.EqualValues(t, 4990, opts.request.Low)
	require.EqualValues(t, 5010, opts.request.High)
	require.EqualValues(t, 5, opts.request.Step)
	require.Equal(t, 500*time.Millisecond, opts.request.TimeBox)
}

func TestParseFlagsRejects(t *testing.T) {
	cases := map[string][]string{
		"side": {"-side", "hold", "-qty", "1"},
		"qty":  {"-qty", "0"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
			_, err := parseFlags(fs, args)
			require.Error(t, err)
		})
	}
}
