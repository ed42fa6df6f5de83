package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sealgauge/internal/policy"
	"github.com/roach88/sealgauge/internal/score"
)

func TestDefault(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, "sealgauge.db", cfg.Database)
	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, score.DefaultWeights(), cfg.Weights)
	assert.Equal(t, 12, cfg.Cipher.LogN)
	assert.Equal(t, uint64(65537), cfg.Cipher.PlaintextModulus)
	assert.Equal(t, OracleLocal, cfg.Oracle.Mode)
	assert.Equal(t, 3, cfg.Oracle.Committee)
	assert.Equal(t, 2, cfg.Oracle.Threshold)
	assert.Equal(t, 50.0, cfg.Oracle.DispatchRate)
	assert.Equal(t, "oracle", cfg.Oracle.Principal)
	assert.Equal(t, time.Duration(0), cfg.RequestTimeout())
	assert.Equal(t, time.Minute, cfg.SweepInterval())
	assert.False(t, cfg.Score.AllowRecompute)
	assert.Empty(t, cfg.Policy.Rules)
}

func TestLoad_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sealgauge.cue")
	require.NoError(t, os.WriteFile(path, []byte(`
database: "/var/lib/sealgauge/records.db"
weights: {pressure: 50, temperature: 25, flow: 25}
oracle: {
	committee: 5
	threshold: 3
	timeout:   "15m"
}
policy: rules: [
	{action: "request_raw_reveal", expr: "principal == \"auditor\""},
	{expr: "principal != \"\""},
]
score: allow_recompute: true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/sealgauge/records.db", cfg.Database)
	assert.Equal(t, score.Weights{Pressure: 50, Temperature: 25, Flow: 25}, cfg.Weights)
	assert.Equal(t, 5, cfg.Oracle.Committee)
	assert.Equal(t, 3, cfg.Oracle.Threshold)
	assert.Equal(t, 15*time.Minute, cfg.RequestTimeout())
	assert.True(t, cfg.Score.AllowRecompute)
	assert.Equal(t, []policy.Rule{
		{Action: "request_raw_reveal", Expr: `principal == "auditor"`},
		{Action: "*", Expr: `principal != ""`},
	}, cfg.Policy.Rules)
}

func TestLoad_EmptyPathIsDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sealgauge.db", cfg.Database)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.cue"))
	assert.Error(t, err)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown field", `databse: "x.db"`},
		{"negative weight", `weights: pressure: -1`},
		{"log_n out of range", `cipher: log_n: 20`},
		{"threshold above committee", `oracle: {committee: 2, threshold: 3}`},
		{"unknown mode", `oracle: mode: "remote"`},
		{"bad timeout", `oracle: timeout: "soon"`},
		{"zero weights", `weights: {pressure: 0, temperature: 0, flow: 0}`},
		{"external without signers", `oracle: mode: "external"`},
		{"key count mismatch", `oracle: {committee: 2, threshold: 1, keys: ["aa"]}`},
		{"syntax error", `database: `},
		{"empty oracle principal", `oracle: principal: ""`},
		{"plaintext modulus above 2^32", `cipher: plaintext_modulus: 4294991873`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src), "test.cue")
			assert.Error(t, err)
		})
	}
}

func TestValidate_PlaintextModulusBound(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	cfg.Cipher.PlaintextModulus = 1 << 32
	assert.NoError(t, cfg.Validate())

	cfg.Cipher.PlaintextModulus = 4294991873
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cipher.plaintext_modulus")
}

func TestParse_ErrorCarriesPosition(t *testing.T) {
	_, err := Parse([]byte("database: \"a\"\nweights: pressure: \"heavy\"\n"), "bad.cue")
	require.Error(t, err)

	var cfgErr *Error
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "bad.cue")
}

func TestFormat_RoundTrips(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	cfg.Database = "other.db"

	src, err := cfg.Format()
	require.NoError(t, err)
	assert.Contains(t, string(src), `database: "other.db"`)

	again, err := Parse(src, "formatted.cue")
	require.NoError(t, err)
	assert.Equal(t, cfg.Database, again.Database)
	assert.Equal(t, cfg.Weights, again.Weights)
	assert.Equal(t, cfg.Cipher, again.Cipher)
	assert.Equal(t, cfg.Oracle.Threshold, again.Oracle.Threshold)
	assert.Equal(t, cfg.Oracle.Timeout, again.Oracle.Timeout)
	assert.Equal(t, cfg.Score, again.Score)
}
