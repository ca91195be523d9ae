package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Validation(t *testing.T) {
	valid := Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s", Bucket: "heal"}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"no endpoint", func(c *Config) { c.Endpoint = " " }, "endpoint"},
		{"no secret", func(c *Config) { c.SecretKey = "" }, "secret key"},
		{"no bucket", func(c *Config) { c.Bucket = "" }, "bucket"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			s, err := New(cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, "us-east-1", s.region)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestObjectKey(t *testing.T) {
	s, err := New(Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s", Bucket: "b", Prefix: "/heal/"})
	require.NoError(t, err)

	assert.Equal(t, "heal/run-1/report.json", s.objectKey("run-1"))
	assert.Equal(t, "heal/x/report.json", s.objectKey("/x/"))

	s, err = New(Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s", Bucket: "b"})
	require.NoError(t, err)
	assert.Equal(t, "runs/run-1/report.json", s.objectKey("run-1"))
}
