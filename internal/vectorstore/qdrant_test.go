package vectorstore

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/semidx/internal/memory"
)

func TestQdrantConfig_Defaults(t *testing.T) {
	var cfg QdrantConfig
	cfg.ApplyDefaults()

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 6334, cfg.Port)
	assert.Equal(t, "semidx_records", cfg.Collection)
	assert.Equal(t, uint64(384), cfg.VectorSize)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.RetryBackoff)
	assert.NoError(t, cfg.Validate())
}

func TestQdrantConfig_Validate(t *testing.T) {
	cfg := QdrantConfig{Host: "localhost", Port: 99999, Collection: "c", VectorSize: 384}
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unavailable", status.Error(grpccodes.Unavailable, "down"), true},
		{"deadline", status.Error(grpccodes.DeadlineExceeded, "slow"), true},
		{"aborted", status.Error(grpccodes.Aborted, "conflict"), true},
		{"resource exhausted", status.Error(grpccodes.ResourceExhausted, "quota"), true},
		{"invalid argument", status.Error(grpccodes.InvalidArgument, "bad"), false},
		{"not found", status.Error(grpccodes.NotFound, "missing"), false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransientError(tt.err))
		})
	}
}

func TestPointID_Deterministic(t *testing.T) {
	a := pointID("test-login-001")
	b := pointID("test-login-001")
	c := pointID("test-login-002")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 36)
}

func TestRecordPayload_RoundTrip(t *testing.T) {
	rec, err := memory.NewRecord("t1", memory.TypeScenario, "checkout with saved card")
	require.NoError(t, err)
	rec.SetMeta("framework", "playwright")
	rec.SetMeta(memory.MetaEmbeddingVersion, "v1::v1::bge-small-en-v1.5")
	rec.Embedding = []float32{0.1, 0.2, 0.3}

	payload := recordPayload(rec)
	back := recordFromPayload(payload, rec.Embedding)

	assert.Equal(t, rec.ID, back.ID)
	assert.Equal(t, rec.Type, back.Type)
	assert.Equal(t, rec.Text, back.Text)
	assert.Equal(t, rec.Metadata, back.Metadata)
	assert.Equal(t, rec.Embedding, back.Embedding)
	assert.True(t, rec.CreatedAt.Equal(back.CreatedAt))
	assert.True(t, rec.UpdatedAt.Equal(back.UpdatedAt))
}

func TestBuildFilter(t *testing.T) {
	assert.Nil(t, buildFilter(nil))
	assert.Nil(t, buildFilter(&Filter{}))

	f := buildFilter(&Filter{
		Types:    []memory.RecordType{memory.TypeTest, memory.TypeFailure},
		Metadata: map[string]string{"framework": "playwright"},
	})
	require.NotNil(t, f)
	assert.Len(t, f.Must, 2)
}
