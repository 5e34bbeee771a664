package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stanstork/chartdata-api/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nopLogger() zerolog.Logger { return zerolog.Nop() }

type countingLoader struct {
	calls    int
	profiles map[models.SourceSystem]models.ConnectionProfile
	err      error
}

func (l *countingLoader) LoadProfiles(ctx context.Context) (map[models.SourceSystem]models.ConnectionProfile, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	out := make(map[models.SourceSystem]models.ConnectionProfile, len(l.profiles))
	for k, v := range l.profiles {
		out[k] = v
	}
	return out, nil
}

func TestResolverResolve(t *testing.T) {
	r := NewResolver(StaticProfiles{
		models.SourceSQLServer: {Host: "reporting-db", Username: "reader"},
	})

	p, err := r.Resolve(context.Background(), models.SourceSQLServer)
	require.NoError(t, err)
	assert.Equal(t, "reporting-db", p.Host)
	assert.Equal(t, models.SourceSQLServer, p.System)

	_, err = r.Resolve(context.Background(), models.SourceFile)
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, models.SourceFile, cfgErr.System)
}

func TestResolverLoadsOnceAndReloadsAfterInvalidate(t *testing.T) {
	loader := &countingLoader{profiles: map[models.SourceSystem]models.ConnectionProfile{
		models.SourceFile: {Path: "/data/plant.db"},
	}}
	r := NewResolver(loader)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := r.Resolve(ctx, models.SourceFile)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, loader.calls)

	r.Invalidate()
	_, err := r.Resolve(ctx, models.SourceFile)
	require.NoError(t, err)
	assert.Equal(t, 2, loader.calls)
}

func TestResolverLoaderError(t *testing.T) {
	r := NewResolver(&countingLoader{err: errors.New("db down")})
	_, err := r.Resolve(context.Background(), models.SourceFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load connection profiles")
	assert.Contains(t, err.Error(), "db down")
}

func TestResolverReconfigureReplacesProfiles(t *testing.T) {
	r := NewResolver(StaticProfiles{
		models.SourceSQLServer: {Host: "old"},
	})
	r.Reconfigure(map[models.SourceSystem]models.ConnectionProfile{
		models.SourceFile: {Path: "/new.db"},
	})

	_, err := r.Resolve(context.Background(), models.SourceSQLServer)
	assert.Error(t, err)

	p, err := r.Resolve(context.Background(), models.SourceFile)
	require.NoError(t, err)
	assert.Equal(t, "/new.db", p.Path)
	assert.Equal(t, models.SourceFile, p.System)

	all, err := r.Profiles(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestResolverWithoutLoader(t *testing.T) {
	r := NewResolver(nil)
	all, err := r.Profiles(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}
