package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codex-d/runner/internal/daemonfile"
	"github.com/codex-d/runner/internal/identity"
	"github.com/codex-d/runner/internal/paths"
)

func healthyServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok","codexRuntime":"ok"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func unauthorizedServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"unauthorized","message":"missing token"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func serverPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u := strings.TrimPrefix(srv.URL, "http://127.0.0.1:")
	u = strings.TrimPrefix(u, "http://localhost:")
	port, err := strconv.Atoi(u)
	require.NoError(t, err)
	return port
}

func TestResolve_ExplicitURLWinsOutright(t *testing.T) {
	c, err := Resolve(context.Background(), ResolveOptions{ExplicitURL: "http://example.invalid", ExplicitToken: "tok"})
	require.NoError(t, err)
	assert.Equal(t, "http://example.invalid", c.BaseURL)
	assert.Equal(t, "tok", c.Token)
}

func TestResolve_PrefersDaemonOverForeground(t *testing.T) {
	daemonSrv := healthyServer(t)
	foregroundSrv := healthyServer(t)

	daemonStateDir := t.TempDir()
	daemonLayout := paths.New(daemonStateDir)
	require.NoError(t, daemonfile.Write(daemonLayout.RuntimeFile(), &daemonfile.Descriptor{
		BaseURL:   daemonSrv.URL,
		StartedAt: time.Now().UTC(),
	}))

	foregroundStateDir := t.TempDir()

	c, err := Resolve(context.Background(), ResolveOptions{
		DaemonStateDir:     daemonStateDir,
		ForegroundPort:     serverPort(t, foregroundSrv),
		ForegroundStateDir: foregroundStateDir,
	})
	require.NoError(t, err)
	assert.Equal(t, daemonSrv.URL, c.BaseURL)
}

func TestResolve_FallsBackToForegroundWhenDaemonUnreachable(t *testing.T) {
	foregroundSrv := healthyServer(t)
	foregroundStateDir := t.TempDir()

	c, err := Resolve(context.Background(), ResolveOptions{
		DaemonStateDir:     t.TempDir(),
		ForegroundPort:     serverPort(t, foregroundSrv),
		ForegroundStateDir: foregroundStateDir,
	})
	require.NoError(t, err)
	assert.Contains(t, c.BaseURL, strconv.Itoa(serverPort(t, foregroundSrv)))
}

func TestResolve_NeitherTargetReachableIsTypedError(t *testing.T) {
	_, err := Resolve(context.Background(), ResolveOptions{
		DaemonStateDir: t.TempDir(),
		ForegroundPort: 0,
	})
	require.Error(t, err)
	var notFound *errRunnerNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestResolve_UnauthorizedCountsAsReachable(t *testing.T) {
	srv := unauthorizedServer(t)
	stateDir := t.TempDir()
	layout := paths.New(stateDir)
	require.NoError(t, daemonfile.Write(layout.RuntimeFile(), &daemonfile.Descriptor{
		BaseURL:   srv.URL,
		StartedAt: time.Now().UTC(),
	}))

	c, err := Resolve(context.Background(), ResolveOptions{DaemonStateDir: stateDir})
	require.NoError(t, err)
	assert.Equal(t, srv.URL, c.BaseURL)
}

func TestResolveToken_PrefersExplicitOverEnvAndIdentity(t *testing.T) {
	stateDir := t.TempDir()
	layout := paths.New(stateDir)
	require.NoError(t, identity.Save(layout.IdentityFile(), &identity.Identity{RunnerID: "r1", Token: "from-identity"}))

	got := resolveToken(ResolveOptions{ExplicitToken: "explicit"}, "", layout.IdentityFile())
	assert.Equal(t, "explicit", got)
}

func TestResolveToken_FallsBackToIdentityFile(t *testing.T) {
	stateDir := t.TempDir()
	layout := paths.New(stateDir)
	require.NoError(t, identity.Save(layout.IdentityFile(), &identity.Identity{RunnerID: "r1", Token: "from-identity"}))

	got := resolveToken(ResolveOptions{}, "", layout.IdentityFile())
	assert.Equal(t, "from-identity", got)
}

func TestResolveToken_MissingIdentityFileYieldsEmptyNotCreated(t *testing.T) {
	stateDir := t.TempDir()
	layout := paths.New(stateDir)

	got := resolveToken(ResolveOptions{}, "", layout.IdentityFile())
	assert.Equal(t, "", got)

	_, err := identity.Load(layout.IdentityFile())
	assert.Error(t, err, "resolveToken must never create an identity file")
}
