//go:build integration

package integration_test

import (
	"context"
	"io/fs"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/go-viper/mapstructure/v2"
	"github.com/goccy/go-yaml"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/session-portal/internal/config"
	"github.com/openkcm/session-portal/internal/dbtest/postgrestest"
	"github.com/openkcm/session-portal/internal/dbtest/valkeytest"
)

type closeFunc func(ctx context.Context)

type infraStat struct {
	PostgresPort   nat.Port
	ValKeyPort     nat.Port
	ConfigFilePath string
	Procdir        string
	Socket         string
	Backend        *fakeBackend
	Cfg            config.Config

	closeFuncs []closeFunc
}

func initInfra(t *testing.T, exeName string) (istat infraStat) {
	t.Helper()

	// Since the config is read from the file $PWD/config.yaml,
	// we're running a process in a subdirectory so that we aren't interferring with the other tests.
	wd, err := os.Getwd()
	require.NoError(t, err, "failed to get wd")
	istat.Procdir = filepath.Join(wd, exeName+"-test")
	istat.ConfigFilePath = filepath.Join(istat.Procdir, "config.yaml")

	// Prepare a directory for the test
	err = os.MkdirAll(istat.Procdir, fs.ModePerm)
	require.NoError(t, err, "failed to create a dir for the process")

	err = os.WriteFile(istat.ConfigFilePath, []byte(validConfig), fs.ModePerm)
	require.NoError(t, err, "failed to write config file")

	err = commoncfg.LoadConfig(&istat.Cfg, nil, istat.Procdir)
	require.NoError(t, err, "failed to load config")

	// A unix socket saves us from looking up a free port.
	istat.Socket = filepath.Join(istat.Procdir, exeName+".sock")
	istat.Cfg.HTTP.Address = "unix://" + istat.Socket
	istat.Cfg.SQLite.Path = filepath.Join(istat.Procdir, "session-portal.db")
	istat.Cfg.TokenStore.Driver = config.TokenStoreSQLite

	return istat
}

func (istat *infraStat) PreparePostgres(t *testing.T) {
	t.Helper()

	pgClient, pgPort, pgTerminate := postgrestest.Start(t.Context())
	pgClient.Close()

	istat.PostgresPort = pgPort
	istat.closeFuncs = append(istat.closeFuncs, pgTerminate)

	istat.Cfg.TokenStore.Driver = config.TokenStorePostgres
	istat.Cfg.Database.Name = postgrestest.DBName
	istat.Cfg.Database.User = commoncfg.SourceRef{Source: "embedded", Value: postgrestest.DBUser}
	istat.Cfg.Database.Password = commoncfg.SourceRef{Source: "embedded", Value: postgrestest.DBPassword}
	istat.Cfg.Database.Host = commoncfg.SourceRef{Source: "embedded", Value: postgrestest.DBHost}
	istat.Cfg.Database.Port = pgPort.Port()
	istat.Cfg.Database.SSLMode = postgrestest.DBSSLMode
}

func (istat *infraStat) PrepareValKey(t *testing.T) {
	t.Helper()

	vkClient, vkPort, vkTerminate := valkeytest.Start(t.Context())
	vkClient.Close()

	istat.ValKeyPort = vkPort
	istat.closeFuncs = append(istat.closeFuncs, vkTerminate)

	istat.Cfg.TokenStore.Driver = config.TokenStoreValKey
	istat.Cfg.ValKey.Host = commoncfg.SourceRef{Source: "embedded", Value: net.JoinHostPort("localhost", vkPort.Port())}
	istat.Cfg.ValKey.User = commoncfg.SourceRef{Source: "embedded", Value: ""}
	istat.Cfg.ValKey.Password = commoncfg.SourceRef{Source: "embedded", Value: ""}
}

// PrepareBackend points the portal at a fake application backend and a fake
// identity provider authorize endpoint.
func (istat *infraStat) PrepareBackend(t *testing.T) {
	t.Helper()

	istat.Backend = newFakeBackend()
	istat.closeFuncs = append(istat.closeFuncs, func(context.Context) { istat.Backend.Close() })

	istat.Cfg.Backend.BaseURL = istat.Backend.URL + "/api"
	istat.Cfg.Identity.Issuer = ""
	istat.Cfg.Identity.AuthorizationEndpoint = istat.Backend.URL + "/authorize"
}

// PrepareConfig writes a config file for running the test into the ConfigFilePath.
func (istat *infraStat) PrepareConfig(t *testing.T) {
	t.Helper()

	cfgMap := make(map[string]any)
	err := mapstructure.Decode(istat.Cfg, &cfgMap)
	require.NoError(t, err, "failed to decode config")

	configFile, err := os.Create(istat.ConfigFilePath)
	require.NoError(t, err, "failed to create config file")
	defer configFile.Close()

	err = yaml.NewEncoder(configFile).Encode(cfgMap)
	require.NoError(t, err, "failed to write config")
}

// Start runs the binary with the given subcommand inside Procdir and stops it
// with SIGTERM on cleanup, so that coverprofiles are written.
func (istat *infraStat) Start(t *testing.T, subcommand string) {
	t.Helper()

	currdir, err := os.Getwd()
	require.NoError(t, err, "failed to get wd")

	// Not bound to t.Context, which is cancelled before the cleanup sends SIGTERM.
	cmd := exec.Command(filepath.Join(currdir, binary), subcommand)
	cmd.Dir = istat.Procdir

	cmdOutPath := filepath.Join(currdir, subcommand+"-"+filepath.Base(istat.Procdir)+".log")
	cmdOut, err := os.Create(cmdOutPath)
	require.NoError(t, err, "failed to create a log file")
	t.Cleanup(func() { cmdOut.Close() })

	cmd.Stdout = cmdOut
	cmd.Stderr = cmdOut

	t.Logf("starting an app process. Logs will be saved into %s", cmdOutPath)
	require.NoError(t, cmd.Start(), "could not start command")

	t.Cleanup(func() {
		_ = syscall.Kill(cmd.Process.Pid, syscall.SIGTERM)
		_ = cmd.Wait()
	})
}

// Run runs the binary with the given subcommand inside Procdir to completion.
func (istat *infraStat) Run(t *testing.T, subcommand string) {
	t.Helper()

	currdir, err := os.Getwd()
	require.NoError(t, err, "failed to get wd")

	cmd := exec.CommandContext(t.Context(), filepath.Join(currdir, binary), subcommand)
	cmd.Dir = istat.Procdir

	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "process exited abnormally: %s", out)
}

// PortalClient returns a client talking to the portal socket that does not
// follow redirects.
func (istat *infraStat) PortalClient(t *testing.T) *http.Client {
	t.Helper()

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return new(net.Dialer).DialContext(ctx, "unix", istat.Socket)
			},
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	// give the server some time to start
	require.Eventually(t, func() bool {
		resp, err := client.Get("http://portal/ping")
		if err != nil {
			return false
		}
		resp.Body.Close()

		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 100*time.Millisecond, "portal did not start")

	return client
}

func (istat *infraStat) Close(ctx context.Context) {
	os.Remove(istat.ConfigFilePath)
	os.RemoveAll(istat.Procdir)

	for _, close := range istat.closeFuncs {
		close(ctx)
	}
}

const (
	backendAccessToken  = "integration-access"
	backendRefreshToken = "integration-refresh"
	backendLogoutURL    = "https://idp.example.com/logout"
)

type fakeBackend struct {
	*httptest.Server

	exchanges atomic.Int32
	logouts   atomic.Int32
}

func newFakeBackend() *fakeBackend {
	b := &fakeBackend{}

	m := http.NewServeMux()
	m.HandleFunc("POST /api/auth/workos/callback", func(w http.ResponseWriter, _ *http.Request) {
		b.exchanges.Add(1)
		http.SetCookie(w, &http.Cookie{Name: "backend_session", Value: "s1", Path: "/"})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access":"` + backendAccessToken + `","refresh":"` + backendRefreshToken + `","user":{"email":"ada@example.com"}}`))
	})
	m.HandleFunc("GET /api/hello", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+backendAccessToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"Hello from the backend"}`))
	})
	m.HandleFunc("GET /api/logout/", func(w http.ResponseWriter, _ *http.Request) {
		b.logouts.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"logout_url":"` + backendLogoutURL + `"}`))
	})

	b.Server = httptest.NewServer(m)

	return b
}
