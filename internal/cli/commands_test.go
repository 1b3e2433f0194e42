package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/roach88/treesync/internal/devserver"
	"github.com/roach88/treesync/internal/progress"
	"github.com/roach88/treesync/internal/store"
	"github.com/roach88/treesync/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testNow = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

// cliEnv runs CLI invocations for one device against an in-process server.
type cliEnv struct {
	t         *testing.T
	dir       string
	remoteURL string
	habitIDs  *testutil.SequentialIDs
	now       time.Time
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	srv, err := devserver.New(st, "cli-test-secret",
		devserver.WithBcryptCost(bcrypt.MinCost),
		devserver.WithCodeGenerator(func() (string, error) { return "123456", nil }),
		devserver.WithCodeSink(func(purpose, email, code string) {}),
	)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &cliEnv{
		t:         t,
		dir:       dir,
		remoteURL: ts.URL,
		habitIDs:  testutil.NewSequentialIDs("habit"),
		now:       testNow,
	}
}

// offline points the device at a server that refuses connections.
func (e *cliEnv) offline() {
	ts := httptest.NewServer(nil)
	e.remoteURL = ts.URL
	ts.Close()
}

func (e *cliEnv) run(args ...string) (string, error) {
	e.t.Helper()
	opts := &RootOptions{
		now:      func() time.Time { return e.now },
		guestIDs: func() string { return "guest-cli" },
		habitIDs: e.habitIDs,
		logOut:   io.Discard,
	}
	cmd := newRootCommand(opts)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{
		"--config", filepath.Join(e.dir, "config.yaml"),
		"--db", filepath.Join(e.dir, "progress.db"),
		"--remote", e.remoteURL,
	}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (e *cliEnv) mustRun(args ...string) string {
	e.t.Helper()
	out, err := e.run(args...)
	require.NoError(e.t, err, out)
	return out
}

// jsonData runs a command with --format json and decodes its data payload.
func jsonData[T any](e *cliEnv, args ...string) T {
	e.t.Helper()
	out := e.mustRun(append([]string{"--format", "json"}, args...)...)
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(e.t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(e.t, "ok", resp.Status)
	var v T
	require.NoError(e.t, json.Unmarshal(resp.Data, &v), out)
	return v
}

// jsonError runs a command expected to fail and returns its error payload.
func jsonError(e *cliEnv, args ...string) (CLIError, int) {
	e.t.Helper()
	out, err := e.run(append([]string{"--format", "json"}, args...)...)
	require.Error(e.t, err)
	var resp struct {
		Status string   `json:"status"`
		Error  CLIError `json:"error"`
	}
	require.NoError(e.t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(e.t, "error", resp.Status)
	return resp.Error, GetExitCode(err)
}

func TestStatus_FreshGuest(t *testing.T) {
	env := newCLIEnv(t)
	v := jsonData[StatusView](env, "status")

	assert.Equal(t, "guest:guest-cli", v.Owner)
	assert.Equal(t, "ready", v.State)
	require.NotNil(t, v.Progress)
	assert.Equal(t, progress.DefaultCoins, v.Progress.Coins)
	assert.Equal(t, progress.DefaultGems, v.Progress.Gems)
	assert.Empty(t, v.Progress.GoodHabits)
}

func TestStatus_Text(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("rollover", "--date", "2024-01-02")
	env.mustRun("habit", "add", "good", "Drink", "water")
	env.mustRun("habit", "add", "bad", "Late snacks")
	env.mustRun("habit", "check", "good", "habit-1")
	env.mustRun("habit", "upgrade", "good", "habit-1", "gold")

	out := env.mustRun("status")

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "status_text", []byte(out))
}

func TestHabitCommands(t *testing.T) {
	env := newCLIEnv(t)

	added := jsonData[HabitResult](env, "habit", "add", "good", "Stretch")
	assert.Equal(t, "habit-1", added.ID)
	assert.Equal(t, progress.KindGood, added.Kind)

	cliErr, code := jsonError(env, "habit", "add", "good", "Read")
	assert.Equal(t, ErrCodeInvalid, cliErr.Code, "only one good habit slot")
	assert.Equal(t, ExitFailure, code)

	up := jsonData[HabitResult](env, "habit", "upgrade", "good", "habit-1", "exp")
	assert.Equal(t, 1, up.Value)

	cliErr, _ = jsonError(env, "habit", "upgrade", "good", "habit-1", "decay")
	assert.Equal(t, ErrCodeInvalid, cliErr.Code)

	env.mustRun("habit", "rename", "good", "habit-1", "Morning", "stretch")
	env.mustRun("habit", "check", "good", "habit-1")

	cliErr, _ = jsonError(env, "habit", "check", "good", "habit-1")
	assert.Equal(t, ErrCodeInvalid, cliErr.Code, "already checked")

	v := jsonData[StatusView](env, "status")
	require.Len(t, v.Progress.GoodHabits, 1)
	assert.Equal(t, "Morning stretch", v.Progress.GoodHabits[0].Name)
	assert.Equal(t, 1, v.Progress.GoodHabits[0].ExpLevel)
	assert.True(t, progress.IsChecked(*v.Progress, progress.KindGood, "habit-1"))

	env.mustRun("habit", "delete", "good", "habit-1")
	cliErr, _ = jsonError(env, "habit", "check", "good", "habit-1")
	assert.Equal(t, ErrCodeNotFound, cliErr.Code)

	_, code = jsonError(env, "habit", "add", "ugly", "Nope")
	assert.Equal(t, ExitCommandError, code)
}

func TestRolloverCommand(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("habit", "add", "bad", "Doomscrolling")
	env.mustRun("habit", "check", "bad", "habit-1")

	r := jsonData[RolloverResult](env, "rollover")
	assert.Equal(t, "2024-01-02", r.Date, "defaults to today")
	assert.False(t, r.Rolled, "opening progress already started the day")

	r = jsonData[RolloverResult](env, "rollover", "--date", "2024-01-03")
	assert.True(t, r.Rolled)
	assert.Equal(t, "2024-01-03", r.Date)

	r = jsonData[RolloverResult](env, "rollover", "--date", "2024-01-03")
	assert.False(t, r.Rolled, "second rollover on the same day is a no-op")

	env.now = testNow.AddDate(0, 0, 1)
	v := jsonData[StatusView](env, "status")
	assert.False(t, progress.IsChecked(*v.Progress, progress.KindBad, "habit-1"))
	assert.Equal(t, "2024-01-03", v.Progress.LastOpenDate)

	_, code := jsonError(env, "rollover", "--date", "03/01/2024")
	assert.Equal(t, ExitCommandError, code)
}

func TestHabitCheck_NextDay(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("habit", "add", "good", "Stretch")
	env.mustRun("habit", "check", "good", "habit-1")

	cliErr, _ := jsonError(env, "habit", "check", "good", "habit-1")
	assert.Equal(t, ErrCodeInvalid, cliErr.Code, "already checked today")

	env.now = testNow.AddDate(0, 0, 1)
	env.mustRun("habit", "check", "good", "habit-1")

	v := jsonData[StatusView](env, "status")
	assert.Equal(t, "2024-01-03", v.Progress.LastOpenDate)
	assert.True(t, progress.IsChecked(*v.Progress, progress.KindGood, "habit-1"))
}

func TestSyncAndSave(t *testing.T) {
	env := newCLIEnv(t)
	res := jsonData[SyncResult](env, "sync")
	assert.Equal(t, "acked", res.Remote)
	env.mustRun("save")
}

func TestOffline(t *testing.T) {
	env := newCLIEnv(t)
	env.offline()

	added := jsonData[HabitResult](env, "habit", "add", "bad", "Soda")
	assert.Equal(t, "habit-1", added.ID)

	res := jsonData[SyncResult](env, "sync")
	assert.Equal(t, "unreachable", res.Remote, "sync tolerates an unreachable server")
	require.Len(t, res.Progress.BadHabits, 1, "progress kept on this device")

	cliErr, code := jsonError(env, "save")
	assert.Equal(t, ErrCodeSave, cliErr.Code)
	assert.Equal(t, ExitFailure, code)
}

func TestReset(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("habit", "add", "bad", "Soda")

	_, code := jsonError(env, "reset")
	assert.Equal(t, ExitCommandError, code, "reset needs --yes")

	v := jsonData[StatusView](env, "reset", "--yes")
	assert.Empty(t, v.Progress.BadHabits)
	assert.Equal(t, progress.DefaultCoins, v.Progress.Coins)
}

func TestAccountLifecycle(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("habit", "add", "good", "Walk")

	reg := jsonData[AccountResult](env, "register", "alice", "alice@example.com", "--password", "secret1")
	assert.Equal(t, "account:1", reg.Owner)
	assert.Equal(t, "alice", reg.Username)
	assert.Equal(t, "guest-cli", reg.GuestID)

	v := jsonData[StatusView](env, "status")
	assert.Equal(t, "account:1", v.Owner)
	require.Len(t, v.Progress.GoodHabits, 1, "guest progress carried to the new account")
	assert.Equal(t, "Walk", v.Progress.GoodHabits[0].Name)

	who := jsonData[AccountResult](env, "whoami")
	assert.Equal(t, "account:1", who.Owner)

	out := env.mustRun("logout")
	assert.Contains(t, out, "guest-cli")
	who = jsonData[AccountResult](env, "whoami")
	assert.Equal(t, "guest:guest-cli", who.Owner)

	cliErr, code := jsonError(env, "login", "alice", "--password", "wrong-password")
	assert.Equal(t, ErrCodeAuth, cliErr.Code)
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, map[string]any{"code": "INVALID_CREDENTIALS"}, cliErr.Details)

	login := jsonData[AccountResult](env, "login", "alice@example.com", "--password", "secret1")
	assert.Equal(t, "account:1", login.Owner)

	cliErr, _ = jsonError(env, "register", "alice", "other@example.com", "--password", "secret1")
	assert.Equal(t, ErrCodeAuth, cliErr.Code)
	assert.Equal(t, map[string]any{"code": "USERNAME_TAKEN"}, cliErr.Details)

	_, code = jsonError(env, "login", "alice")
	assert.Equal(t, ExitCommandError, code, "password is required")
}

func TestRegisterWithEmailVerification(t *testing.T) {
	env := newCLIEnv(t)

	sent := jsonData[map[string]string](env, "register", "bob", "bob@example.com", "--password", "secret1", "--verify-email")
	assert.Equal(t, "CODE_SENT", sent["status"])

	who := jsonData[AccountResult](env, "whoami")
	assert.Equal(t, "guest:guest-cli", who.Owner, "not signed in until verified")

	cliErr, _ := jsonError(env, "register", "verify", "bob@example.com", "000000", "--username", "bob", "--password", "secret1")
	assert.Equal(t, map[string]any{"code": "INVALID_CODE"}, cliErr.Details)

	res := jsonData[AccountResult](env, "register", "verify", "bob@example.com", "123456", "--username", "bob", "--password", "secret1")
	assert.Equal(t, "account:1", res.Owner)
}

func TestResetPassword(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("register", "carol", "carol@example.com", "--password", "secret1")
	env.mustRun("logout")

	sent := jsonData[map[string]string](env, "reset-password", "carol")
	assert.Equal(t, "carol@example.com", sent["email"])

	res := jsonData[AccountResult](env, "reset-password", "carol@example.com", "--code", "123456", "--new-password", "newsecret")
	assert.Equal(t, "account:1", res.Owner)

	env.mustRun("logout")
	_, err := env.run("login", "carol", "--password", "secret1")
	require.Error(t, err, "old password rejected")
	env.mustRun("login", "carol", "--password", "newsecret")
}

func TestOwnersCommand(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("register", "dave", "dave@example.com", "--password", "secret1")

	owners := jsonData[[]OwnerEntry](env, "owners")
	ids := map[string]bool{}
	for _, o := range owners {
		ids[o.OwnerID] = o.Active
	}
	assert.Equal(t, map[string]bool{"guest-cli": false, "1": true}, ids)

	out := env.mustRun("owners")
	assert.Contains(t, out, "OWNER")
	assert.Contains(t, out, "guest-cli")
}

func TestConfigCommands(t *testing.T) {
	env := newCLIEnv(t)
	path := filepath.Join(env.dir, "config.yaml")

	out := env.mustRun("config", "init")
	assert.Contains(t, out, path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "remote_url:")

	_, code := jsonError(env, "config", "init")
	assert.Equal(t, ExitCommandError, code, "refuses to overwrite")
	env.mustRun("config", "init", "--force")

	view := jsonData[ConfigView](env, "config", "show")
	assert.Equal(t, path, view.Path)
	assert.Equal(t, env.remoteURL, view.RemoteURL, "flag overrides the file")
	assert.Equal(t, filepath.Join(env.dir, "progress.db"), view.DBPath)

	text := env.mustRun("config", "show")
	assert.True(t, strings.HasPrefix(text, "# "+path))
}

func TestInvalidFormat(t *testing.T) {
	env := newCLIEnv(t)
	out, err := env.run("--format", "xml", "status")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "invalid format")
}

func TestBadConfigFile(t *testing.T) {
	env := newCLIEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(env.dir, "config.yaml"), []byte("unknown_key: 1\n"), 0o600))

	cliErr, code := jsonError(env, "status")
	assert.Equal(t, ErrCodeConfig, cliErr.Code)
	assert.Equal(t, ExitCommandError, code)
}
