package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/cadenza/core"
	"github.com/trezcool/cadenza/core/billing"
	"github.com/trezcool/cadenza/core/user"
	testutil "github.com/trezcool/cadenza/tests"
)

type testCLI struct {
	*commandLine
	env *testutil.Env
	out *bytes.Buffer
}

func setup(t *testing.T, confFns ...func(*core.Config)) testCLI {
	t.Helper()
	env := testutil.NewEnv(t, confFns...)
	out := new(bytes.Buffer)
	cli := &commandLine{
		conf:   env.Conf,
		logger: env.Logger,
		out:    out,
		svcs:   env.Services,
		openDB: func(context.Context) (*sql.DB, func() error, error) {
			return nil, func() error { return nil }, nil
		},
	}
	return testCLI{commandLine: cli, env: env, out: out}
}

// withPassword makes the terminal prompt answer pwd.
func withPassword(t *testing.T, pwd string) {
	t.Helper()
	orig := readPasswordFunc
	readPasswordFunc = func(int) ([]byte, error) { return []byte(pwd), nil }
	t.Cleanup(func() { readPasswordFunc = orig })
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErrStr string
}

func (c testCLI) runTests(t *testing.T, tests []cliTest) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.run(context.Background(), tt.args)
			if tt.wantErrStr == "" {
				assert.NoError(t, err)
			} else {
				assert.EqualError(t, err, tt.wantErrStr)
			}
		})
	}
}

func Test_commandLine_migrate(t *testing.T) {
	c := setup(t)

	var gotDir string
	orig := gooseRunFunc
	gooseRunFunc = func(command string, _ *sql.DB, _ fs.FS, dir string, args ...string) error {
		gotDir = dir
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}
	t.Cleanup(func() { gooseRunFunc = orig })

	c.runTests(t, []cliTest{
		{name: "no command", args: []string{"migrate"}, wantErrStr: "requires at least 1 arg(s), only received 0"},
		{name: "unknown command", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "create", args: []string{"migrate", "create", "add_rooms", "sql"}},
	})
	assert.Equal(t, "migrations", gotDir)
}

func Test_commandLine_addUser(t *testing.T) {
	c := setup(t)
	ctx := context.Background()

	t.Run("password required", func(t *testing.T) {
		withPassword(t, "")
		err := c.run(ctx, []string{"adduser", "--name", "Clara", "--username", "clara"})
		assert.ErrorIs(t, err, errPasswordRequired)
	})

	withPassword(t, "LolC@t123")
	c.runTests(t, []cliTest{
		{name: "name required", args: []string{"adduser", "--username", "clara"}, wantErrStr: `required flag(s) "name" not set`},
		{name: "bad email", args: []string{"adduser", "--name", "Clara", "--email", "lol"}, wantErrStr: "invalid input:\n  email: email must be a valid email address"},
		{name: "bad role", args: []string{"adduser", "--name", "Clara", "--username", "clara", "--role", "lol"}, wantErrStr: "invalid input:\n  roles: invalid roles"},
		{name: "office clerk", args: []string{"adduser", "--name", "Clara", "--username", "clara", "--role", user.RoleOffice}},
		{name: "owner", args: []string{"adduser", "--name", "Robert", "--email", "robert@cadenza.test", "--owner"}},
	})

	clara, err := c.env.Users.GetByUsernameOrEmail(ctx, "clara")
	require.NoError(t, err)
	assert.Equal(t, []string{user.RoleOffice}, clara.Roles)
	assert.NoError(t, clara.CheckPassword("LolC@t123"))

	robert, err := c.env.Users.GetByUsernameOrEmail(ctx, "robert@cadenza.test")
	require.NoError(t, err)
	assert.Equal(t, []string{user.RoleAdminOwner}, robert.Roles)
	assert.Contains(t, c.out.String(), `created user "clara"`)
}

func Test_commandLine_resetPassword(t *testing.T) {
	c := setup(t)
	ctx := context.Background()
	usr := testutil.CreateUser(t, c.env.Repos.Users, "User", "awesome", "awe@test.cd", "OldP@ss12", nil, true)

	t.Run("validation", func(t *testing.T) {
		withPassword(t, "12345678")
		err := c.run(ctx, []string{"resetpassword", "--username", usr.Username})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid input")
	})

	withPassword(t, "NewP@ss12")
	c.runTests(t, []cliTest{
		{name: "username required", args: []string{"resetpassword"}, wantErrStr: `required flag(s) "username" not set`},
		{name: "user not found", args: []string{"resetpassword", "--username", "lol"}, wantErrStr: `finding "lol": user not found`},
		{name: "reset with username", args: []string{"resetpassword", "--username", usr.Username}},
	})

	got, err := c.env.Users.GetByID(ctx, usr.ID)
	require.NoError(t, err)
	assert.NoError(t, got.CheckPassword("NewP@ss12"))

	withPassword(t, "Lmao@1234")
	require.NoError(t, c.run(ctx, []string{"resetpassword", "--username", usr.Email}))
	got, err = c.env.Users.GetByID(ctx, usr.ID)
	require.NoError(t, err)
	assert.NoError(t, got.CheckPassword("Lmao@1234"), "emails work too")
}

func Test_commandLine_billing(t *testing.T) {
	c := setup(t, func(conf *core.Config) { conf.Billing.AutoApplyCredits = false })
	ctx := context.Background()
	testutil.FreezeTime(t, time.Date(2024, time.October, 1, 9, 0, 0, 0, time.UTC))

	tchr := c.env.CreateTeacher(t, "Clara Schumann", "piano")
	ct := c.env.CreateCourseType(t, "Piano", 30)
	c.env.CreateVersion(t, ct.ID, "20", "30", 18, core.NewDate(2024, time.January, 1))
	crs := c.env.CreateCourse(t, ct.ID, tchr.ID, "Piano A", testutil.Weekly(t, time.Monday, "16:00", "16:30"))
	st := c.env.CreateStudent(t, "Robert", "Schumann")
	c.env.Enroll(t, st.ID, crs.ID, core.NewDate(2024, time.August, 1))

	c.runTests(t, []cliTest{
		{name: "bad month", args: []string{"generate-invoices", "--month", "lol"}, wantErrStr: `invalid month "lol", want YYYY-MM`},
		{name: "bad issue date", args: []string{"generate-invoices", "--issue-date", "lol"}, wantErrStr: `parsing issue date: invalid date "lol": expected YYYY-MM-DD`},
		{name: "august", args: []string{"generate-invoices", "--month", "2024-08", "--student", st.ID}},
		{name: "previous month", args: []string{"generate-invoices"}},
	})
	assert.Contains(t, c.out.String(), "2024-08-01 - 2024-08-31: 1 invoice(s) generated")
	assert.Contains(t, c.out.String(), "2024-09-01 - 2024-09-30: 1 invoice(s) generated")
	assert.Contains(t, c.out.String(), "150.00", "5 Mondays in September")

	invs, err := c.env.Invoices.Query(ctx, &billing.InvoiceFilter{StudentID: st.ID}, nil)
	require.NoError(t, err)
	require.Len(t, invs, 2)

	for _, inv := range invs {
		_, err = c.env.Invoices.Issue(ctx, inv.ID)
		require.NoError(t, err)
	}
	_, err = c.env.Ledger.AddEntry(ctx, billing.NewEntry{
		StudentID: st.ID, Kind: billing.KindCredit, Amount: testutil.Money("50"), Description: "gift voucher",
	})
	require.NoError(t, err)

	c.out.Reset()
	require.NoError(t, c.run(ctx, []string{"apply-credits"}))
	assert.Equal(t, "1 application(s) made\n", c.out.String())
}
