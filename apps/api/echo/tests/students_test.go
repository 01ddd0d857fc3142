package tests

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/cadenza/core"
	"github.com/trezcool/cadenza/core/billing"
	"github.com/trezcool/cadenza/core/student"
	"github.com/trezcool/cadenza/core/teacher"
	"github.com/trezcool/cadenza/core/user"
)

func Test_studentApi(t *testing.T) {
	a := setup(t)
	_, officeToken := a.user(t, "office", user.RoleOffice)
	_, teacherToken := a.user(t, "teacher", user.RoleTeacher)
	_, adminToken := a.user(t, "admin", user.RoleAdmin)

	reqMsg := "this field is required"
	tests := []httpTest{
		{name: "auth required", method: http.MethodGet, path: "/v1/students", wantCode: http.StatusUnauthorized, wantData: marshalObj(t, errMissingToken)},
		{
			name: "office required", method: http.MethodGet, path: "/v1/students", token: teacherToken,
			wantCode: http.StatusForbidden, wantData: marshalObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "admins are welcome", method: http.MethodGet, path: "/v1/students", token: adminToken, wantCode: http.StatusOK, wantData: marshalList(t)},
		{
			name: "required fields", method: http.MethodPost, path: "/v1/students", token: officeToken, wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{"first_name": reqMsg, "last_name": reqMsg}),
		},
		{
			name: "invalid email", method: http.MethodPost, path: "/v1/students", token: officeToken, wantCode: http.StatusBadRequest,
			body:     marshalObj(t, student.NewStudent{FirstName: "Robert", LastName: "Schumann", Email: "lol"}),
			wantData: marshalObj(t, map[string]string{"email": "email must be a valid email address"}),
		},
		{
			name: "not found", method: http.MethodGet, path: "/v1/students/nope", token: officeToken,
			wantCode: http.StatusNotFound, wantData: marshalObj(t, httpErr{Error: "not found"}),
		},
	}
	runHTTPTests(t, a, tests)

	rec := a.do(t, http.MethodPost, "/v1/students", officeToken, student.NewStudent{
		FirstName: " Robert ",
		LastName:  "Schumann",
		Email:     "robert@cadenza.test",
		BirthDate: core.NullDateFrom(core.NewDate(2012, time.June, 8)),
	})
	st := decode[student.Student](t, rec, http.StatusCreated)
	assert.Equal(t, "Robert", st.FirstName)
	assert.True(t, st.IsActive)
	assert.Equal(t, "2012-06-08", st.BirthDate.Date.String())

	t.Run("retrieve & query", func(t *testing.T) {
		rec := a.do(t, http.MethodGet, "/v1/students/"+st.ID, officeToken)
		assert.Equal(t, st.ID, decode[student.Student](t, rec, http.StatusOK).ID)

		rec = a.do(t, http.MethodGet, "/v1/students?search=schu", officeToken)
		require.Len(t, decode[[]student.Student](t, rec, http.StatusOK), 1)

		rec = a.do(t, http.MethodGet, "/v1/students?search=clara", officeToken)
		assert.Empty(t, decode[[]student.Student](t, rec, http.StatusOK))
	})

	t.Run("update", func(t *testing.T) {
		notes := "prefers afternoons"
		rec := a.do(t, http.MethodPut, "/v1/students/"+st.ID, officeToken, student.UpdateStudent{
			GuardianName:  "Friedrich Wieck",
			GuardianEmail: "wieck@cadenza.test",
			Notes:         &notes,
		})
		got := decode[student.Student](t, rec, http.StatusOK)
		assert.Equal(t, "Friedrich Wieck", got.GuardianName)
		assert.Equal(t, notes, got.Notes)
		assert.Equal(t, "Robert", got.FirstName, "unset fields are kept")
	})

	t.Run("empty ledger", func(t *testing.T) {
		rec := a.do(t, http.MethodGet, "/v1/students/"+st.ID+"/balance", officeToken)
		bal := decode[billing.Balance](t, rec, http.StatusOK)
		assert.Equal(t, "0.00", bal.AmountOwed.StringFixed(2))

		rec = a.do(t, http.MethodGet, "/v1/students/"+st.ID+"/ledger", officeToken)
		assert.Empty(t, decode[[]billing.Entry](t, rec, http.StatusOK))

		rec = a.do(t, http.MethodGet, "/v1/students/"+st.ID+"/transactions?from=lol", officeToken)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = a.do(t, http.MethodGet, "/v1/students/"+st.ID+"/transactions", officeToken)
		stmt := decode[billing.Statement](t, rec, http.StatusOK)
		assert.Empty(t, stmt.Items)
		assert.Equal(t, "0.00", stmt.ClosingBalance.StringFixed(2))
	})

	t.Run("deactivate", func(t *testing.T) {
		rec := a.do(t, http.MethodDelete, "/v1/students/"+st.ID, officeToken)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = a.do(t, http.MethodGet, "/v1/students/"+st.ID, officeToken)
		assert.False(t, decode[student.Student](t, rec, http.StatusOK).IsActive, "students are never deleted")

		rec = a.do(t, http.MethodGet, "/v1/students?is_active=true", officeToken)
		assert.Empty(t, decode[[]student.Student](t, rec, http.StatusOK))
	})
}

func Test_teacherApi(t *testing.T) {
	a := setup(t)
	_, officeToken := a.user(t, "office", user.RoleOffice)
	_, teacherToken := a.user(t, "teacher", user.RoleTeacher)

	rec := a.do(t, http.MethodPost, "/v1/teachers", teacherToken, teacher.NewTeacher{Name: "Clara Schumann"})
	assert.Equal(t, http.StatusForbidden, rec.Code, "teachers can't manage teachers")

	rec = a.do(t, http.MethodPost, "/v1/teachers", officeToken, teacher.NewTeacher{Name: "Clara Schumann", Instruments: []string{"piano"}})
	tchr := decode[teacher.Teacher](t, rec, http.StatusCreated)

	rec = a.do(t, http.MethodGet, "/v1/teachers", teacherToken)
	require.Len(t, decode[[]teacher.Teacher](t, rec, http.StatusOK), 1, "but they can list them")

	rec = a.do(t, http.MethodPut, "/v1/teachers/"+tchr.ID, teacherToken, teacher.UpdateTeacher{Name: "Clara Wieck"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodDelete, "/v1/teachers/"+tchr.ID, officeToken)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(t, http.MethodGet, "/v1/teachers/"+tchr.ID, teacherToken)
	assert.False(t, decode[teacher.Teacher](t, rec, http.StatusOK).IsActive)
}
