package handlers

import (
	"context"
	"net/http"
	"testing"

	"courseplatform.app/api/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListCourses(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/v1/courses", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody(t, w)["courses"], 4)
}

func TestGetCourse_Decisions(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, testutil.SetupTestData(ts.store))

	free := ts.seedUser(t, "free-user")
	owner, err := ts.store.GetUser(context.Background(), "owner1")
	require.NoError(t, err)
	expiredOwner, err := ts.store.GetUser(context.Background(), "owner4")
	require.NoError(t, err)

	tests := []struct {
		name       string
		token      string
		course     string
		wantStatus int
		decision   string
	}{
		{"anonymous free course", "", "getting-started", http.StatusUnauthorized, "login_required"},
		{"anonymous premium course", "", "masterclass", http.StatusUnauthorized, "login_required"},
		{"bad token counts as anonymous", "garbage", "getting-started", http.StatusUnauthorized, "login_required"},
		{"unknown course", ts.token(t, free), "no-such-course", http.StatusNotFound, "course_not_found"},
		{"free course without license", ts.token(t, free), "getting-started", http.StatusOK, "granted"},
		{"premium course without license", ts.token(t, free), "masterclass", http.StatusForbidden, "license_required"},
		{"premium course with expired license", ts.token(t, expiredOwner), "masterclass", http.StatusForbidden, "license_required"},
		{"premium course with license", ts.token(t, owner), "masterclass", http.StatusOK, "granted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodGet, "/api/v1/courses/"+tt.course, tt.token, nil)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.Equal(t, tt.decision, decodeBody(t, w)["decision"])
		})
	}

	t.Run("license required carries upsell links", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/api/v1/courses/masterclass", ts.token(t, free), nil)
		body := decodeBody(t, w)
		assert.Equal(t, "LICENSE_REQUIRED", body["code"])
		assert.Equal(t, "/api/v1/licenses/purchase", body["purchaseUrl"])
		assert.Equal(t, "/api/v1/licenses/activate", body["activateUrl"])
	})
}

func TestMemberGainsAndLosesPremiumAccess(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, testutil.SetupTestData(ts.store))
	member := ts.seedUser(t, "member")
	token := ts.token(t, member)

	w := ts.do(t, http.MethodPost, "/api/v1/courses/advanced-practice/enroll", token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/licenses/activate", token, map[string]string{"licenseKey": "FAMILY00021990"})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/courses/advanced-practice/enroll", token, nil)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/courses/advanced-practice/sections/3", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Revoking the owner's license shuts the member out of every surface.
	w = ts.do(t, http.MethodPost, "/api/v1/admin/licenses/license2/status", testAdminToken, map[string]string{"status": "revoked"})
	require.Equal(t, http.StatusOK, w.Code)

	for _, path := range []string{
		"/api/v1/courses/advanced-practice",
		"/api/v1/courses/advanced-practice/sections/3",
		"/api/v1/courses/advanced-practice/quizzes",
	} {
		w = ts.do(t, http.MethodGet, path, token, nil)
		assert.Equal(t, http.StatusForbidden, w.Code, path)
		assert.Equal(t, "license_required", decodeBody(t, w)["decision"], path)
	}
}

func TestCourseProgressFlow(t *testing.T) {
	ts := newTestServer(t)
	user := ts.seedUser(t, "learner")
	token := ts.token(t, user)

	t.Run("section requires enrollment", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/api/v1/courses/fundamentals/sections/1", token, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "not_enrolled", decodeBody(t, w)["decision"])
	})

	t.Run("enroll is idempotent", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/api/v1/courses/fundamentals/enroll", token, nil)
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, true, decodeBody(t, w)["created"])

		w = ts.do(t, http.MethodPost, "/api/v1/courses/fundamentals/enroll", token, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, false, decodeBody(t, w)["created"])

		w = ts.do(t, http.MethodGet, "/api/v1/enrollments", token, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, decodeBody(t, w)["enrollments"], 1)
	})

	t.Run("complete and uncomplete sections", func(t *testing.T) {
		for _, section := range []string{"2", "5"} {
			w := ts.do(t, http.MethodPut, "/api/v1/courses/fundamentals/sections/"+section+"/complete", token, nil)
			require.Equal(t, http.StatusOK, w.Code)
		}
		w := ts.do(t, http.MethodDelete, "/api/v1/courses/fundamentals/sections/2/complete", token, nil)
		require.Equal(t, http.StatusOK, w.Code)

		w = ts.do(t, http.MethodGet, "/api/v1/courses/fundamentals/progress", token, nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, []interface{}{float64(5)}, body["completedSections"])
		assert.NotNil(t, body["lastAccessedAt"])

		w = ts.do(t, http.MethodGet, "/api/v1/courses/fundamentals/sections/5", token, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, decodeBody(t, w)["completed"])
	})

	t.Run("sections are bounded", func(t *testing.T) {
		for _, section := range []string{"0", "9", "abc"} {
			w := ts.do(t, http.MethodPut, "/api/v1/courses/fundamentals/sections/"+section+"/complete", token, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code, section)
			assert.Equal(t, "INVALID_SECTION", decodeBody(t, w)["code"])
		}
	})

	t.Run("quiz keeps best score", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/api/v1/courses/fundamentals/quizzes/midterm", token, map[string]int{"correct": 7, "total": 10})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, decodeBody(t, w)["improved"])

		w = ts.do(t, http.MethodPost, "/api/v1/courses/fundamentals/quizzes/midterm", token, map[string]int{"correct": 5, "total": 10})
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, false, body["improved"])
		assert.Equal(t, float64(70), body["best"].(map[string]interface{})["score"])

		w = ts.do(t, http.MethodGet, "/api/v1/courses/fundamentals/quizzes", token, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, decodeBody(t, w)["scores"], 1)
	})

	t.Run("quiz validation", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/api/v1/courses/fundamentals/quizzes/pop-quiz", token, map[string]int{"correct": 1, "total": 1})
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = ts.do(t, http.MethodPost, "/api/v1/courses/fundamentals/quizzes/final", token, map[string]int{"correct": 11, "total": 10})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_SCORE", decodeBody(t, w)["code"])
	})
}
