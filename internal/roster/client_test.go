package roster

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListStudents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/students/all", r.URL.Path)
		assert.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"students":[
			{"id":7,"first_name":"Ada","last_name":"Lovelace","avatar":"assets/ada.png","group_name":"PI-41"},
			{"id":"12","first_name":"Alan","last_name":"Turing","avatar":"","group_name":"PI-42"}
		]}`))
	}))
	defer srv.Close()

	students, err := NewClient(srv.URL).ListStudents(context.Background(), "token-123")
	require.NoError(t, err)
	require.Len(t, students, 2)
	assert.Equal(t, "7", students[0].ID.String())
	assert.Equal(t, "Ada", students[0].FirstName)
	assert.Equal(t, "12", students[1].ID.String())
	assert.Equal(t, "PI-42", students[1].GroupName)
}

func TestListStudentsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":false,"message":"invalid token"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).ListStudents(context.Background(), "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid token")
}

func TestListStudentsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).ListStudents(context.Background(), "token")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
