package httpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mentor-chat/internal/models"
	"mentor-chat/internal/observability"
)

func TestListConversation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/conversations", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("participantA"))
		assert.Equal(t, "2", r.URL.Query().Get("participantB"))
		assert.NotEmpty(t, r.Header.Get(observability.RequestIDHeader))
		_, _ = w.Write([]byte(`{"messages":[{"id":1,"sender_type":"student","sender_id":1,"receiver_id":2,"content":"hi","timestamp":"2024-03-01T10:00:00","is_read":true}]}`))
	}))
	defer srv.Close()

	msgs, err := New(srv.URL).ListConversation(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.True(t, msgs[0].IsRead)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), msgs[0].Timestamp.Time)
}

func TestListConversationEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"messages":null}`))
	}))
	defer srv.Close()

	msgs, err := New(srv.URL + "/").ListConversation(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)
}

func TestCreateMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req models.CreateMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, models.CreateMessageRequest{Content: "hey", SenderType: models.RoleMentor, SenderID: 2, ReceiverID: 1}, req)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":10,"sender_type":"mentor","sender_id":2,"receiver_id":1,"content":"hey","timestamp":"2024-03-01T10:00:00Z","is_read":false}`))
	}))
	defer srv.Close()

	msg, err := New(srv.URL).CreateMessage(context.Background(), models.CreateMessageRequest{
		Content: "hey", SenderType: models.RoleMentor, SenderID: 2, ReceiverID: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 10, msg.ID)
}

func TestErrorResponsesBecomeStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"content is required"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).CreateMessage(context.Background(), models.CreateMessageRequest{})
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, OpCreateMessage, se.Operation)
	assert.Equal(t, "content is required", se.Message)
	assert.True(t, IsStatus(err, http.StatusBadRequest))
}

func TestPlainTextErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL).ListConversation(context.Background(), 1, 2)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "upstream down", se.Message)
}

func TestMarkConversationRead(t *testing.T) {
	var got markReadRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/conversations/read", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, New(srv.URL).MarkConversationRead(context.Background(), 4, 9))
	assert.Equal(t, markReadRequest{ReaderID: 4, CounterpartID: 9}, got)
}

func TestTimeoutSurfacesAsError(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	_, err := New(srv.URL, WithTimeout(50*time.Millisecond)).ListConversation(context.Background(), 1, 2)
	assert.Error(t, err)
}
