package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"trainbatch/internal/notify"
	"trainbatch/pkg/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCompletedPostsSummary(t *testing.T) {
	var received models.Run
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
	}))
	defer server.Close()

	run := models.Run{
		Id:             uuid.New(),
		Name:           "sweep",
		Status:         "COMPLETED",
		CreationTime:   time.Now().UTC().Truncate(time.Second),
		TotalJobCount:  14,
		FailedJobCount: 1,
	}

	notifier := notify.NewNotifier(server.URL)
	notifier.RunCompleted(context.Background(), run)

	assert.Equal(t, run.Id, received.Id)
	assert.Equal(t, 14, received.TotalJobCount)
	assert.Equal(t, 1, received.FailedJobCount)
}

func TestRunCompletedToleratesServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	notifier := notify.NewNotifier(server.URL)
	notifier.RunCompleted(context.Background(), models.Run{Id: uuid.New()})
}

func TestNilNotifier(t *testing.T) {
	notifier := notify.NewNotifier("")
	require.Nil(t, notifier)

	notifier.RunCompleted(context.Background(), models.Run{Id: uuid.New()})
	assert.Equal(t, "<disabled>", notifier.String())
}
