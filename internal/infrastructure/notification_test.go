package infrastructure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/yourusername/media-fetch-go/internal/domain"
)

func TestNotificationService_DisabledIsNoop(t *testing.T) {
	n := NewNotificationService(&domain.NotificationConfig{Enabled: false, Method: "notify-send"}, zap.NewNop())
	assert.NoError(t, n.Send("title", "message"))
}

func TestNotificationService_UnknownMethodIsIgnored(t *testing.T) {
	n := NewNotificationService(&domain.NotificationConfig{Enabled: true, Method: "carrier-pigeon"}, zap.NewNop())
	assert.NoError(t, n.Send("title", "message"))
}

func TestJobLabel(t *testing.T) {
	job := domain.NewJob("https://www.youtube.com/playlist?list=PLabcdefghijklmnopqrstuvwxyz0123456789")
	assert.Equal(t, "https://www.youtube.com/playlist?list=PL...", jobLabel(job))

	job.CollectionTitle = "Road Trip"
	assert.Equal(t, "Road Trip", jobLabel(job))
}

func TestAppleScriptString(t *testing.T) {
	assert.Equal(t, `"say \"hi\" \\ bye"`, appleScriptString(`say "hi" \ bye`))
}
