package emailsvc

import (
	"bytes"
	"io"
	"net/http"
	"net/mail"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/cadenza/core"
	logsvc "github.com/trezcool/cadenza/services/logger"
)

func newMessage() *core.EmailMessage {
	return &core.EmailMessage{
		To:      []mail.Address{{Name: "Alice Martin", Address: "alice@example.com"}},
		Cc:      []mail.Address{{Address: "office@example.com"}},
		Subject: "Invoice INV-202410-0001",
		BodyStr: "Please find your invoice attached.",
	}
}

func TestConsoleService(t *testing.T) {
	conf := core.NewTestConfig()
	logger := logsvc.NewRollbarLogger(io.Discard, conf)
	out := new(bytes.Buffer)
	svc := newConsoleService(conf, out, logger)

	svc.sendMessage(newMessage())

	got := out.String()
	assert.Contains(t, got, "From: \"Cadenza\" <noreply@localhost>\r\n")
	assert.Contains(t, got, "Subject: [Cadenza] Invoice INV-202410-0001\r\n")
	assert.Contains(t, got, "To: \"Alice Martin\" <alice@example.com>\r\n")
	assert.Contains(t, got, "CC: <office@example.com>\r\n")
	assert.Contains(t, got, "Content-Type: text/plain; charset=utf-8")
	assert.Contains(t, got, "Please find your invoice attached.")
	assert.NotContains(t, got, "text/html")

	t.Run("no recipients", func(t *testing.T) {
		out.Reset()
		msg := newMessage()
		msg.To = nil
		svc.sendMessage(msg)
		assert.Empty(t, out.String())
	})
}

func TestConsoleServiceMock(t *testing.T) {
	conf := core.NewTestConfig()
	mock := NewConsoleServiceMock(conf, logsvc.NewRollbarLogger(io.Discard, conf))

	mock.SendMessages(newMessage(), newMessage())
	msgs := mock.SentMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Please find your invoice attached.", msgs[0].TextContent)

	mock.Reset()
	assert.Empty(t, mock.SentMessages())
}

type fakeSendgrid struct {
	mu       sync.Mutex
	statuses []int
	requests []rest.Request
}

func (f *fakeSendgrid) api(req rest.Request) (*rest.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.statuses) == 0 {
		return nil, errors.New("connection reset")
	}
	status := f.statuses[0]
	f.statuses = f.statuses[1:]
	return &rest.Response{StatusCode: status}, nil
}

func TestSendgridService_send(t *testing.T) {
	conf := core.NewTestConfig()
	conf.SendgridAPIKey = "SG.test"
	logger := logsvc.NewRollbarLogger(io.Discard, conf)

	tests := []struct {
		name         string
		statuses     []int
		wantAttempts int
	}{
		{name: "accepted", statuses: []int{http.StatusAccepted}, wantAttempts: 1},
		{name: "server errors are retried", statuses: []int{http.StatusBadGateway, http.StatusAccepted}, wantAttempts: 2},
		{name: "client errors are not", statuses: []int{http.StatusBadRequest}, wantAttempts: 1},
		{name: "gives up", statuses: nil, wantAttempts: sendgridRetries},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeSendgrid{statuses: tt.statuses}
			svc := NewSendgridService(conf, logger).(*sendgridService)
			svc.api = fake.api
			svc.backoff = 0

			msg := newMessage()
			require.NoError(t, msg.Render(svc.ctxData))
			svc.send(*msg)

			require.Len(t, fake.requests, tt.wantAttempts)
			req := fake.requests[0]
			assert.Equal(t, rest.Post, req.Method)
			assert.Equal(t, sendgridHost+sendgridEndpoint, req.BaseURL)
			assert.Equal(t, "Bearer SG.test", req.Headers["Authorization"])
			assert.Contains(t, string(req.Body), "[Cadenza] Invoice INV-202410-0001")
			assert.Contains(t, string(req.Body), "office@example.com")
		})
	}
}
