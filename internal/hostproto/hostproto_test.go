package hostproto

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestServeDispatchesClientEvents(t *testing.T) {
	in := strings.NewReader(`{"type":"client-event","event":"session.start","payload":{"prompt":"hi"}}` + "\n")
	var out bytes.Buffer
	conn := New(in, &out, nil)

	var gotEvents []string
	err := conn.Serve(context.Background(), func(ctx context.Context, msg InboundMessage) error {
		gotEvents = append(gotEvents, msg.Event)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{EventSessionStart}, gotEvents)
}

func TestServeSkipsEmptyLines(t *testing.T) {
	in := strings.NewReader("\n" + `{"type":"client-event","event":"session.stop"}` + "\n\n")
	var out bytes.Buffer
	conn := New(in, &out, nil)

	var count int
	err := conn.Serve(context.Background(), func(ctx context.Context, msg InboundMessage) error {
		count++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestServeFailsFastOnMalformedLine(t *testing.T) {
	in := strings.NewReader(`not json at all` + "\n")
	var out bytes.Buffer
	conn := New(in, &out, nil)

	err := conn.Serve(context.Background(), func(ctx context.Context, msg InboundMessage) error { return nil })
	require.Error(t, err)
}

func TestHandlerErrorEmitsRunnerErrorButDoesNotTerminate(t *testing.T) {
	in := strings.NewReader(`{"type":"client-event","event":"session.start"}` + "\n")
	var out bytes.Buffer
	conn := New(in, &out, nil)

	err := conn.Serve(context.Background(), func(ctx context.Context, msg InboundMessage) error {
		return errors.New("boom")
	})
	require.NoError(t, err)

	scanner := bufio.NewScanner(&out)
	require.True(t, scanner.Scan())
	var got OutboundMessage
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &got))
	require.Equal(t, OutRunnerError, got.Event)
}

func TestSendProducesOneLinePerCall(t *testing.T) {
	var out bytes.Buffer
	conn := New(strings.NewReader(""), &out, nil)

	require.NoError(t, conn.SendEvent("s1", OutSessionStatus, map[string]string{"status": "running"}))
	require.NoError(t, conn.SendEvent("s1", OutSessionStatus, map[string]string{"status": "completed"}))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)
}
