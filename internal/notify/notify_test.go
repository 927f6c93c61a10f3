package notify

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/handoff/internal/foundation/errors"
)

type published struct {
	subject string
	payload string
}

// fakeServer speaks enough of the NATS client protocol for a publish and flush.
func fakeServer(t *testing.T) (string, <-chan published) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	msgs := make(chan published, 4)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = io.WriteString(conn, `INFO {"server_id":"fake","version":"2.10.0","proto":1,"max_payload":1048576}`+"\r\n")
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\r\n")
			switch {
			case line == "PING":
				_, _ = io.WriteString(conn, "PONG\r\n")
			case strings.HasPrefix(line, "PUB "):
				fields := strings.Fields(line)
				n, _ := strconv.Atoi(fields[len(fields)-1])
				buf := make([]byte, n+2)
				if _, err := io.ReadFull(r, buf); err != nil {
					return
				}
				msgs <- published{subject: fields[1], payload: string(buf[:n])}
			}
		}
	}()
	return "nats://" + ln.Addr().String(), msgs
}

func TestNotifyDisabledIsNoop(t *testing.T) {
	n := New(Options{Subject: "handoff.reports"})
	require.False(t, n.Enabled())
	require.NoError(t, n.Notify(context.Background(), map[string]string{"a": "b"}))

	var nilNotifier *Notifier
	require.False(t, nilNotifier.Enabled())
}

func TestNotifyPublishesJSON(t *testing.T) {
	url, msgs := fakeServer(t)
	n := New(Options{URL: url, Subject: "handoff.reports", Timeout: 2 * time.Second})
	require.True(t, n.Enabled())

	require.NoError(t, n.Notify(context.Background(), map[string]any{"run_id": "r1", "outcome": "handed_off"}))

	select {
	case msg := <-msgs:
		require.Equal(t, "handoff.reports", msg.subject)
		require.JSONEq(t, `{"run_id":"r1","outcome":"handed_off"}`, msg.payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestNotifyUnreachableBroker(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	n := New(Options{URL: "nats://" + addr, Subject: "s", Timeout: 500 * time.Millisecond})
	err = n.Notify(context.Background(), struct{}{})
	require.Error(t, err)
	require.True(t, errors.HasCategory(err, errors.CategoryNotify))
}
