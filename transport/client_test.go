package transport

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dnstrail/dnstrail/record"
)

func TestClientSend(t *testing.T) {
	r := require.New(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	r.NoError(err)
	defer ln.Close()

	received := make(chan []byte, 2)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			b, _ := io.ReadAll(conn)
			conn.Close()
			received <- b
		}
	}()

	client := NewClient(Config{Addr: ln.Addr().String(), WriteTimeout: time.Second})
	rec := record.Record{
		QueryName:     "example.com",
		ProcessID:     4321,
		Path:          `C:\app.exe`,
		Timestamp:     time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		SourceAddress: "10.0.0.5",
	}
	r.NoError(client.Send(context.Background(), rec))
	r.NoError(client.Send(context.Background(), rec))

	// One connection per record, closed after the payload.
	for i := 0; i < 2; i++ {
		select {
		case b := <-received:
			r.Equal(string(record.Encode(rec)), string(b))
		case <-time.After(5 * time.Second):
			r.FailNow("timed out waiting for record")
		}
	}
}

func TestClientSendUnreachable(t *testing.T) {
	r := require.New(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	r.NoError(err)
	addr := ln.Addr().String()
	r.NoError(ln.Close())

	client := NewClient(Config{Addr: addr, DialTimeout: time.Second})
	err = client.Send(context.Background(), record.Record{})
	r.Error(err)
}

func TestClientSendCanceled(t *testing.T) {
	r := require.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(Config{Addr: "127.0.0.1:1"})
	r.Error(client.Send(ctx, record.Record{}))
}
