package conform_test

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/MegaGrindStone/go-mcp-conform"
)

func TestStdIOTransportRoundTrip(t *testing.T) {
	targetReader, harnessWriter := io.Pipe()
	harnessReader, targetWriter := io.Pipe()

	// Echo target: every line written by the harness comes straight back.
	go func() {
		scanner := bufio.NewScanner(targetReader)
		for scanner.Scan() {
			fmt.Fprintf(targetWriter, "%s\n", scanner.Text())
		}
		targetWriter.Close()
	}()

	transport := conform.NewPipeTransport(harnessReader, harnessWriter)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := transport.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer transport.Shutdown(context.Background())

	line := []byte(`{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`)
	if err := transport.SendLine(ctx, line); err != nil {
		t.Fatalf("SendLine() error = %v", err)
	}

	got, err := transport.ReceiveLine(ctx)
	if err != nil {
		t.Fatalf("ReceiveLine() error = %v", err)
	}
	if string(got) != string(line) {
		t.Errorf("ReceiveLine() = %s, want %s", got, line)
	}
}

func TestStdIOTransportLaunchError(t *testing.T) {
	transport := conform.NewStdIOTransport("/nonexistent/conform-target", nil)

	err := transport.Start(context.Background())
	if err == nil {
		t.Fatal("Start() error = nil, want launch error")
	}
	if !errors.Is(err, conform.ErrLaunch) {
		t.Errorf("Start() error = %v, want ErrLaunch", err)
	}
	if !conform.IsFatal(err) {
		t.Errorf("IsFatal(%v) = false, want true", err)
	}
}

func TestStdIOTransportEndOfStream(t *testing.T) {
	harnessReader, targetWriter := io.Pipe()

	transport := conform.NewPipeTransport(harnessReader, io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := transport.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer transport.Shutdown(context.Background())

	targetWriter.Close()

	_, err := transport.ReceiveLine(ctx)
	if !errors.Is(err, conform.ErrEndOfStream) {
		t.Errorf("ReceiveLine() error = %v, want ErrEndOfStream", err)
	}
}

func TestStdIOTransportTimeout(t *testing.T) {
	harnessReader, targetWriter := io.Pipe()
	defer targetWriter.Close()

	transport := conform.NewPipeTransport(harnessReader, io.Discard)

	if err := transport.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer transport.Shutdown(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := transport.ReceiveLine(ctx)
	if !errors.Is(err, conform.ErrTimeout) {
		t.Errorf("ReceiveLine() error = %v, want ErrTimeout", err)
	}
	if conform.IsFatal(err) {
		t.Errorf("IsFatal(%v) = true, want false", err)
	}
}

func TestStdIOTransportShutdownIdempotent(t *testing.T) {
	harnessReader, targetWriter := io.Pipe()
	defer targetWriter.Close()

	transport := conform.NewPipeTransport(harnessReader, io.Discard)

	if err := transport.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := transport.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown() call %d error = %v", i+1, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := transport.SendLine(ctx, []byte("{}")); !errors.Is(err, conform.ErrBrokenPipe) {
		t.Errorf("SendLine() after Shutdown error = %v, want ErrBrokenPipe", err)
	}
	if _, err := transport.ReceiveLine(ctx); !errors.Is(err, conform.ErrEndOfStream) {
		t.Errorf("ReceiveLine() after Shutdown error = %v, want ErrEndOfStream", err)
	}
}

func TestStdIOTransportShutdownClosesPipeReader(t *testing.T) {
	harnessReader, targetWriter := io.Pipe()

	transport := conform.NewPipeTransport(harnessReader, io.Discard)

	if err := transport.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := transport.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	// The target never closes its side; the closed read end is what
	// releases the blocked read loop.
	if _, err := targetWriter.Write([]byte("late line\n")); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("peer write after Shutdown error = %v, want io.ErrClosedPipe", err)
	}
}

func TestStdIOTransportChildProcess(t *testing.T) {
	transport := conform.NewStdIOTransport(os.Args[0],
		[]string{"-test.run", "TestHelperEchoTarget"},
		conform.WithStdIOEnv([]string{"CONFORM_WANT_HELPER=1"}),
		conform.WithStdIOGracePeriod(2*time.Second),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := transport.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer transport.Shutdown(context.Background())

	line := []byte(`{"jsonrpc":"2.0","id":1,"result":{}}`)
	if err := transport.SendLine(ctx, line); err != nil {
		t.Fatalf("SendLine() error = %v", err)
	}

	got, err := transport.ReceiveLine(ctx)
	if err != nil {
		t.Fatalf("ReceiveLine() error = %v", err)
	}
	if string(got) != string(line) {
		t.Errorf("ReceiveLine() = %s, want %s", got, line)
	}

	if err := transport.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	// The stderr drain runs concurrently, so give it a moment to land.
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(transport.Diagnostics(), "echo target ready") {
		if time.Now().After(deadline) {
			t.Fatalf("Diagnostics() = %q, want it to contain %q", transport.Diagnostics(), "echo target ready")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// TestHelperEchoTarget is not a real test. TestStdIOTransportChildProcess
// re-executes the test binary with CONFORM_WANT_HELPER set, turning this
// function into a stand-in target that echoes every stdin line to stdout.
func TestHelperEchoTarget(t *testing.T) {
	if os.Getenv("CONFORM_WANT_HELPER") != "1" {
		return
	}
	defer os.Exit(0)

	fmt.Fprintln(os.Stderr, "echo target ready")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fmt.Println(scanner.Text())
	}
}
