package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/SmitUplenchwar2687/txreplay/internal/config"
	"github.com/SmitUplenchwar2687/txreplay/internal/recorder"
	"github.com/SmitUplenchwar2687/txreplay/internal/replay"
)

const fixture = `140551.718466 [4804] [0360] <cmd> [I] <command id="connect"/>
140553.019380 [4804] [clbk] <info> [O] [49u] <markets><market id="1">MICEX</market></markets>
140553.353871 [4804] [clbk] <info> [O] [56u] <securities><security secid="0"/></securities>
140624.969489 [4804] [clbk] <info> [O] [49u] <orders><order transactionid="195726"/></orders>
`

func writeFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "xdf.log")
	if err := os.WriteFile(path, []byte(fixture), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

type replayOutput struct {
	Deliveries []replay.Delivery `json:"deliveries"`
	Summary    replay.Summary    `json:"summary"`
}

func TestReplayCmd_TextOutput(t *testing.T) {
	out, err := execute(t, "replay", "--file", writeFixture(t), "--encoding", "utf-8", "--delay", "0", "--log-level", "error")
	if err != nil {
		t.Fatalf("replay command failed: %v", err)
	}

	lines := strings.Split(out, "\n")
	if lines[0] != `<markets><market id="1">MICEX</market></markets>` {
		t.Errorf("first line = %q", lines[0])
	}
	if lines[1] != `<orders><order transactionid="195726"/></orders>` {
		t.Errorf("second line = %q", lines[1])
	}
	if strings.Contains(out, "<securities>") {
		t.Error("skip-listed payload should not be printed")
	}
	if !strings.Contains(out, "Delivered:        2") {
		t.Errorf("summary missing delivered count:\n%s", out)
	}
}

func TestReplayCmd_JSON(t *testing.T) {
	out, err := execute(t, "replay", "--file", writeFixture(t), "--encoding", "utf-8", "--delay", "0", "--log-level", "error", "--json")
	if err != nil {
		t.Fatalf("replay command failed: %v", err)
	}

	var got replayOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	if got.Summary.State != replay.StateCompleted {
		t.Errorf("state = %q, want completed", got.Summary.State)
	}
	if got.Summary.Delivered != 2 || got.Summary.Skipped != 1 || got.Summary.WrongDirection != 1 {
		t.Errorf("summary = %+v", got.Summary)
	}
	if len(got.Deliveries) != 2 || got.Deliveries[1].Line != 4 {
		t.Fatalf("deliveries = %+v", got.Deliveries)
	}
}

func TestReplayCmd_SkipFlagOverridesDefault(t *testing.T) {
	out, err := execute(t, "replay", "--file", writeFixture(t), "--encoding", "utf-8", "--delay", "0", "--log-level", "error", "--skip", "", "--json")
	if err != nil {
		t.Fatalf("replay command failed: %v", err)
	}
	var got replayOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatal(err)
	}
	if got.Summary.Delivered != 3 {
		t.Errorf("delivered = %d, want 3 with an empty skip list", got.Summary.Delivered)
	}
}

func TestReplayCmd_LoadsConfigFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "txreplay.yaml")
	content := "capture:\n  file: " + writeFixture(t) + "\n  encoding: utf-8\npacing:\n  delay: 0s\nlog:\n  level: error\n"
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	out, err := execute(t, "replay", "--config", configPath, "--json")
	if err != nil {
		t.Fatalf("replay command with config failed: %v", err)
	}
	var got replayOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatal(err)
	}
	if got.Summary.Delivered != 2 {
		t.Errorf("delivered = %d, want 2", got.Summary.Delivered)
	}
}

func TestReplayCmd_RequiresFile(t *testing.T) {
	if _, err := execute(t, "replay"); err == nil {
		t.Fatal("expected error without --file")
	}
}

func TestReplayCmd_MissingCapture(t *testing.T) {
	if _, err := execute(t, "replay", "--file", "/nonexistent/xdf.log", "--log-level", "error"); err == nil {
		t.Fatal("expected error for missing capture file")
	}
}

func TestGenerateThenReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xdf.log")
	out, err := execute(t, "generate", "--output", path, "--count", "30", "--malformed", "2", "--seed", "3")
	if err != nil {
		t.Fatalf("generate command failed: %v", err)
	}
	if !strings.Contains(out, "Generated") {
		t.Errorf("unexpected generate output: %s", out)
	}

	out, err = execute(t, "replay", "--file", path, "--delay", "0", "--log-level", "error", "--json")
	if err != nil {
		t.Fatalf("replay of generated capture failed: %v", err)
	}
	var got replayOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatal(err)
	}
	if got.Summary.State != replay.StateCompleted {
		t.Errorf("state = %q, want completed", got.Summary.State)
	}
	if got.Summary.Delivered+got.Summary.Skipped != 30 {
		t.Errorf("delivered+skipped = %d, want 30", got.Summary.Delivered+got.Summary.Skipped)
	}
	if got.Summary.Malformed != 2 {
		t.Errorf("malformed = %d, want 2", got.Summary.Malformed)
	}
}

func TestInitConfigCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "txreplay.yaml")
	if _, err := execute(t, "init-config", "--output", path); err != nil {
		t.Fatalf("init-config failed: %v", err)
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("generated config should be valid, got %v", err)
	}
}

func startServe(t *testing.T, journal journalOptions) (string, context.CancelFunc, <-chan error) {
	t.Helper()
	cfg := config.Default()
	cfg.Capture.File = writeFixture(t)
	cfg.Capture.Encoding = "utf-8"
	cfg.Pacing.Delay = 0

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, cfg, ln, journal, slog.New(slog.DiscardHandler))
	}()
	t.Cleanup(cancel)
	return ln.Addr().String(), cancel, done
}

func TestServe_StreamsAndExportsJournal(t *testing.T) {
	journal := filepath.Join(t.TempDir(), "journal.json")
	addr, cancel, done := startServe(t, journalOptions{Path: journal})

	var out bytes.Buffer
	n, err := receive(context.Background(), addr, []byte("secret phrase"), 0, &out)
	if err != nil {
		t.Fatalf("receive() error = %v", err)
	}
	if n != 2 {
		t.Errorf("received %d messages, want 2", n)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}

	f, err := os.Open(journal)
	if err != nil {
		t.Fatalf("journal not written: %v", err)
	}
	defer f.Close()
	j, err := recorder.LoadJSON(f)
	if err != nil {
		t.Fatal(err)
	}
	if len(j.Deliveries) != 2 || len(j.Sessions) != 1 {
		t.Errorf("journal has %d deliveries and %d sessions, want 2 and 1", len(j.Deliveries), len(j.Sessions))
	}
}

func TestServe_StreamsJournalAsSent(t *testing.T) {
	stream := filepath.Join(t.TempDir(), "journal.ndjson")
	addr, cancel, done := startServe(t, journalOptions{Stream: stream})

	var out bytes.Buffer
	if _, err := receive(context.Background(), addr, []byte("secret phrase"), 0, &out); err != nil {
		t.Fatalf("receive() error = %v", err)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}

	data, err := os.ReadFile(stream)
	if err != nil {
		t.Fatalf("journal stream not written: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("stream has %d lines, want 2", len(lines))
	}
	var d replay.Delivery
	if err := json.Unmarshal([]byte(lines[0]), &d); err != nil {
		t.Fatalf("decode first line: %v", err)
	}
	if d.Session != "1" || d.Seq != 1 {
		t.Errorf("first delivery = session %q seq %d, want session 1 seq 1", d.Session, d.Seq)
	}
}

func TestClientCmd_Limit(t *testing.T) {
	addr, _, _ := startServe(t, journalOptions{})

	out, err := execute(t, "client", "--addr", addr, "--limit", "1")
	if err != nil {
		t.Fatalf("client command failed: %v", err)
	}
	if got := strings.TrimSpace(out); got != `<markets><market id="1">MICEX</market></markets>` {
		t.Errorf("client output = %q", got)
	}
}

func TestServeCmd_BindFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()
	port := busy.Addr().(*net.TCPAddr).Port

	_, err = execute(t, "serve", "--file", writeFixture(t), "--host", "127.0.0.1", "--port", strconv.Itoa(port))
	if err == nil {
		t.Fatal("expected bind failure")
	}
}

func TestNormalizeRedisHostPort(t *testing.T) {
	host, port, err := normalizeRedisHostPort("redis.internal:6380", 6379)
	if err != nil {
		t.Fatal(err)
	}
	if host != "redis.internal" || port != 6380 {
		t.Errorf("got %s:%d, want redis.internal:6380", host, port)
	}

	if _, _, err := normalizeRedisHostPort("", 6379); err == nil {
		t.Error("empty host should be invalid")
	}
	if _, _, err := normalizeRedisHostPort("localhost:abc", 6379); err == nil {
		t.Error("non-numeric port should be invalid")
	}
	if _, _, err := normalizeRedisHostPort("localhost", 0); err == nil {
		t.Error("zero port should be invalid")
	}
}
