package replay

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SmitUplenchwar2687/txreplay/internal/capture"
	"github.com/SmitUplenchwar2687/txreplay/internal/clock"
)

var (
	epoch         = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	connectorSkip = []string{"<pits>", "<securities>", "<sec_info_upd>"}
)

const sampleCapture = `140551.705448 [4804] [0360] <cmd> [V] System version 6.06. TXmlConnector version 2.20.25
140551.718466 [4804] [0360] <cmd> [I] <command id="connect"><login>user</login></command>
140552.720939 [4804] [0360] <res> [R] <result success="true"/>
140553.019380 [4804] [clbk] <info> [O] [830u] <markets><market id="1">MICEX</market></markets>
140553.353871 [4804] [clbk] <info> [O] [150770u] <securities><security secid="0" active="true"/></securities>
garbage line
140605.644962 [4804] [clbk] <info> [O] [333u] <sec_info_upd><secid>29244</secid></sec_info_upd>
140624.969489 [4804] [clbk] <info> [O] [4304u] <orders><order transactionid="195726"/></orders>
140624.973494 [4804] [clbk] <info> [O] [3540u] <trades><trade><secid>41824</secid></trade></trades>
140643.576875 [4804] [clbk] <info> [O] [861u] <quotations><quotation secid="32518"><last>78508</last></quotation></quotations>
`

type memorySink struct {
	mu       sync.Mutex
	payloads []string
	failAt   int // 1-based send number that fails; 0 = never
}

func (s *memorySink) Send(payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt > 0 && len(s.payloads)+1 == s.failAt {
		return errors.New("broken pipe")
	}
	s.payloads = append(s.payloads, payload)
	return nil
}

func writeCapture(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "xdf.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func newTestEngine(t *testing.T, content string, pacing Pacing) (*Engine, *clock.VirtualClock) {
	t.Helper()
	vc := clock.NewSteppingClock(epoch)
	e := New(Settings{
		File:     writeCapture(t, content),
		Encoding: "utf-8",
		Skip:     connectorSkip,
		Pacing:   pacing,
	}, vc, nil)
	return e, vc
}

func TestEngine_DeliversAcceptedInOrder(t *testing.T) {
	e, _ := newTestEngine(t, sampleCapture, DefaultPacing())
	sink := &memorySink{}

	summary, err := e.Run(context.Background(), "s1", sink, nil)
	if err != nil {
		t.Fatal(err)
	}

	want := []string{
		`<markets><market id="1">MICEX</market></markets>`,
		`<orders><order transactionid="195726"/></orders>`,
		`<trades><trade><secid>41824</secid></trade></trades>`,
		`<quotations><quotation secid="32518"><last>78508</last></quotation></quotations>`,
	}
	if !reflect.DeepEqual(sink.payloads, want) {
		t.Errorf("delivered = %q, want %q", sink.payloads, want)
	}

	if summary.State != StateCompleted {
		t.Errorf("State = %s, want completed", summary.State)
	}
	if summary.Lines != 10 {
		t.Errorf("Lines = %d, want 10", summary.Lines)
	}
	if summary.Malformed != 1 {
		t.Errorf("Malformed = %d, want 1", summary.Malformed)
	}
	if summary.WrongDirection != 3 {
		t.Errorf("WrongDirection = %d, want 3", summary.WrongDirection)
	}
	if summary.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2", summary.Skipped)
	}
	if summary.Delivered != 4 {
		t.Errorf("Delivered = %d, want 4", summary.Delivered)
	}
}

func TestEngine_EndToEndThreeLines(t *testing.T) {
	content := "1 [1] [1] <cmd> [I] <command id=\"connect\"/>\n" +
		"2 [1] [clbk] <info> [O] [10u] <pits>...</pits>\n" +
		"3 [1] [clbk] <info> [O] [10u] <orders>...</orders>\n"
	e, vc := newTestEngine(t, content, DefaultPacing())
	sink := &memorySink{}

	if _, err := e.Run(context.Background(), "s1", sink, nil); err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(sink.payloads, []string{"<orders>...</orders>"}) {
		t.Errorf("delivered = %q, want [<orders>...</orders>]", sink.payloads)
	}
	// The two skips consume no pacing.
	if waits := vc.Waits(); !reflect.DeepEqual(waits, []time.Duration{DefaultDelay}) {
		t.Errorf("waits = %v, want [%v]", waits, DefaultDelay)
	}
}

func TestEngine_FixedPacingBeforeEachDelivery(t *testing.T) {
	e, vc := newTestEngine(t, sampleCapture, DefaultPacing())

	summary, err := e.Run(context.Background(), "s1", Discard, nil)
	if err != nil {
		t.Fatal(err)
	}

	if got := len(vc.Waits()); got != summary.Delivered {
		t.Errorf("waited %d times, want %d", got, summary.Delivered)
	}
	if want := 4 * DefaultDelay; summary.Elapsed != want {
		t.Errorf("Elapsed = %v, want %v", summary.Elapsed, want)
	}
}

func TestEngine_TimestampPacing(t *testing.T) {
	e, vc := newTestEngine(t, sampleCapture, Pacing{Mode: PacingTimestamp, Delay: DefaultDelay, Speed: 2})

	if _, err := e.Run(context.Background(), "s1", Discard, nil); err != nil {
		t.Fatal(err)
	}

	// Delivered timestamps: 140553.019380, 140624.969489, 140624.973494, 140643.576875.
	// The first delivery is immediate and does not touch the clock.
	want := []time.Duration{
		(31*time.Second + 950109*time.Microsecond) / 2,
		4005 * time.Microsecond / 2,
		(18*time.Second + 603381*time.Microsecond) / 2,
	}
	if got := vc.Waits(); !reflect.DeepEqual(got, want) {
		t.Errorf("waits = %v, want %v", got, want)
	}
}

func TestEngine_MalformedLinesDoNotStopSession(t *testing.T) {
	content := "x\n\n1 2\n1 [1] [1] <i> [O] [1u] <orders/>\nshort [O]\n2 [1] [1] <i> [O] [1u] <trades/>\n"
	e, _ := newTestEngine(t, content, DefaultPacing())
	sink := &memorySink{}

	summary, err := e.Run(context.Background(), "s1", sink, nil)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Malformed != 4 {
		t.Errorf("Malformed = %d, want 4", summary.Malformed)
	}
	if !reflect.DeepEqual(sink.payloads, []string{"<orders/>", "<trades/>"}) {
		t.Errorf("delivered = %q", sink.payloads)
	}
}

func TestEngine_DisconnectMidReplay(t *testing.T) {
	e, _ := newTestEngine(t, sampleCapture, DefaultPacing())
	sink := &memorySink{failAt: 2}

	summary, err := e.Run(context.Background(), "s1", sink, nil)
	if err != nil {
		t.Fatalf("disconnect should not surface as an error, got %v", err)
	}
	if summary.State != StateDisconnected {
		t.Errorf("State = %s, want disconnected", summary.State)
	}
	if summary.Delivered != 1 {
		t.Errorf("Delivered = %d, want 1", summary.Delivered)
	}
	// The failing send is the orders line (line 8); nothing after it is read.
	if summary.Lines != 8 {
		t.Errorf("Lines = %d, want 8", summary.Lines)
	}
}

func TestEngine_IdenticalAcrossSessions(t *testing.T) {
	e, _ := newTestEngine(t, sampleCapture, DefaultPacing())

	var wg sync.WaitGroup
	sinks := []*memorySink{{}, {}}
	for i, s := range sinks {
		wg.Add(1)
		go func(id string, s *memorySink) {
			defer wg.Done()
			if _, err := e.Run(context.Background(), id, s, nil); err != nil {
				t.Error(err)
			}
		}(string(rune('a'+i)), s)
	}
	wg.Wait()

	if len(sinks[0].payloads) == 0 {
		t.Fatal("no payloads delivered")
	}
	if !reflect.DeepEqual(sinks[0].payloads, sinks[1].payloads) {
		t.Errorf("sessions diverged:\n%q\n%q", sinks[0].payloads, sinks[1].payloads)
	}
}

func TestEngine_MissingCaptureFails(t *testing.T) {
	e := New(Settings{
		File:   filepath.Join(t.TempDir(), "missing.log"),
		Pacing: DefaultPacing(),
	}, clock.NewSteppingClock(epoch), nil)

	summary, err := e.Run(context.Background(), "s1", Discard, nil)
	if !errors.Is(err, capture.ErrCaptureUnavailable) {
		t.Errorf("err = %v, want ErrCaptureUnavailable", err)
	}
	if summary.State != StateFailed {
		t.Errorf("State = %s, want failed", summary.State)
	}
}

func TestEngine_DecodeErrorFails(t *testing.T) {
	content := "1 [1] [1] <i> [O] [1u] <orders/>\n2 [1] [1] <i> [O] [1u] <bad \xff>\n"
	e, _ := newTestEngine(t, content, DefaultPacing())
	sink := &memorySink{}

	summary, err := e.Run(context.Background(), "s1", sink, nil)
	if !errors.Is(err, capture.ErrDecode) {
		t.Errorf("err = %v, want ErrDecode", err)
	}
	if summary.State != StateFailed {
		t.Errorf("State = %s, want failed", summary.State)
	}
	if len(sink.payloads) != 1 {
		t.Errorf("delivered %d payloads before the bad line, want 1", len(sink.payloads))
	}
}

func TestEngine_ContextCancellation(t *testing.T) {
	content := strings.Repeat("1 [1] [1] <i> [O] [1u] <orders/>\n", 100)
	e, _ := newTestEngine(t, content, DefaultPacing())

	ctx, cancel := context.WithCancel(context.Background())
	count := 0
	summary, err := e.Run(ctx, "s1", Discard, func(Delivery) {
		count++
		if count == 5 {
			cancel()
		}
	})

	if err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if summary.State != StateCancelled {
		t.Errorf("State = %s, want cancelled", summary.State)
	}
	if summary.Delivered != 5 {
		t.Errorf("Delivered = %d, want 5", summary.Delivered)
	}
}

func TestEngine_CallbackDeliveries(t *testing.T) {
	e, _ := newTestEngine(t, sampleCapture, DefaultPacing())

	var got []Delivery
	if _, err := e.Run(context.Background(), "s7", Discard, func(d Delivery) {
		got = append(got, d)
	}); err != nil {
		t.Fatal(err)
	}

	if len(got) != 4 {
		t.Fatalf("got %d deliveries, want 4", len(got))
	}
	first := got[0]
	if first.Session != "s7" || first.Seq != 1 || first.Line != 4 {
		t.Errorf("first delivery = %+v", first)
	}
	if first.Record.Timestamp != "140553.019380" {
		t.Errorf("Record.Timestamp = %q", first.Record.Timestamp)
	}
	if !first.Time.Equal(epoch.Add(DefaultDelay)) {
		t.Errorf("Time = %v, want %v", first.Time, epoch.Add(DefaultDelay))
	}
}

func TestEngine_SettingsAreCopied(t *testing.T) {
	skip := []string{"<pits>"}
	e := New(Settings{Skip: skip, Pacing: DefaultPacing()}, clock.NewRealClock(), nil)
	skip[0] = "<orders>"

	if got := e.Settings().Skip; got[0] != "<pits>" {
		t.Errorf("Settings().Skip = %v, want [<pits>]", got)
	}
}
