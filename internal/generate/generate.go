// Package generate writes synthetic connector capture files.
package generate

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/SmitUplenchwar2687/txreplay/internal/capture"
)

const (
	// PatternSteady spaces messages evenly.
	PatternSteady = "steady"
	// PatternBurst clusters messages in bursts with quiet gaps.
	PatternBurst = "burst"
	// PatternRamp increases message density over time.
	PatternRamp = "ramp"
)

// Options controls how a synthetic capture is generated.
type Options struct {
	Count     int           // outbound messages
	Commands  int           // [I]/[R] command pairs interleaved with the stream
	Malformed int           // blank lines interleaved with the stream
	Duration  time.Duration // span of the outbound timestamps
	Pattern   string
	Start     time.Time // only the time of day is written
	Seed      int64
	Skip      []string // used to classify lines in Result
}

// DefaultOptions returns defaults aligned with the CLI.
func DefaultOptions() Options {
	return Options{
		Count:    100,
		Commands: 5,
		Duration: 5 * time.Minute,
		Pattern:  PatternSteady,
	}
}

// Result is a generated capture and what a replay of it should do.
type Result struct {
	Lines          []string
	Delivered      int
	WrongDirection int
	Skipped        int
	Malformed      int
}

type entry struct {
	at   time.Time
	line string
}

// Capture builds the lines of a synthetic capture: a version banner, a
// connect exchange, then Count outbound messages in timestamp order with
// commands and blank lines mixed in.
func Capture(opts Options) (*Result, error) {
	if opts.Count <= 0 {
		return nil, fmt.Errorf("count must be positive, got %d", opts.Count)
	}
	if opts.Commands < 0 || opts.Malformed < 0 {
		return nil, fmt.Errorf("commands and malformed must not be negative")
	}
	if opts.Duration <= 0 {
		return nil, fmt.Errorf("duration must be positive, got %s", opts.Duration)
	}
	if opts.Pattern == "" {
		opts.Pattern = PatternSteady
	}
	if opts.Start.IsZero() {
		opts.Start = time.Now().Truncate(time.Second)
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	if opts.Skip == nil {
		opts.Skip = capture.DefaultSkip
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	var times []time.Time
	switch opts.Pattern {
	case PatternBurst:
		times = burstTimes(rng, opts.Start, opts.Count, opts.Duration)
	case PatternRamp:
		times = rampTimes(opts.Start, opts.Count, opts.Duration)
	default: // steady and unknown patterns default to steady behavior.
		times = steadyTimes(opts.Start, opts.Count, opts.Duration)
	}

	entries := make([]entry, 0, opts.Count+2*opts.Commands+opts.Malformed)
	for _, at := range times {
		entries = append(entries, entry{at, outbound(rng, at)})
	}
	for i := 0; i < opts.Commands; i++ {
		at := opts.Start.Add(time.Duration(rng.Int63n(int64(opts.Duration))))
		cmd, res := command(rng, at, i)
		entries = append(entries, entry{at, cmd}, entry{at.Add(2 * time.Millisecond), res})
	}
	for i := 0; i < opts.Malformed; i++ {
		at := opts.Start.Add(time.Duration(rng.Int63n(int64(opts.Duration))))
		entries = append(entries, entry{at, ""})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })

	head := opts.Start.Add(-2 * time.Second)
	lines := []string{
		header(head, "[0360]", "<cmd>", capture.DirectionVersion, "System version 6.06. TXmlConnector version 2.20.25"),
		header(head.Add(13*time.Millisecond), "[0360]", "<cmd>", capture.DirectionInbound, `<command id="connect"><login>demo</login><password>***</password></command>`),
		header(head.Add(time.Second), "[0360]", "<res>", capture.DirectionResult, `<result success="true"/>`),
	}
	for _, e := range entries {
		lines = append(lines, e.line)
	}

	res := &Result{Lines: lines}
	filter := capture.NewFilter(opts.Skip)
	for _, l := range lines {
		rec, err := capture.ParseLine(l)
		if err != nil {
			res.Malformed++
			continue
		}
		switch filter.Check(rec) {
		case capture.VerdictAccept:
			res.Delivered++
		case capture.VerdictWrongDirection:
			res.WrongDirection++
		case capture.VerdictSkipped:
			res.Skipped++
		}
	}
	return res, nil
}

// WriteFile writes lines to path in the named encoding with CRLF endings.
func WriteFile(path, encodingName string, lines []string) error {
	enc, err := capture.LookupEncoding(encodingName)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	e := enc.NewEncoder()
	for i, l := range lines {
		b, err := e.String(l + "\r\n")
		if err != nil {
			return fmt.Errorf("encoding line %d: %w", i+1, err)
		}
		if _, err := w.WriteString(b); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Close()
}

func steadyTimes(start time.Time, count int, dur time.Duration) []time.Time {
	interval := dur / time.Duration(count)
	out := make([]time.Time, count)
	for i := range out {
		out[i] = start.Add(time.Duration(i) * interval)
	}
	return out
}

func burstTimes(rng *rand.Rand, start time.Time, count int, dur time.Duration) []time.Time {
	out := make([]time.Time, 0, count)
	numBursts := 4
	burstSize := count / numBursts
	burstGap := dur / time.Duration(numBursts)

	for b := 0; b < numBursts; b++ {
		burstStart := start.Add(time.Duration(b) * burstGap)
		for i := 0; i < burstSize; i++ {
			out = append(out, burstStart.Add(time.Duration(rng.Intn(1000))*time.Millisecond))
		}
	}
	for len(out) < count {
		out = append(out, start.Add(time.Duration(rng.Int63n(int64(dur)))))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func rampTimes(start time.Time, count int, dur time.Duration) []time.Time {
	out := make([]time.Time, count)
	for i := range out {
		frac := float64(i) / float64(count)
		out[i] = start.Add(time.Duration(frac * frac * float64(dur)))
	}
	return out
}

func header(at time.Time, thread, class, direction, payload string) string {
	return strings.Join([]string{at.Format("150405.000000"), "[4804]", thread, class, direction, payload}, " ")
}

type instrument struct {
	secid     int
	seccode   string
	shortname string
	price     float64
}

var instruments = []instrument{
	{29244, "SBER", "Сбербанк", 265.4},
	{32518, "GAZP", "ГАЗПРОМ ао", 162.1},
	{41824, "LKOH", "ЛУКОЙЛ", 6890},
	{15210, "GMKN", "ГМКНорНик", 15640},
	{5502, "YNDX", "Яндекс clA", 2480.5},
}

func outbound(rng *rand.Rand, at time.Time) string {
	in := instruments[rng.Intn(len(instruments))]
	price := in.price * (1 + (rng.Float64()-0.5)/50)

	var payload string
	switch n := rng.Intn(20); {
	case n < 8:
		payload = fmt.Sprintf(`<quotations><quotation secid="%d"><board>TQBR</board><seccode>%s</seccode><last>%.2f</last><voltoday>%d</voltoday></quotation></quotations>`,
			in.secid, in.seccode, price, rng.Intn(1_000_000))
	case n < 12:
		payload = fmt.Sprintf(`<trades><trade><secid>%d</secid><tradeno>%d</tradeno><board>TQBR</board><price>%.2f</price><quantity>%d</quantity><buysell>%s</buysell></trade></trades>`,
			in.secid, 2_000_000_000+rng.Intn(1_000_000), price, 1+rng.Intn(100), []string{"B", "S"}[rng.Intn(2)])
	case n < 14:
		payload = fmt.Sprintf(`<orders><order transactionid="%d"><orderno>%d</orderno><secid>%d</secid><status>matched</status><price>%.2f</price></order></orders>`,
			195_000+rng.Intn(1000), 27_000_000_000+rng.Intn(1_000_000), in.secid, price)
	case n < 15:
		payload = fmt.Sprintf(`<news_header><id>%d</id><source>Интерфакс</source><title>%s: итоги торгов</title></news_header>`,
			rng.Intn(100_000), in.shortname)
	case n < 17:
		payload = fmt.Sprintf(`<securities><security secid="%d" active="true"><seccode>%s</seccode><board>TQBR</board><shortname>%s</shortname></security></securities>`,
			in.secid, in.seccode, in.shortname)
	case n < 19:
		payload = fmt.Sprintf(`<sec_info_upd><secid>%d</secid><seccode>%s</seccode><minprice>%.2f</minprice><maxprice>%.2f</maxprice></sec_info_upd>`,
			in.secid, in.seccode, in.price*0.8, in.price*1.2)
	default:
		payload = fmt.Sprintf(`<pits><pit secid="%d" board="TQBR" market="1" decimals="2" minstep="0.01" lotsize="10"/></pits>`, in.secid)
	}

	marker := fmt.Sprintf("[%du]", len(payload))
	return header(at, "[clbk]", "<info>", capture.DirectionOutbound, marker+" "+payload)
}

func command(rng *rand.Rand, at time.Time, i int) (string, string) {
	in := instruments[rng.Intn(len(instruments))]
	cmd := fmt.Sprintf(`<command id="gethistorydata"><secid>%d</secid><period>1</period><count>%d</count></command>`, in.secid, 10+i)
	return header(at, "[0360]", "<cmd>", capture.DirectionInbound, cmd),
		header(at.Add(2*time.Millisecond), "[0360]", "<res>", capture.DirectionResult, `<result success="true"/>`)
}
