package logging

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

func TestEntryServiceLoggerDelegates(t *testing.T) {
	entry := newFakeEntry()
	logger := NewEntryServiceLogger(entry)

	logger.Info("boot", LogFields{"system": "test"})

	child := logger.With(LogFields{"base": "value"})
	child.Debug("child", LogFields{"child": "value"})

	boom := errors.New("boom")
	child.Error("child failed", boom, LogFields{"child": "value"})
	child.Warn("shed", LogFields{"count": 3})
	child.Trace("trace", nil)

	logs := entry.recorder.logs
	if len(logs) != 5 {
		t.Fatalf("expected 5 log entries, got %d", len(logs))
	}
	if logs[0].level != "info" || logs[0].msg != "boot" {
		t.Fatalf("unexpected first log: %#v", logs[0])
	}
	if got := logs[0].fields["system"]; got != "test" {
		t.Fatalf("missing system field, got %v", got)
	}
	if logs[1].fields["base"] != "value" || logs[1].fields["child"] != "value" {
		t.Fatalf("expected merged fields on second log, got %#v", logs[1].fields)
	}
	if logs[2].level != "error" || logs[2].err != boom {
		t.Fatalf("expected error with boom, got %#v", logs[2])
	}
	if logs[3].level != "warn" || logs[3].fields["count"] != 3 {
		t.Fatalf("expected warn with count, got %#v", logs[3])
	}
	if logs[4].level != "trace" {
		t.Fatalf("expected trace level on final log, got %s", logs[4].level)
	}
}

func TestEntryServiceLoggerPanicsOnNil(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic when entry logger nil")
		}
	}()
	NewEntryServiceLogger[EntryLogger](nil)
}

func TestEntryServiceLoggerWithNilFields(t *testing.T) {
	entry := newFakeEntry()
	logger := NewEntryServiceLogger(entry)
	if child := logger.With(nil); child != logger {
		t.Fatal("expected With(nil) to return the same logger")
	}
}

func TestWatermillServiceLoggerDelegates(t *testing.T) {
	base := newRecordingWatermillLogger()
	logger := NewWatermillServiceLogger(base)

	logger.Debug("dbg", LogFields{"component": "watermill"})
	logger.Info("info", nil)
	logger.Warn("warn", LogFields{"lane": "normal"})
	logger.Trace("trace", LogFields{"trace": true})
	logger.Error("oops", errors.New("boom"), LogFields{"failed": true})

	child := logger.With(LogFields{"child": "yes"})
	child.Info("child_info", nil)

	if len(base.entries) != 7 {
		t.Fatalf("expected 7 log entries, got %d", len(base.entries))
	}
	if base.entries[0].level != "debug" || base.entries[0].fields["component"] != "watermill" {
		t.Fatalf("unexpected first entry: %#v", base.entries[0])
	}
	warn := base.entries[2]
	if warn.level != "info" || warn.fields["severity"] != "warn" || warn.fields["lane"] != "normal" {
		t.Fatalf("expected warn to map to info with severity, got %#v", warn)
	}
	if base.entries[5].level != "with" || base.entries[5].fields["child"] != "yes" {
		t.Fatalf("expected With to propagate fields, got %#v", base.entries[5])
	}
}

func TestConstructorsPanicOnNil(t *testing.T) {
	cases := map[string]func(){
		"watermill service logger": func() { NewWatermillServiceLogger(nil) },
		"slog":                     func() { NewSlogServiceLogger(nil) },
		"watermill adapter":        func() { NewWatermillAdapter(nil) },
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if r := recover(); r == nil {
					t.Fatal("expected panic")
				}
			}()
			fn()
		})
	}
}

func TestWatermillAdapterDelegates(t *testing.T) {
	base := &recordingServiceLogger{}
	adapter := NewWatermillAdapter(base)

	adapter.Debug("dbg", watermill.LogFields{"k": "v"})
	adapter.Info("info", nil)
	adapter.Trace("trace", nil)
	adapter.Error("err", errors.New("boom"), nil)

	child := adapter.With(watermill.LogFields{"child": "yes"})
	typedChild, ok := child.(*serviceLoggerAdapter)
	if !ok {
		t.Fatal("expected service logger adapter child")
	}
	childBase, ok := typedChild.base.(*recordingServiceLogger)
	if !ok {
		t.Fatal("expected recording service logger child base")
	}
	child.Info("child_info", nil)

	if len(base.entries) != 4 {
		t.Fatalf("expected 4 delegated entries on base, got %d", len(base.entries))
	}
	if len(childBase.entries) != 2 {
		t.Fatalf("expected child logger to record entries, got %d", len(childBase.entries))
	}
	if childBase.entries[0].fields["child"] != "yes" {
		t.Fatal("expected child fields to be preserved")
	}
}

func TestSlogServiceLoggerLevels(t *testing.T) {
	buf := &bytes.Buffer{}
	base := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: LevelTrace}))
	logger := NewSlogServiceLogger(base).With(LogFields{"bus": "test"})

	logger.Trace("tick", nil)
	logger.Warn("shed envelopes", LogFields{"lane": "low", "count": 5})
	logger.Error("handler failed", errors.New("boom"), LogFields{"channel": "alerts"})

	out := buf.String()
	for _, want := range []string{
		"level=DEBUG-4", "msg=tick",
		"level=WARN", "count=5", "lane=low",
		"level=ERROR", "error=boom", "channel=alerts",
		"bus=test",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestZerologServiceLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewZerologServiceLogger(zerolog.New(buf).Level(zerolog.TraceLevel)).With(LogFields{"bus": "z"})

	logger.Warn("shed envelopes", LogFields{"count": 10})
	logger.Error("handler failed", errors.New("boom"), nil)

	out := buf.String()
	for _, want := range []string{`"level":"warn"`, `"count":10`, `"bus":"z"`, `"level":"error"`, `"error":"boom"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in output:\n%s", want, out)
		}
	}
}

func TestTraceEnabled(t *testing.T) {
	quiet := NewSlogServiceLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	if TraceEnabled(quiet) {
		t.Fatal("expected slog logger at info level to skip trace")
	}
	verbose := NewSlogServiceLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: LevelTrace})))
	if !TraceEnabled(verbose) {
		t.Fatal("expected slog logger at trace level to emit trace")
	}
	if TraceEnabled(NewZerologServiceLogger(zerolog.New(&bytes.Buffer{}).Level(zerolog.InfoLevel))) {
		t.Fatal("expected zerolog logger at info level to skip trace")
	}
	if !TraceEnabled(NewEntryServiceLogger(newFakeEntry())) {
		t.Fatal("expected loggers without a level check to emit trace")
	}
}

func TestApplyEntryFieldsIgnoresNil(t *testing.T) {
	entry := newFakeEntry()
	if enriched := applyEntryFields(entry, nil); enriched != entry {
		t.Fatal("expected nil fields to return same instance")
	}
	if withFields := applyEntryFields(entry, LogFields{"k": "v"}); withFields == entry {
		t.Fatal("expected new entry when fields provided")
	}
}

func TestFieldConversions(t *testing.T) {
	if toWatermillFields(nil) != nil || fromWatermillFields(nil) != nil {
		t.Fatal("expected nil conversion to return nil")
	}
	if toSlogAttrs(nil) != nil {
		t.Fatal("expected nil slog attrs")
	}

	attrs := toSlogAttrs(LogFields{"b": 2, "a": 1})
	if len(attrs) != 2 || attrs[0].Key != "a" || attrs[1].Key != "b" {
		t.Fatalf("expected sorted attrs, got %#v", attrs)
	}
}

type recordingWatermillLogger struct {
	entries []watermillEntry
	sink    *[]watermillEntry
}

func newRecordingWatermillLogger() *recordingWatermillLogger {
	logger := &recordingWatermillLogger{}
	logger.sink = &logger.entries
	return logger
}

func (r *recordingWatermillLogger) record(entry watermillEntry) {
	*r.sink = append(*r.sink, entry)
}

type watermillEntry struct {
	level  string
	fields watermill.LogFields
	err    error
}

func (r *recordingWatermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	r.record(watermillEntry{level: "error", fields: fields, err: err})
}

func (r *recordingWatermillLogger) Info(msg string, fields watermill.LogFields) {
	r.record(watermillEntry{level: "info", fields: fields})
}

func (r *recordingWatermillLogger) Debug(msg string, fields watermill.LogFields) {
	r.record(watermillEntry{level: "debug", fields: fields})
}

func (r *recordingWatermillLogger) Trace(msg string, fields watermill.LogFields) {
	r.record(watermillEntry{level: "trace", fields: fields})
}

func (r *recordingWatermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	child := &recordingWatermillLogger{sink: r.sink}
	child.record(watermillEntry{level: "with", fields: fields})
	return child
}

type recordingServiceLogger struct {
	entries []loggedEntry
}

type loggedEntry struct {
	level  string
	msg    string
	fields LogFields
	err    error
}

func (r *recordingServiceLogger) With(fields LogFields) ServiceLogger {
	cloned := &recordingServiceLogger{}
	cloned.entries = append(cloned.entries, loggedEntry{level: "with", fields: fields})
	return cloned
}

func (r *recordingServiceLogger) Debug(msg string, fields LogFields) {
	r.entries = append(r.entries, loggedEntry{level: "debug", msg: msg, fields: fields})
}

func (r *recordingServiceLogger) Info(msg string, fields LogFields) {
	r.entries = append(r.entries, loggedEntry{level: "info", msg: msg, fields: fields})
}

func (r *recordingServiceLogger) Warn(msg string, fields LogFields) {
	r.entries = append(r.entries, loggedEntry{level: "warn", msg: msg, fields: fields})
}

func (r *recordingServiceLogger) Error(msg string, err error, fields LogFields) {
	r.entries = append(r.entries, loggedEntry{level: "error", msg: msg, fields: fields, err: err})
}

func (r *recordingServiceLogger) Trace(msg string, fields LogFields) {
	r.entries = append(r.entries, loggedEntry{level: "trace", msg: msg, fields: fields})
}

type fakeEntry struct {
	recorder *entryRecorder
	fields   LogFields
	err      error
}

type entryRecorder struct {
	logs []loggedEntry
}

func newFakeEntry() *fakeEntry {
	return &fakeEntry{recorder: &entryRecorder{}}
}

func (f *fakeEntry) clone() *fakeEntry {
	return &fakeEntry{recorder: f.recorder, fields: cloneFields(f.fields), err: f.err}
}

func (f *fakeEntry) Error(args ...any) { f.append("error", args...) }
func (f *fakeEntry) Warn(args ...any)  { f.append("warn", args...) }
func (f *fakeEntry) Info(args ...any)  { f.append("info", args...) }
func (f *fakeEntry) Debug(args ...any) { f.append("debug", args...) }
func (f *fakeEntry) Trace(args ...any) { f.append("trace", args...) }

func (f *fakeEntry) WithError(err error) *fakeEntry {
	clone := f.clone()
	clone.err = err
	return clone
}

func (f *fakeEntry) WithField(key string, value any) *fakeEntry {
	clone := f.clone()
	if clone.fields == nil {
		clone.fields = make(LogFields)
	}
	clone.fields[key] = value
	return clone
}

func (f *fakeEntry) append(level string, args ...any) {
	f.recorder.logs = append(f.recorder.logs, loggedEntry{
		level:  level,
		msg:    fmt.Sprint(args...),
		fields: cloneFields(f.fields),
		err:    f.err,
	})
}

func cloneFields(fields LogFields) LogFields {
	if len(fields) == 0 {
		return nil
	}
	out := make(LogFields, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
