package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/csmportal/internal/jobmon"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// --- Mock Slack client ---

type mockSlackClient struct {
	mu      sync.Mutex
	posted  []string
	postErr error
}

func (m *mockSlackClient) PostMessageContext(_ context.Context, channelID string, _ ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postErr != nil {
		return "", "", m.postErr
	}
	m.posted = append(m.posted, channelID)
	return channelID, "1234567890.123456", nil
}

// --- Mock Discord session ---

type mockDiscordSession struct {
	mu      sync.Mutex
	embeds  []*discordgo.MessageEmbed
	sendErr error
}

func (m *mockDiscordSession) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.embeds = append(m.embeds, embed)
	return &discordgo.Message{ChannelID: channelID}, nil
}

type recordingNotifier struct {
	events []Event
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, evt Event) error {
	r.events = append(r.events, evt)
	return r.err
}

func TestSeverityColor(t *testing.T) {
	tests := map[string]string{
		"success": ColorSuccess,
		"warning": ColorWarning,
		"error":   ColorError,
		"info":    ColorInfo,
		"":        ColorInfo,
	}
	for sev, want := range tests {
		if got := severityColor(sev); got != want {
			t.Errorf("severityColor(%q) = %q, want %q", sev, got, want)
		}
	}
}

func TestFormatJobEvent_Completed(t *testing.T) {
	evt := FormatJobEvent("ACME-1", "Acme Corp", jobmon.Update{
		State:    jobmon.Completed,
		Raw:      "Completed",
		Progress: 1,
		Message:  "Config refresh completed successfully!",
		Elapsed:  42*time.Second + 300*time.Millisecond,
	})
	if evt.Severity != "success" || evt.Color != ColorSuccess {
		t.Errorf("severity = %q color = %q", evt.Severity, evt.Color)
	}
	if !strings.Contains(evt.Title, "Acme Corp (ACME-1)") {
		t.Errorf("title = %q, want customer name and id", evt.Title)
	}
	if len(evt.Fields) != 3 {
		t.Fatalf("fields = %d, want 3", len(evt.Fields))
	}
	if evt.Fields[0].Value != "100%" {
		t.Errorf("progress field = %q, want 100%%", evt.Fields[0].Value)
	}
	if evt.Fields[1].Value != "42s" {
		t.Errorf("elapsed field = %q, want 42s", evt.Fields[1].Value)
	}
}

func TestFormatJobEvent_TimedOutWithoutName(t *testing.T) {
	evt := FormatJobEvent("ACME-1", "", jobmon.Update{State: jobmon.TimedOut, Progress: 0.5})
	if evt.Severity != "warning" {
		t.Errorf("severity = %q, want warning", evt.Severity)
	}
	if !strings.HasSuffix(evt.Title, "for ACME-1") {
		t.Errorf("title = %q", evt.Title)
	}
	if len(evt.Fields) != 2 {
		t.Errorf("fields = %d, want 2 without raw status", len(evt.Fields))
	}
}

func TestFormatJobEvent_Errored(t *testing.T) {
	evt := FormatJobEvent("X", "", jobmon.Update{State: jobmon.Errored, Raw: "Error: bad"})
	if evt.Color != ColorError {
		t.Errorf("color = %q, want %q", evt.Color, ColorError)
	}
}

func TestNewSlack_Validation(t *testing.T) {
	if _, err := NewSlack(SlackOpts{ChannelID: "C1"}); err == nil {
		t.Error("expected error without token")
	}
	if _, err := NewSlack(SlackOpts{BotToken: "xoxb-1"}); err == nil {
		t.Error("expected error without channel")
	}
	if _, err := NewSlack(SlackOpts{BotToken: "xoxb-1", ChannelID: "C1"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSlack_Notify(t *testing.T) {
	client := &mockSlackClient{}
	s, err := NewSlack(SlackOpts{ChannelID: "C123", Client: client})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Notify(context.Background(), Event{Title: "t"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(client.posted) != 1 || client.posted[0] != "C123" {
		t.Errorf("posted = %v", client.posted)
	}
}

func TestSlack_NotifyError(t *testing.T) {
	client := &mockSlackClient{postErr: errors.New("channel_not_found")}
	s, _ := NewSlack(SlackOpts{ChannelID: "C123", Client: client})
	err := s.Notify(context.Background(), Event{Title: "t"})
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Errorf("err = %v", err)
	}
}

func TestEventToAttachment(t *testing.T) {
	att := eventToAttachment(Event{
		Title:  "Config refresh completed",
		Body:   "done",
		Color:  ColorSuccess,
		Fields: []Field{{Name: "Progress", Value: "100%", Short: true}},
	})
	if att.Color != ColorSuccess || att.Title != "Config refresh completed" || att.Text != "done" {
		t.Errorf("attachment = %+v", att)
	}
	if len(att.Fields) != 1 || att.Fields[0].Title != "Progress" || !att.Fields[0].Short {
		t.Errorf("fields = %+v", att.Fields)
	}
}

func TestNewDiscord_Validation(t *testing.T) {
	if _, err := NewDiscord(DiscordOpts{ChannelID: "1"}); err == nil {
		t.Error("expected error without token")
	}
	if _, err := NewDiscord(DiscordOpts{Session: &mockDiscordSession{}}); err == nil {
		t.Error("expected error without channel")
	}
}

func TestDiscord_Notify(t *testing.T) {
	sess := &mockDiscordSession{}
	d, err := NewDiscord(DiscordOpts{ChannelID: "42", Session: sess})
	if err != nil {
		t.Fatal(err)
	}
	evt := Event{Title: "t", Body: "b", Color: ColorError, Fields: []Field{{Name: "n", Value: "v"}}}
	if err := d.Notify(context.Background(), evt); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(sess.embeds) != 1 {
		t.Fatalf("embeds = %d, want 1", len(sess.embeds))
	}
	e := sess.embeds[0]
	if e.Title != "t" || e.Description != "b" || e.Color != 0xe53935 {
		t.Errorf("embed = %+v", e)
	}
	if len(e.Fields) != 1 || e.Fields[0].Name != "n" {
		t.Errorf("fields = %+v", e.Fields)
	}
}

func TestDiscord_NotifyError(t *testing.T) {
	d, _ := NewDiscord(DiscordOpts{ChannelID: "42", Session: &mockDiscordSession{sendErr: errors.New("403")}})
	if err := d.Notify(context.Background(), Event{}); err == nil {
		t.Error("expected error")
	}
}

func TestParseHexColor(t *testing.T) {
	tests := map[string]int{
		"#36a64f": 0x36a64f,
		"FF9800":  0xff9800,
		"":        0,
	}
	for in, want := range tests {
		if got := parseHexColor(in); got != want {
			t.Errorf("parseHexColor(%q) = %#x, want %#x", in, got, want)
		}
	}
}

func TestMulti_FansOutAndJoinsErrors(t *testing.T) {
	ok := &recordingNotifier{}
	bad := &recordingNotifier{err: errors.New("boom")}
	m := NewMulti(ok, nil, bad)
	if m.Len() != 2 {
		t.Fatalf("Len = %d, want 2", m.Len())
	}

	err := m.Notify(context.Background(), Event{Title: "x"})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("err = %v, want boom", err)
	}
	if len(ok.events) != 1 || len(bad.events) != 1 {
		t.Errorf("ok=%d bad=%d, want both called once", len(ok.events), len(bad.events))
	}
}

func TestMulti_Empty(t *testing.T) {
	if err := NewMulti().Notify(context.Background(), Event{}); err != nil {
		t.Errorf("empty multi: %v", err)
	}
}

func TestJobHook_PostsTerminalUpdate(t *testing.T) {
	rec := &recordingNotifier{}
	hook := JobHook(rec, time.Second, nil)
	hook("ACME-1", "Acme Corp", jobmon.Update{State: jobmon.Completed, Progress: 1})

	if len(rec.events) != 1 {
		t.Fatalf("events = %d, want 1", len(rec.events))
	}
	if rec.events[0].Severity != "success" {
		t.Errorf("severity = %q, want success", rec.events[0].Severity)
	}
	if want := "Config refresh completed for Acme Corp (ACME-1)"; rec.events[0].Title != want {
		t.Errorf("title = %q, want %q", rec.events[0].Title, want)
	}
}

func TestJobHook_SkipsCancelled(t *testing.T) {
	rec := &recordingNotifier{}
	JobHook(rec, time.Second, nil)("ACME-1", "", jobmon.Update{State: jobmon.Cancelled})
	if len(rec.events) != 0 {
		t.Errorf("events = %d, want 0 for cancelled job", len(rec.events))
	}
}

func TestJobHook_LogsFailure(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	rec := &recordingNotifier{err: errors.New("channel_not_found")}
	JobHook(rec, time.Second, zap.New(core))("ACME-1", "", jobmon.Update{State: jobmon.Errored})

	entries := logs.FilterMessage("job notification failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one warn log, got %d", logs.Len())
	}
	if got := entries[0].ContextMap()["state"]; got != "errored" {
		t.Errorf("state field = %v, want errored", got)
	}
}
