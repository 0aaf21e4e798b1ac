package commands_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bdobrica/memlake/internal/memlake/commands"
)

func TestParse_Kinds(t *testing.T) {
	tests := []struct {
		input string
		want  commands.Kind
	}{
		{"developer mode", commands.KindDeveloperOn},
		{"  Developer Mode ", commands.KindDeveloperOn},
		{"exit developer mode", commands.KindDeveloperOff},
		{"记住这个时刻", commands.KindRememberMoment},
		{"请记住这一刻，好吗", commands.KindRememberMoment},
		{"请保存这次对话", commands.KindRememberMoment},
		{"Please remember this moment.", commands.KindRememberMoment},
		{"识底深湖的第一条记录是什么", commands.KindRecallFirst},
		{"你还记得第一条记忆吗", commands.KindRecallFirst},
		{"what is your first memory?", commands.KindRecallFirst},
		{"我们之前讨论过什么", commands.KindRecallPast},
		{"你还记得法兰克福吗", commands.KindRecallPast},
		{"Do you remember the playlist?", commands.KindRecallPast},
		{"what did we discuss last time", commands.KindRecallPast},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			cmd, err := commands.Parse(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cmd.Kind != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, cmd.Kind)
			}
			if cmd.RawText != strings.TrimSpace(tt.input) {
				t.Fatalf("expected raw text %q, got %q", strings.TrimSpace(tt.input), cmd.RawText)
			}
		})
	}
}

func TestParse_NotACommand(t *testing.T) {
	inputs := []string{
		"",
		"what's the weather in Berlin?",
		"刚才说过什么",            // suppressed: refers to this session
		"上一个问题之前的那个",        // suppressed despite 之前
		"tell me about developer mode", // developer switches need the whole message
		"what did you say just now?",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			_, err := commands.Parse(in)
			if !errors.Is(err, commands.ErrNotACommand) {
				t.Fatalf("expected ErrNotACommand, got %v", err)
			}
		})
	}
}

func TestWantsRecall(t *testing.T) {
	if !commands.WantsRecall("我们以前聊过音乐") {
		t.Fatal("expected recall for 以前")
	}
	if !commands.WantsRecall("first memory please") {
		t.Fatal("expected recall for first memory")
	}
	if commands.WantsRecall("记住这个时刻") {
		t.Fatal("remember command must not trigger recall")
	}
	if commands.WantsRecall("刚才的历史问题") {
		t.Fatal("suppressor must win over trigger")
	}
}

func TestKindStringRoundTrip(t *testing.T) {
	for _, k := range []commands.Kind{
		commands.KindRememberMoment,
		commands.KindDeveloperOn,
		commands.KindDeveloperOff,
		commands.KindRecallFirst,
		commands.KindRecallPast,
	} {
		got, ok := commands.ParseKind(k.String())
		if !ok || got != k {
			t.Fatalf("expected %s to round-trip, got %s ok=%v", k, got, ok)
		}
	}
	if _, ok := commands.ParseKind("launch_rockets"); ok {
		t.Fatal("expected unknown kind to fail")
	}
}

func TestCustomGrammar(t *testing.T) {
	g := &commands.Grammar{
		Remember:       []string{"pin this"},
		RecallTriggers: []string{"remind me"},
	}
	cmd, err := g.Parse("PIN THIS please")
	if err != nil || cmd.Kind != commands.KindRememberMoment {
		t.Fatalf("expected remember, got %v %v", cmd, err)
	}
	if _, err := g.Parse("developer mode"); !errors.Is(err, commands.ErrNotACommand) {
		t.Fatalf("custom grammar has no developer switch, got %v", err)
	}
}

func TestRouter_Route(t *testing.T) {
	r := commands.NewRouter(nil)
	var got []commands.Kind
	r.Register(commands.KindRememberMoment, func(ctx context.Context, cmd *commands.Command) (string, error) {
		got = append(got, cmd.Kind)
		return "remembered", nil
	})

	cmd, reply, err := r.Route(context.Background(), "记住这一刻")
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if cmd.Kind != commands.KindRememberMoment || reply != "remembered" || len(got) != 1 {
		t.Fatalf("unexpected route result %v %q %v", cmd, reply, got)
	}

	if _, _, err := r.Route(context.Background(), "hello"); !errors.Is(err, commands.ErrNotACommand) {
		t.Fatalf("expected ErrNotACommand, got %v", err)
	}
	if _, _, err := r.Route(context.Background(), "developer mode"); err == nil || !strings.Contains(err.Error(), "no handler") {
		t.Fatalf("expected missing handler error, got %v", err)
	}
}

func TestRouter_Dispatch(t *testing.T) {
	r := commands.NewRouter(nil)
	r.Register(commands.KindDeveloperOn, func(ctx context.Context, cmd *commands.Command) (string, error) {
		if cmd.Kind != commands.KindDeveloperOn {
			t.Errorf("expected synthesized command kind, got %s", cmd.Kind)
		}
		return "on", nil
	})
	reply, err := r.Dispatch(context.Background(), commands.KindDeveloperOn, nil)
	if err != nil || reply != "on" {
		t.Fatalf("unexpected dispatch result %q %v", reply, err)
	}
}
