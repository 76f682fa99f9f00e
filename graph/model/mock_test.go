package model

import (
	"context"
	"errors"
	"testing"
)

func TestMockProvider(t *testing.T) {
	t.Run("returns responses in order then repeats last", func(t *testing.T) {
		mock := &MockProvider{Responses: []Response{{Text: "one"}, {Text: "two"}}}
		want := []string{"one", "two", "two"}
		for i, w := range want {
			out, err := mock.Complete(context.Background(), Request{Model: "m"}, nil)
			if err != nil {
				t.Fatalf("call %d: %v", i, err)
			}
			if out.Text != w {
				t.Errorf("call %d: Text = %q, want %q", i, out.Text, w)
			}
		}
		if mock.CallCount() != 3 {
			t.Errorf("CallCount = %d, want 3", mock.CallCount())
		}
	})

	t.Run("streams deltas", func(t *testing.T) {
		mock := &MockProvider{
			Responses: []Response{{Text: "Hello"}},
			Deltas:    [][]string{{"Hel", "lo"}},
		}
		var seen []string
		_, _ = mock.Complete(context.Background(), Request{}, func(s string) { seen = append(seen, s) })
		if len(seen) != 2 || seen[1] != "Hello" {
			t.Errorf("deltas = %v", seen)
		}
	})

	t.Run("error injection keeps partial response", func(t *testing.T) {
		boom := errors.New("boom")
		mock := &MockProvider{Responses: []Response{{Text: "partial"}}, Err: boom}
		out, err := mock.Complete(context.Background(), Request{}, nil)
		if !errors.Is(err, boom) {
			t.Fatalf("err = %v, want boom", err)
		}
		if out.Text != "partial" {
			t.Errorf("Text = %q", out.Text)
		}
	})

	t.Run("reset", func(t *testing.T) {
		mock := &MockProvider{Responses: []Response{{Text: "a"}, {Text: "b"}}}
		_, _ = mock.Complete(context.Background(), Request{}, nil)
		mock.Reset()
		out, _ := mock.Complete(context.Background(), Request{}, nil)
		if out.Text != "a" || mock.CallCount() != 1 {
			t.Errorf("after Reset: Text=%q calls=%d", out.Text, mock.CallCount())
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		mock := &MockProvider{}
		if _, err := mock.Complete(ctx, Request{}, nil); !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})
}

func TestRouter(t *testing.T) {
	chat := &MockProvider{Responses: []Response{{Text: "chat"}}}
	r := Router{DialectChat: chat}

	out, err := r.Complete(context.Background(), Request{Dialect: DialectChat}, nil)
	if err != nil || out.Text != "chat" {
		t.Fatalf("Complete = %+v, %v", out, err)
	}

	_, err = r.Complete(context.Background(), Request{Dialect: DialectGemini}, nil)
	if !errors.Is(err, ErrNoProvider) {
		t.Errorf("err = %v, want ErrNoProvider", err)
	}
}

func TestCallError(t *testing.T) {
	err := &CallError{Status: 401, Body: `{"error":"bad key"}`}
	if got, want := err.Error(), `LLM call failed: 401 {"error":"bad key"}`; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
