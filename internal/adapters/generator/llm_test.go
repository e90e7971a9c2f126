package generator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"tg-channel-digest/internal/domain"
	openai "tg-channel-digest/internal/infra/openai"
)

type fakeChatClient struct {
	lastReq openai.ChatCompletionRequest
	resp    openai.ChatCompletionResponse
	err     error
}

func (f *fakeChatClient) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.lastReq = req
	return f.resp, f.err
}

func sampleRequest() domain.DigestRequest {
	return domain.DigestRequest{
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Theme:     "технологии",
		Sources:   []string{"technews", "gadgets"},
		Posts: []domain.ChannelPost{
			{ChannelTitle: "Tech News", Text: "вышел новый релиз", PostedAt: time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)},
		},
		Stats: domain.DigestStats{TotalPosts: 1, SourceCount: 1},
	}
}

func TestLLMGenerateBuildsPrompt(t *testing.T) {
	client := &fakeChatClient{
		resp: openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{Message: openai.ChatMessage{Content: "  готовый пост  "}}},
		},
	}
	gen := NewLLM(client, time.Second)

	text, err := gen.Generate(context.Background(), "gpt-4.1-mini", sampleRequest())
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if text != "готовый пост" {
		t.Fatalf("неожиданный текст: %q", text)
	}
	if client.lastReq.Model != "gpt-4.1-mini" {
		t.Fatalf("модель должна совпадать с идентификатором агента, получили %q", client.lastReq.Model)
	}
	if len(client.lastReq.Messages) != 2 {
		t.Fatalf("ожидали системное и пользовательское сообщение, получили %d", len(client.lastReq.Messages))
	}
	if client.lastReq.Messages[0].Role != openai.RoleSystem || !strings.Contains(client.lastReq.Messages[0].Content, "технологии") {
		t.Fatalf("системное сообщение должно содержать тематику: %q", client.lastReq.Messages[0].Content)
	}
	user := client.lastReq.Messages[1]
	if user.Role != openai.RoleUser {
		t.Fatalf("ожидали роль user, получили %q", user.Role)
	}
	if !strings.Contains(user.Content, "total_posts") || !strings.Contains(user.Content, "technews") {
		t.Fatalf("пользовательское сообщение должно содержать данные дайджеста: %q", user.Content)
	}
}

func TestLLMGenerateNoTheme(t *testing.T) {
	client := &fakeChatClient{
		resp: openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{Message: openai.ChatMessage{Content: "пост"}}},
		},
	}
	gen := NewLLM(client, time.Second)

	req := sampleRequest()
	req.Theme = ""
	if _, err := gen.Generate(context.Background(), "gpt-4.1-mini", req); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(client.lastReq.Messages) != 1 {
		t.Fatalf("без тематики ожидали одно сообщение, получили %d", len(client.lastReq.Messages))
	}
}

func TestLLMGenerateErrors(t *testing.T) {
	gen := NewLLM(&fakeChatClient{err: errors.New("сеть недоступна")}, time.Second)
	if _, err := gen.Generate(context.Background(), "gpt-4.1-mini", sampleRequest()); err == nil {
		t.Fatalf("ожидали ошибку клиента")
	}

	gen = NewLLM(&fakeChatClient{}, time.Second)
	if _, err := gen.Generate(context.Background(), "gpt-4.1-mini", sampleRequest()); err == nil {
		t.Fatalf("ожидали ошибку на пустой ответ")
	}

	if _, err := gen.Generate(context.Background(), "  ", sampleRequest()); err == nil {
		t.Fatalf("ожидали ошибку на пустой идентификатор агента")
	}
}
