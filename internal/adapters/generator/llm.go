package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tg-channel-digest/internal/domain"
	openai "tg-channel-digest/internal/infra/openai"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// LLM генерирует текст дайджеста через OpenAI Chat Completions.
// Идентификатор агента используется как имя модели.
type LLM struct {
	client  chatClient
	timeout time.Duration
}

// NewLLM создаёт генератор.
func NewLLM(client chatClient, timeout time.Duration) *LLM {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &LLM{client: client, timeout: timeout}
}

// Generate строит пост для канала на основе собранных данных.
func (g *LLM) Generate(ctx context.Context, agentID string, req domain.DigestRequest) (string, error) {
	if strings.TrimSpace(agentID) == "" {
		return "", fmt.Errorf("пустой идентификатор агента")
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("сериализация данных дайджеста: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	messages := make([]openai.ChatMessage, 0, 2)
	if theme := strings.TrimSpace(req.Theme); theme != "" {
		messages = append(messages, openai.ChatMessage{
			Role:    openai.RoleSystem,
			Content: fmt.Sprintf("Ты редактор телеграм-канала. Тематика канала: %s. Пиши в её рамках.", theme),
		})
	}
	messages = append(messages, openai.ChatMessage{
		Role:    openai.RoleUser,
		Content: fmt.Sprintf("Составь увлекательный пост для канала на основе этих данных: %s", payload),
	})

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    agentID,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai completion: пустой ответ")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("openai completion: модель вернула пустой текст")
	}
	return text, nil
}
