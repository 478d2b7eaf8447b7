// internal/services/llm_service.go
package services

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/Corphon/NovelCastMCP/internal/config"
	apperrors "github.com/Corphon/NovelCastMCP/internal/errors"
	"github.com/Corphon/NovelCastMCP/internal/llm"
	"github.com/Corphon/NovelCastMCP/internal/parser"
	"github.com/Corphon/NovelCastMCP/internal/utils"
)

const (
	// 一次性提取任务的重试参数
	defaultMaxRetries   = 3
	defaultRetryBackoff = 500 * time.Millisecond

	cacheTTL     = 10 * time.Minute
	cacheMaxSize = 200
)

// LLMService 管理模型提供者并提供补全能力
type LLMService struct {
	providerMutex sync.RWMutex
	provider      llm.Provider
	providerName  string

	cache   *completionCache
	metrics *utils.EngineMetrics
	logger  *utils.Logger
}

// NewLLMService 根据配置创建LLM服务
// 提供者初始化失败时服务仍然可用，但 IsReady 返回 false
func NewLLMService(cfg *config.AppConfig) *LLMService {
	s := &LLMService{
		cache:   newCompletionCache(cacheTTL, cacheMaxSize),
		metrics: utils.NewEngineMetrics(),
		logger:  utils.GetLogger(),
	}

	if cfg != nil && cfg.LLMProvider != "" {
		if err := s.SetProvider(cfg.LLMProvider, cfg.LLMConfig); err != nil {
			s.logger.Warn("LLM提供者初始化失败", map[string]interface{}{
				"provider": cfg.LLMProvider,
				"error":    err.Error(),
			})
		}
	}

	return s
}

// SetProvider 切换模型提供者
func (s *LLMService) SetProvider(name string, providerConfig map[string]string) error {
	provider, err := llm.GetProvider(name, providerConfig)
	if err != nil {
		return apperrors.NewProviderError(fmt.Sprintf("初始化提供者 %s 失败", name), err)
	}

	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()

	s.provider = provider
	s.providerName = name

	s.logger.Info("LLM提供者就绪 ✅", map[string]interface{}{
		"provider": provider.GetName(),
	})
	return nil
}

// SetProviderInstance 直接注入提供者实例，测试用
func (s *LLMService) SetProviderInstance(name string, provider llm.Provider) {
	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()
	s.provider = provider
	s.providerName = name
}

// IsReady 提供者是否可用
func (s *LLMService) IsReady() bool {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.provider != nil
}

// GetProviderName 当前提供者名称
func (s *LLMService) GetProviderName() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.providerName
}

func (s *LLMService) currentProvider() (llm.Provider, error) {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()

	if s.provider == nil {
		return nil, apperrors.NewProviderError("LLM提供者未配置", nil)
	}
	return s.provider, nil
}

// CreateCompletion 执行一次补全，相同请求命中缓存时不重复调用
func (s *LLMService) CreateCompletion(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	provider, err := s.currentProvider()
	if err != nil {
		return nil, err
	}

	key := cacheKey(req)
	if cached, ok := s.cache.get(key); ok {
		s.metrics.RecordCacheHit()
		return cached, nil
	}

	start := time.Now()
	resp, err := provider.CompleteText(ctx, req)
	if err != nil {
		s.metrics.RecordModelFailure(s.GetProviderName())
		// 调用方的取消原样返回，不包装成提供者错误
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.NewProviderError("模型调用失败", err)
	}

	s.metrics.RecordModelCall(s.GetProviderName(), resp.ModelName, resp.TokensUsed, time.Since(start))
	s.cache.put(key, resp)
	return resp, nil
}

// CreateCompletionWithRetry 带指数退避的补全，用于一次性提取任务
// 只有提供者错误才重试；解析类错误和取消直接返回
func (s *LLMService) CreateCompletionWithRetry(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var lastErr error
	backoff := defaultRetryBackoff

	for attempt := 0; attempt < defaultMaxRetries; attempt++ {
		if attempt > 0 {
			s.logger.Warn("模型调用重试", map[string]interface{}{
				"attempt": attempt,
				"backoff": backoff.String(),
			})
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}

		resp, err := s.CreateCompletion(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !apperrors.IsProviderError(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, apperrors.WrapError(lastErr,
		fmt.Sprintf("模型调用在 %d 次尝试后仍失败", defaultMaxRetries), apperrors.ErrorTypeProvider)
}

// CreateStructuredCompletion 补全并把输出恢复为结构化记录解码到 out
func (s *LLMService) CreateStructuredCompletion(ctx context.Context, prompt, systemPrompt string, out interface{}) error {
	req := llm.CompletionRequest{
		Prompt:       prompt,
		SystemPrompt: systemPrompt,
	}
	resp, err := s.CreateCompletion(ctx, req)
	if err != nil {
		return err
	}

	if err := parser.ExtractInto(resp.Text, out); err != nil {
		// 无法恢复的输出不留在缓存里，后续重试才会真正重新询问模型
		s.cache.evict(cacheKey(req))
		s.metrics.RecordExtractionRecovery(true)
		return err
	}
	s.metrics.RecordExtractionRecovery(false)
	return nil
}

// CreateStructuredCompletionWithRetry 带退避重试的结构化补全
func (s *LLMService) CreateStructuredCompletionWithRetry(ctx context.Context, prompt, systemPrompt string, out interface{}) error {
	req := llm.CompletionRequest{
		Prompt:       prompt,
		SystemPrompt: systemPrompt,
	}
	resp, err := s.CreateCompletionWithRetry(ctx, req)
	if err != nil {
		return err
	}

	if err := parser.ExtractInto(resp.Text, out); err != nil {
		s.cache.evict(cacheKey(req))
		s.metrics.RecordExtractionRecovery(true)
		return err
	}
	s.metrics.RecordExtractionRecovery(false)
	return nil
}

func cacheKey(req llm.CompletionRequest) string {
	h := md5.New()
	fmt.Fprintf(h, "%s|%s|%s|%d|%f", req.Model, req.SystemPrompt, req.Prompt, req.MaxTokens, req.Temperature)
	return hex.EncodeToString(h.Sum(nil))
}

// completionCache 带TTL的补全响应缓存
type completionCache struct {
	mu      sync.RWMutex
	entries map[string]*completionCacheEntry
	ttl     time.Duration
	maxSize int
}

type completionCacheEntry struct {
	resp      *llm.CompletionResponse
	timestamp time.Time
}

func newCompletionCache(ttl time.Duration, maxSize int) *completionCache {
	return &completionCache{
		entries: make(map[string]*completionCacheEntry),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

func (c *completionCache) get(key string) (*llm.CompletionResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Since(entry.timestamp) >= c.ttl {
		return nil, false
	}
	return entry.resp, true
}

func (c *completionCache) evict(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *completionCache) put(key string, resp *llm.CompletionResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &completionCacheEntry{resp: resp, timestamp: time.Now()}

	if len(c.entries) > c.maxSize {
		var oldestKey string
		var oldestTime time.Time
		for k, e := range c.entries {
			if oldestKey == "" || e.timestamp.Before(oldestTime) {
				oldestKey = k
				oldestTime = e.timestamp
			}
		}
		if oldestKey != "" {
			delete(c.entries, oldestKey)
		}
	}
}
