// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/joho/godotenv"
)

// 当前配置的单例实例
var (
	currentConfig *AppConfig
	configMutex   sync.RWMutex
	configFile    string
)

// SimulationConfig 模拟与分块相关的可调参数
// 阈值都是经验值，保留为可配置默认值
type SimulationConfig struct {
	ChunkWindow      int     `json:"chunk_window"`      // 文档窗口大小（字符）
	ChunkOverlap     int     `json:"chunk_overlap"`     // 相邻窗口重叠（字符）
	TokenDivisor     float64 `json:"token_divisor"`     // 字符数/token 估算除数
	DialogueCapacity int     `json:"dialogue_capacity"` // 对话窗口容量
	PromptHistory    int     `json:"prompt_history"`    // 提示词携带的历史条数
	Concurrency      int     `json:"concurrency"`       // 每个会话的并发调用上限
}

// AppConfig 包含应用程序的所有配置
type AppConfig struct {
	Port      string `json:"port"`
	DataDir   string `json:"data_dir"`
	LogDir    string `json:"log_dir"`
	DebugMode bool   `json:"debug_mode"`

	// LLM相关配置
	LLMProvider string            `json:"llm_provider"`
	LLMConfig   map[string]string `json:"llm_config"`

	Simulation SimulationConfig `json:"simulation"`
}

// Load 从环境变量加载配置
func Load() (*AppConfig, error) {
	// 尝试加载.env文件（可选）
	godotenv.Load()

	apiKey := getEnv("OPENAI_API_KEY", "")
	provider := getEnv("LLM_PROVIDER", "openai")
	if provider == "glm" && apiKey == "" {
		apiKey = getEnv("GLM_API_KEY", "")
	}

	config := &AppConfig{
		Port:        getEnv("PORT", "8080"),
		DataDir:     getEnvPath("DATA_DIR", "data"),
		LogDir:      getEnvPath("LOG_DIR", "logs"),
		DebugMode:   getEnvBool("DEBUG_MODE", false),
		LLMProvider: provider,
		LLMConfig: map[string]string{
			"api_key":       apiKey,
			"default_model": getEnv("LLM_MODEL", ""),
			"base_url":      getEnv("LLM_BASE_URL", ""),
		},
		Simulation: SimulationConfig{
			ChunkWindow:      getEnvInt("CHUNK_WINDOW", 50000),
			ChunkOverlap:     getEnvInt("CHUNK_OVERLAP", 2000),
			TokenDivisor:     getEnvFloat("TOKEN_DIVISOR", 1.5),
			DialogueCapacity: getEnvInt("DIALOGUE_CAPACITY", 30),
			PromptHistory:    getEnvInt("PROMPT_HISTORY", 12),
			Concurrency:      getEnvInt("LLM_CONCURRENCY", 3),
		},
	}

	if apiKey == "" {
		log.Println("警告: 未设置模型提供商API密钥，LLM功能在配置前不可用")
	}

	return config, nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvPath 获取环境变量表示的路径，如果不存在则返回默认值
func getEnvPath(key, defaultValue string) string {
	path := getEnv(key, defaultValue)

	// 确保目录存在
	if _, err := os.Stat(path); os.IsNotExist(err) {
		err = os.MkdirAll(path, 0755)
		if err != nil {
			fmt.Printf("警告: 创建目录失败 %s: %v\n", path, err)
		}
	}

	return path
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt 获取整型环境变量，无效值回退默认
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return defaultValue
	}
	return n
}

// getEnvFloat 获取浮点型环境变量，无效值回退默认
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f <= 0 {
		return defaultValue
	}
	return f
}

// InitConfig 初始化配置管理器
func InitConfig(dataDir string) error {
	configFile = filepath.Join(dataDir, "config.json")

	baseConfig, err := Load()
	if err != nil {
		return err
	}

	configMutex.Lock()
	defer configMutex.Unlock()

	currentConfig = baseConfig

	// 尝试从文件加载已保存的配置
	if _, err := os.Stat(configFile); !os.IsNotExist(err) {
		data, err := os.ReadFile(configFile)
		if err == nil {
			var savedConfig AppConfig
			if json.Unmarshal(data, &savedConfig) == nil {
				// 合并配置：文件保留LLM设置，基础配置以环境变量为准
				savedConfig.Port = baseConfig.Port
				savedConfig.DataDir = baseConfig.DataDir
				savedConfig.LogDir = baseConfig.LogDir
				savedConfig.DebugMode = baseConfig.DebugMode

				if savedConfig.LLMConfig != nil && savedConfig.LLMConfig["api_key"] == "" {
					savedConfig.LLMConfig["api_key"] = baseConfig.LLMConfig["api_key"]
				}
				if savedConfig.Simulation == (SimulationConfig{}) {
					savedConfig.Simulation = baseConfig.Simulation
				}

				currentConfig = &savedConfig
			}
		}
	}

	return SaveConfig()
}

// GetCurrentConfig 返回当前配置的副本
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		baseConfig, _ := Load()
		return baseConfig
	}

	configCopy := *currentConfig
	return &configCopy
}

// UpdateLLMConfig 更新LLM配置
func UpdateLLMConfig(provider string, config map[string]string) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return fmt.Errorf("配置系统未初始化")
	}

	currentConfig.LLMProvider = provider
	currentConfig.LLMConfig = config

	return SaveConfig()
}

// SaveConfig 保存当前配置到文件
func SaveConfig() error {
	if currentConfig == nil {
		return fmt.Errorf("没有配置可保存")
	}

	dir := filepath.Dir(configFile)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建配置目录失败: %w", err)
		}
	}

	data, err := json.MarshalIndent(currentConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	return os.WriteFile(configFile, data, 0644)
}
