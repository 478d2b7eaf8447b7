// cmd/demo/main.go
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Corphon/NovelCastMCP/internal/app"
	"github.com/Corphon/NovelCastMCP/internal/config"
	"github.com/Corphon/NovelCastMCP/internal/di"
	"github.com/Corphon/NovelCastMCP/internal/models"
	"github.com/Corphon/NovelCastMCP/internal/services"
	"github.com/Corphon/NovelCastMCP/internal/utils"
)

// 控制台演示：分析一份文档中的角色，然后和该角色对话
//
//	go run ./cmd/demo <文档路径> <角色ID> <角色名> [别名...]
func main() {
	fmt.Println("🚀 NovelCastMCP Console Demo")
	fmt.Println("=============================")

	if len(os.Args) < 4 {
		fmt.Println("用法: demo <文档路径> <角色ID> <角色名> [别名...]")
		return
	}
	docPath, characterID, characterName := os.Args[1], os.Args[2], os.Args[3]
	aliases := os.Args[4:]

	baseConfig, err := config.Load()
	if err != nil {
		log.Fatalf("❌ 加载基础配置失败: %v", err)
	}

	logFile := fmt.Sprintf("%s/demo_%s.log", baseConfig.LogDir, time.Now().Format("2006-01-02"))
	if err := utils.InitLogger(logFile); err != nil {
		log.Printf("⚠️ 无法初始化结构化日志: %v", err)
	}

	if err := config.InitConfig(baseConfig.DataDir); err != nil {
		log.Fatalf("❌ 初始化配置系统失败: %v", err)
	}
	if err := app.InitServices(); err != nil {
		log.Fatalf("❌ 初始化服务失败: %v", err)
	}
	defer app.Cleanup()

	container := di.GetContainer()
	llmService := container.MustGet("llm").(*services.LLMService)
	profiler := container.MustGet("profiler").(*services.ProfilerService)
	agents := container.MustGet("agents").(*services.AgentService)

	if !llmService.IsReady() {
		fmt.Println("❌ LLM提供者未配置，请先设置 OPENAI_API_KEY 或 GLM_API_KEY")
		return
	}

	document, err := os.ReadFile(docPath)
	if err != nil {
		log.Fatalf("❌ 读取文档失败: %v", err)
	}

	info := services.CharacterInfo{ID: characterID, Name: characterName, Aliases: aliases}
	fmt.Printf("📖 分析文档 %s 中的角色「%s」（约 %d tokens）...\n",
		docPath, characterName, profiler.EstimateTokens(string(document)))

	profile, err := profiler.ProfileCharacter(context.Background(), string(document), info)
	if err != nil {
		log.Fatalf("❌ 角色分析失败: %v", err)
	}
	printProfile(profile)

	sessionID := "demo_" + uuid.NewString()[:8]
	defer agents.DropSession(sessionID)

	if _, err := agents.SpawnAgent(sessionID, profile); err != nil {
		log.Fatalf("❌ 实例化角色失败: %v", err)
	}

	fmt.Printf("\n💬 开始和「%s」对话（输入 quit 退出）\n\n", profile.Name)
	runDialogue(agents, sessionID, profile)
}

func printProfile(profile *models.CharacterProfile) {
	fmt.Printf("\n🎭 角色档案: %s\n", profile.Name)
	if profile.Age != "" {
		fmt.Printf("   年龄: %s\n", profile.Age)
	}
	if profile.Gender != "" {
		fmt.Printf("   性别: %s\n", profile.Gender)
	}
	if profile.Personality != "" {
		fmt.Printf("   性格: %s\n", profile.Personality)
	}
	if len(profile.Traits) > 0 {
		fmt.Printf("   特质: %s\n", strings.Join(profile.Traits, "、"))
	}
	fmt.Printf("   重要度: %d\n", profile.Importance)
}

func runDialogue(agents *services.AgentService, sessionID string, profile *models.CharacterProfile) {
	scene := models.SceneContext{}
	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Print("你> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "quit" || input == "exit" {
			fmt.Println("👋 再见")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		reaction, err := agents.React(ctx, sessionID, profile.ID, input, scene, "")
		cancel()
		if err != nil {
			fmt.Printf("❌ 回合失败: %v\n", err)
			continue
		}

		if reaction.Action != "" {
			fmt.Printf("   （%s）\n", reaction.Action)
		}
		fmt.Printf("%s> %s", profile.Name, reaction.Content)
		if reaction.Emotion != "" {
			fmt.Printf("  [%s]", reaction.Emotion)
		}
		fmt.Println()

		if agent, ok := agents.GetAgent(sessionID, profile.ID); ok {
			state := agent.Emotional()
			fmt.Printf("   态度 %.2f · 信任 %.2f\n", state.Attitude, state.Trust)
		}
	}
}
