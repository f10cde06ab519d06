package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/projectq/projectq/backend/internal/client"
	"github.com/projectq/projectq/backend/internal/model/chat"
)

var (
	backendURL   string
	timeout      time.Duration
	message      string
	imagePath    string
	conversation string
	pageURL      string
	pageTitle    string
)

var rootCmd = &cobra.Command{
	Use:   "chattester",
	Short: "向聊天后端发送测试请求",
	Long: `chattester 模拟浏览器扩展调用聊天后端。

示例:
  chattester chat --message "这页讲了什么?" --url https://example.com --title Example
  chattester chat --image ./shot.png --conversation 3f1c...
  chattester health --backend http://localhost:3001`,
	SilenceUsage: true,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "发送一轮对话",
	RunE:  runChat,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "检查后端健康状态",
	RunE:  runHealth,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&backendURL, "backend", "", "后端地址 (默认 PROJECTQ_BACKEND_URL 或 http://localhost:3001)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 60*time.Second, "请求超时时间")

	chatCmd.Flags().StringVarP(&message, "message", "m", "", "消息文本")
	chatCmd.Flags().StringVarP(&imagePath, "image", "i", "", "附带的图片文件路径")
	chatCmd.Flags().StringVarP(&conversation, "conversation", "c", "", "继续已有会话的 conversationId")
	chatCmd.Flags().StringVar(&pageURL, "url", "", "页面 URL (metadata)")
	chatCmd.Flags().StringVar(&pageTitle, "title", "", "页面标题 (metadata)")

	rootCmd.AddCommand(chatCmd, healthCmd)
}

func main() {
	// .env 缺失时直接使用系统环境变量
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runChat(cmd *cobra.Command, _ []string) error {
	req := chat.Request{
		Message:        message,
		ConversationID: conversation,
	}
	if imagePath != "" {
		img, err := loadImage(imagePath)
		if err != nil {
			return err
		}
		req.Image = img
	}
	if pageURL != "" || pageTitle != "" {
		req.Metadata = &chat.Metadata{URL: pageURL, Title: pageTitle}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	start := time.Now()
	resp, err := client.New(backendURL, nil).Chat(ctx, req)
	if err != nil {
		var chatErr *chat.Error
		if errors.As(err, &chatErr) {
			return fmt.Errorf("[%s] %s", chatErr.Code, chatErr.Message)
		}
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "conversationId: %s\n", resp.ConversationID)
	fmt.Fprintf(out, "耗时: %s\n\n", time.Since(start).Round(time.Millisecond))
	fmt.Fprintln(out, resp.Reply)
	return nil
}

func runHealth(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	version, err := client.New(backendURL, nil).Health(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ok (version %s)\n", version)
	return nil
}

// loadImage 读取图片文件并编码为不带 data: 前缀的 Base64
func loadImage(path string) (*chat.ImageAttachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取图片失败: %w", err)
	}

	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = mimeFromExt(filepath.Ext(path))
	}

	return &chat.ImageAttachment{
		Data:     base64.StdEncoding.EncodeToString(data),
		MimeType: mimeType,
	}, nil
}

func mimeFromExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return chat.MIMETypeJPEG
	case ".png":
		return chat.MIMETypePNG
	case ".gif":
		return chat.MIMETypeGIF
	case ".webp":
		return chat.MIMETypeWEBP
	default:
		return "application/octet-stream"
	}
}
