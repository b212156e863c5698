package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"marketplace-realtime/apps/realtime-service/model"
	"marketplace-realtime/pkg/auth"
)

func main() {
	// 命令行参数
	var (
		userID = flag.String("user", "user-1001", "调试用户ID")
		role   = flag.String("role", "buyer", "用户角色")
		secret = flag.String("secret", "dev-secret", "JWT密钥（需与服务端JWT_SECRET一致）")
		wsURL  = flag.String("wsurl", "ws://localhost:21006/api/v1/realtime/ws", "WebSocket服务地址")
		token  = flag.String("token", "", "直接指定token, 为空时本地签发调试token")
	)
	flag.Parse()

	// 准备连接令牌
	connToken := *token
	if connToken == "" {
		generated, err := auth.GenerateJWT(*userID, *role, *secret, time.Hour)
		if err != nil {
			log.Fatalf("签发调试token失败: %v", err)
		}
		connToken = generated
	}

	// 建立WebSocket连接
	url := *wsURL + "?token=" + connToken
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.Fatalf("连接失败: %v", err)
	}
	defer conn.Close()
	fmt.Printf("已连接 %s（用户 %s）\n", *wsURL, *userID)
	printHelp()

	// 接收协程：打印服务端推送的全部事件
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				log.Printf("连接关闭: %v", err)
				os.Exit(0)
			}
			fmt.Printf("<< %s\n", string(msg))
		}
	}()

	// 命令循环
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Fields(line)

		switch parts[0] {
		case "help":
			printHelp()
		case "quit":
			return
		case "check":
			send(conn, model.EventPresenceCheck, model.PresenceCheckRequest{UserIDs: parts[1:]})
		case "online":
			send(conn, model.EventPresenceGetAllOnline, struct{}{})
		case "typing":
			if len(parts) < 2 {
				fmt.Println("用法: typing <会话ID>")
				continue
			}
			send(conn, model.EventTypingStart, model.TypingRequest{ConversationID: parts[1]})
		case "stoptyping":
			if len(parts) < 2 {
				fmt.Println("用法: stoptyping <会话ID>")
				continue
			}
			send(conn, model.EventTypingStop, model.TypingRequest{ConversationID: parts[1]})
		case "join":
			if len(parts) < 2 {
				fmt.Println("用法: join <会话ID>")
				continue
			}
			send(conn, model.EventChatJoin, model.RoomRequest{ConversationID: parts[1]})
		case "msg":
			if len(parts) < 3 {
				fmt.Println("用法: msg <会话ID> <内容>")
				continue
			}
			send(conn, model.EventChatMessage, model.ChatMessageRequest{
				ConversationID: parts[1],
				Content:        strings.Join(parts[2:], " "),
				MessageType:    "text",
			})
		case "joingroup":
			if len(parts) < 2 {
				fmt.Println("用法: joingroup <群组ID>")
				continue
			}
			send(conn, model.EventGroupJoin, model.RoomRequest{GroupID: parts[1]})
		case "groupmsg":
			if len(parts) < 3 {
				fmt.Println("用法: groupmsg <群组ID> <内容>")
				continue
			}
			send(conn, model.EventGroupMessage, model.ChatMessageRequest{
				GroupID:     parts[1],
				Content:     strings.Join(parts[2:], " "),
				MessageType: "text",
			})
		default:
			fmt.Printf("未知命令: %s（输入 help 查看命令）\n", parts[0])
		}
	}
}

// send 发送一个命名事件帧
func send(conn *websocket.Conn, event string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Printf("序列化失败: %v", err)
		return
	}
	frame := model.ClientEvent{Event: event, Data: payload}
	if err := conn.WriteJSON(frame); err != nil {
		log.Printf("发送失败: %v", err)
		return
	}
	raw, _ := json.Marshal(frame)
	fmt.Printf(">> %s\n", string(raw))
}

func printHelp() {
	fmt.Println(`命令:
  check <用户ID>...        查询在线状态
  online                   查询全量在线用户
  join <会话ID>            加入会话房间
  msg <会话ID> <内容>      发送会话消息
  typing <会话ID>          开始输入
  stoptyping <会话ID>      停止输入
  joingroup <群组ID>       加入群组房间
  groupmsg <群组ID> <内容> 发送群组消息
  help / quit`)
}
