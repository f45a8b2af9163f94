// Package mcpserver exposes the bridge operations as MCP tools over stdio.
package mcpserver

import (
	"context"

	"github.com/dtavares/wamcp/internal/api"
	"github.com/dtavares/wamcp/internal/config"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

const (
	serverName    = "wamcp"
	serverVersion = "0.1.0"
)

// Server wraps the MCP server and its stdio session.
type Server struct {
	mcpServer *mcp.Server
	svc       *api.Service
	cfg       *config.Config
	logger    *zap.Logger
}

// NewServer creates the MCP server and registers all tools.
func NewServer(svc *api.Service, cfg *config.Config, logger *zap.Logger) *Server {
	s := &Server{
		svc:    svc,
		cfg:    cfg,
		logger: logger,
	}

	mcpSrv := mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: serverVersion,
	}, nil)
	s.registerTools(mcpSrv)
	s.mcpServer = mcpSrv

	return s
}

// Run serves MCP over stdio and blocks until the client disconnects or the
// context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("MCP server starting", zap.String("transport", "stdio"))

	session, err := s.mcpServer.Connect(ctx, &mcp.StdioTransport{}, nil)
	if err != nil {
		return err
	}
	err = session.Wait()
	s.logger.Info("MCP session ended", zap.Error(err))
	return err
}

func (s *Server) registerTools(srv *mcp.Server) {
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "send_message",
		Description: "Send a WhatsApp text message. The recipient is a phone number in any human format, or a chat address such as 12345@s.whatsapp.net or a group @g.us address.",
	}, s.handleSendMessage)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "wait_for_reply",
		Description: "Wait for the next incoming message in a chat. With no chat_address, waits on whichever chat was most recently sent to; note that another send issued meanwhile retargets that default, so pass chat_address when in doubt.",
	}, s.handleWaitForReply)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "send_and_wait",
		Description: "Send a WhatsApp message and wait for the first reply from that same chat.",
	}, s.handleSendAndWait)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_chats",
		Description: "List recently active chats, most recent first.",
	}, s.handleListChats)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_messages",
		Description: "Get recent messages from a chat in chronological order.",
	}, s.handleGetMessages)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_auth_status",
		Description: "Report whether the WhatsApp session is connected, and as whom.",
	}, s.handleGetAuthStatus)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "show_auth_challenge",
		Description: "Show the current QR authentication challenge to scan with the WhatsApp app, if one is pending.",
	}, s.handleShowAuthChallenge)
}
